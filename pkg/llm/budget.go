package llm

import (
	tiktoken "github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/castleinc/cveagent/pkg/intent"
)

// TokenEstimator estimates token usage of text content.
type TokenEstimator func(text string) int

// RuneEstimator counts runes. It overestimates, which is the safe side.
func RuneEstimator(text string) int { return len([]rune(text)) }

// NewTikTokenEstimator returns a TokenEstimator backed by tiktoken-go for
// model. Models tiktoken does not know (Gemini, for one) fall back to the
// cl100k_base encoding.
func NewTikTokenEstimator(model string) (TokenEstimator, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err != nil {
			return nil, err
		}
	}
	return func(text string) int {
		return len(enc.Encode(text, nil, nil))
	}, nil
}

// HistoryBudget keeps the newest exchanges whose combined size fits
// maxTokens.
type HistoryBudget struct {
	estimate  TokenEstimator
	maxTokens int
}

func NewHistoryBudget(maxTokens int, est TokenEstimator) *HistoryBudget {
	if est == nil {
		est = RuneEstimator
	}
	return &HistoryBudget{estimate: est, maxTokens: maxTokens}
}

// Fit returns the longest suffix of history within budget, oldest first.
// A zero or negative budget drops all history.
func (b *HistoryBudget) Fit(history []intent.Exchange) []intent.Exchange {
	budget := b.maxTokens
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := b.estimate(history[i].Input) + b.estimate(history[i].Reply)
		if cost > budget {
			break
		}
		budget -= cost
		start = i
	}
	return history[start:]
}

// BudgetFor returns the history budget for model. tiktoken loads its
// vocabulary on first use (set TIKTOKEN_CACHE_DIR to keep it local), so
// the encoder is only built when there is history to measure; if it cannot
// be loaded the budget counts runes instead.
func BudgetFor(model string, maxTokens int, log *zap.Logger) *HistoryBudget {
	if maxTokens <= 0 {
		return NewHistoryBudget(0, RuneEstimator)
	}
	est, err := NewTikTokenEstimator(model)
	if err != nil {
		if log != nil {
			log.Warn("token estimator unavailable, counting runes", zap.String("model", model), zap.Error(err))
		}
		est = RuneEstimator
	}
	return NewHistoryBudget(maxTokens, est)
}
