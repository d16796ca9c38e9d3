package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castleinc/cveagent/pkg/intent"
	"github.com/castleinc/cveagent/pkg/llm"
	"github.com/castleinc/cveagent/pkg/tool/cvetools"
)

func fakeServer(t *testing.T, parts string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if seen != nil {
			_ = json.Unmarshal(body, seen)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":`+parts+`},"finishReason":"STOP"}]}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newPlanner(t *testing.T, url string) intent.Planner {
	t.Helper()
	p, err := Factory(context.Background(), llm.Config{APIKey: "test", BaseURL: url})
	require.NoError(t, err)
	return p
}

func TestPlanReturnsFunctionCall(t *testing.T) {
	var seen map[string]any
	srv := fakeServer(t, `[{"functionCall":{"name":"search_cves_by_score","args":{"min_score":7,"max_score":9}}}]`, &seen)

	req := intent.PlanRequest{
		Text:    "anything scored between 7 and 9?",
		History: []intent.Exchange{{Input: "stats", Reply: "Total: 3"}},
		Tools:   cvetools.Specs(cvetools.Options{}),
	}
	got, ok, err := newPlanner(t, srv.URL).Plan(context.Background(), req)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cvetools.SearchByScore, got.Tool)
	assert.EqualValues(t, 7, got.Parameters["min_score"])
	assert.EqualValues(t, 9, got.Parameters["max_score"])

	assert.NotNil(t, seen["systemInstruction"])
	contents, _ := seen["contents"].([]any)
	// HistoryTokens is zero, so only the question is sent.
	assert.Len(t, contents, 1)
	tools, _ := seen["tools"].([]any)
	require.Len(t, tools, 1)
	decls := tools[0].(map[string]any)["functionDeclarations"].([]any)
	assert.Len(t, decls, len(req.Tools))
}

func TestPlanWithTextOnly(t *testing.T) {
	srv := fakeServer(t, `[{"text":"I can only help with CVEs."}]`, nil)
	_, ok, err := newPlanner(t, srv.URL).Plan(context.Background(), intent.PlanRequest{Text: "hello"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFactoryNeedsKey(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	_, err := Factory(context.Background(), llm.Config{})
	assert.Error(t, err)
}
