package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/castleinc/cveagent/pkg/store"
)

// TurnLog is an in-process store.TurnLog.
type TurnLog struct {
	mu       sync.Mutex
	sessions map[string][]store.TurnRecord
	byID     map[string]store.TurnRecord
}

var _ store.TurnLog = (*TurnLog)(nil)

func NewTurnLog() *TurnLog {
	return &TurnLog{sessions: map[string][]store.TurnRecord{}, byID: map[string]store.TurnRecord{}}
}

func (l *TurnLog) AppendTurn(ctx context.Context, t store.TurnRecord) (store.TurnRecord, error) {
	if err := ctx.Err(); err != nil {
		return store.TurnRecord{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, ok := l.byID[t.TurnID]; ok {
		return prev, nil
	}
	turns := l.sessions[t.SessionID]
	t.Seq = int64(len(turns)) + 1
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	l.sessions[t.SessionID] = append(turns, t)
	l.byID[t.TurnID] = t
	return t, nil
}

func (l *TurnLog) ListTurns(ctx context.Context, sessionID string, afterSeq int64, limit int) ([]store.TurnRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []store.TurnRecord
	for _, t := range l.sessions[sessionID] {
		if t.Seq <= afterSeq {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (l *TurnLog) LastSeq(ctx context.Context, sessionID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(len(l.sessions[sessionID])), nil
}
