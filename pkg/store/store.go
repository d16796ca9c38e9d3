// Package store defines the persistence contract for conversation turns.
// Implementations must provide identical semantics across backends so a
// transcript recorded on SQLite replays the same way from PostgreSQL.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// TurnRecord is the persisted representation of one completed turn.
// Params holds the validated intent parameters as JSON.
type TurnRecord struct {
	TurnID    string
	SessionID string
	Seq       int64
	Input     string
	Tool      string
	Source    string
	Params    json.RawMessage
	Status    string
	Format    string
	Rendered  string
	CreatedAt time.Time
}

// TurnLog appends and lists turns per session.
type TurnLog interface {
	// AppendTurn assigns the next sequence for the session. Appending a
	// TurnID that already exists returns the stored record unchanged.
	AppendTurn(ctx context.Context, t TurnRecord) (TurnRecord, error)
	ListTurns(ctx context.Context, sessionID string, afterSeq int64, limit int) ([]TurnRecord, error)
	LastSeq(ctx context.Context, sessionID string) (int64, error)
}
