package entstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/castleinc/cveagent/pkg/store"
)

const turnsTable = "turns"

var turnColumns = []string{
	"turn_id", "session_id", "seq", "input", "tool", "source",
	"params", "status", "format", "rendered", "created_at",
}

// AppendTurn appends a turn with an incremented sequence per session.
func (s *Store) AppendTurn(ctx context.Context, t store.TurnRecord) (store.TurnRecord, error) {
	var out store.TurnRecord
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		b := s.builder()
		// Duplicate turn_id returns the existing record (idempotent append).
		q, args := b.Select(turnColumns...).
			From(b.Table(turnsTable)).
			Where(entsql.EQ("turn_id", t.TurnID)).
			Limit(1).
			Query()
		existing, err := scanTurns(ctx, tx, q, args)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			out = existing[0]
			return nil
		}

		q, args = b.Select("seq").
			From(b.Table(turnsTable)).
			Where(entsql.EQ("session_id", t.SessionID)).
			OrderBy(entsql.Desc("seq")).
			Limit(1).
			Query()
		var last int64
		if err := tx.QueryRowContext(ctx, q, args...).Scan(&last); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		t.Seq = last + 1
		if t.CreatedAt.IsZero() {
			t.CreatedAt = time.Now()
		}
		t.CreatedAt = t.CreatedAt.UTC()
		params := string(t.Params)
		if params == "" {
			params = "{}"
		}
		q, args = s.builder().Insert(turnsTable).
			Columns(turnColumns...).
			Values(t.TurnID, t.SessionID, t.Seq, t.Input, t.Tool, t.Source,
				params, t.Status, t.Format, t.Rendered, t.CreatedAt).
			Query()
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return err
		}
		t.Params = json.RawMessage(params)
		out = t
		return nil
	})
	return out, err
}

// ListTurns lists turns for a session after a given sequence.
func (s *Store) ListTurns(ctx context.Context, sessionID string, afterSeq int64, limit int) ([]store.TurnRecord, error) {
	b := s.builder()
	preds := []*entsql.Predicate{entsql.EQ("session_id", sessionID)}
	if afterSeq > 0 {
		preds = append(preds, entsql.GT("seq", afterSeq))
	}
	sel := b.Select(turnColumns...).
		From(b.Table(turnsTable)).
		Where(entsql.And(preds...)).
		OrderBy(entsql.Asc("seq"))
	if limit > 0 {
		sel = sel.Limit(limit)
	}
	q, args := sel.Query()

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return scanTurns(ctx, conn, q, args)
}

// LastSeq returns the last sequence for a session, or 0.
func (s *Store) LastSeq(ctx context.Context, sessionID string) (int64, error) {
	b := s.builder()
	q, args := b.Select("seq").
		From(b.Table(turnsTable)).
		Where(entsql.EQ("session_id", sessionID)).
		OrderBy(entsql.Desc("seq")).
		Limit(1).
		Query()
	var last int64
	err := s.query(ctx, q, args, func(rows *sql.Rows) error { return rows.Scan(&last) })
	return last, err
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func scanTurns(ctx context.Context, qr queryer, q string, args []any) ([]store.TurnRecord, error) {
	rows, err := qr.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.TurnRecord
	for rows.Next() {
		var (
			t       store.TurnRecord
			params  string
			created any
		)
		if err := rows.Scan(&t.TurnID, &t.SessionID, &t.Seq, &t.Input, &t.Tool, &t.Source,
			&params, &t.Status, &t.Format, &t.Rendered, &created); err != nil {
			return nil, err
		}
		t.Params = json.RawMessage(params)
		if t.CreatedAt, err = scanTime(created); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
