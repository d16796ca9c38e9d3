// Package memstore is an in-process cve.Repository used by tests, demos and
// the memory backend of the server.
package memstore

import (
	"context"
	"strings"
	"sync"

	"github.com/castleinc/cveagent/pkg/cve"
)

// Store keeps records by upper-cased identifier.
type Store struct {
	mu   sync.RWMutex
	recs map[string]cve.Record
}

var (
	_ cve.Repository = (*Store)(nil)
	_ cve.Writer     = (*Store)(nil)
)

// New returns a store holding rs.
func New(rs ...cve.Record) *Store {
	s := &Store{recs: make(map[string]cve.Record, len(rs))}
	_ = s.Upsert(context.Background(), rs...)
	return s
}

// Upsert inserts or replaces records.
func (s *Store) Upsert(_ context.Context, rs ...cve.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rs {
		r.Normalize()
		s.recs[r.CVEID] = r
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id string) (cve.Record, error) {
	if err := ctx.Err(); err != nil {
		return cve.Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.recs[strings.ToUpper(strings.TrimSpace(id))]
	if !ok {
		return cve.Record{}, cve.ErrNotFound
	}
	return r, nil
}

func (s *Store) FindByFilter(ctx context.Context, c cve.Criteria, limit int, sort *cve.Sort) ([]cve.Record, error) {
	return s.scan(ctx, limit, sort, c.Match)
}

// TextSearch returns active records mentioning keyword, highest score first.
func (s *Store) TextSearch(ctx context.Context, keyword string, limit int) ([]cve.Record, error) {
	return s.scan(ctx, limit, nil, func(r cve.Record) bool {
		return r.Active && cve.MatchesKeyword(r, keyword)
	})
}

func (s *Store) AggregateCountsBy(ctx context.Context, f cve.Field) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[string]int{}
	for _, r := range s.recs {
		if !r.Active {
			continue
		}
		v, err := f.ValueOf(r)
		if err != nil {
			return nil, err
		}
		out[v]++
	}
	return out, nil
}

func (s *Store) scan(ctx context.Context, limit int, sort *cve.Sort, keep func(cve.Record) bool) ([]cve.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	matched := make([]cve.Record, 0)
	for _, r := range s.recs {
		if keep(r) {
			matched = append(matched, r)
		}
	}
	s.mu.RUnlock()
	cve.SortRecords(matched, sort)
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Len reports the number of stored records, active or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.recs)
}
