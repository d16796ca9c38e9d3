package entstore

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/castleinc/cveagent/pkg/cve"
	"github.com/castleinc/cveagent/pkg/store"
)

func turnFixture(id, sessionID, tool string, params map[string]any) store.TurnRecord {
	raw, _ := json.Marshal(params)
	return store.TurnRecord{
		TurnID:    id,
		SessionID: sessionID,
		Input:     "input for " + id,
		Tool:      tool,
		Source:    "rule",
		Params:    raw,
		Status:    "ok",
		Format:    "list",
		Rendered:  "rendered " + id,
	}
}

// openSeeded returns a migrated store holding the bundled sample records.
// It is closed when the test ends.
func openSeeded(t *testing.T, databaseURL string) *Store {
	t.Helper()
	ctx := context.Background()
	st, err := Open(ctx, databaseURL)
	if err != nil {
		t.Fatalf("open %s: %v", databaseURL, err)
	}
	t.Cleanup(func() { _ = st.Close() })

	rs, err := cve.SampleRecords()
	if err == nil {
		err = st.Migrate(ctx)
	}
	if err == nil {
		err = cve.Seed(ctx, st, rs)
	}
	if err != nil {
		t.Fatalf("prepare store: %v", err)
	}
	return st
}
