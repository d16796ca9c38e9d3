package session

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/castleinc/cveagent/pkg/errmodel"
	"github.com/castleinc/cveagent/pkg/executor"
	"github.com/castleinc/cveagent/pkg/intent"
	"github.com/castleinc/cveagent/pkg/store/memstore"
	"github.com/castleinc/cveagent/pkg/tool"
	"github.com/castleinc/cveagent/pkg/tool/cvetools"
)

func countingFactory(t *testing.T, built *atomic.Int32) Factory {
	t.Helper()
	reg := tool.NewRegistry()
	require.NoError(t, cvetools.Register(reg, memstore.New(), cvetools.Options{}))
	res, ex := intent.NewResolver(reg), executor.New(reg)
	return func(id string) *Session {
		built.Add(1)
		return New(res, ex, WithID(id))
	}
}

func TestManager(t *testing.T) {
	var built atomic.Int32
	m := NewManager(countingFactory(t, &built))
	a := m.Create("")
	require.NotEmpty(t, a.ID())
	got, err := m.Get(a.ID())
	require.NoError(t, err)
	require.Same(t, a, got)
	require.Same(t, a, m.GetOrCreate(a.ID()))
	require.EqualValues(t, 1, built.Load())

	b := m.GetOrCreate("named")
	require.Equal(t, "named", b.ID())
	require.Equal(t, 2, m.Len())

	require.NoError(t, m.Delete("named"))
	_, err = m.Get("named")
	require.True(t, errmodel.HasCode(err, errmodel.CodeNotFound))
	require.Error(t, m.Delete("named"))
}

func TestTransientSessionsAreNotKept(t *testing.T) {
	var built atomic.Int32
	m := NewManager(countingFactory(t, &built))
	s := m.Transient()
	require.NotEmpty(t, s.ID())
	require.Zero(t, m.Len())
	_, err := m.Get(s.ID())
	require.True(t, errmodel.HasCode(err, errmodel.CodeNotFound))
}

func TestGetOrCreateConcurrentFirstCalls(t *testing.T) {
	var built atomic.Int32
	m := NewManager(countingFactory(t, &built))

	const n = 32
	got := make([]*Session, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = m.GetOrCreate("shared")
		}(i)
	}
	wg.Wait()
	for _, s := range got {
		require.Same(t, got[0], s)
	}
	require.EqualValues(t, 1, built.Load())
	require.Equal(t, 1, m.Len())
}

func TestIdleSessionsAreEvicted(t *testing.T) {
	var built atomic.Int32
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewManager(countingFactory(t, &built), WithIdleTimeout(time.Minute), withClock(func() time.Time { return now }))

	old := m.Create("old")
	now = now.Add(40 * time.Second)
	fresh := m.Create("fresh")
	now = now.Add(30 * time.Second)

	_, err := m.Get(old.ID())
	require.True(t, errmodel.HasCode(err, errmodel.CodeNotFound))
	got, err := m.Get(fresh.ID())
	require.NoError(t, err)
	require.Same(t, fresh, got)

	require.Equal(t, 1, m.Sweep())
	require.Equal(t, 1, m.Len())

	// Get refreshed "fresh", so it survives another 50s.
	now = now.Add(50 * time.Second)
	require.Zero(t, m.Sweep())
}
