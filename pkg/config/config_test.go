package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("FOO", "bar")
	if got := getEnv("FOO", "default"); got != "bar" {
		t.Fatalf("getEnv returned %q, want %q", got, "bar")
	}
	if got := getEnv("MISSING", "default"); got != "default" {
		t.Fatalf("getEnv returned %q, want %q", got, "default")
	}
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cveagent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":9090"
  request_timeout: 3s
store:
  backend: sql
  database_url: "sqlite:file:cfg?mode=memory"
llm:
  provider: openai
tools:
  default_limit: 5
  max_limit: 50
`), 0o600))
	t.Setenv("CVEAGENT_ADDR", ":7070")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.HTTP.Addr)
	assert.Equal(t, 3*time.Second, cfg.HTTP.RequestTimeout)
	assert.Equal(t, BackendSQL, cfg.Store.Backend)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, 5, cfg.Tools.DefaultLimit)
	// untouched keys keep their defaults
	assert.Equal(t, "cve_details", cfg.Store.Mongo.Collection)
	assert.Equal(t, 2000, cfg.LLM.HistoryTokens)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Store.Backend = BackendMongo
	cfg.Tools.DefaultLimit = 0
	cfg.Log.Format = "xml"
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"mongo.uri", "default_limit", "log.format"} {
		assert.Contains(t, err.Error(), want)
	}

	cfg = Default()
	cfg.Store.Backend = "redis"
	assert.ErrorContains(t, cfg.Validate(), "redis")
}

func TestBadEnvValues(t *testing.T) {
	t.Setenv("CVEAGENT_REQUEST_TIMEOUT", "soon")
	_, err := Load("")
	assert.Error(t, err)
}

func TestSessionIdleTimeout(t *testing.T) {
	assert.Equal(t, 30*time.Minute, Default().Sessions.IdleTimeout)

	t.Setenv("CVEAGENT_SESSION_IDLE_TIMEOUT", "5m")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.Sessions.IdleTimeout)

	cfg.Sessions.IdleTimeout = -time.Second
	assert.ErrorContains(t, cfg.Validate(), "sessions.idle_timeout")
}

func TestMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
