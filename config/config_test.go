package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longfeng22/MaliangAINovalWriter-sub001/engine"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/store/file"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/store/memory"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/store/sqlite"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 3, cfg.Generation.Rounds)
	assert.Equal(t, 800, cfg.Generation.MinBatch)
	assert.Equal(t, 120, cfg.Generation.Overlap)
	assert.Equal(t, 10*time.Second, cfg.Generation.FlushInterval)
	assert.Equal(t, 350*time.Millisecond, cfg.Generation.FinalizeDebounce)
	assert.Equal(t, 3*time.Minute, cfg.Generation.AbandonAfter)
	assert.Equal(t, 15*time.Second, cfg.Generation.Heartbeat)
	assert.Equal(t, 12, cfg.Generation.MaxToolTurns)
	assert.Equal(t, 2, cfg.Retry.Text.MaxRetries)
	assert.Equal(t, 8*time.Second, cfg.Retry.Tool.MaxDelay)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_YAMLAndEnv(t *testing.T) {
	path := writeFile(t, "settinggen.yaml", `
model:
  text_model: writer-large
  tool_model: extractor
generation:
  rounds: 5
  flush_interval: 4s
  finalize_debounce: 200ms
store:
  backend: file
  dir: /tmp/settings
log:
  level: debug
`)
	t.Setenv("SETTINGGEN_TOOL_MODEL", "extractor-v2")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "writer-large", cfg.Model.TextModel)
	assert.Equal(t, "extractor-v2", cfg.Model.ToolModel)
	assert.Equal(t, "sk-test", cfg.Model.APIKey)
	assert.Equal(t, 5, cfg.Generation.Rounds)
	assert.Equal(t, 4*time.Second, cfg.Generation.FlushInterval)
	assert.Equal(t, 200*time.Millisecond, cfg.Generation.FinalizeDebounce)
	assert.Equal(t, 800, cfg.Generation.MinBatch, "unset keys keep their defaults")
	assert.Equal(t, BackendFile, cfg.Store.Backend)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.yaml", "generation: [unclosed"))
	assert.ErrorContains(t, err, "error parsing YAML")

	_, err = Load(writeFile(t, "zero.yaml", "generation:\n  rounds: 0\n"))
	assert.ErrorContains(t, err, "rounds")

	_, err = Load(writeFile(t, "overlap.yaml", "generation:\n  min_batch: 100\n  overlap: 100\n"))
	assert.ErrorContains(t, err, "overlap")

	t.Setenv("SETTINGGEN_STORE", "cassandra")
	_, err = Load("")
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestLoad_InvalidRoundsEnv(t *testing.T) {
	t.Setenv("SETTINGGEN_ROUNDS", "many")
	_, err := Load("")
	assert.ErrorContains(t, err, "SETTINGGEN_ROUNDS")
}

func TestEngineOptions(t *testing.T) {
	cfg := Default()
	cfg.Generation.Rounds = 2
	cfg.KnowledgeBaseDir = "/srv/kb"

	opts := cfg.EngineOptions(nil)
	assert.Equal(t, 2, opts.TextPhase.Rounds)
	assert.Equal(t, 800, opts.TextPhase.MinBatch)
	assert.Equal(t, 2, opts.TextPhase.Retry.MaxRetries)
	assert.Equal(t, 12, opts.Orchestrator.MaxTurns)
	assert.Equal(t, 2*time.Minute, opts.Orchestrator.TailTimeout)
	assert.Equal(t, 3, opts.Structured.MaxIterations)
	assert.Equal(t, 350*time.Millisecond, opts.Gate.Debounce)
	assert.Equal(t, 15*time.Second, opts.Bus.Heartbeat)
	assert.Equal(t, engine.YAMLKnowledgeBase{Dir: "/srv/kb"}, opts.KnowledgeBase)

	cfg.KnowledgeBaseDir = ""
	assert.Nil(t, cfg.EngineOptions(nil).KnowledgeBase)
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	cfg := Default()
	st, closeFn, err := cfg.OpenStore(ctx)
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, st)
	assert.NoError(t, closeFn())

	cfg.Store.Backend = BackendNone
	st, _, err = cfg.OpenStore(ctx)
	require.NoError(t, err)
	assert.Nil(t, st)

	cfg.Store.Backend = BackendFile
	cfg.Store.Dir = filepath.Join(t.TempDir(), "snaps")
	st, _, err = cfg.OpenStore(ctx)
	require.NoError(t, err)
	assert.IsType(t, &file.FileSnapshotStore{}, st)

	cfg.Store.Backend = BackendSqlite
	cfg.Store.SqlitePath = filepath.Join(t.TempDir(), "settings.db")
	st, closeFn, err = cfg.OpenStore(ctx)
	require.NoError(t, err)
	assert.IsType(t, &sqlite.SqliteSnapshotStore{}, st)
	assert.NoError(t, closeFn())

	cfg.Store.Backend = BackendPostgres
	cfg.Store.PostgresDSN = ""
	_, _, err = cfg.OpenStore(ctx)
	assert.ErrorContains(t, err, "postgres_dsn")

	cfg.Store.Backend = "cassandra"
	_, _, err = cfg.OpenStore(ctx)
	assert.ErrorIs(t, err, ErrUnknownBackend)
}
