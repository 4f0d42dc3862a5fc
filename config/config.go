// Package config loads settinggen configuration from a YAML file, a .env
// file and the environment, in that order of increasing precedence.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kataras/golog"
	"gopkg.in/yaml.v3"

	"github.com/longfeng22/MaliangAINovalWriter-sub001/engine"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/events"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/gate"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/log"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/orchestrator"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/retry"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/store"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/store/file"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/store/memory"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/store/postgres"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/store/redis"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/store/sqlite"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/structured"
	"github.com/longfeng22/MaliangAINovalWriter-sub001/textphase"
)

// Store backends accepted in store.backend.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSqlite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// ErrUnknownBackend is returned by OpenStore for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown store backend")

// Config is the full settinggen configuration.
type Config struct {
	Model      ModelConfig      `yaml:"model"`
	Generation GenerationConfig `yaml:"generation"`
	Retry      RetryConfig      `yaml:"retry"`
	Store      StoreConfig      `yaml:"store"`
	// KnowledgeBaseDir holds <id>.yaml seed entries. Empty disables the
	// file knowledge base.
	KnowledgeBaseDir string    `yaml:"knowledge_base_dir"`
	Log              LogConfig `yaml:"log"`
}

// ModelConfig names the OpenAI-compatible models used by the engine.
type ModelConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	// TextModel streams prose. ToolModel extracts nodes; empty disables
	// tool orchestration. StructuredModel defaults to TextModel.
	TextModel       string `yaml:"text_model"`
	ToolModel       string `yaml:"tool_model"`
	StructuredModel string `yaml:"structured_model"`
}

// GenerationConfig carries the engine's tuning constants.
type GenerationConfig struct {
	Rounds               int           `yaml:"rounds"`
	MinBatch             int           `yaml:"min_batch"`
	Overlap              int           `yaml:"overlap"`
	FlushInterval        time.Duration `yaml:"flush_interval"`
	FinalizeDebounce     time.Duration `yaml:"finalize_debounce"`
	AbandonAfter         time.Duration `yaml:"abandon_after"`
	Heartbeat            time.Duration `yaml:"heartbeat"`
	MaxToolTurns         int           `yaml:"max_tool_turns"`
	OrchestrationTimeout time.Duration `yaml:"orchestration_timeout"`
	TailTimeout          time.Duration `yaml:"tail_timeout"`
	MaxIterations        int           `yaml:"max_iterations"`
	PersistTimeout       time.Duration `yaml:"persist_timeout"`
	SessionRetention     time.Duration `yaml:"session_retention"`
}

// RetryPolicy mirrors retry.Config without the callbacks.
type RetryPolicy struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	Jitter     float64       `yaml:"jitter"`
}

// RetryConfig holds the text-stream and tool-loop policies.
type RetryConfig struct {
	Text RetryPolicy `yaml:"text"`
	Tool RetryPolicy `yaml:"tool"`
}

// StoreConfig selects where finished graphs are saved.
type StoreConfig struct {
	Backend string `yaml:"backend"`

	Dir string `yaml:"dir"`

	SqlitePath string `yaml:"sqlite_path"`

	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	RedisPrefix   string        `yaml:"redis_prefix"`
	RedisTTL      time.Duration `yaml:"redis_ttl"`

	PostgresDSN   string `yaml:"postgres_dsn"`
	PostgresTable string `yaml:"postgres_table"`
}

// LogConfig sets the log level: debug, info, warn, error or none.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	text := retry.TextStream()
	tool := retry.ToolLoop()
	return &Config{
		Model: ModelConfig{
			TextModel: "gpt-4o-mini",
			ToolModel: "gpt-4o-mini",
		},
		Generation: GenerationConfig{
			Rounds:               textphase.DefaultRounds,
			MinBatch:             textphase.DefaultMinBatch,
			Overlap:              textphase.DefaultOverlap,
			FlushInterval:        textphase.DefaultFlushInterval,
			FinalizeDebounce:     gate.DefaultDebounce,
			AbandonAfter:         gate.DefaultAbandonAfter,
			Heartbeat:            events.DefaultHeartbeat,
			MaxToolTurns:         12,
			OrchestrationTimeout: 3 * time.Minute,
			TailTimeout:          2 * time.Minute,
			MaxIterations:        structured.DefaultMaxIterations,
			PersistTimeout:       engine.DefaultPersistTimeout,
			SessionRetention:     time.Hour,
		},
		Retry: RetryConfig{
			Text: RetryPolicy{MaxRetries: text.MaxRetries, BaseDelay: text.BaseDelay, MaxDelay: text.MaxDelay, Jitter: text.Jitter},
			Tool: RetryPolicy{MaxRetries: tool.MaxRetries, BaseDelay: tool.BaseDelay, MaxDelay: tool.MaxDelay, Jitter: tool.Jitter},
		},
		Store: StoreConfig{
			Backend:     BackendMemory,
			Dir:         "./snapshots",
			SqlitePath:  "./settings.db",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "settinggen:",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path on top of Default, then applies a .env file from the
// working directory if present and finally the environment. An empty path
// skips the YAML file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("error parsing YAML: %w", err)
		}
	}

	// A missing .env is normal.
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	setString("OPENAI_API_KEY", &c.Model.APIKey)
	setString("OPENAI_API_BASE", &c.Model.BaseURL)
	setString("SETTINGGEN_TEXT_MODEL", &c.Model.TextModel)
	setString("SETTINGGEN_TOOL_MODEL", &c.Model.ToolModel)
	setString("SETTINGGEN_STORE", &c.Store.Backend)
	setString("SETTINGGEN_STORE_DIR", &c.Store.Dir)
	setString("SETTINGGEN_REDIS_ADDR", &c.Store.RedisAddr)
	setString("SETTINGGEN_POSTGRES_DSN", &c.Store.PostgresDSN)
	setString("SETTINGGEN_SQLITE_PATH", &c.Store.SqlitePath)
	setString("SETTINGGEN_KNOWLEDGE_BASE_DIR", &c.KnowledgeBaseDir)
	setString("SETTINGGEN_LOG_LEVEL", &c.Log.Level)

	if v := strings.TrimSpace(os.Getenv("SETTINGGEN_ROUNDS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SETTINGGEN_ROUNDS %q: %w", v, err)
		}
		c.Generation.Rounds = n
	}
	return nil
}

// Validate checks values that have no usable fallback.
func (c *Config) Validate() error {
	if c.Generation.Rounds < 1 {
		return fmt.Errorf("generation.rounds must be at least 1, got %d", c.Generation.Rounds)
	}
	if c.Generation.MinBatch < 1 {
		return fmt.Errorf("generation.min_batch must be positive, got %d", c.Generation.MinBatch)
	}
	if c.Generation.Overlap >= c.Generation.MinBatch {
		return fmt.Errorf("generation.overlap (%d) must be smaller than min_batch (%d)", c.Generation.Overlap, c.Generation.MinBatch)
	}
	switch strings.ToLower(c.Store.Backend) {
	case "", BackendNone, BackendMemory, BackendFile, BackendSqlite, BackendRedis, BackendPostgres:
	default:
		return fmt.Errorf("%w: %s", ErrUnknownBackend, c.Store.Backend)
	}
	return nil
}

func (p RetryPolicy) config() retry.Config {
	return retry.Config{MaxRetries: p.MaxRetries, BaseDelay: p.BaseDelay, MaxDelay: p.MaxDelay, Jitter: p.Jitter}
}

// Logger builds a golog-backed logger at the configured level.
func (c *Config) Logger() log.Logger {
	l := log.NewGologLogger(golog.New())
	l.SetLevel(log.ParseLevel(c.Log.Level))
	return l
}

// EngineOptions converts the tuning constants to engine options. Models,
// persister and knowledge base are left for the caller; KnowledgeBase is set
// when KnowledgeBaseDir is configured.
func (c *Config) EngineOptions(logger log.Logger) engine.Options {
	g := c.Generation
	opts := engine.Options{
		TextPhase: textphase.Options{
			Rounds:        g.Rounds,
			MinBatch:      g.MinBatch,
			Overlap:       g.Overlap,
			FlushInterval: g.FlushInterval,
			Retry:         c.Retry.Text.config(),
			Logger:        logger,
		},
		Orchestrator: orchestrator.Options{
			MaxTurns:    g.MaxToolTurns,
			Timeout:     g.OrchestrationTimeout,
			TailTimeout: g.TailTimeout,
			Retry:       c.Retry.Tool.config(),
			Logger:      logger,
		},
		Structured: structured.Options{
			MaxIterations: g.MaxIterations,
			Retry:         c.Retry.Tool.config(),
			Logger:        logger,
		},
		Gate: gate.Options{
			Debounce:     g.FinalizeDebounce,
			AbandonAfter: g.AbandonAfter,
			Logger:       logger,
		},
		Bus:            events.BusOptions{Heartbeat: g.Heartbeat, Logger: logger},
		PersistTimeout: g.PersistTimeout,
		Logger:         logger,
	}
	if c.KnowledgeBaseDir != "" {
		opts.KnowledgeBase = engine.YAMLKnowledgeBase{Dir: c.KnowledgeBaseDir}
	}
	return opts
}

// OpenStore opens the configured snapshot store. The returned close
// function is never nil. A "none" backend returns a nil store.
func (c *Config) OpenStore(ctx context.Context) (store.SnapshotStore, func() error, error) {
	noop := func() error { return nil }
	s := c.Store
	switch strings.ToLower(s.Backend) {
	case BackendNone:
		return nil, noop, nil
	case "", BackendMemory:
		return memory.New(), noop, nil
	case BackendFile:
		st, err := file.NewFileSnapshotStore(s.Dir)
		if err != nil {
			return nil, noop, err
		}
		return st, noop, nil
	case BackendSqlite:
		st, err := sqlite.NewSqliteSnapshotStore(sqlite.SqliteOptions{Path: s.SqlitePath})
		if err != nil {
			return nil, noop, err
		}
		return st, st.Close, nil
	case BackendRedis:
		st := redis.NewRedisSnapshotStore(redis.RedisOptions{
			Addr:     s.RedisAddr,
			Password: s.RedisPassword,
			DB:       s.RedisDB,
			Prefix:   s.RedisPrefix,
			TTL:      s.RedisTTL,
		})
		return st, st.Close, nil
	case BackendPostgres:
		if s.PostgresDSN == "" {
			return nil, noop, errors.New("store.postgres_dsn is required for the postgres backend")
		}
		st, err := postgres.NewPostgresSnapshotStore(ctx, postgres.PostgresOptions{
			ConnString: s.PostgresDSN,
			TableName:  s.PostgresTable,
		})
		if err != nil {
			return nil, noop, err
		}
		if err := st.InitSchema(ctx); err != nil {
			st.Close()
			return nil, noop, err
		}
		return st, func() error { st.Close(); return nil }, nil
	}
	return nil, noop, fmt.Errorf("%w: %s", ErrUnknownBackend, s.Backend)
}
