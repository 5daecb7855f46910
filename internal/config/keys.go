package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	alias   []string // ecosystem env names, consulted after env
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "SCOUT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_enabled", typ: kBool, env: "SCOUT_SERVER_MCP_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Server.MCPEnabled },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SCOUT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "index.dir", typ: kString, env: "SCOUT_INDEX_DIR",
		apply:   func(cfg *Config, v any) { cfg.Index.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Index.Dir },
	},
	{
		key: "log.level", typ: kString, env: "SCOUT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "oracle.provider", typ: kString, env: "SCOUT_ORACLE_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Oracle.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Oracle.Provider },
	},
	{
		key: "oracle.model", typ: kString, env: "SCOUT_ORACLE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Oracle.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Oracle.Model },
	},
	{
		key: "oracle.max_tokens", typ: kInt, env: "SCOUT_ORACLE_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Oracle.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Oracle.MaxTokens },
	},
	{
		key: "oracle.temperature", typ: kFloat, env: "SCOUT_ORACLE_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Oracle.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Oracle.Temperature },
	},
	{
		key: "embedding.provider", typ: kString, env: "SCOUT_EMBEDDING_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Provider },
	},
	{
		key: "embedding.model", typ: kString, env: "SCOUT_EMBEDDING_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Model },
	},
	{
		key: "embedding.dimension", typ: kInt, env: "SCOUT_EMBEDDING_DIMENSION",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Dimension = v.(int) },
		extract: func(cfg Config) any { return cfg.Embedding.Dimension },
	},
	{
		key: "ollama.base_url", typ: kString, env: "SCOUT_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.keep_alive", typ: kDuration, env: "SCOUT_OLLAMA_KEEP_ALIVE",
		apply:   func(cfg *Config, v any) { cfg.Ollama.KeepAlive = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Ollama.KeepAlive },
	},
	{
		key: "openai.base_url", typ: kString, env: "SCOUT_OPENAI_BASE_URL", alias: []string{"OPENAI_BASE_URL"},
		apply:   func(cfg *Config, v any) { cfg.OpenAI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.BaseURL },
	},
	{
		key: "openai.api_key", typ: kString, env: "SCOUT_OPENAI_API_KEY", alias: []string{"OPENAI_API_KEY"},
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.OpenAI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.APIKey },
	},
	{
		key: "anthropic.api_key", typ: kString, env: "SCOUT_ANTHROPIC_API_KEY", alias: []string{"ANTHROPIC_API_KEY"},
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Anthropic.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Anthropic.APIKey },
	},
	{
		key: "gemini.api_key", typ: kString, env: "SCOUT_GEMINI_API_KEY", alias: []string{"GEMINI_API_KEY", "GOOGLE_GENAI_API_KEY"},
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Gemini.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.APIKey },
	},
	{
		key: "ranking.top_k", typ: kInt, env: "SCOUT_RANKING_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Ranking.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Ranking.TopK },
	},
	{
		key: "ranking.semantic_weight", typ: kFloat, env: "SCOUT_RANKING_SEMANTIC_WEIGHT",
		apply:   func(cfg *Config, v any) { cfg.Ranking.SemanticWeight = v.(float64) },
		extract: func(cfg Config) any { return cfg.Ranking.SemanticWeight },
	},
	{
		key: "ranking.feedback_weight", typ: kFloat, env: "SCOUT_RANKING_FEEDBACK_WEIGHT",
		apply:   func(cfg *Config, v any) { cfg.Ranking.FeedbackWeight = v.(float64) },
		extract: func(cfg Config) any { return cfg.Ranking.FeedbackWeight },
	},
	{
		key: "ranking.wilson_z", typ: kFloat, env: "SCOUT_RANKING_WILSON_Z",
		apply:   func(cfg *Config, v any) { cfg.Ranking.WilsonZ = v.(float64) },
		extract: func(cfg Config) any { return cfg.Ranking.WilsonZ },
	},
	{
		key: "agent.seed", typ: kInt, env: "SCOUT_AGENT_SEED",
		apply:   func(cfg *Config, v any) { cfg.Agent.Seed = v.(int) },
		extract: func(cfg Config) any { return cfg.Agent.Seed },
	},
	{
		key: "session.ttl", typ: kDuration, env: "SCOUT_SESSION_TTL",
		apply:   func(cfg *Config, v any) { cfg.Session.TTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Session.TTL },
	},
	{
		key: "session.sweep_schedule", typ: kString, env: "SCOUT_SESSION_SWEEP_SCHEDULE",
		apply:   func(cfg *Config, v any) { cfg.Session.SweepSchedule = v.(string) },
		extract: func(cfg Config) any { return cfg.Session.SweepSchedule },
	},
	{
		key: "search.provider", typ: kString, env: "SCOUT_SEARCH_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Search.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.Provider },
	},
	{
		key: "search.google_api_key", typ: kString, env: "SCOUT_SEARCH_GOOGLE_API_KEY", alias: []string{"GOOGLE_API_KEY"},
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Search.GoogleAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.GoogleAPIKey },
	},
	{
		key: "search.google_cse_id", typ: kString, env: "SCOUT_SEARCH_GOOGLE_CSE_ID", alias: []string{"GOOGLE_CSE_ID"},
		apply:   func(cfg *Config, v any) { cfg.Search.GoogleCSEID = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.GoogleCSEID },
	},
	{
		key: "search.results", typ: kInt, env: "SCOUT_SEARCH_RESULTS",
		apply:   func(cfg *Config, v any) { cfg.Search.Results = v.(int) },
		extract: func(cfg Config) any { return cfg.Search.Results },
	},
	{
		key: "search.rate_per_minute", typ: kInt, env: "SCOUT_SEARCH_RATE_PER_MINUTE",
		apply:   func(cfg *Config, v any) { cfg.Search.RatePerMinute = v.(int) },
		extract: func(cfg Config) any { return cfg.Search.RatePerMinute },
	},
	{
		key: "notify.workers", typ: kInt, env: "SCOUT_NOTIFY_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Notify.Workers = v.(int) },
		extract: func(cfg Config) any { return cfg.Notify.Workers },
	},
	{
		key: "notify.write_timeout", typ: kDuration, env: "SCOUT_NOTIFY_WRITE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Notify.WriteTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Notify.WriteTimeout },
	},
}

// parse converts raw text into the key's Go type.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		name, raw := lookupEnv(s)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", name, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}

func lookupEnv(s keySpec) (name, value string) {
	for _, n := range append([]string{s.env}, s.alias...) {
		if n == "" {
			continue
		}
		if v := os.Getenv(n); v != "" {
			return n, v
		}
	}
	return "", ""
}
