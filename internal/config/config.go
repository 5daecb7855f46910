package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Index     IndexConfig
	Log       LogConfig
	Oracle    OracleConfig
	Embedding EmbeddingConfig
	Ollama    OllamaConfig
	OpenAI    OpenAIConfig
	Anthropic AnthropicConfig
	Gemini    GeminiConfig
	Ranking   RankingConfig
	Agent     AgentConfig
	Session   SessionConfig
	Search    SearchConfig
	Notify    NotifyConfig
}

type ServerConfig struct {
	Port       int
	MCPEnabled bool
}

type StorageConfig struct {
	DataDir string
}

type IndexConfig struct {
	Dir string
}

type LogConfig struct {
	Level string
}

type OracleConfig struct {
	Provider    string
	Model       string
	MaxTokens   int
	Temperature float64
}

type EmbeddingConfig struct {
	Provider  string
	Model     string
	Dimension int
}

type OllamaConfig struct {
	BaseURL   string
	KeepAlive time.Duration
}

type OpenAIConfig struct {
	BaseURL string
	APIKey  string
}

type AnthropicConfig struct {
	APIKey string
}

type GeminiConfig struct {
	APIKey string
}

type RankingConfig struct {
	TopK           int
	SemanticWeight float64
	FeedbackWeight float64
	WilsonZ        float64
}

type AgentConfig struct {
	Seed int
}

type SessionConfig struct {
	TTL           time.Duration
	SweepSchedule string
}

type SearchConfig struct {
	Provider      string
	GoogleAPIKey  string
	GoogleCSEID   string
	Results       int
	RatePerMinute int
}

type NotifyConfig struct {
	Workers      int
	WriteTimeout time.Duration
}

func defaults() Config {
	return Config{
		Server:  ServerConfig{Port: 8000},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Index:   IndexConfig{Dir: "vectordb"},
		Log:     LogConfig{Level: "info"},
		Oracle: OracleConfig{
			Provider:    "openai",
			Model:       "gpt-3.5-turbo",
			MaxTokens:   1024,
			Temperature: 0.7,
		},
		Embedding: EmbeddingConfig{
			Provider:  "ollama",
			Model:     "all-minilm",
			Dimension: 384,
		},
		Ollama: OllamaConfig{BaseURL: "http://localhost:11434", KeepAlive: 5 * time.Minute},
		Ranking: RankingConfig{
			TopK:           3,
			SemanticWeight: 0.7,
			FeedbackWeight: 0.3,
			WilsonZ:        1.96,
		},
		Agent:   AgentConfig{Seed: 1},
		Session: SessionConfig{SweepSchedule: "@every 1m"},
		Search: SearchConfig{
			Provider: "google",
			Results:  5,
		},
		Notify: NotifyConfig{
			Workers:      16,
			WriteTimeout: 10 * time.Second,
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "scout-data"
		}
	}
	return filepath.Join(dir, "scout")
}

// Load builds the configuration from, in increasing precedence: defaults,
// the TOML file at $XDG_CONFIG_HOME/scout/config.toml (or $SCOUT_CONFIG),
// a .env file in the working directory, and SCOUT_* environment variables.
// Secrets are only read from the environment.
func Load() (Config, error) {
	return loadFromPath(configFilePath(), ".env")
}

func loadFromPath(path string, dotenv ...string) (Config, error) {
	for _, f := range dotenv {
		// godotenv never overrides variables already set in the process.
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "[WARN] could not load %s: %v\n", f, err)
		}
	}
	return loadWith(newFileBackend(path))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var providers = map[string]bool{"ollama": true, "openai": true, "anthropic": true, "gemini": true}

// Validate rejects values no component can run with.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if !providers[strings.ToLower(c.Oracle.Provider)] {
		errs = append(errs, fmt.Errorf("oracle.provider %q is not one of ollama, openai, anthropic, gemini", c.Oracle.Provider))
	}
	switch strings.ToLower(c.Embedding.Provider) {
	case "ollama", "openai", "gemini":
	default:
		errs = append(errs, fmt.Errorf("embedding.provider %q is not one of ollama, openai, gemini", c.Embedding.Provider))
	}
	if c.Embedding.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("embedding.dimension must be positive"))
	}
	if c.Ranking.TopK <= 0 {
		errs = append(errs, fmt.Errorf("ranking.top_k must be positive"))
	}
	if c.Ranking.SemanticWeight < 0 || c.Ranking.FeedbackWeight < 0 {
		errs = append(errs, fmt.Errorf("ranking weights must not be negative"))
	}
	if c.Ranking.WilsonZ <= 0 {
		errs = append(errs, fmt.Errorf("ranking.wilson_z must be positive"))
	}
	if c.Session.TTL < 0 {
		errs = append(errs, fmt.Errorf("session.ttl must not be negative"))
	}
	switch strings.ToLower(c.Search.Provider) {
	case "google", "gemini", "none":
	default:
		errs = append(errs, fmt.Errorf("search.provider %q is not one of google, gemini, none", c.Search.Provider))
	}
	return errors.Join(errs...)
}

// RequireCredentials checks that the configured oracle provider has the
// secrets it needs.
func (c Config) RequireCredentials() error {
	var missing, env string
	switch strings.ToLower(c.Oracle.Provider) {
	case "openai":
		if c.OpenAI.APIKey == "" && c.OpenAI.BaseURL == "" {
			missing, env = "OpenAI API key", "SCOUT_OPENAI_API_KEY or OPENAI_API_KEY"
		}
	case "anthropic":
		if c.Anthropic.APIKey == "" {
			missing, env = "Anthropic API key", "SCOUT_ANTHROPIC_API_KEY or ANTHROPIC_API_KEY"
		}
	case "gemini":
		if c.Gemini.APIKey == "" {
			missing, env = "Gemini API key", "SCOUT_GEMINI_API_KEY or GEMINI_API_KEY"
		}
	}
	if missing != "" {
		return fmt.Errorf("missing required config: %s. Set it via environment variable %s", missing, env)
	}
	return nil
}
