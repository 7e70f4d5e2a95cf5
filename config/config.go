// Package config loads swarm settings from defaults, an optional config file
// and SWARM_* environment variables. Values are read once at startup and
// handed to constructors; nothing here is consulted at runtime.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hupe1980/agentswarm/dispatcher"
	"github.com/hupe1980/agentswarm/governor"
	"github.com/hupe1980/agentswarm/logging"
	"github.com/hupe1980/agentswarm/memory"
)

const (
	configName = "swarm"
	envPrefix  = "SWARM"
)

// ProviderKinds lists the supported generative backends.
var ProviderKinds = []string{"groq", "openai", "anthropic", "gemini", "ollama"}

// Config is the complete swarm configuration.
type Config struct {
	Governor   GovernorConfig   `mapstructure:"governor"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Router     RouterConfig     `mapstructure:"router"`
	Memory     MemoryConfig     `mapstructure:"memory"`
	Retrieval  RetrievalConfig  `mapstructure:"retrieval"`
	Providers  []ProviderConfig `mapstructure:"providers"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// GovernorConfig holds the admission limits.
type GovernorConfig struct {
	MaxInputLength     int           `mapstructure:"max_input_length"`
	RateLimit          int           `mapstructure:"rate_limit"`
	RatePeriod         time.Duration `mapstructure:"rate_period"`
	FailureThreshold   int           `mapstructure:"failure_threshold"`
	Cooldown           time.Duration `mapstructure:"cooldown"`
	TokenBudgetPerHour int           `mapstructure:"token_budget_per_hour"`
}

// DispatcherConfig bounds agent execution.
type DispatcherConfig struct {
	MaxConcurrentAgents int           `mapstructure:"max_concurrent_agents"`
	AgentTimeout        time.Duration `mapstructure:"agent_timeout"`
}

// RouterConfig tunes classification.
type RouterConfig struct {
	Threshold    float64 `mapstructure:"threshold"`
	DefaultAgent string  `mapstructure:"default_agent"`
	// ProfilesFile is an optional TOML capability table replacing the stock
	// profiles.
	ProfilesFile string `mapstructure:"profiles_file"`
}

// MemoryConfig selects and tunes the memory store.
type MemoryConfig struct {
	// Path of the SQLite database. Empty keeps memory in process.
	Path string `mapstructure:"path"`
	// JournalPath of the write-ahead journal. Empty derives it from Path.
	JournalPath      string        `mapstructure:"journal_path"`
	FlushThreshold   int           `mapstructure:"flush_threshold"`
	FlushInterval    time.Duration `mapstructure:"flush_interval"`
	MaxFlushFailures int           `mapstructure:"max_flush_failures"`
	EventRetention   time.Duration `mapstructure:"event_retention"`
	StatRetention    time.Duration `mapstructure:"stat_retention"`
}

// RetrievalConfig configures the knowledge collection.
type RetrievalConfig struct {
	PersistPath string `mapstructure:"persist_path"`
	Compress    bool   `mapstructure:"compress"`
	Collection  string `mapstructure:"collection"`
	// Embedding is "hashing" or "ollama".
	Embedding     string  `mapstructure:"embedding"`
	Dimensions    int     `mapstructure:"dimensions"`
	OllamaModel   string  `mapstructure:"ollama_model"`
	OllamaURL     string  `mapstructure:"ollama_url"`
	MinSimilarity float32 `mapstructure:"min_similarity"`
}

// ProviderConfig declares one backend of the fallback chain. Order in the
// list is priority.
type ProviderConfig struct {
	ID    string `mapstructure:"id"`
	Kind  string `mapstructure:"kind"`
	Model string `mapstructure:"model"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `mapstructure:"api_key_env"`
	BaseURL   string `mapstructure:"base_url"`
}

// APIKey resolves the provider's key from the environment.
func (p ProviderConfig) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}

// LoggingConfig selects the logger.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	// Format is "json" or "text" for the slog backend.
	Format string `mapstructure:"format"`
	// Backend is "slog" or "zap".
	Backend string `mapstructure:"backend"`
}

// Default returns the stock configuration.
func Default() Config {
	limits := governor.DefaultLimits()
	retention := memory.DefaultRetention()
	return Config{
		Governor: GovernorConfig{
			MaxInputLength:     limits.MaxInputLength,
			RateLimit:          limits.RateLimit,
			RatePeriod:         limits.RatePeriod,
			FailureThreshold:   limits.FailureThreshold,
			Cooldown:           limits.Cooldown,
			TokenBudgetPerHour: limits.TokenBudgetPerHour,
		},
		Dispatcher: DispatcherConfig{
			MaxConcurrentAgents: dispatcher.DefaultConfig.MaxConcurrentAgents,
			AgentTimeout:        dispatcher.DefaultConfig.AgentTimeout,
		},
		Router: RouterConfig{
			Threshold:    0.5,
			DefaultAgent: "echo",
		},
		Memory: MemoryConfig{
			FlushThreshold:   20,
			FlushInterval:    5 * time.Second,
			MaxFlushFailures: 5,
			EventRetention:   retention.Events,
			StatRetention:    retention.Stats,
		},
		Retrieval: RetrievalConfig{
			Collection:  "knowledge",
			Embedding:   "hashing",
			Dimensions:  256,
			OllamaModel: "nomic-embed-text",
		},
		Providers: []ProviderConfig{
			{ID: "groq-70b", Kind: "groq", Model: "llama-3.3-70b-versatile", APIKeyEnv: "GROQ_API_KEY"},
			{ID: "groq-8b", Kind: "groq", Model: "llama-3.1-8b-instant", APIKeyEnv: "GROQ_API_KEY"},
			{ID: "anthropic", Kind: "anthropic", Model: "claude-3-5-haiku-latest", APIKeyEnv: "ANTHROPIC_API_KEY"},
			{ID: "ollama", Kind: "ollama", Model: "llama3.2"},
		},
		Logging: LoggingConfig{
			Level:   "info",
			Format:  "text",
			Backend: "slog",
		},
	}
}

// Load reads configuration. An explicit path must exist; with an empty path
// a "swarm.{toml,yaml,json}" file is looked up in the working directory and
// in the user config directory, and its absence is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "agentswarm"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("governor.max_input_length", d.Governor.MaxInputLength)
	v.SetDefault("governor.rate_limit", d.Governor.RateLimit)
	v.SetDefault("governor.rate_period", d.Governor.RatePeriod)
	v.SetDefault("governor.failure_threshold", d.Governor.FailureThreshold)
	v.SetDefault("governor.cooldown", d.Governor.Cooldown)
	v.SetDefault("governor.token_budget_per_hour", d.Governor.TokenBudgetPerHour)

	v.SetDefault("dispatcher.max_concurrent_agents", d.Dispatcher.MaxConcurrentAgents)
	v.SetDefault("dispatcher.agent_timeout", d.Dispatcher.AgentTimeout)

	v.SetDefault("router.threshold", d.Router.Threshold)
	v.SetDefault("router.default_agent", d.Router.DefaultAgent)
	v.SetDefault("router.profiles_file", d.Router.ProfilesFile)

	v.SetDefault("memory.path", d.Memory.Path)
	v.SetDefault("memory.journal_path", d.Memory.JournalPath)
	v.SetDefault("memory.flush_threshold", d.Memory.FlushThreshold)
	v.SetDefault("memory.flush_interval", d.Memory.FlushInterval)
	v.SetDefault("memory.max_flush_failures", d.Memory.MaxFlushFailures)
	v.SetDefault("memory.event_retention", d.Memory.EventRetention)
	v.SetDefault("memory.stat_retention", d.Memory.StatRetention)

	v.SetDefault("retrieval.persist_path", d.Retrieval.PersistPath)
	v.SetDefault("retrieval.compress", d.Retrieval.Compress)
	v.SetDefault("retrieval.collection", d.Retrieval.Collection)
	v.SetDefault("retrieval.embedding", d.Retrieval.Embedding)
	v.SetDefault("retrieval.dimensions", d.Retrieval.Dimensions)
	v.SetDefault("retrieval.ollama_model", d.Retrieval.OllamaModel)
	v.SetDefault("retrieval.ollama_url", d.Retrieval.OllamaURL)
	v.SetDefault("retrieval.min_similarity", d.Retrieval.MinSimilarity)

	providers := make([]map[string]any, len(d.Providers))
	for i, p := range d.Providers {
		providers[i] = map[string]any{
			"id":          p.ID,
			"kind":        p.Kind,
			"model":       p.Model,
			"api_key_env": p.APIKeyEnv,
			"base_url":    p.BaseURL,
		}
	}
	v.SetDefault("providers", providers)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.backend", d.Logging.Backend)
}

// Validate rejects settings no component can work with.
func (c Config) Validate() error {
	var errs []error
	if c.Router.Threshold <= 0 || c.Router.Threshold > 1 {
		errs = append(errs, fmt.Errorf("router.threshold must be in (0, 1], got %v", c.Router.Threshold))
	}
	if strings.TrimSpace(c.Router.DefaultAgent) == "" {
		errs = append(errs, errors.New("router.default_agent must not be empty"))
	}
	if c.Dispatcher.MaxConcurrentAgents <= 0 {
		errs = append(errs, errors.New("dispatcher.max_concurrent_agents must be positive"))
	}
	if c.Dispatcher.AgentTimeout <= 0 {
		errs = append(errs, errors.New("dispatcher.agent_timeout must be positive"))
	}
	switch c.Retrieval.Embedding {
	case "hashing", "ollama":
	default:
		errs = append(errs, fmt.Errorf("retrieval.embedding %q is not supported", c.Retrieval.Embedding))
	}
	seen := map[string]bool{}
	for i, p := range c.Providers {
		if p.ID == "" {
			errs = append(errs, fmt.Errorf("providers[%d] has no id", i))
		} else if seen[p.ID] {
			errs = append(errs, fmt.Errorf("provider %q is declared twice", p.ID))
		}
		seen[p.ID] = true
		if !slices.Contains(ProviderKinds, p.Kind) {
			errs = append(errs, fmt.Errorf("provider %q has unsupported kind %q", p.ID, p.Kind))
		}
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch c.Logging.Backend {
	case "slog", "zap":
	default:
		errs = append(errs, fmt.Errorf("logging.backend %q is not supported", c.Logging.Backend))
	}
	return errors.Join(errs...)
}

// Limits converts the governor section.
func (c Config) Limits() governor.Limits {
	return governor.Limits{
		MaxInputLength:     c.Governor.MaxInputLength,
		RateLimit:          c.Governor.RateLimit,
		RatePeriod:         c.Governor.RatePeriod,
		FailureThreshold:   c.Governor.FailureThreshold,
		Cooldown:           c.Governor.Cooldown,
		TokenBudgetPerHour: c.Governor.TokenBudgetPerHour,
	}
}

// DispatcherOptions converts the dispatcher section.
func (c Config) DispatcherOptions() dispatcher.Config {
	return dispatcher.Config{
		MaxConcurrentAgents: c.Dispatcher.MaxConcurrentAgents,
		AgentTimeout:        c.Dispatcher.AgentTimeout,
	}
}

// Retention converts the memory retention settings.
func (c Config) Retention() memory.RetentionPolicy {
	return memory.RetentionPolicy{Events: c.Memory.EventRetention, Stats: c.Memory.StatRetention}
}
