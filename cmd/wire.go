package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/agentswarm"
	"github.com/hupe1980/agentswarm/agent"
	"github.com/hupe1980/agentswarm/config"
	"github.com/hupe1980/agentswarm/logging"
	"github.com/hupe1980/agentswarm/memory"
	"github.com/hupe1980/agentswarm/memory/journal"
	"github.com/hupe1980/agentswarm/memory/sqlite"
	"github.com/hupe1980/agentswarm/metrics"
	"github.com/hupe1980/agentswarm/model"
	"github.com/hupe1980/agentswarm/model/anthropic"
	"github.com/hupe1980/agentswarm/model/gemini"
	"github.com/hupe1980/agentswarm/model/openai"
	"github.com/hupe1980/agentswarm/provider"
	"github.com/hupe1980/agentswarm/retrieval"
	"github.com/hupe1980/agentswarm/router"
)

type app struct {
	cfg       config.Config
	logger    logging.Logger
	swarm     *agentswarm.Swarm
	retriever *retrieval.Store
	syncLog   func() error
}

// wireApp builds the swarm from configuration: logging, memory, the
// retrieval collection, the provider chain and the default agents.
func wireApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logger, syncLog, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("wire logger: %w", err)
	}
	m := metrics.Default()

	mem, err := openMemory(cfg.Memory, logger, m)
	if err != nil {
		return nil, fmt.Errorf("wire memory: %w", err)
	}

	retriever, err := retrieval.New(func(o *retrieval.Options) {
		o.PersistPath = cfg.Retrieval.PersistPath
		o.Compress = cfg.Retrieval.Compress
		o.Collection = cfg.Retrieval.Collection
		o.MinSimilarity = cfg.Retrieval.MinSimilarity
		o.Logger = logger
		if cfg.Retrieval.Embedding == "ollama" {
			o.Embedding = retrieval.OllamaEmbedding(cfg.Retrieval.OllamaModel, cfg.Retrieval.OllamaURL)
		} else {
			o.Embedding = retrieval.HashingEmbedding(cfg.Retrieval.Dimensions)
		}
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("wire retrieval: %w", err), mem.Close(ctx))
	}

	table := router.Table{Profiles: router.DefaultProfiles()}
	if cfg.Router.ProfilesFile != "" {
		if table, err = router.LoadTableFile(cfg.Router.ProfilesFile); err != nil {
			return nil, errors.Join(err, mem.Close(ctx))
		}
	}
	routerOpts := router.Options{Threshold: cfg.Router.Threshold, DefaultAgent: cfg.Router.DefaultAgent}
	table.Apply(&routerOpts)

	swarm, err := agentswarm.New(func(o *agentswarm.Options) {
		o.Limits = cfg.Limits()
		o.DispatcherConfig = cfg.DispatcherOptions()
		o.RouterThreshold = routerOpts.Threshold
		o.DefaultAgent = routerOpts.DefaultAgent
		o.Memory = mem
		o.Logger = logger
		o.Metrics = m
	})
	if err != nil {
		return nil, errors.Join(err, mem.Close(ctx))
	}

	providers, err := buildProviders(ctx, cfg.Providers, logger)
	if err != nil {
		return nil, errors.Join(err, swarm.Close(ctx))
	}
	chain := provider.NewChain(providers, func(o *provider.Options) {
		o.Guard = swarm.Governor()
		o.Logger = logger
		o.Metrics = m
	})

	profiles := make(map[string]router.Profile, len(routerOpts.Profiles))
	for _, p := range routerOpts.Profiles {
		profiles[p.AgentID] = p
	}
	roster := agent.DefaultRoster(chain, func(o *agent.RosterOptions) {
		o.Retriever = retriever
		o.Memory = mem
		o.Logger = logger
	})
	for _, a := range roster {
		if err := swarm.RegisterAgent(a, profiles[a.Name()]); err != nil {
			return nil, errors.Join(err, swarm.Close(ctx))
		}
	}

	return &app{cfg: cfg, logger: logger, swarm: swarm, retriever: retriever, syncLog: syncLog}, nil
}

func (a *app) close(ctx context.Context) error {
	err := a.swarm.Close(ctx)
	if a.syncLog != nil {
		// zap reports EINVAL when syncing a terminal; nothing to act on
		_ = a.syncLog()
	}
	return err
}

func newLogger(cfg config.LoggingConfig) (logging.Logger, func() error, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Backend == "zap" {
		z, err := logging.NewZapProduction(level)
		if err != nil {
			return nil, nil, err
		}
		return z, z.Sync, nil
	}
	l := logging.NewLogger(&logging.LoggerConfig{
		Level:     level,
		Format:    cfg.Format,
		Output:    os.Stderr,
		Component: "swarm",
	})
	return l, nil, nil
}

func openMemory(cfg config.MemoryConfig, logger logging.Logger, m *metrics.Metrics) (*memory.Store, error) {
	opts := func(o *memory.Options) {
		o.FlushThreshold = cfg.FlushThreshold
		o.FlushInterval = cfg.FlushInterval
		o.MaxFlushFailures = cfg.MaxFlushFailures
		o.Logger = logger
		o.Metrics = m
	}
	if cfg.Path == "" {
		return memory.New(opts)
	}

	backend, err := sqlite.Open(cfg.Path)
	if err != nil {
		return nil, err
	}
	journalPath := cfg.JournalPath
	if journalPath == "" {
		journalPath = cfg.Path + ".journal"
	}
	jr, err := journal.Open(journalPath)
	if err != nil {
		return nil, errors.Join(err, backend.Close())
	}
	store, err := memory.New(opts, func(o *memory.Options) {
		o.Backend = backend
		o.Journal = jr
	})
	if err != nil {
		return nil, errors.Join(err, jr.Close(), backend.Close())
	}
	return store, nil
}

// buildProviders creates the fallback chain members in configured order.
// Providers that need a key nobody supplied are left out with a warning.
func buildProviders(ctx context.Context, cfgs []config.ProviderConfig, logger logging.Logger) ([]provider.Provider, error) {
	var out []provider.Provider
	for _, pc := range cfgs {
		key := pc.APIKey()
		if pc.Kind != "ollama" && key == "" {
			logger.Warn("Provider skipped, no API key", "provider", pc.ID, "env", pc.APIKeyEnv)
			continue
		}

		var mdl model.Model
		switch pc.Kind {
		case "groq":
			mdl = openai.NewModel(func(o *openai.Options) {
				o.Model = pc.Model
				o.Provider = "groq"
				o.BaseURL = openai.GroqBaseURL
				o.APIKey = key
				if pc.BaseURL != "" {
					o.BaseURL = pc.BaseURL
				}
			})
		case "openai":
			mdl = openai.NewModel(func(o *openai.Options) {
				o.Model = pc.Model
				o.APIKey = key
				o.BaseURL = pc.BaseURL
			})
		case "ollama":
			mdl = openai.NewOllama(pc.Model, pc.BaseURL)
		case "anthropic":
			mdl = anthropic.NewModel(func(o *anthropic.Options) {
				o.Model = anthropicsdk.Model(pc.Model)
				o.APIKey = key
				o.BaseURL = pc.BaseURL
			})
		case "gemini":
			g, err := gemini.NewModel(ctx, func(o *gemini.Options) {
				o.Model = pc.Model
				o.APIKey = key
				o.BaseURL = pc.BaseURL
			})
			if err != nil {
				return nil, fmt.Errorf("provider %s: %w", pc.ID, err)
			}
			mdl = g
		default:
			return nil, fmt.Errorf("provider %s: unsupported kind %q", pc.ID, pc.Kind)
		}
		out = append(out, provider.Provider{ID: pc.ID, Model: mdl})
	}
	return out, nil
}
