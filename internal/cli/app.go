package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/soyeahso/shopagent/internal/agent"
	"github.com/soyeahso/shopagent/internal/config"
	"github.com/soyeahso/shopagent/internal/hooks"
	"github.com/soyeahso/shopagent/internal/kv"
	"github.com/soyeahso/shopagent/internal/llm"
	"github.com/soyeahso/shopagent/internal/logging"
	"github.com/soyeahso/shopagent/internal/memory"
	"github.com/soyeahso/shopagent/internal/plugin"
	"github.com/soyeahso/shopagent/internal/rag"
	"github.com/soyeahso/shopagent/internal/store"
	"github.com/soyeahso/shopagent/internal/tools"
	"github.com/soyeahso/shopagent/internal/tools/builtin"
	"github.com/spf13/cobra"
)

// sweepInterval is how often the sqlite store purges expired keys.
const sweepInterval = time.Minute

// app is the fully wired agent stack shared by the commands.
type app struct {
	cfg     config.Config
	log     *logging.Logger
	store   kv.Store
	hooks   *hooks.Manager
	client  llm.Client
	memory  *memory.Manager
	rag     *rag.Engine
	embeds  *rag.EmbeddingCache
	tools   *tools.Registry
	plugins *plugin.Registry
	gate    *agent.Gate
	runner  *agent.Runner

	closers []io.Closer
}

// loadConfig reads the config file, applies overrides, fills path
// defaults and validates the result.
func loadConfig(overrides ...func(*config.Config)) (config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, err
	}
	for _, o := range overrides {
		o(&cfg)
	}
	paths.Resolve(&cfg)

	if issues := config.Validate(&cfg); len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		return cfg, fmt.Errorf("config validation failed with %d issue(s)", len(issues))
	}
	return cfg, nil
}

// openApp builds the agent stack. Logs always go to stderr; logging.file
// is only written by long-running commands (logToFile).
func openApp(ctx context.Context, logToFile bool, overrides ...func(*config.Config)) (*app, error) {
	cfg, err := loadConfig(overrides...)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log}

	logOpts := logging.Options{Level: cliLevel(cfg.Logging.Level), Style: cfg.Logging.ConsoleStyle}
	if logToFile {
		logOpts.File = cfg.Logging.File
	}
	l, closer, err := logging.Open(logOpts, os.Stderr)
	if err != nil {
		return nil, err
	}
	a.log = l
	a.closers = append(a.closers, closer)

	if err := paths.EnsureDirs(); err != nil {
		a.Close()
		return nil, fmt.Errorf("creating data dirs: %w", err)
	}
	if err := os.MkdirAll(cfg.Tools.SandboxDir, 0o700); err != nil {
		a.Close()
		return nil, fmt.Errorf("creating sandbox: %w", err)
	}

	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.hooks = hooks.NewManager(a.log)
	if n := hooks.Configure(a.hooks, cfg.Hooks); n > 0 {
		a.log.Info().Int("hooks", n).Msg("command hooks configured")
	}

	registry := llm.NewRegistryFromConfig(cfg.LLM, a.log)
	a.client = llm.NewFailoverClient(registry, a.log)

	a.memory = memory.New(a.store, a.client, a.hooks, memory.OptionsFromConfig(cfg.Memory), a.log)

	if err := a.openRAG(); err != nil {
		a.Close()
		return nil, err
	}

	a.tools = tools.NewRegistry(a.log)
	a.plugins = plugin.NewRegistry(a.hooks, a.tools, a.log)
	builtins := &builtin.Plugin{Sandbox: cfg.Tools.SandboxDir}
	if a.rag != nil {
		builtins.Searcher = a.rag
	}
	if err := a.plugins.Register(builtins); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.plugins.InitAll(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("initializing plugins: %w", err)
	}

	a.gate = agent.NewGate(a.store, a.tools, cfg.Tools.ConfirmationEnabled(), cfg.Tools.PendingTTL(), a.log)

	runnerOpts, err := agent.OptionsFromConfig(&cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	deps := agent.Deps{
		Client: a.client,
		Store:  a.store,
		Memory: a.memory,
		Tools:  a.tools,
		Gate:   a.gate,
		Hooks:  a.hooks,
	}
	if a.rag != nil {
		deps.Retriever = a.rag
	}
	a.runner = agent.NewRunner(runnerOpts, deps, a.log)
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Store.Driver {
	case "memory":
		a.store = kv.NewMemory()
		a.log.Info().Msg("using in-memory store")
	case "sqlite":
		db, err := store.Open(a.cfg.Store.Path, a.log)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		s := store.NewKV(db)
		s.StartSweeper(ctx, sweepInterval)
		a.store = s
		a.log.Debug().Str("path", a.cfg.Store.Path).Msg("using sqlite store")
	default:
		return fmt.Errorf("unknown store driver %q", a.cfg.Store.Driver)
	}
	return nil
}

// openRAG builds the retrieval engine with a KV-backed embedding cache.
// A disabled or unconfigured knowledge base leaves a.rag nil.
func (a *app) openRAG() error {
	if !a.cfg.RAG.RAGEnabled() {
		a.log.Info().Msg("knowledge base disabled")
		return nil
	}
	embedder, err := llm.NewEmbedder(a.cfg.LLM.Embedding)
	if err != nil {
		a.log.Warn().Err(err).Msg("knowledge base unavailable")
		return nil
	}
	cache := rag.NewEmbeddingCache(a.store, embedder, a.cfg.LLM.Embedding.Model, a.cfg.RAG.EmbeddingCacheTTL(), a.log)
	engine, err := rag.New(a.store, cache, a.hooks, rag.OptionsFromConfig(a.cfg.RAG), a.log)
	if err != nil {
		return fmt.Errorf("knowledge base: %w", err)
	}
	a.rag = engine
	a.embeds = cache
	return nil
}

// requireRAG returns the engine or an error naming how to enable it.
func (a *app) requireRAG() (*rag.Engine, error) {
	if a.rag == nil {
		return nil, errors.New("knowledge base is disabled; set rag.enabled and llm.embedding.model")
	}
	return a.rag, nil
}

// hookDrainTimeout bounds how long Close waits for async hook handlers.
const hookDrainTimeout = 5 * time.Second

// Close waits for async hooks, then releases plugins, the store and the
// log file.
func (a *app) Close() {
	if a.hooks != nil {
		ctx, cancel := context.WithTimeout(context.Background(), hookDrainTimeout)
		if err := a.hooks.Wait(ctx); err != nil {
			a.log.Warn().Err(err).Msg("async hooks still running at shutdown")
		}
		cancel()
	}
	if a.plugins != nil {
		a.plugins.CloseAll()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("closing store")
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i].Close()
	}
}

// withApp opens the stack for one short-lived command.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
