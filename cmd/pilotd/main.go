// Command pilotd is the Pilot server daemon. It wires the provider
// resilience layer, the executor registry, and the task run manager
// behind the REST/SSE API, entirely from the YAML config file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/GoCodeAlone/pilot/agent"
	"github.com/GoCodeAlone/pilot/cache"
	"github.com/GoCodeAlone/pilot/comms"
	"github.com/GoCodeAlone/pilot/config"
	"github.com/GoCodeAlone/pilot/executor"
	execmock "github.com/GoCodeAlone/pilot/executor/mock"
	"github.com/GoCodeAlone/pilot/internal/clock"
	"github.com/GoCodeAlone/pilot/internal/version"
	"github.com/GoCodeAlone/pilot/provider"
	provmock "github.com/GoCodeAlone/pilot/provider/mock"
	"github.com/GoCodeAlone/pilot/server"
	"github.com/GoCodeAlone/pilot/server/api"
	"github.com/GoCodeAlone/pilot/task"
)

var configPath = flag.String("config", "pilot.yaml", "path to config file")

func main() {
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config %s: %v", *configPath, err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))

	logger.Info("starting pilotd",
		"version", version.Version,
		"commit", version.Commit,
	)

	clk := clock.Real()

	store, cleanup, err := openStore(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open task store: %v", err)
	}
	defer cleanup()

	bus := comms.NewInMemoryBus()

	source, err := buildSource(cfg, clk, logger)
	if err != nil {
		log.Fatalf("Failed to build provider: %v", err)
	}

	newExec, sandbox, err := buildExecutorFactory(cfg, clk, logger)
	if err != nil {
		log.Fatalf("Failed to build executor: %v", err)
	}

	agentCfg := agent.Config{
		SystemPrompt: cfg.Agent.SystemPrompt,
		Model:        cfg.Provider.Model,
		MaxTokens:    cfg.Provider.MaxTokens,
		MaxCycles:    cfg.Agent.MaxCycles,
		TokenBudget:  cfg.Agent.TokenBudget,
		ExecRetries:  cfg.Agent.ExecRetries,
		Source:       source,
		Clock:        clk,
		Logger:       logger,
		Estimator:    provider.CharEstimator{},
	}

	mgr := api.NewManager(agentCfg, newExec, store, bus, logger)

	srv := server.New(*cfg, version.Version, logger)
	srv.SetRunnerManager(mgr)
	srv.SetTaskStore(store)
	srv.SetBus(bus)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	fmt.Printf("Pilot server running on http://localhost%s\n", cfg.Server.Addr)
	fmt.Printf("Version: %s (%s)\n", version.Version, version.Commit)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("signal received", "signal", sig)
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "error", err)
		}
	}

	fmt.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("server stop error", "error", err)
	}
	if sandbox != nil {
		if err := sandbox.Stop(shutdownCtx); err != nil {
			logger.Error("sandbox stop error", "error", err)
		}
	}
	fmt.Println("Shutdown complete")
}

// loadConfig reads the config file, falling back to defaults when the
// default path does not exist. An explicitly missing file is an error
// only if the user pointed at it.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && path == "pilot.yaml" {
			return config.DefaultConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openStore opens the SQLite task store under the data directory.
func openStore(cfg *config.Config, logger *slog.Logger) (task.Store, func(), error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create data dir: %w", err)
	}
	dbPath := filepath.Join(cfg.DataDir, "pilot.db")
	store, err := task.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("task store opened", "path", dbPath)
	cleanup := func() {
		if err := store.Close(); err != nil {
			logger.Error("store close error", "error", err)
		}
	}
	return store, cleanup, nil
}

// buildSource assembles the provider resilience client from config.
func buildSource(cfg *config.Config, clk clock.Clock, logger *slog.Logger) (agent.ActionSource, error) {
	var prov provider.Provider
	switch cfg.Provider.Name {
	case "anthropic":
		key := cfg.Provider.APIKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("provider anthropic requires api_key (or ANTHROPIC_API_KEY)")
		}
		prov = provider.NewAnthropicProvider(provider.AnthropicConfig{
			APIKey:    key,
			Model:     cfg.Provider.Model,
			BaseURL:   cfg.Provider.BaseURL,
			MaxTokens: cfg.Provider.MaxTokens,
		})
	case "mock":
		prov = provmock.New()
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider.Name)
	}

	clientCfg := provider.DefaultClientConfig()
	if cfg.Provider.MaxRetryAttempts > 0 {
		clientCfg.MaxAttempts = cfg.Provider.MaxRetryAttempts
	}
	if cfg.Provider.BaseBackoffMs > 0 {
		clientCfg.Backoff.Base = time.Duration(cfg.Provider.BaseBackoffMs) * time.Millisecond
	}
	if cfg.Provider.MaxBackoffMs > 0 {
		clientCfg.Backoff.Max = time.Duration(cfg.Provider.MaxBackoffMs) * time.Millisecond
	}
	if cfg.Provider.JitterFactor > 0 {
		clientCfg.Backoff.JitterFactor = cfg.Provider.JitterFactor
	}
	if cfg.Provider.TokenCeiling > 0 {
		clientCfg.TokenCeiling = cfg.Provider.TokenCeiling
	}
	if cfg.Provider.RateWindowSecs > 0 {
		clientCfg.RateWindow = time.Duration(cfg.Provider.RateWindowSecs) * time.Second
	}
	clientCfg.RateMax = cfg.Provider.RateMaxCalls
	if cfg.Provider.FallbackToMock {
		clientCfg.Fallback = provmock.New()
	}

	opts := []provider.ClientOption{
		provider.WithClock(clk),
		provider.WithLogger(logger),
	}
	if cfg.Provider.MaxCacheEntries > 0 && cfg.Provider.CacheTTLSeconds > 0 {
		ttl := time.Duration(cfg.Provider.CacheTTLSeconds) * time.Second
		respCache := cache.New[*provider.Response](cfg.Provider.MaxCacheEntries, ttl, clk)
		tokenCache := cache.New[int](cfg.Provider.MaxCacheEntries, ttl, clk)
		opts = append(opts,
			provider.WithResponseCache(respCache),
			provider.WithEstimator(&provider.CachedEstimator{
				Inner: provider.CharEstimator{},
				Cache: tokenCache,
			}),
		)
	}

	return provider.NewClient(prov, clientCfg, opts...), nil
}

// buildExecutorFactory sets up the executor registry and returns a
// factory producing one executor per run. When the sandbox is enabled
// it is started eagerly so the first run does not pay the image pull.
func buildExecutorFactory(cfg *config.Config, clk clock.Clock, logger *slog.Logger) (func() (executor.Executor, error), *executor.Sandbox, error) {
	reg := executor.NewRegistry()
	if err := reg.Register("browser", executor.NewBrowserFactory(clk)); err != nil {
		return nil, nil, err
	}
	if err := reg.Register("mock", func(_ map[string]string) (executor.Executor, error) {
		return execmock.New(), nil
	}); err != nil {
		return nil, nil, err
	}

	opts := make(map[string]string, len(cfg.Executor.Options)+1)
	for k, v := range cfg.Executor.Options {
		opts[k] = v
	}

	var sandbox *executor.Sandbox
	if cfg.Sandbox.Enabled {
		sandbox = executor.NewSandbox(executor.SandboxConfig{
			Image:       cfg.Sandbox.Image,
			Name:        cfg.Sandbox.Name,
			HostPort:    cfg.Sandbox.HostPort,
			Env:         cfg.Sandbox.Env,
			MemoryLimit: cfg.Sandbox.MemoryLimit,
			CPULimit:    cfg.Sandbox.CPULimit,
			NetworkMode: cfg.Sandbox.NetworkMode,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		controlURL, err := sandbox.Start(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("start sandbox: %w", err)
		}
		logger.Info("sandbox started", "control_url", controlURL)
		opts["control_url"] = controlURL
	}

	name := cfg.Executor.Name
	factory := func() (executor.Executor, error) {
		return reg.New(name, opts)
	}
	return factory, sandbox, nil
}
