// Command server runs the faden Chat Completions gateway.
//
// Configuration is read from a YAML file (-config, FADEN_CONFIG,
// ./config.yaml or /etc/faden/config.yaml) and FADEN_* environment
// variables. The most common ones:
//
//	FADEN_ENGINE      - Agent backend: anthropic, openai or claudecode (default: anthropic)
//	FADEN_API_KEY     - API key for the backend (SDK env vars are used otherwise)
//	FADEN_BASE_URL    - Backend API endpoint override
//	FADEN_MODEL       - Model used for every request
//	FADEN_PORT        - Listen port (default: 8080)
//	FADEN_DEBUG       - Debug categories (sessions,snapshots,replay,correlator,engine,all)
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/rhuss/faden/pkg/api"
	"github.com/rhuss/faden/pkg/config"
	"github.com/rhuss/faden/pkg/correlator"
	"github.com/rhuss/faden/pkg/debug"
	"github.com/rhuss/faden/pkg/engine"
	"github.com/rhuss/faden/pkg/engine/anthropic"
	"github.com/rhuss/faden/pkg/engine/claudecode"
	"github.com/rhuss/faden/pkg/engine/openai"
	"github.com/rhuss/faden/pkg/gateway"
	"github.com/rhuss/faden/pkg/session"
	"github.com/rhuss/faden/pkg/snapshot"
	"github.com/rhuss/faden/pkg/storage/memory"
	transporthttp "github.com/rhuss/faden/pkg/transport/http"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	debug.Init(cfg.Logging.Debug, cfg.Logging.Level, cfg.Logging.Format)

	eng, bridge, err := newEngine(cfg)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	corr := correlator.New(correlator.WithTimeout(cfg.Session.ToolCallTimeout))
	mgr := session.NewManager(eng, corr, session.WithIdleTimeout(cfg.Session.IdleTimeout))
	snaps := snapshot.New(snapshot.WithTTL(cfg.Session.SnapshotTTL))

	defaultModel := cfg.Session.DefaultModel
	if cfg.Engine.Model != "" {
		defaultModel = cfg.Engine.Model
	}
	gwOpts := []gateway.Option{}
	sweeps := []func(){func() { snaps.Sweep() }}
	if cfg.Replay.Enabled {
		replays := memory.New(cfg.Replay.MaxSize, cfg.Replay.TTL)
		gwOpts = append(gwOpts, gateway.WithReplayStore(replays))
		sweeps = append(sweeps, func() { replays.Sweep() })
	}
	gw := gateway.New(gateway.Config{
		DefaultModel:        defaultModel,
		DefaultSystemPrompt: cfg.Session.DefaultSystemPrompt,
		SequentialByDefault: cfg.Session.SequentialToolCalls,
		MaxTokens:           cfg.Engine.MaxTokens,
		Validation:          api.DefaultValidationConfig(),
	}, mgr, corr, snaps, gwOpts...)

	srvOpts := []transporthttp.ServerOption{
		transporthttp.WithAddr(cfg.Server.Addr()),
		transporthttp.WithMaxBodySize(cfg.Server.MaxBodySize),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		transporthttp.WithModels(defaultModel),
		transporthttp.WithMetricsPath(""),
	}
	if cfg.Observability.Metrics.Enabled {
		srvOpts = append(srvOpts, transporthttp.WithMetricsPath(cfg.Observability.Metrics.Path))
	}
	if bridge != nil {
		srvOpts = append(srvOpts, transporthttp.WithHandler("/mcp/", bridge))
	}
	srv := transporthttp.NewServer(gw, gw, srvOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("gateway configured",
		"engine", eng.Name(),
		"model", defaultModel,
		"tool_call_timeout", cfg.Session.ToolCallTimeout,
		"idle_timeout", cfg.Session.IdleTimeout,
		"replay", cfg.Replay.Enabled,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		mgr.Run(gctx, cfg.Session.SweepInterval, sweeps...)
		return nil
	})

	err = g.Wait()
	mgr.Shutdown()
	return err
}

// newEngine builds the configured backend. The Claude Code backend also
// returns the MCP bridge the CLI calls back into.
func newEngine(cfg *config.Config) (engine.Engine, *claudecode.Bridge, error) {
	ec := cfg.Engine
	switch ec.Backend {
	case config.BackendAnthropic:
		return anthropic.New(anthropic.Config{
			APIKey:     ec.APIKey,
			BaseURL:    ec.BaseURL,
			Model:      ec.Model,
			MaxTokens:  int64(ec.MaxTokens),
			MaxSteps:   ec.MaxSteps,
			MaxRetries: ec.MaxRetries,
			Timeout:    ec.Timeout,
		}), nil, nil
	case config.BackendOpenAI:
		return openai.New(openai.Config{
			APIKey:     ec.APIKey,
			BaseURL:    ec.BaseURL,
			Model:      ec.Model,
			MaxTokens:  int64(ec.MaxTokens),
			MaxSteps:   ec.MaxSteps,
			MaxRetries: ec.MaxRetries,
			Timeout:    ec.Timeout,
		}), nil, nil
	case config.BackendClaudeCode:
		cc := ec.ClaudeCode
		eng, err := claudecode.New(claudecode.Config{
			Command:     cc.Command,
			Args:        cc.Args,
			Env:         cc.Env,
			WorkDir:     cc.WorkDir,
			BridgeURL:   cc.BridgeURL,
			Model:       ec.Model,
			MaxTurns:    cc.MaxTurns,
			BatchSettle: cc.BatchSettle,
		})
		if err != nil {
			return nil, nil, err
		}
		return eng, eng.Bridge(), nil
	default:
		return nil, nil, fmt.Errorf("unknown engine backend %q", ec.Backend)
	}
}
