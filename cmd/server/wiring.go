package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"a11yscout-mcp-server/internal/agent"
	"a11yscout-mcp-server/internal/browser"
	"a11yscout-mcp-server/internal/config"
	"a11yscout-mcp-server/internal/facts"
	"a11yscout-mcp-server/internal/llm"
	"a11yscout-mcp-server/internal/probe"
	"a11yscout-mcp-server/internal/recorder"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

const remoteProbeTimeout = 2 * time.Minute

// app holds the wired components for one process.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	sessions *browser.SessionManager // nil in remote mode
	findings *facts.Engine
	probes   probe.Set
	archiver *agent.Archiver
	registry *prometheus.Registry
	agent    *agent.Agent
}

func loadConfig(opts *rootOptions) (config.Config, error) {
	cfg, _, err := config.LoadWithWorkspace(opts.configPath, config.WorkspaceOptions{
		Disable:     opts.noWorkspace,
		ExplicitDir: opts.workspaceDir,
	})
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newLogger writes to the configured log file when toFile is set, since
// stdout carries the MCP protocol in stdio mode.
func newLogger(cfg config.ServerConfig, toFile bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.LogLevel != "" {
		lvl, err := zap.ParseAtomicLevel(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		zc.Level = lvl
	}
	if toFile {
		if cfg.LogFile == "" {
			return zap.NewNop(), nil
		}
		if dir := filepath.Dir(cfg.LogFile); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create log directory: %w", err)
			}
		}
		zc.OutputPaths = []string{cfg.LogFile}
		zc.ErrorOutputPaths = []string{cfg.LogFile}
	}
	return zc.Build()
}

// newApp wires everything except the language model; withAgent adds it.
func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	findings, err := facts.NewEngine(cfg.Mangle)
	if err != nil {
		return nil, fmt.Errorf("initialize findings store: %w", err)
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		findings: findings,
		archiver: agent.NewArchiver(cfg.Reports.Dir),
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	switch cfg.Probes.Mode {
	case config.ProbeModeRemote:
		a.probes = probe.NewRemoteSet(cfg.Probes.RemoteBaseURL, &http.Client{Timeout: remoteProbeTimeout})
		logger.Info("probes delegated", zap.String("base_url", cfg.Probes.RemoteBaseURL))
	default:
		a.sessions = browser.NewSessionManager(cfg.Browser, cfg.Target.BasicAuth, logger.Named("browser"))
		if cfg.Browser.AutoStart {
			if err := a.sessions.Start(ctx); err != nil {
				return nil, fmt.Errorf("start browser: %w", err)
			}
		}
		a.probes = probe.NewLocalSet(lazyOpener(ctx, a.sessions), cfg.Axe, findings, logger.Named("probe"))
	}
	return a, nil
}

func (a *app) withAgent(ctx context.Context) error {
	client, err := llm.New(ctx, a.cfg.LLM)
	if err != nil {
		return fmt.Errorf("initialize llm client: %w", err)
	}

	var rec *recorder.Recorder
	if a.cfg.Agent.TraceDir != "" {
		rec, err = recorder.NewRecorder(a.cfg.Agent.TraceDir)
		if err != nil {
			return fmt.Errorf("initialize trace recorder: %w", err)
		}
	}

	a.agent = agent.New(agent.Options{
		LLM:        client,
		Probes:     a.probes,
		Target:     a.cfg.Target.URL,
		Concurrent: a.cfg.Agent.ConcurrentDispatch,
		Archiver:   a.archiver,
		Recorder:   rec,
		Metrics:    agent.NewMetrics(a.registry),
		Logger:     a.logger.Named("agent"),
	})
	return nil
}

func (a *app) close() {
	if a.sessions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.sessions.Shutdown(ctx); err != nil {
			a.logger.Warn("browser shutdown", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// lazyOpener starts the browser on first use. The browser is bound to
// baseCtx rather than to the request that triggered the launch.
func lazyOpener(baseCtx context.Context, m *browser.SessionManager) probe.Opener {
	return probe.OpenerFunc(func(ctx context.Context, url string) (probe.Session, error) {
		if !m.IsConnected() {
			if err := m.Start(baseCtx); err != nil {
				return nil, err
			}
		}
		p, err := m.Open(ctx, url)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}
