package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/w457602/atm_agent/internal/api"
	"github.com/w457602/atm_agent/internal/browser"
	"github.com/w457602/atm_agent/internal/cdp"
	"github.com/w457602/atm_agent/internal/companion"
	"github.com/w457602/atm_agent/internal/config"
	"github.com/w457602/atm_agent/internal/coordinator"
	"github.com/w457602/atm_agent/internal/logstore"
	"github.com/w457602/atm_agent/internal/netutil"
	"github.com/w457602/atm_agent/internal/panel"
	"github.com/w457602/atm_agent/internal/settings"
	"github.com/w457602/atm_agent/internal/tabs"
)

// panelSettings bridges the settings store to the panel client's config shape.
type panelSettings struct {
	store *settings.Store
}

func (p panelSettings) PanelConfig() panel.PanelConfig {
	pc := p.store.PanelConfig()
	return panel.PanelConfig{BaseURL: pc.BaseURL, AuthToken: pc.AuthToken}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load agent config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	slog.Info("atm_agent config loaded",
		"bind_addr", cfg.BindAddr,
		"cdp_url", cfg.CDPURL(),
		"data_dir", cfg.DataDir,
		"port_auto_fallback", cfg.PortAutoFallback,
		"port_candidates", cfg.PortCandidates,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
		"launch_browser", cfg.LaunchBrowser,
	)

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}

	var launcher *browser.Launcher
	if cfg.LaunchBrowser {
		launcher = browser.NewLauncher(cfg)
		launchCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := launcher.Launch(launchCtx); err != nil {
			cancel()
			slog.Error("failed to launch browser", "error", err)
			os.Exit(1)
		}
		cancel()
		defer launcher.Stop()
	}

	broker := logstore.NewBroker()
	logs, err := logstore.NewStore(cfg.DataDir, broker)
	if err != nil {
		slog.Error("failed to open log store", "dir", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	set, err := settings.NewStore(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open settings store", "dir", cfg.DataDir, "error", err)
		os.Exit(1)
	}
	if cfg.BinsFile != "" {
		bins, err := settings.LoadBinsFile(cfg.BinsFile)
		if err != nil {
			slog.Error("failed to load bins file", "path", cfg.BinsFile, "error", err)
			os.Exit(1)
		}
		if err := set.SeedBins(bins); err != nil {
			slog.Error("failed to seed bins", "error", err)
			os.Exit(1)
		}
		slog.Info("seeded bins from file", "path", cfg.BinsFile, "count", len(bins))
	}

	transport := cdp.NewTransport(cfg.CDPURL())
	hub := coordinator.NewHub(transport, cfg.PageScripts)
	client := cdp.NewClient(cfg, hub)

	registry := tabs.NewRegistry()
	panelClient := panel.NewClient(panelSettings{store: set}, nil)
	companionClient := companion.NewClient(cfg.CompanionEndpoint, nil)

	coord := coordinator.New(registry, logs, set, hub, client, panelClient, companionClient, transport)
	hub.Bind(coord, client)

	connectCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := transport.Connect(connectCtx); err != nil {
		slog.Error("failed to connect CDP transport", "cdp_url", cfg.CDPURL(), "error", err)
		os.Exit(1)
	}
	defer transport.Close()

	if err := client.Connect(connectCtx); err != nil {
		slog.Error("failed to attach browser tabs", "cdp_url", cfg.CDPURL(), "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := client.Close(); err != nil {
			slog.Debug("CDP client close failed", "error", err)
		}
	}()

	hub.Start()
	defer hub.Stop()

	h := api.NewServer(coord, client, logs, broker, set)
	srv := &http.Server{Addr: bindAddr, Handler: h}

	go func() {
		slog.Info("atm_agent listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("atm_agent server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("atm_agent shutdown failed", "error", err)
	}
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll("logs", 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
