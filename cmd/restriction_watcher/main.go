package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dgnsrekt/restriction_watcher/internal/alert"
	"github.com/dgnsrekt/restriction_watcher/internal/api"
	"github.com/dgnsrekt/restriction_watcher/internal/browser"
	"github.com/dgnsrekt/restriction_watcher/internal/cdp"
	"github.com/dgnsrekt/restriction_watcher/internal/config"
	"github.com/dgnsrekt/restriction_watcher/internal/netutil"
	"github.com/dgnsrekt/restriction_watcher/internal/notify"
	"github.com/dgnsrekt/restriction_watcher/internal/storage"
	"github.com/dgnsrekt/restriction_watcher/internal/stream"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}

	slog.Info("watcher config loaded",
		"cdp_url", cfg.GetCDPURL(),
		"tab_url_filter", cfg.TabURLFilter,
		"tab_scan_ms", cfg.TabScanMS,
		"eval_timeout_ms", cfg.EvalTimeoutMS,
		"bind_addr", cfg.BindAddr,
		"page_dialog", cfg.PageDialog,
		"ntfy", cfg.NTFYEndpoint != "",
		"journal_dir", cfg.JournalDir,
		"launch_browser", cfg.LaunchBrowser,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var launcher *browser.Launcher
	if cfg.LaunchBrowser {
		var startURLs []string
		if winCfg, err := config.LoadWindows(cfg.WindowsConfigPath); err != nil {
			slog.Warn("startup windows not loaded, using default", "path", cfg.WindowsConfigPath, "error", err)
		} else {
			startURLs = winCfg.URLs()
		}
		launcher = browser.NewLauncher(browser.Config{
			CDPAddress:          cfg.CDPAddress,
			CDPPort:             cfg.CDPPort,
			StartURLs:           startURLs,
			ProfileDir:          cfg.ProfileDir,
			LogFileDir:          cfg.BrowserLogDir,
			CrashDumpDir:        cfg.BrowserCrashDumps,
			EnableCrashReporter: cfg.BrowserCrashReport,
			WindowSize:          cfg.BrowserWindowSize,
		})
		if err := launcher.Launch(ctx); err != nil {
			slog.Error("failed to launch browser", "error", err)
			os.Exit(1)
		}
		defer launcher.Stop()
	}

	history := alert.NewHistory(cfg.HistorySize)
	broker := stream.NewBroker()
	sinks := []alert.Sink{history, stream.NewAlertSink(broker)}
	if cfg.JournalDir != "" {
		restoreHistory(ctx, history, cfg.JournalDir)
		journal := storage.NewJournal(cfg.JournalDir, 64, 25)
		defer func() { _ = journal.Close() }()
		sinks = append(sinks, journal)
	}
	if cfg.NTFYEndpoint != "" {
		sinks = append(sinks, notify.NewNTFY(&http.Client{Timeout: 10 * time.Second}, cfg.NTFYEndpoint))
	}
	dispatcher := alert.NewDispatcher(0, sinks...)
	slog.Info("alert sinks ready", "sinks", dispatcher.SinkNames(), "page_dialog", cfg.PageDialog)

	cdpClient := cdp.NewClient(cfg, cdp.NewTabRegistry(), dispatcher, broker)
	if err := cdpClient.Connect(ctx); err != nil {
		slog.Error("failed to connect to browser", "cdp_url", cfg.GetCDPURL(), "error", err)
		os.Exit(1)
	}
	defer func() { _ = cdpClient.Close() }()
	go cdpClient.Run(ctx)

	ln, err := netutil.Listen(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}
	bindAddr := ln.Addr().String()

	srv := &http.Server{Handler: api.NewServer(cdpClient, history, broker)}
	go func() {
		slog.Info("watcher listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("watcher server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("watcher shutdown failed", "error", err)
	}
}

// restoreHistory seeds the in-memory history with today's journaled alerts.
func restoreHistory(ctx context.Context, history *alert.History, dir string) {
	alerts, err := storage.ReadDay(dir, time.Now().UTC().Format("2006-01-02"))
	if err != nil {
		slog.Warn("alert journal partially restored", "dir", dir, "error", err)
	}
	for _, a := range alerts {
		_ = history.Deliver(ctx, a)
	}
	if len(alerts) > 0 {
		slog.Info("alert history restored", "count", len(alerts))
	}
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
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
