package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tetsuhou/iv-rhash-bot/admin"
	"github.com/tetsuhou/iv-rhash-bot/bot"
	"github.com/tetsuhou/iv-rhash-bot/browse"
	"github.com/tetsuhou/iv-rhash-bot/config"
	"github.com/tetsuhou/iv-rhash-bot/link"
	"github.com/tetsuhou/iv-rhash-bot/registry"
	"github.com/tetsuhou/iv-rhash-bot/resolver"
	"github.com/tetsuhou/iv-rhash-bot/scheduler"
	"github.com/tetsuhou/iv-rhash-bot/scraper"
	"github.com/tetsuhou/iv-rhash-bot/session"
	"github.com/tetsuhou/iv-rhash-bot/storage"
)

const backupJob = "backup"

func main() {
	// Set up structured logging
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("starting IV rhash bot")

	// Load configuration
	configPath := config.GetConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}
	level.Set(parseLogLevel(cfg.LogLevel))
	slog.Info("config loaded", "path", configPath, "store", cfg.Store)

	// Open the store
	store, err := storage.Open(storage.Options{
		Backend:     cfg.Store,
		DBPath:      cfg.DBPath,
		DataDir:     cfg.DataDir,
		RedisURL:    cfg.RedisURL,
		PostgresDSN: cfg.PostgresDSN,
	})
	if err != nil {
		slog.Error("failed to open store", "store", cfg.Store, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("failed to close store", "error", err)
		}
	}()
	slog.Info("store opened", "store", cfg.Store)

	// Initialize Telegram bot
	tgBot, err := bot.NewTelegramBot(cfg.TelegramToken,
		bot.WithProxy(cfg.Proxy),
		bot.WithPollTimeout(cfg.PollTimeoutSecs),
		bot.WithTelegramLogger(logger),
	)
	if err != nil {
		slog.Error("failed to initialize Telegram bot", "error", err)
		os.Exit(1)
	}
	slog.Info("telegram bot initialized", "username", tgBot.Username(), "proxy", cfg.Proxy != "")

	// Initialize components
	candidates := registry.NewCandidates(store)
	preferences := registry.NewPreferences(store)
	codec := session.NewCodec(cfg.ReaderViewHost)
	engine := resolver.NewEngine(candidates, preferences, resolver.WithLogger(logger))
	machine := browse.NewMachine(codec, candidates, preferences, logger)

	handlerOpts := []bot.Option{bot.WithLogger(logger)}
	if cfg.FetchTitles {
		handlerOpts = append(handlerOpts, bot.WithTitleFetcher(
			scraper.NewTitleFetcher(scraper.WithTimeout(cfg.FetchTimeout())),
		))
	}
	handler := bot.NewHandler(tgBot, link.NewClassifier(cfg.ReaderViewHost), codec, engine, machine, preferences, handlerOpts...)

	// Set up context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Schedule daily backup
	sched, err := scheduler.NewScheduler(cfg.Timezone)
	if err != nil {
		slog.Error("failed to initialize scheduler", "timezone", cfg.Timezone, "error", err)
		os.Exit(1)
	}
	if cfg.BackupTime != "" {
		backupPath := cfg.BackupPath
		if err := sched.ScheduleDaily(backupJob, cfg.BackupTime, func() {
			if err := runBackup(context.Background(), store, backupPath); err != nil {
				slog.Error("backup failed", "path", backupPath, "error", err)
			}
		}); err != nil {
			slog.Error("failed to schedule backup", "error", err)
			os.Exit(1)
		}
		slog.Info("backup scheduled", "time", cfg.BackupTime, "timezone", cfg.Timezone, "path", backupPath)
	}
	sched.Start()
	defer sched.Stop()

	// Start the admin API
	if cfg.AdminAddr != "" {
		srv := &http.Server{
			Addr:              cfg.AdminAddr,
			Handler:           admin.NewServer(store, candidates).Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			slog.Info("admin API listening", "addr", cfg.AdminAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("admin API failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("failed to shut down admin API", "error", err)
			}
		}()
	}

	// Run the bot
	slog.Info("starting bot polling")
	if err := tgBot.Run(ctx, handler); err != nil {
		slog.Error("bot stopped with error", "error", err)
	}
	slog.Info("bot stopped")
}

// runBackup dumps both collections into dir as the yaml backend's two files.
func runBackup(ctx context.Context, store storage.Store, dir string) error {
	snap, err := store.Snapshot(ctx)
	if err != nil {
		return err
	}
	if err := snap.WriteDir(dir); err != nil {
		return err
	}
	slog.Info("backup written", "path", dir, "hosts", len(snap.Candidates), "preferences", len(snap.Preferences))
	return nil
}

func parseLogLevel(s string) slog.Level {
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
