package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tg_member_gate_bot/internal/config"
	"tg_member_gate_bot/internal/dispatch"
	"tg_member_gate_bot/internal/feature/owner"
	"tg_member_gate_bot/internal/feature/user"
	"tg_member_gate_bot/internal/health"
	"tg_member_gate_bot/internal/logging"
	"tg_member_gate_bot/internal/lookup"
	"tg_member_gate_bot/internal/membership"
	"tg_member_gate_bot/internal/render"
	"tg_member_gate_bot/internal/store"
	"tg_member_gate_bot/internal/telegram"
)

const (
	mongoConnectTimeout     = 10 * time.Second
	mongoIndexTimeout       = 5 * time.Second
	mongoDisconnectTimeout  = 5 * time.Second
	telegramShutdownTimeout = 10 * time.Second
	httpShutdownTimeout     = 5 * time.Second
)

var processStart = time.Now()

func main() {
	configOnly := flag.Bool("config-only", false, "load and print configuration then exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Error("configuration error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		logging.Error("logger setup error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "logger setup error: %v\n", err)
		os.Exit(1)
	}

	if *configOnly {
		logging.Info("configuration check", logging.Fields{"event": "config_only"})
		fmt.Println("configuration check: ok")
		fmt.Println(config.FormatRedacted(cfg))
		return
	}

	logger.WithFields(logging.Fields{
		"event":            "startup",
		"mongo_db":         cfg.MongoDB,
		"required_channel": cfg.RequiredChannel,
		"required_group":   cfg.RequiredGroup,
		"webhook_mode":     cfg.WebhookMode(),
	}).Info("configuration loaded")

	connectCtx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	mongoManager, err := store.NewManager(connectCtx, cfg)
	cancel()
	if err != nil {
		logger.WithError(err).Error("mongo connection error")
		fmt.Fprintf(os.Stderr, "mongo connection error: %v\n", err)
		os.Exit(1)
	}

	logger.WithField("event", "mongo_connect").Info("connected to mongo")

	indexCtx, cancelIndexes := context.WithTimeout(context.Background(), mongoIndexTimeout)
	if err := mongoManager.EnsureUserIndexes(indexCtx); err != nil {
		cancelIndexes()
		logger.WithError(err).Error("mongo index setup error")
		fmt.Fprintf(os.Stderr, "mongo index setup error: %v\n", err)
		os.Exit(1)
	}
	cancelIndexes()

	logger.WithField("event", "mongo_indexes").Info("ensured base mongo indexes")

	userRegistrar := user.NewRegistrar(mongoManager.Users(), logger)
	statsProvider := store.NewStatsProvider(mongoManager.Users())
	ownerGuard := owner.NewGuard(cfg.BotOwnerID, logger)
	lookupClient := lookup.NewClient(cfg.LookupBaseURL, cfg.LookupTimeout, cfg.LookupRate, logger)

	tgClient, err := telegram.NewClient(cfg, logger)
	if err != nil {
		logger.WithError(err).Error("telegram client setup error")
		fmt.Fprintf(os.Stderr, "telegram client setup error: %v\n", err)
		os.Exit(1)
	}

	verifier := membership.NewVerifier(tgClient, cfg.RequiredChannel, cfg.RequiredGroup, cfg.MembershipTimeout, logger)

	dispatcher, err := dispatch.New(dispatch.Deps{
		Users:    userRegistrar,
		Stats:    statsProvider,
		Verifier: verifier,
		Lookup:   lookupClient,
		Owner:    ownerGuard,
		Links:    render.Links{Channel: cfg.ChannelLink, Group: cfg.GroupLink},
		Logger:   logger,
	})
	if err != nil {
		logger.WithError(err).Error("dispatcher setup error")
		fmt.Fprintf(os.Stderr, "dispatcher setup error: %v\n", err)
		os.Exit(1)
	}
	tgClient.SetHandler(dispatcher)

	logger.WithField("event", "telegram_ready").Info("telegram client initialized")

	var httpOpts []health.Option
	if tgClient.WebhookMode() {
		httpOpts = append(httpOpts, health.WithHandler(telegram.WebhookPath, tgClient.WebhookHandler()))
	}
	httpServer := health.NewServer(cfg.HTTPPort, mongoManager, logger, httpOpts...)

	httpDone := make(chan error, 1)
	go func() {
		httpDone <- httpServer.ListenAndServe()
	}()

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telegramCtx, cancelTelegram := context.WithCancel(context.Background())
	tgDone := make(chan struct{})

	go func() {
		defer close(tgDone)
		if err := tgClient.Start(telegramCtx); err != nil {
			logger.WithError(err).Error("telegram start error")
		}
	}()

	select {
	case <-signalCtx.Done():
		logger.WithField("event", "shutdown_signal").Info("received termination signal, stopping telegram updates")
	case <-tgDone:
		logger.WithField("event", "telegram_stopped_early").Warn("telegram client stopped before shutdown signal")
	case err := <-httpDone:
		logger.WithField("event", "http_stopped_early").WithError(err).Warn("http server stopped before shutdown signal")
	}

	cancelTelegram()

	waitCtx, cancelWait := context.WithTimeout(context.Background(), telegramShutdownTimeout)
	select {
	case <-tgDone:
	case <-waitCtx.Done():
		logger.WithField("event", "telegram_shutdown_timeout").Warn("timed out waiting for telegram client to stop")
	}
	cancelWait()

	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), httpShutdownTimeout)
	if err := httpServer.Shutdown(httpCtx); err != nil {
		logger.WithError(err).Error("http server shutdown error")
	}
	cancelHTTP()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
	if err := mongoManager.Close(shutdownCtx); err != nil {
		logger.WithError(err).Error("mongo disconnect error")
	} else {
		logger.WithField("event", "mongo_disconnect").Info("mongo client disconnected")
	}
	cancelShutdown()

	logger.WithFields(logging.Fields{
		"event":  "shutdown_complete",
		"uptime": time.Since(processStart).Round(time.Second).String(),
	}).Info("shutdown complete")
}
