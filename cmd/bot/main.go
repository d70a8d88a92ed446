// Command bot runs the iron condor trading bot: scheduler, web dashboard,
// and Telegram listener in one process.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ashwinkp/condorbot/internal/broker"
	"github.com/ashwinkp/condorbot/internal/config"
	"github.com/ashwinkp/condorbot/internal/dashboard"
	"github.com/ashwinkp/condorbot/internal/models"
	"github.com/ashwinkp/condorbot/internal/notify"
	"github.com/ashwinkp/condorbot/internal/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// .env is optional; real deployments inject environment variables
	_ = godotenv.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("Loading configuration failed")
	}
	if level, err := logrus.ParseLevel(cfg.Environment.LogLevel); err == nil {
		log.SetLevel(level)
		logrus.SetLevel(level)
	}

	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		log.WithError(err).Fatal("Opening trade storage failed")
	}

	breeze := broker.NewBreezeClient(
		cfg.Broker.APIKey, cfg.Broker.APISecret, cfg.Broker.SessionToken, cfg.Broker.BaseURL)
	brk := broker.NewCircuitBreakerBroker(breeze)

	indexNames := make([]string, 0, len(cfg.Indices))
	for name := range cfg.Indices {
		indexNames = append(indexNames, name)
	}
	state := models.NewBotState(indexNames)

	bot := NewBot(cfg, brk, store, state, log)

	notifier, err := notify.NewNotifier(cfg.Telegram.Enabled, cfg.Telegram.BotToken, cfg.Telegram.ChatID,
		notify.Handlers{
			OnSessionToken: bot.UpdateSessionToken,
			OnStop:         func() { _ = bot.Stop(false) },
			Status:         bot.StatusText,
		})
	if err != nil {
		log.WithError(err).Warn("Telegram unavailable, continuing without alerts")
		notifier, _ = notify.NewNotifier(false, "", 0, notify.Handlers{})
	}
	if !notifier.Enabled() {
		log.Info("Telegram alerts disabled")
	}
	bot.SetNotifier(notifier)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A failed session leaves the dashboard up so the operator can push a
	// fresh token; trading stays off until then.
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := brk.Connect(connectCtx); err != nil {
		cancel()
		log.WithError(err).Error("Broker session failed, running in dashboard-only mode")
		state.SetStatus("broker session failed: update the session token")
		notifier.SendError("Broker session failed. Send /session TOKEN or use the dashboard to reconnect.")
	} else {
		cancel()
		if err := bot.reconcile(ctx); err != nil {
			log.WithError(err).Warn("Startup reconciliation failed")
		}
		state.SetRunning(true)
		state.SetStatus("ready")
		notifier.Send("🚀 *Condor bot online*\nScheduler armed for today's session.")
	}

	server := dashboard.NewServer(dashboard.Config{
		Port:      cfg.Dashboard.Port,
		AuthToken: cfg.Dashboard.AuthToken,
	}, bot, store, log)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return bot.Run(ctx)
	})

	g.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return notifier.Listen(ctx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Fatal("Bot terminated")
	}
	log.Info("Shutdown complete")
}
