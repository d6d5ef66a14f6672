package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"khatam_bot/internal/app"
	"khatam_bot/internal/domain/khatam"
	"khatam_bot/internal/infra/config"
	idb "khatam_bot/internal/infra/database"
	"khatam_bot/internal/infra/hijri"
	"khatam_bot/internal/infra/logger"
	"khatam_bot/internal/infra/memstore"
	"khatam_bot/internal/infra/metrics"
	"khatam_bot/internal/infra/notifier"
	"khatam_bot/internal/infra/scheduler"
	"khatam_bot/internal/infra/telegram"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/telebot.v3"
)

// stores bundles whichever backend STORE_DRIVER selected.
type stores struct {
	units    khatam.UnitRepository
	meta     khatam.MetadataRepository
	history  khatam.HistoryRepository
	notifier khatam.ChangeNotifier
	// listen runs the change feed until ctx is done; nil when events are delivered inline.
	listen func(ctx context.Context) error
	close  func()
}

func main() {
	fmt.Println("Khatam Bot starting...")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Could not load application configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg)
	mainLogger := logger.Component("main")
	mainLogger.WithFields(logrus.Fields{
		"log_level":    cfg.LogLevel,
		"environment":  cfg.Environment,
		"admin_id":     cfg.AdminTelegramID,
		"store_driver": cfg.StoreDriver,
	}).Info("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, mainLogger)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not open stores")
	}
	defer st.close()

	oracle := hijri.NewOracle(cfg.PeriodAPIURL, cfg.PeriodAPITimeout, cfg.Location, logger.Component("period_oracle"))

	rollover := app.NewRolloverService(st.units, st.meta, st.history, oracle, logger.Component("rollover"))
	historyService := app.NewHistoryService(st.history)
	adminService := app.NewAdminService(st.units, st.meta, oracle, rollover, cfg.AdminTelegramID, logger.Component("admin"))
	mainLogger.Info("Application services initialized")

	reconcileScheduler := scheduler.NewReconcileScheduler(rollover, logrus.NewEntry(logger.Log), cfg.CronSpecReconcile, cfg.Location)
	if err := reconcileScheduler.Start(); err != nil {
		mainLogger.WithError(err).Fatal("Could not start reconcile scheduler")
	}

	pref := telebot.Settings{
		Token:  cfg.TelegramToken,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c telebot.Context) {
			errLog := logger.Component("telebot").WithError(err)
			if c != nil && c.Sender() != nil && c.Chat() != nil {
				errLog = errLog.WithFields(logrus.Fields{
					"message":   c.Text(),
					"sender_id": c.Sender().ID,
					"chat_id":   c.Chat().ID,
				})
			}
			errLog.Error("Telegram handler error")
		},
	}
	bot, err := telebot.NewBot(pref)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not create Telegram bot")
	}

	telegram.RegisterBotCommands(ctx, bot, rollover, historyService, cfg.ClaimRatePerMinute, logger.Component("telegram"))
	telegram.RegisterAdminHandlers(ctx, bot, adminService, logger.Component("telegram_admin"))
	mainLogger.Info("Command handlers registered")

	if cfg.AnnounceChatID != 0 {
		announcer := telegram.NewAnnouncer(telegram.NewTelebotAdapter(bot), cfg.AnnounceChatID, logrus.NewEntry(logger.Log))
		rollover.OnOutcome(announcer.Announce)
		mainLogger.WithField("chat_id", cfg.AnnounceChatID).Info("Announcements enabled")
	}

	g, gctx := errgroup.WithContext(ctx)

	if st.listen != nil {
		g.Go(func() error { return st.listen(gctx) })
	}
	g.Go(func() error { return rollover.Start(gctx, st.notifier) })
	if cfg.MetricsAddr != "" {
		g.Go(func() error { return metrics.Serve(gctx, cfg.MetricsAddr, logger.Component("metrics")) })
	}
	g.Go(func() error {
		go bot.Start()
		<-gctx.Done()
		bot.Stop()
		return nil
	})

	mainLogger.Info("Application setup complete. Bot and scheduler are running")

	if err := g.Wait(); err != nil {
		mainLogger.WithError(err).Error("Service stopped with error")
	}

	mainLogger.Info("Shutting down application...")
	reconcileScheduler.Stop()
	mainLogger.Info("Application shut down gracefully")
}

func openStores(ctx context.Context, cfg *config.AppConfig, log *logrus.Entry) (*stores, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		log.Warn("Using in-memory store, state is lost on restart")
		mem := memstore.New()
		return &stores{units: mem, meta: mem, history: mem, notifier: mem, close: func() {}}, nil
	}

	db, err := idb.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}
	if err := idb.EnsureSchema(ctx, db, cfg.NotifyChannel); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not apply schema: %w", err)
	}
	log.Info("Database connection established and schema applied")

	pgNotifier, err := notifier.NewPGNotifier(cfg.DatabaseURL, cfg.NotifyChannel, logrus.NewEntry(log.Logger))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not start change listener: %w", err)
	}

	return &stores{
		units:    idb.NewPostgresUnitRepository(db),
		meta:     idb.NewPostgresMetadataRepository(db),
		history:  idb.NewPostgresHistoryRepository(db),
		notifier: pgNotifier,
		listen:   pgNotifier.Run,
		close:    func() { closeAll(pgNotifier, db, log) },
	}, nil
}

func closeAll(n *notifier.PGNotifier, db *sql.DB, log *logrus.Entry) {
	if err := n.Close(); err != nil {
		log.WithError(err).Warn("Failed to close change listener")
	}
	if err := db.Close(); err != nil {
		log.WithError(err).Warn("Failed to close database")
	}
}
