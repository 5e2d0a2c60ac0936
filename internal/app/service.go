package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"dutybot/internal/bot"
	"dutybot/internal/clock"
	"dutybot/internal/config"
	"dutybot/internal/duty"
	"dutybot/internal/lock"
	"dutybot/internal/logging"
	"dutybot/internal/notify"
	"dutybot/internal/poller"
	"dutybot/internal/store"
	"dutybot/internal/toggle"
	"dutybot/internal/tracker"
	"dutybot/internal/zabbix"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
)

// Service composes runtime dependencies and process lifecycle.
// Params: config source and shared runtime components.
// Returns: runnable duty-bot service.
type Service struct {
	cfg        config.Config
	logger     *slog.Logger
	closeLog   func()
	kv         store.KV
	lock       *lock.Manager
	flag       *toggle.Realtime
	seen       *tracker.Tracker
	backend    *zabbix.Client
	dispatcher *notify.Dispatcher
	handler    *bot.Handler
	tg         *tgbot.Bot
	scheduler  *poller.Scheduler
	clock      clock.Clock
}

// NewService builds service instance from config source.
// Params: config source and clock implementation.
// Returns: initialized service or setup error.
func NewService(source config.ConfigSource, clk clock.Clock) (*Service, error) {
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	kv, err := buildStore(cfg)
	if err != nil {
		closeLog()
		return nil, err
	}

	lockTTL := time.Duration(cfg.Service.LockTTLSec) * time.Second
	lockMgr, err := lock.NewManager(kv, clk, lockTTL, logger)
	if err != nil {
		_ = kv.Close()
		closeLog()
		return nil, err
	}

	backend := zabbix.NewClient(cfg.Zabbix, clk, logger)
	flag := toggle.NewRealtime(kv)
	seen := tracker.New(time.Duration(cfg.Service.ReminderIntervalSec) * time.Second)
	coordinator := duty.NewCoordinator(backend, logger)

	// The default handler must exist before the bot does; the handler in
	// turn needs the bot as its outbound transport, hence the indirection.
	var handler *bot.Handler
	chatTimeout := time.Duration(cfg.Telegram.TimeoutSec) * time.Second
	options := []tgbot.Option{
		tgbot.WithSkipGetMe(),
		// The HTTP timeout must outlast one long-poll cycle.
		tgbot.WithHTTPClient(chatTimeout, &http.Client{Timeout: 2 * chatTimeout}),
		tgbot.WithDefaultHandler(func(ctx context.Context, b *tgbot.Bot, update *tgmodels.Update) {
			if handler != nil {
				handler.OnFreeText(ctx, b, update)
			}
		}),
	}
	if base := strings.TrimSpace(cfg.Telegram.APIBase); base != "" {
		options = append(options, tgbot.WithServerURL(strings.TrimRight(base, "/")))
	}
	tg, err := tgbot.New(cfg.Telegram.BotToken, options...)
	if err != nil {
		_ = kv.Close()
		closeLog()
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}

	dispatcher, err := notify.NewDispatcher(cfg.Telegram, tg, clk, logger)
	if err != nil {
		_ = kv.Close()
		closeLog()
		return nil, err
	}

	handler = bot.NewHandler(cfg.Service, cfg.Telegram.AdminIDs, tg, backend, coordinator, flag, seen, logger)
	handler.Register(tg)

	scheduler := poller.NewScheduler(cfg.Service, backend, seen, flag, dispatcher, clk, logger)

	return &Service{
		cfg:        cfg,
		logger:     logger,
		closeLog:   closeLog,
		kv:         kv,
		lock:       lockMgr,
		flag:       flag,
		seen:       seen,
		backend:    backend,
		dispatcher: dispatcher,
		handler:    handler,
		tg:         tg,
		scheduler:  scheduler,
		clock:      clk,
	}, nil
}

// buildStore selects the configured coordination store backend.
// Params: full config snapshot.
// Returns: store implementation or setup error.
func buildStore(cfg config.Config) (store.KV, error) {
	switch cfg.Store.Mode {
	case config.StoreModeMemory:
		return store.NewMemoryKV(), nil
	case config.StoreModeNATS:
		return store.NewNATSKV(cfg.Store)
	default:
		return nil, fmt.Errorf("unsupported store mode %q", cfg.Store.Mode)
	}
}

// Run starts service lifecycle and blocks until shutdown signal.
// Params: root context for service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	shutdownCtx, shutdownCancel := context.WithCancel(ctx)
	defer shutdownCancel()

	acquireCtx, acquireCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
	err := s.lock.Acquire(acquireCtx)
	acquireCancel()
	if err != nil {
		_ = s.shutdown(false)
		return fmt.Errorf("acquire instance lock: %w", err)
	}

	if err := s.flag.Seed(shutdownCtx); err != nil {
		s.logger.Error("seed realtime flag", "error", err.Error())
	}
	if err := s.backend.Login(shutdownCtx); err != nil {
		// Non-fatal: the client re-authenticates on the next call.
		s.logger.Warn("initial zabbix login failed", "error", err.Error())
	}

	renewInterval := time.Duration(s.cfg.Service.LockRenewSec) * time.Second
	renewTicker := time.NewTicker(renewInterval)
	defer renewTicker.Stop()
	go func() {
		for {
			select {
			case <-shutdownCtx.Done():
				return
			case <-renewTicker.C:
				if err := s.lock.Renew(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
					s.logger.Error("lock renewal failed", "error", err.Error())
				}
			}
		}
	}()

	go func() {
		if err := s.scheduler.Run(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("polling scheduler failed", "error", err.Error())
		}
	}()

	go func() {
		s.logger.Info("telegram long-poll started")
		s.tg.Start(shutdownCtx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	}
	shutdownCancel()
	return s.shutdown(true)
}

// shutdown closes runtime resources in dependency order.
// Params: releaseLock is false when the lock was never acquired.
// Returns: first close error.
func (s *Service) shutdown(releaseLock bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var firstErr error
	markErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if releaseLock {
		if err := s.lock.Release(ctx); err != nil {
			s.logger.Error("lock release failed", "error", err.Error())
			markErr(fmt.Errorf("lock release: %w", err))
		}
	}
	if err := s.kv.Close(); err != nil {
		s.logger.Error("store close failed", "error", err.Error())
		markErr(fmt.Errorf("store close: %w", err))
	}
	if s.closeLog != nil {
		s.closeLog()
	}
	return firstErr
}
