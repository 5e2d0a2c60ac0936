package poller

import (
	"context"
	"log/slog"
	"time"

	"dutybot/internal/clock"
	"dutybot/internal/config"
	"dutybot/internal/domain"
)

// Backend is the monitoring-side surface the scheduler polls.
type Backend interface {
	UnacknowledgedProblems(ctx context.Context, window time.Duration, minSeverity domain.Severity) ([]domain.Problem, error)
	HostName(ctx context.Context, hostID string) (string, error)
}

// Classifier folds one poll snapshot into seen state.
type Classifier interface {
	Classify(problems []domain.Problem, now time.Time) []domain.Classification
}

// Flag reads the realtime-dispatch switch.
type Flag interface {
	Enabled(ctx context.Context) (bool, error)
}

// Notifier delivers new-problem and reminder messages.
type Notifier interface {
	NotifyNew(ctx context.Context, problem domain.Problem, host string)
	NotifyReminder(ctx context.Context, problem domain.Problem, host string)
}

// Scheduler drives the fixed-interval polling loop.
// Params: backend, classifier, dispatch flag, and notifier.
// Returns: the detection half of the service.
type Scheduler struct {
	backend     Backend
	seen        Classifier
	flag        Flag
	notifier    Notifier
	clk         clock.Clock
	interval    time.Duration
	window      time.Duration
	minSeverity domain.Severity
	logger      *slog.Logger
}

// NewScheduler creates the polling scheduler.
// Params: service settings and the collaborating components.
// Returns: initialized scheduler.
func NewScheduler(
	svc config.ServiceConfig,
	backend Backend,
	seen Classifier,
	flag Flag,
	notifier Notifier,
	clk clock.Clock,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		backend:     backend,
		seen:        seen,
		flag:        flag,
		notifier:    notifier,
		clk:         clk,
		interval:    time.Duration(svc.PollIntervalSec) * time.Second,
		window:      time.Duration(svc.PollWindowHours) * time.Hour,
		minSeverity: domain.Severity(svc.MinSeverity),
		logger:      logger,
	}
}

// Run polls immediately and then on every interval tick until the context
// ends. Poll failures are logged; only the context stops the loop.
// Params: ctx bounds the loop.
// Returns: ctx.Err() after shutdown.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("polling scheduler started", "interval", s.interval, "window", s.window)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.PollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("polling scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.PollOnce(ctx)
		}
	}
}

// PollOnce runs one detection cycle. Classification always happens so the
// seen state stays current; the realtime flag gates dispatch only.
// Params: ctx bounds backend calls.
// Returns: nothing; every failure is logged and absorbed.
func (s *Scheduler) PollOnce(ctx context.Context) {
	problems, err := s.backend.UnacknowledgedProblems(ctx, s.window, s.minSeverity)
	if err != nil {
		s.logger.Error("poll unacknowledged problems", "error", err)
		return
	}

	verdicts := s.seen.Classify(problems, s.clk.Now())

	enabled, err := s.flag.Enabled(ctx)
	if err != nil {
		s.logger.Error("read realtime flag", "error", err)
		return
	}
	if !enabled {
		s.logger.Debug("realtime dispatch disabled", "problems", len(problems))
		return
	}

	for _, verdict := range verdicts {
		switch verdict.Kind {
		case domain.ClassificationNew:
			s.notifier.NotifyNew(ctx, verdict.Problem, s.hostName(ctx, verdict.Problem))
		case domain.ClassificationDue:
			s.notifier.NotifyReminder(ctx, verdict.Problem, s.hostName(ctx, verdict.Problem))
		}
	}
}

// hostName resolves a display name, falling back to the raw id.
// Params: problem carrying the host id.
// Returns: resolved name or the id when lookup fails.
func (s *Scheduler) hostName(ctx context.Context, problem domain.Problem) string {
	if problem.HostID == "" {
		return ""
	}
	name, err := s.backend.HostName(ctx, problem.HostID)
	if err != nil {
		s.logger.Warn("resolve host", "host_id", problem.HostID, "event_id", problem.EventID, "error", err)
		return problem.HostID
	}
	return name
}
