package poller

import (
	"context"
	"log/slog"
	"time"

	"emergency-portal-backend/internal/notification"
)

// Runner is one fan-out cycle.
type Runner interface {
	Run(ctx context.Context) (*notification.Result, error)
}

// Service runs the fan-out job on a fixed interval inside the process.
type Service struct {
	runner   Runner
	interval time.Duration
}

func NewService(runner Runner, interval time.Duration) *Service {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Service{runner: runner, interval: interval}
}

// Run executes the job immediately and then once per interval until ctx is
// done. Runs never overlap; the next interval starts after a run finishes.
func (s *Service) Run(ctx context.Context) {
	slog.Info("starting earthquake poller", "interval", s.interval)

	s.RunOnce(ctx)

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("earthquake poller shutting down")
			return
		case <-timer.C:
			s.RunOnce(ctx)
			timer.Reset(s.interval)
		}
	}
}

// RunOnce performs a single cycle and logs its outcome.
func (s *Service) RunOnce(ctx context.Context) {
	result, err := s.runner.Run(ctx)
	if err != nil {
		slog.Error("earthquake check failed", "error", err)
		return
	}
	slog.Debug("earthquake check finished", "status", result.Status, "id", result.ID)
}
