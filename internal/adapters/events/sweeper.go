package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/application"
)

// Sweeper periodically expires delivered invitations whose response window
// has elapsed.
type Sweeper struct {
	logger   *slog.Logger
	service  *application.Service
	interval time.Duration
}

func NewSweeper(logger *slog.Logger, service *application.Service, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{logger: logger, service: service, interval: interval}
}

func (w *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		expired, err := w.service.SweepExpired(ctx)
		if err != nil {
			w.logger.ErrorContext(ctx, "expiry sweep failed",
				"module", "events.sweeper",
				"layer", "adapter",
				"operation", "sweep_expired",
				"outcome", "failure",
				"error", err,
			)
		} else if expired > 0 {
			w.logger.InfoContext(ctx, "expiry sweep completed",
				"module", "events.sweeper",
				"layer", "adapter",
				"operation", "sweep_expired",
				"outcome", "success",
				"expired_count", expired,
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
