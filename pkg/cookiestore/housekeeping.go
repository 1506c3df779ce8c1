package cookiestore

import (
	"context"
	"log/slog"
	"time"
)

// Housekeeper periodically drops expired cookies from a persistent backend so
// long-lived stores do not grow without bound. Lookups already skip expired
// entries, this only reclaims space.
type Housekeeper struct {
	Purger   Purger
	Logger   *slog.Logger
	Interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeeper returns a Housekeeper for p. If interval is 0 or negative,
// defaults to 1 hour.
func NewHousekeeper(p Purger, logger *slog.Logger, interval time.Duration) *Housekeeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Housekeeper{
		Purger:   p,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the purge loop in the background. Call Stop to end it.
func (h *Housekeeper) Start() {
	go h.run()
	h.Logger.Debug("cookie housekeeping started", "interval", h.Interval)
}

// Stop ends the loop and waits for an in-progress purge to finish.
func (h *Housekeeper) Stop() {
	close(h.stopCh)
	<-h.doneCh
	h.Logger.Debug("cookie housekeeping stopped")
}

func (h *Housekeeper) run() {
	defer close(h.doneCh)

	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()

	// Purge once on startup
	h.PurgeOnce(context.Background())

	for {
		select {
		case <-ticker.C:
			h.PurgeOnce(context.Background())
		case <-h.stopCh:
			return
		}
	}
}

// PurgeOnce deletes expired entries now and returns how many went.
func (h *Housekeeper) PurgeOnce(ctx context.Context) int64 {
	n, err := h.Purger.DeleteExpired(ctx, time.Now())
	if err != nil {
		h.Logger.Error("failed to purge expired cookies", "err", err)
		return 0
	}
	if n > 0 {
		h.Logger.Info("purged expired cookies", "count", n)
	}
	return n
}
