package lookup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/leonardo-dashboard/leonardo/committee"
)

// Reloads a committee JSON file into the Service whenever the file's modification time changes.
type Refresher struct {
	Service  *Service
	Path     string
	Interval time.Duration
	Logger   *slog.Logger

	lastMod time.Time
}

func NewRefresher(svc *Service, path string, interval time.Duration) *Refresher {
	return &Refresher{
		Service:  svc,
		Path:     path,
		Interval: interval,
		Logger:   slog.Default().With("component", "refresher", "path", path),
	}
}

// Loads the file if it has changed since the last successful load. Returns true if committee data was refreshed.
func (r *Refresher) Check(ctx context.Context) (bool, error) {
	fi, err := os.Stat(r.Path)
	if err != nil {
		return false, fmt.Errorf("checking committee file: %w", err)
	}
	if !r.lastMod.IsZero() && fi.ModTime().Equal(r.lastMod) {
		return false, nil
	}

	a, err := committee.LoadFile(r.Path)
	if err != nil {
		return false, err
	}
	if err := r.Service.RefreshCommittees(ctx, a); err != nil {
		return false, err
	}
	r.lastMod = fi.ModTime()
	return true, nil
}

// Checks once immediately, then every Interval, until the context is cancelled. Errors are logged and retried on the next tick.
func (r *Refresher) Run(ctx context.Context) error {
	if r.Interval <= 0 {
		return fmt.Errorf("refresh interval must be positive (got %s)", r.Interval)
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := r.Check(ctx); err != nil {
		logger.Error("initial committee data load failed", "err", err)
	}

	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			refreshed, err := r.Check(ctx)
			if err != nil {
				logger.Error("committee data refresh failed", "err", err)
			} else if refreshed {
				logger.Info("reloaded committee data file")
			}
		}
	}
}
