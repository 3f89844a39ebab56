package data

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Runner performs one generation run.
type Runner interface {
	Run(ctx context.Context) (*Result, error)
}

// Refresher regenerates the guide periodically in the background.
type Refresher struct {
	runner   Runner
	interval time.Duration
	logger   *logrus.Logger
}

// NewRefresher creates a new refresh manager.
func NewRefresher(runner Runner, interval time.Duration, logger *logrus.Logger) *Refresher {
	return &Refresher{
		runner:   runner,
		interval: interval,
		logger:   logger,
	}
}

// Start generates once immediately, then on every interval until the
// context is cancelled.
func (r *Refresher) Start(ctx context.Context) {
	err := r.refresh(ctx)

	ticker := time.NewTicker(r.scheduleNextRefresh(err))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Refresh manager shutting down")
			return
		case <-ticker.C:
			err := r.refresh(ctx)
			ticker.Reset(r.scheduleNextRefresh(err))
		}
	}
}

func (r *Refresher) refresh(ctx context.Context) error {
	r.logger.Info("Starting guide refresh")

	result, err := r.runner.Run(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.WithError(err).Error("Failed to refresh guide")
		}
		return err
	}

	r.logger.WithFields(logrus.Fields{
		"origin": result.Origin,
		"output": result.OutputPath,
	}).Info("Guide refresh completed successfully")
	return nil
}

func (r *Refresher) scheduleNextRefresh(lastError error) time.Duration {
	if lastError == nil {
		return r.interval
	}

	// Error - retry sooner, at most every 5 minutes
	backoffDuration := r.interval / 2
	if backoffDuration > 5*time.Minute {
		backoffDuration = 5 * time.Minute
	}
	if backoffDuration <= 0 {
		backoffDuration = r.interval
	}

	r.logger.WithField("interval", backoffDuration).Warn("Using backoff interval due to refresh error")
	return backoffDuration
}
