package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Purger deletes entries whose retention has passed
type Purger interface {
	Purge(ctx context.Context) (int64, error)
}

// CleanupManager periodically purges expired revocation ledger entries
type CleanupManager struct {
	purger   Purger
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(purger Purger, logger *slog.Logger, interval time.Duration) *CleanupManager {
	return &CleanupManager{
		purger:   purger,
		logger:   logger,
		interval: interval,
		timeout:  30 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start runs a purge immediately and then on every tick until stopped
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	cm.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cm.RunOnce(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunOnce performs a single bounded purge
func (cm *CleanupManager) RunOnce(ctx context.Context) int64 {
	cleanupCtx, cancel := context.WithTimeout(ctx, cm.timeout)
	defer cancel()

	purged, err := cm.purger.Purge(cleanupCtx)
	if err != nil {
		cm.logger.Error("failed to purge revocation ledger", slog.Any("error", err))
		return 0
	}

	if purged > 0 {
		cm.logger.Info("revocation ledger purge completed", slog.Int64("entries_purged", purged))
	}
	return purged
}

// Stop signals the cleanup manager to stop; calling it twice is safe
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
