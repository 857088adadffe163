package service

import (
	"context"
	"time"

	"chatsync/internal/constants"

	"github.com/sirupsen/logrus"
)

// RetentionScheduler periodically deletes acknowledged messages older than
// the retention window so the on-device cache stays bounded.
type RetentionScheduler struct {
	store         MessageStore
	retentionDays int
	intervalHours int
	logger        *logrus.Logger
	stopCh        chan struct{}
}

func NewRetentionScheduler(store MessageStore, retentionDays, intervalHours int, logger *logrus.Logger) *RetentionScheduler {
	if retentionDays <= 0 {
		retentionDays = constants.DefaultRetentionDays
	}
	if intervalHours <= 0 {
		intervalHours = constants.RetentionSweepHours
	}
	return &RetentionScheduler{
		store:         store,
		retentionDays: retentionDays,
		intervalHours: intervalHours,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

func (s *RetentionScheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(s.intervalHours) * time.Hour)
	defer ticker.Stop()

	s.logger.Info("Starting retention scheduler")

	s.runSweep(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Retention scheduler context cancelled, stopping")
			return
		case <-s.stopCh:
			s.logger.Info("Retention scheduler stop signal received, stopping")
			return
		case <-ticker.C:
			s.runSweep(ctx)
		}
	}
}

func (s *RetentionScheduler) Stop() {
	close(s.stopCh)
}

func (s *RetentionScheduler) runSweep(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)

	deleted, err := s.store.DeleteMessagesOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.WithError(err).Error("Failed to sweep old messages")
		return
	}
	if deleted > 0 {
		s.logger.WithFields(logrus.Fields{
			"deleted":       deleted,
			"retentionDays": s.retentionDays,
		}).Info("Swept old messages from cache")
	}
}
