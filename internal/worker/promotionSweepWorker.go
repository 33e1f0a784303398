package worker

import (
	"context"
	"time"

	"github.com/ds124wfegd/cca-waitlist/internal/entity"
	"github.com/ds124wfegd/cca-waitlist/internal/metrics"

	"github.com/sirupsen/logrus"
)

// ExpiryService часть движка листа ожидания, нужная sweep'у
type ExpiryService interface {
	ListExpiredOffers(ctx context.Context, now time.Time) ([]*entity.WaitlistEntry, error)
	ExpireOffer(ctx context.Context, entry *entity.WaitlistEntry, now time.Time) error
	PurgeStaleAccepted(ctx context.Context, before time.Time) (int, error)
}

// SweepStats итог одного прохода
type SweepStats struct {
	Processed int
	Failed    int
	Purged    int
}

type PromotionSweepWorker struct {
	service    ExpiryService
	interval   time.Duration
	runOnStart bool
	now        func() time.Time
}

func NewPromotionSweepWorker(service ExpiryService, interval time.Duration, runOnStart bool) *PromotionSweepWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &PromotionSweepWorker{
		service:    service,
		interval:   interval,
		runOnStart: runOnStart,
		now:        time.Now,
	}
}

func (w *PromotionSweepWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	logrus.WithField("interval", w.interval.String()).Info("Promotion sweep worker started")

	if w.runOnStart {
		w.RunOnce(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Promotion sweep worker stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce снимает все просроченные предложения и продвигает их очереди.
// Ошибка по одной записи не прерывает проход.
func (w *PromotionSweepWorker) RunOnce(ctx context.Context) SweepStats {
	started := time.Now()
	now := w.now()
	stats := SweepStats{}

	defer func() {
		metrics.RecordSweep(time.Since(started).Seconds(), stats.Processed, stats.Failed)
	}()

	expired, err := w.service.ListExpiredOffers(ctx, now)
	if err != nil {
		logrus.Errorf("Failed to list expired promotion offers: %v", err)
		return stats
	}

	if len(expired) > 0 {
		logrus.Infof("Found %d expired promotion offers", len(expired))
	}

	for _, entry := range expired {
		select {
		case <-ctx.Done():
			logrus.Info("Promotion sweep interrupted by context cancellation")
			return stats
		default:
		}

		if err := w.service.ExpireOffer(ctx, entry, now); err != nil {
			logrus.WithFields(logrus.Fields{
				"event_id":    entry.EventID,
				"waitlist_id": entry.ID,
			}).Errorf("Failed to expire promotion offer: %v", err)
			stats.Failed++
			continue
		}
		stats.Processed++
	}

	// accepted дольше интервала значит Accept прервался между шагами
	purged, err := w.service.PurgeStaleAccepted(ctx, now.Add(-w.interval))
	if err != nil {
		logrus.Errorf("Failed to purge stale accepted entries: %v", err)
	}
	stats.Purged = purged

	if stats.Processed > 0 || stats.Failed > 0 || stats.Purged > 0 {
		logrus.WithFields(logrus.Fields{
			"processed": stats.Processed,
			"failed":    stats.Failed,
			"purged":    stats.Purged,
		}).Info("Promotion sweep completed")
	}
	if stats.Failed > 0 {
		logrus.Warnf("%d promotion offers failed to expire during sweep", stats.Failed)
	}

	return stats
}
