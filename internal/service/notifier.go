package service

import (
	"context"
	"sync"
	"time"

	"github.com/ds124wfegd/cca-waitlist/internal/entity"
	"github.com/ds124wfegd/cca-waitlist/internal/i18n"
	"github.com/ds124wfegd/cca-waitlist/internal/metrics"
	"github.com/ds124wfegd/cca-waitlist/pkg/retry"

	"github.com/sirupsen/logrus"
)

// Sink один канал доставки уведомлений
type Sink interface {
	Name() string
	Send(ctx context.Context, n entity.Notification) error
}

type DispatcherConfig struct {
	BufferSize  int
	Workers     int
	MaxRetries  int
	RetryDelay  time.Duration
	SendTimeout time.Duration
	Locale      string
}

// Dispatcher принимает уведомления без блокировки вызывающего и раздает их
// по sink'ам из пула воркеров. При переполнении буфера уведомление теряется.
type Dispatcher struct {
	queue      chan entity.Notification
	sinks      []Sink
	workers    int
	timeout    time.Duration
	locale     string
	retry      *retry.Manager
	translator Translator

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

var messageKeys = map[string]string{
	entity.NotificationPromotionOffered: i18n.KeyPromotionOffered,
	entity.NotificationPromotionExpired: i18n.KeyPromotionExpired,
	entity.NotificationPromotionRevoked: i18n.KeyPromotionRevoked,
	entity.NotificationPromotionClaimed: i18n.KeyPromotionClaimed,
}

func NewDispatcher(cfg DispatcherConfig, translator Translator, sinks ...Sink) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}

	return &Dispatcher{
		queue:      make(chan entity.Notification, cfg.BufferSize),
		sinks:      sinks,
		workers:    cfg.Workers,
		timeout:    cfg.SendTimeout,
		locale:     cfg.Locale,
		retry:      retry.NewManager(cfg.MaxRetries, cfg.RetryDelay),
		translator: translator,
	}
}

func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	logrus.WithField("workers", d.workers).Info("Notification dispatcher started")
}

// Notify ставит уведомление в очередь. Никогда не блокирует.
func (d *Dispatcher) Notify(_ context.Context, n entity.Notification) {
	if n.Message == "" {
		n.Message = d.render(n)
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		logrus.WithField("user_id", n.UserID).Warn("Notification dispatcher stopped, notification dropped")
		metrics.NotificationsDropped.Inc()
		return
	}

	select {
	case d.queue <- n:
	default:
		logrus.WithFields(logrus.Fields{
			"user_id": n.UserID,
			"kind":    n.Kind,
		}).Warn("Notification buffer full, notification dropped")
		metrics.NotificationsDropped.Inc()
	}
}

// Stop закрывает очередь и ждет доставки уже принятых уведомлений
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	logrus.Info("Notification dispatcher stopped")
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for n := range d.queue {
		for _, sink := range d.sinks {
			d.deliver(sink, n)
		}
	}
}

func (d *Dispatcher) deliver(sink Sink, n entity.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	err := d.retry.Do(ctx, func(ctx context.Context) error {
		return sink.Send(ctx, n)
	})
	metrics.RecordDelivery(sink.Name(), err)

	if err != nil {
		logrus.WithFields(logrus.Fields{
			"sink":    sink.Name(),
			"user_id": n.UserID,
			"kind":    n.Kind,
		}).Errorf("Failed to deliver notification: %v", err)
	}
}

func (d *Dispatcher) render(n entity.Notification) string {
	key, ok := messageKeys[n.Kind]
	if !ok || d.translator == nil {
		return n.Kind
	}
	return d.translator.T(d.locale, key, templateData(n.Metadata))
}

func templateData(md map[string]string) map[string]any {
	return map[string]any{
		"EventTitle": md["event_title"],
		"Hours":      md["hours"],
		"ExpiresAt":  md["expires_at"],
		"UserID":     md["user_id"],
	}
}
