package service

import (
	"context"
	"sync"
	"time"

	"github.com/ds124wfegd/cca-waitlist/internal/entity"
	"github.com/ds124wfegd/cca-waitlist/internal/metrics"
	"github.com/ds124wfegd/cca-waitlist/pkg/kafka"

	"github.com/sirupsen/logrus"
)

type AuditConfig struct {
	BufferSize  int
	SendTimeout time.Duration
}

// AuditLog публикует переходы состояний в Kafka, ключ сообщения id мероприятия.
// Публикация идет в отдельной горутине со своим таймаутом, Record не ждет брокер.
type AuditLog struct {
	producer kafka.Producer
	queue    chan entity.WaitlistTransition
	timeout  time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewAuditLog(producer kafka.Producer, cfg AuditConfig) *AuditLog {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 512
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}

	return &AuditLog{
		producer: producer,
		queue:    make(chan entity.WaitlistTransition, cfg.BufferSize),
		timeout:  cfg.SendTimeout,
	}
}

func (a *AuditLog) Start() {
	a.wg.Add(1)
	go a.worker()
}

// Record ставит переход в очередь публикации. Никогда не блокирует.
func (a *AuditLog) Record(_ context.Context, t entity.WaitlistTransition) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		a.drop(t, "Audit log stopped, transition dropped")
		return
	}

	select {
	case a.queue <- t:
	default:
		a.drop(t, "Audit buffer full, transition dropped")
	}
}

// Stop закрывает очередь и ждет публикации уже принятых переходов
func (a *AuditLog) Stop() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	a.wg.Wait()
	logrus.Info("Audit log stopped")
}

func (a *AuditLog) worker() {
	defer a.wg.Done()

	for t := range a.queue {
		a.publish(t)
	}
}

func (a *AuditLog) publish(t entity.WaitlistTransition) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	if err := a.producer.SendMessage(ctx, t.EventID, t); err != nil {
		logrus.WithFields(logrus.Fields{
			"waitlist_id": t.WaitlistID,
			"reason":      t.Reason,
		}).Errorf("Failed to publish waitlist transition: %v", err)
	}
}

func (a *AuditLog) drop(t entity.WaitlistTransition, msg string) {
	logrus.WithFields(logrus.Fields{
		"waitlist_id": t.WaitlistID,
		"reason":      t.Reason,
	}).Warn(msg)
	metrics.AuditDropped.Inc()
}
