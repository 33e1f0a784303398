package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent помечает ошибку, после которой повторять бессмысленно
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Manager повторяет операцию с экспоненциальной задержкой и джиттером
type Manager struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewManager(maxRetries int, baseDelay time.Duration) *Manager {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Manager{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   baseDelay * 16, // Maximum 16x base delay
	}
}

// Do вызывает fn до maxRetries+1 раз. Возвращает последнюю ошибку.
func (r *Manager) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(r.Backoff(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return err
			case <-timer.C:
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
	}
	return err
}

// Backoff calculates exponential backoff delay with jitter
func (r *Manager) Backoff(attempt int) time.Duration {
	if attempt <= 0 || r.baseDelay <= 0 {
		return r.baseDelay
	}

	backoff := r.baseDelay * time.Duration(1<<(attempt-1))
	if backoff > r.maxDelay {
		backoff = r.maxDelay
	}

	// Apply jitter (±25%)
	quarter := int64(backoff / 4)
	if quarter > 0 {
		backoff += time.Duration(rand.Int63n(2*quarter+1) - quarter)
	}
	return backoff
}
