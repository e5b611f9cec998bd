package postgres

import (
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	retryAttempts = 3
	retryBase     = 100 * time.Millisecond
	retryCap      = 2 * time.Second
)

// isTransient reports whether err is a "store busy / locked" condition worth
// retrying: serialization failures, deadlocks, lock timeouts.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{
		"deadlock detected",          // SQLSTATE 40P01
		"could not serialize access", // SQLSTATE 40001
		"lock timeout",
		"database is locked",
		"too many clients",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

// withRetry runs op, retrying transient errors with exponential backoff
// min(base*2^k, cap). Non-transient errors propagate immediately.
func withRetry(log *zap.Logger, name string, op func() error) error {
	var err error
	delay := retryBase
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(delay)
			delay *= 2
			if delay > retryCap {
				delay = retryCap
			}
		}
		err = op()
		if err == nil || !isTransient(err) {
			return err
		}
		log.Warn("transient store error, retrying",
			zap.String("op", name),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return err
}
