package usecase

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/oncoscan/internal/logging"
)

// withCacheRetry runs a cache operation with exponential backoff on
// transient errors. Only cache traffic is retried; scoring and persistence
// are single-shot so a failed inference never leaves partial side effects.
func (p *InferencePipeline) withCacheRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if p.retryAttempts <= 1 {
		err := fn()
		return logging.NewOperationError(operation, requestID, err)
	}

	backoff := p.initialBackoff
	opLogger := logging.WithOperation(p.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < p.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= p.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("cache operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == p.retryAttempts-1 {
			opLogger.Error("cache operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient cache error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (p *InferencePipeline) withCacheGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := p.withCacheRetry(ctx, requestID, operation, func() error {
		value, err := p.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
