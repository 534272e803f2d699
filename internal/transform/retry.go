package transform

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/yourusername/paper-lingo/internal/observability"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 30 * time.Second
)

// RetryingClient は Backend を指数バックオフ付きの再試行でラップします。
type RetryingClient struct {
	Backend     Backend
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Logger      *log.Logger
	Metrics     *observability.Metrics
}

// NewRetryingClient は既定値で RetryingClient を作成します。
func NewRetryingClient(backend Backend, logger *log.Logger, metrics *observability.Metrics) *RetryingClient {
	return &RetryingClient{
		Backend:     backend,
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Logger:      logger,
		Metrics:     metrics,
	}
}

// Transform は text を翻訳します。空白のみの text はバックエンドを呼ばずに "" を返します。
func (c *RetryingClient) Transform(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		out, err := c.Backend.Transform(ctx, text)
		if err == nil {
			c.Metrics.TransformAttempt("ok")
			return out, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if IsPermanent(err) {
			c.Metrics.TransformAttempt("permanent")
			return "", fmt.Errorf("transform rejected: %w", err)
		}

		lastErr = err
		if attempt == attempts {
			break
		}
		c.Metrics.TransformAttempt("retry")

		delay := c.backoff(attempt)
		c.logf("transform attempt %d/%d failed, retrying in %s: %v", attempt, attempts, delay, err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	c.Metrics.TransformAttempt("exhausted")
	return "", &UnavailableError{Attempts: attempts, Cause: lastErr}
}

func (c *RetryingClient) backoff(attempt int) time.Duration {
	base := c.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	maxDelay := c.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	delay := base << (attempt - 1)
	if delay <= 0 || delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (c *RetryingClient) logf(format string, args ...any) {
	if c.Logger != nil {
		c.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
