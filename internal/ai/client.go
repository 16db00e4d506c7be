package ai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	appErr "github.com/xxxsen/imgidx/internal/pkg/errors"
)

type clientConfig struct {
	timeoutSec int
	maxRetries int
	dim        int
}

// client enforces the embedding contract on top of a raw provider: per-call
// timeout, bounded retry on transient failures, unit-length output and a
// consistent dimension across calls.
type client struct {
	next IEmbedder
	cfg  clientConfig
	dim  int
}

func newClient(next IEmbedder, cfg clientConfig) *client {
	if cfg.timeoutSec <= 0 {
		cfg.timeoutSec = 30
	}
	if cfg.maxRetries <= 0 {
		cfg.maxRetries = 1
	}
	return &client{next: next, cfg: cfg, dim: cfg.dim}
}

func (c *client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return c.embed(ctx, func(ctx context.Context) ([]float32, error) {
		return c.next.EmbedText(ctx, text)
	})
}

func (c *client) EmbedImage(ctx context.Context, data []byte, mimeType string) ([]float32, error) {
	return c.embed(ctx, func(ctx context.Context) ([]float32, error) {
		return c.next.EmbedImage(ctx, data, mimeType)
	})
}

func (c *client) ModelVersion() string {
	return c.next.ModelVersion()
}

func (c *client) embed(ctx context.Context, call func(ctx context.Context) ([]float32, error)) ([]float32, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}
		values, err := c.callOnce(ctx, call)
		if err == nil {
			return values, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *client) callOnce(ctx context.Context, call func(ctx context.Context) ([]float32, error)) ([]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.timeoutSec)*time.Second)
	defer cancel()
	values, err := call(callCtx)
	if err != nil {
		return nil, err
	}
	return c.check(values)
}

func (c *client) check(values []float32) ([]float32, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: empty vector", appErr.ErrEmbedderDim)
	}
	if c.dim == 0 {
		c.dim = len(values)
	}
	if len(values) != c.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", appErr.ErrEmbedderDim, len(values), c.dim)
	}
	normalized, ok := normalizeL2(values)
	if !ok {
		return nil, fmt.Errorf("%w: zero vector", appErr.ErrEmbedderDim)
	}
	return normalized, nil
}

// isRetryable: provider misconfiguration is final, transport hiccups and
// per-call timeouts are not. Parent cancellation is handled by the caller
// before this check.
func isRetryable(err error) bool {
	if errors.Is(err, ErrUnavailable) || errors.Is(err, appErr.ErrEmbedderDim) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// normalizeL2 scales the vector to unit length. Reports false for a zero
// vector, which no usable model should emit.
func normalizeL2(values []float32) ([]float32, bool) {
	var sum float64
	for _, v := range values {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return nil, false
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = float32(float64(v) / norm)
	}
	return out, true
}
