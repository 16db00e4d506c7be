// Package ai wraps joint text/image embedding models behind one interface.
// Providers register themselves by name; the embedder returned by NewEmbedder
// normalizes every vector and enforces a stable dimension, so callers can rank
// by plain dot product.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/xxxsen/imgidx/internal/config"
)

var ErrUnavailable = errors.New("ai provider unavailable")

// IEmbedder maps text and image content into one shared vector space.
// Implementations return raw provider output; normalization happens in the
// client wrapper.
type IEmbedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedImage(ctx context.Context, data []byte, mimeType string) ([]float32, error)
	ModelVersion() string
}

type Factory func(model string, args interface{}) (IEmbedder, error)

var registry = map[string]Factory{}

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registry[key] = factory
}

// NewEmbedder builds the configured provider and wraps it with timeout, retry
// and vector checks.
func NewEmbedder(cfg config.EmbedderConfig) (IEmbedder, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if key == "" {
		return nil, fmt.Errorf("embedder.provider is required")
	}
	factory := registry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported embedder provider: %s", cfg.Provider)
	}
	raw, err := factory(cfg.Model, cfg.Args)
	if err != nil {
		return nil, err
	}
	return newClient(raw, clientConfig{
		timeoutSec: cfg.TimeoutSec,
		maxRetries: cfg.MaxRetries,
		dim:        cfg.Dim,
	}), nil
}

// resolveAPIKey prefers the configured key, then IMGIDX_API_KEY, then any
// provider-specific env vars.
func resolveAPIKey(configured string, envNames ...string) string {
	if key := strings.TrimSpace(configured); key != "" {
		return key
	}
	for _, name := range append([]string{"IMGIDX_API_KEY"}, envNames...) {
		if key := strings.TrimSpace(os.Getenv(name)); key != "" {
			return key
		}
	}
	return ""
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		args = map[string]interface{}{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode embedder config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode embedder config: %w", err)
	}
	return nil
}
