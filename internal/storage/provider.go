// Package storage enumerates and reads image files from configured roots.
// Backends register themselves by type name; configs carry opaque args that
// each factory decodes on its own.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/xxxsen/imgidx/internal/config"
)

const (
	TypeLocal = "local"
	TypeS3    = "s3"
)

// FileInfo describes one listed file. Path is provider-relative and
// slash-separated; it is the identity the rest of the system keys on.
type FileInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
}

type Provider interface {
	Name() string
	Root() string
	List(ctx context.Context) ([]FileInfo, error)
	Open(ctx context.Context, filePath string) (io.ReadCloser, error)
	Stat(ctx context.Context, filePath string) (FileInfo, error)
}

type Factory func(ctx context.Context, args interface{}, opts Options) (Provider, error)

// Options carries cross-backend settings every provider honors.
type Options struct {
	Extensions []string
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

func New(ctx context.Context, cfg config.SourceConfig, extensions []string) (Provider, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	if key == "" {
		return nil, fmt.Errorf("source type is required")
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported source type: %s", cfg.Type)
	}
	return factory(ctx, cfg.Args, Options{Extensions: extensions})
}

// JoinPath qualifies a provider-relative path with its source name. All
// indexed paths live in this one namespace, so several sources can coexist
// without colliding.
func JoinPath(source, relPath string) string {
	return source + "/" + relPath
}

// SplitPath is the inverse of JoinPath.
func SplitPath(logicalPath string) (source, relPath string) {
	source, relPath, _ = strings.Cut(logicalPath, "/")
	return source, relPath
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("source config is required")
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode source config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode source config: %w", err)
	}
	return nil
}

// extFilter reports whether a path passes the extension allowlist. An empty
// list passes everything.
type extFilter map[string]struct{}

func newExtFilter(extensions []string) extFilter {
	if len(extensions) == 0 {
		return nil
	}
	filter := make(extFilter, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext == "" {
			continue
		}
		filter[ext] = struct{}{}
	}
	return filter
}

func (f extFilter) match(filePath string) bool {
	if f == nil {
		return true
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(filePath), "."))
	if ext == "" {
		return false
	}
	_, ok := f[ext]
	return ok
}
