package ingest

import (
	"context"
	"fmt"

	"github.com/xxxsen/imgidx/internal/config"
	"github.com/xxxsen/imgidx/internal/storage"
)

// Source pairs a storage provider with its configured name. The name prefixes
// every logical path the provider contributes (storage.JoinPath), so all
// sources share one path namespace.
type Source struct {
	Name     string
	Provider storage.Provider
}

func BuildSources(ctx context.Context, cfgs []config.SourceConfig, extensions []string) ([]Source, error) {
	sources := make([]Source, 0, len(cfgs))
	for _, cfg := range cfgs {
		provider, err := storage.New(ctx, cfg, extensions)
		if err != nil {
			return nil, fmt.Errorf("build source %s: %w", cfg.Name, err)
		}
		sources = append(sources, Source{Name: cfg.Name, Provider: provider})
	}
	return sources, nil
}

// LocalRoots returns the filesystem roots of every local source. Remote
// sources have no change feed and rely on the cron rescan instead.
func LocalRoots(sources []Source) []string {
	var roots []string
	for _, src := range sources {
		if src.Provider.Name() == storage.TypeLocal {
			roots = append(roots, src.Provider.Root())
		}
	}
	return roots
}
