package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	appErr "github.com/xxxsen/imgidx/internal/pkg/errors"
)

type localConfig struct {
	Root string `json:"root"`
}

type localProvider struct {
	root   string
	filter extFilter
}

func init() {
	Register(TypeLocal, createLocalProvider)
}

func createLocalProvider(ctx context.Context, args interface{}, opts Options) (Provider, error) {
	_ = ctx
	config := &localConfig{}
	if err := decodeConfig(args, config); err != nil {
		return nil, err
	}
	if config.Root == "" {
		return nil, fmt.Errorf("local source root is required")
	}
	root, err := filepath.Abs(config.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve local root: %w", err)
	}
	return &localProvider{
		root:   root,
		filter: newExtFilter(opts.Extensions),
	}, nil
}

func (p *localProvider) Name() string {
	return TypeLocal
}

func (p *localProvider) Root() string {
	return p.root
}

func (p *localProvider) List(ctx context.Context) ([]FileInfo, error) {
	if _, err := os.Stat(p.root); err != nil {
		return nil, fmt.Errorf("local root unreachable: %w", err)
	}
	var files []FileInfo
	err := filepath.WalkDir(p.root, func(fullPath string, d fs.DirEntry, err error) error {
		if err != nil {
			if fullPath == p.root {
				return err
			}
			// Unreadable subtree: skip it, keep walking the rest.
			logutil.GetLogger(ctx).Warn("skip unreadable path", zap.String("path", fullPath), zap.Error(err))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(p.root, fullPath)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !p.filter.match(rel) {
			return nil
		}
		info, err := os.Stat(fullPath)
		if err != nil {
			// Broken symlink or a file deleted mid-walk.
			logutil.GetLogger(ctx).Warn("skip unreadable file", zap.String("path", fullPath), zap.Error(err))
			return nil
		}
		if info.IsDir() {
			return nil
		}
		files = append(files, FileInfo{
			Path:    rel,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})
	return files, nil
}

func (p *localProvider) Open(ctx context.Context, filePath string) (io.ReadCloser, error) {
	_ = ctx
	fullPath, err := p.resolve(filePath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

func (p *localProvider) Stat(ctx context.Context, filePath string) (FileInfo, error) {
	_ = ctx
	fullPath, err := p.resolve(filePath)
	if err != nil {
		return FileInfo{}, err
	}
	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return FileInfo{}, appErr.ErrNotFound
		}
		return FileInfo{}, err
	}
	return FileInfo{
		Path:    filePath,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// resolve joins a listed relative path back onto the root, refusing anything
// that would escape it.
func (p *localProvider) resolve(filePath string) (string, error) {
	if filePath == "" {
		return "", appErr.ErrInvalid
	}
	fullPath := filepath.Join(p.root, filepath.FromSlash(filePath))
	if fullPath != p.root && !strings.HasPrefix(fullPath, p.root+string(filepath.Separator)) {
		return "", appErr.ErrInvalid
	}
	return fullPath, nil
}
