package storage

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/xxxsen/imgidx/internal/config"
	appErr "github.com/xxxsen/imgidx/internal/pkg/errors"
)

// ParseRootURL turns a root location string into a source config. Accepted
// forms:
//
//	/abs/path                    local filesystem
//	file:///abs/path             local filesystem
//	s3://bucket/prefix           S3-compatible object store
//
// Credentials for s3 roots come from the environment (AWS default chain); an
// optional endpoint query parameter targets non-AWS gateways, e.g.
// s3://media/photos?endpoint=http://nas:9000.
func ParseRootURL(raw string) (config.SourceConfig, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return config.SourceConfig{}, fmt.Errorf("root url is required")
	}
	if strings.HasPrefix(raw, "/") {
		return config.SourceConfig{
			Name: "root",
			Type: "local",
			Args: map[string]interface{}{"root": raw},
		}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return config.SourceConfig{}, fmt.Errorf("parse root url: %w", err)
	}
	switch u.Scheme {
	case "file":
		path := u.Path
		if path == "" {
			return config.SourceConfig{}, fmt.Errorf("file root url has no path")
		}
		return config.SourceConfig{
			Name: "root",
			Type: "local",
			Args: map[string]interface{}{"root": path},
		}, nil
	case "s3":
		bucket := u.Host
		if bucket == "" {
			return config.SourceConfig{}, fmt.Errorf("s3 root url has no bucket")
		}
		args := map[string]interface{}{
			"bucket": bucket,
			"prefix": strings.Trim(u.Path, "/"),
		}
		if endpoint := u.Query().Get("endpoint"); endpoint != "" {
			args["endpoint"] = endpoint
		}
		if region := u.Query().Get("region"); region != "" {
			args["region"] = region
		}
		return config.SourceConfig{
			Name: "root",
			Type: "s3",
			Args: args,
		}, nil
	default:
		return config.SourceConfig{}, fmt.Errorf("%w: %s", appErr.ErrUnsupportedScheme, u.Scheme)
	}
}
