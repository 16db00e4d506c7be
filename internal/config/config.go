package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	Listen    string           `json:"listen"`
	LogConfig logger.LogConfig `json:"log_config"`
	DB        DBConfig         `json:"db"`
	Sources   []SourceConfig   `json:"sources"`
	Embedder  EmbedderConfig   `json:"embedder"`
	Search    SearchConfig     `json:"search"`
	Cluster   ClusterConfig    `json:"cluster"`
	Ingest    IngestConfig     `json:"ingest"`
}

type DBConfig struct {
	Driver   string `json:"driver"`
	Path     string `json:"path"`
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
}

// SourceConfig names one image root. Args is passed through to the storage
// provider factory untouched.
type SourceConfig struct {
	Name string      `json:"name"`
	Type string      `json:"type"`
	Args interface{} `json:"args"`
}

type EmbedderConfig struct {
	Provider        string      `json:"provider"`
	Model           string      `json:"model"`
	Dim             int         `json:"dim"`
	TimeoutSec      int         `json:"timeout_sec"`
	MaxRetries      int         `json:"max_retries"`
	Args            interface{} `json:"args"`
	QueryCacheSize  int         `json:"query_cache_size"`
	QueryCacheTTLSec int        `json:"query_cache_ttl_sec"`
}

type SearchConfig struct {
	DefaultTopK int     `json:"default_top_k"`
	MaxTopK     int     `json:"max_top_k"`
	MinScore    float32 `json:"min_score"`
}

type ClusterConfig struct {
	MinClusterSize     int     `json:"min_cluster_size"`
	NeighborhoodRadius float32 `json:"neighborhood_radius"`
}

type IngestConfig struct {
	Workers     int      `json:"workers"`
	RescanCron  string   `json:"rescan_cron"`
	CleanupCron string   `json:"cleanup_cron"`
	Watch       bool     `json:"watch"`
	Extensions  []string `json:"extensions"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Listen == "" {
		cfg.Listen = ":8921"
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if err := validateDB(&cfg.DB); err != nil {
		return nil, err
	}
	if len(cfg.Sources) == 0 {
		return nil, fmt.Errorf("at least one source is required")
	}
	seen := map[string]struct{}{}
	for i := range cfg.Sources {
		src := &cfg.Sources[i]
		src.Name = strings.TrimSpace(src.Name)
		src.Type = strings.ToLower(strings.TrimSpace(src.Type))
		if src.Name == "" {
			return nil, fmt.Errorf("sources[%d].name is required", i)
		}
		if src.Type == "" {
			return nil, fmt.Errorf("sources[%d].type is required", i)
		}
		if _, ok := seen[src.Name]; ok {
			return nil, fmt.Errorf("duplicate source name: %s", src.Name)
		}
		seen[src.Name] = struct{}{}
	}
	if cfg.Embedder.Provider == "" {
		return nil, fmt.Errorf("embedder.provider is required")
	}
	if cfg.Embedder.Model == "" {
		return nil, fmt.Errorf("embedder.model is required")
	}
	if cfg.Embedder.TimeoutSec <= 0 {
		cfg.Embedder.TimeoutSec = 30
	}
	if cfg.Embedder.MaxRetries <= 0 {
		cfg.Embedder.MaxRetries = 3
	}
	if cfg.Embedder.QueryCacheSize <= 0 {
		cfg.Embedder.QueryCacheSize = 512
	}
	if cfg.Embedder.QueryCacheTTLSec <= 0 {
		cfg.Embedder.QueryCacheTTLSec = 600
	}
	if cfg.Search.DefaultTopK <= 0 {
		cfg.Search.DefaultTopK = 10
	}
	if cfg.Search.MaxTopK <= 0 {
		cfg.Search.MaxTopK = 100
	}
	if cfg.Search.DefaultTopK > cfg.Search.MaxTopK {
		return nil, fmt.Errorf("search.default_top_k exceeds search.max_top_k")
	}
	if cfg.Search.MinScore < 0 || cfg.Search.MinScore > 1 {
		return nil, fmt.Errorf("search.min_score must be within [0,1]")
	}
	if cfg.Cluster.MinClusterSize <= 0 {
		cfg.Cluster.MinClusterSize = 2
	}
	if cfg.Cluster.NeighborhoodRadius <= 0 {
		cfg.Cluster.NeighborhoodRadius = 0.35
	}
	if cfg.Ingest.Workers <= 0 {
		cfg.Ingest.Workers = 4
	}
	if len(cfg.Ingest.Extensions) == 0 {
		cfg.Ingest.Extensions = []string{"jpg", "jpeg", "png", "gif", "bmp", "webp"}
	}
	return &cfg, nil
}

func validateDB(db *DBConfig) error {
	db.Driver = strings.ToLower(strings.TrimSpace(db.Driver))
	if db.Driver == "" {
		db.Driver = "sqlite"
	}
	switch db.Driver {
	case "sqlite":
		if db.Path == "" {
			db.Path = "imgidx.db"
		}
	case "postgres":
		if db.DSN == "" && (db.Host == "" || db.DBName == "") {
			return fmt.Errorf("db.dsn or db.host/db.db_name are required for postgres")
		}
		if db.Port == 0 {
			db.Port = 5432
		}
		if db.SSLMode == "" {
			db.SSLMode = "disable"
		}
	default:
		return fmt.Errorf("db.driver must be sqlite or postgres")
	}
	return nil
}
