package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/imgidx/internal/ai"
	"github.com/xxxsen/imgidx/internal/cluster"
	"github.com/xxxsen/imgidx/internal/config"
	"github.com/xxxsen/imgidx/internal/db"
	"github.com/xxxsen/imgidx/internal/embedcache"
	"github.com/xxxsen/imgidx/internal/handler"
	"github.com/xxxsen/imgidx/internal/index"
	"github.com/xxxsen/imgidx/internal/ingest"
	"github.com/xxxsen/imgidx/internal/job"
	"github.com/xxxsen/imgidx/internal/middleware"
	"github.com/xxxsen/imgidx/internal/repo"
	"github.com/xxxsen/imgidx/internal/schedule"
	"github.com/xxxsen/imgidx/internal/service"
	"github.com/xxxsen/imgidx/internal/storage"
	"github.com/xxxsen/imgidx/internal/watch"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "imgidx",
		Short: "embedding-indexed image search and clustering service",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "serve the search api",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), configPath, "")
			if err != nil {
				return err
			}
			defer a.Close()
			return runServer(a)
		},
	}

	var ingestRoot string
	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "run one ingestion pass and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := buildApp(ctx, configPath, ingestRoot)
			if err != nil {
				return err
			}
			defer a.Close()
			report, err := a.pipeline.Run(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
	ingestCmd.Flags().StringVar(&ingestRoot, "root", "", "index this root instead of the configured sources (path or s3://bucket/prefix)")

	var topK int
	var minScore float32
	searchCmd := &cobra.Command{
		Use:   "search <prompt>",
		Short: "search the index with a free-text prompt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := buildApp(ctx, configPath, "")
			if err != nil {
				return err
			}
			defer a.Close()
			hits, err := a.search.SemanticSearch(ctx, strings.Join(args, " "), topK, minScore)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]interface{}{"hits": hits, "total": len(hits)})
		},
	}
	searchCmd.Flags().IntVar(&topK, "top-k", 0, "max hits (0 = configured default)")
	searchCmd.Flags().Float32Var(&minScore, "min-score", 0, "similarity floor (0 = configured default)")

	var minClusterSize int
	var radius float32
	clusterCmd := &cobra.Command{
		Use:   "cluster",
		Short: "group indexed images by embedding density",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := buildApp(ctx, configPath, "")
			if err != nil {
				return err
			}
			defer a.Close()
			result, err := a.search.Clusters(ctx, cluster.Params{
				MinClusterSize:     minClusterSize,
				NeighborhoodRadius: radius,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
	clusterCmd.Flags().IntVar(&minClusterSize, "min-cluster-size", 0, "min points per cluster (0 = configured default)")
	clusterCmd.Flags().Float32Var(&radius, "neighborhood-radius", 0, "cosine distance threshold (0 = configured default)")

	rootCmd.AddCommand(runCmd, ingestCmd, searchCmd, clusterCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

// app bundles everything a verb needs. The CLI verbs and the server share the
// same assembly so they cannot drift apart.
type app struct {
	cfg      *config.Config
	db       *sql.DB
	sources  []ingest.Source
	images   *repo.ImageRepo
	cache    *repo.EmbeddingCacheRepo
	embedder ai.IEmbedder
	holder   *index.Holder
	pipeline *ingest.Pipeline
	search   *service.SearchService
}

func (a *app) Close() {
	if a.db != nil {
		_ = a.db.Close()
	}
}

// buildApp loads config, opens the store, and warms the index holder from
// whatever the last run persisted. rootOverride replaces the configured
// sources with a single ad-hoc root.
func buildApp(ctx context.Context, configPath, rootOverride string) (*app, error) {
	if configPath == "" {
		return nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(ctx).Info("config loaded", zap.String("config", configPath))

	sourceCfgs := cfg.Sources
	if rootOverride != "" {
		src, err := storage.ParseRootURL(rootOverride)
		if err != nil {
			return nil, err
		}
		sourceCfgs = []config.SourceConfig{src}
	}
	sources, err := ingest.BuildSources(ctx, sourceCfgs, cfg.Ingest.Extensions)
	if err != nil {
		return nil, err
	}

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.ApplyMigrations(dbConn, cfg.DB.Driver); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	images := repo.NewImageRepo(dbConn, cfg.DB.Driver)
	cacheRepo := repo.NewEmbeddingCacheRepo(dbConn, cfg.DB.Driver)

	embedder, err := ai.NewEmbedder(cfg.Embedder)
	if err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	embedder = embedcache.WrapDBCacheToEmbedder(embedder, cacheRepo)
	embedder = embedcache.WrapLruCacheToEmbedder(embedder, cfg.Embedder.QueryCacheSize,
		time.Duration(cfg.Embedder.QueryCacheTTLSec)*time.Second)

	snapshot, err := ingest.LoadSnapshot(ctx, images, cacheRepo, embedder.ModelVersion())
	if err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	holder := index.NewHolder(snapshot)
	logutil.GetLogger(ctx).Info("index loaded",
		zap.Int("digests", snapshot.Digests()), zap.Int("paths", snapshot.Paths()))

	pipeline := ingest.New(sources, images, cacheRepo, embedder, holder, cfg.Ingest.Workers)
	searchService := service.NewSearchService(holder, embedder, images, cacheRepo, cfg.Search, cfg.Cluster)

	return &app{
		cfg:      cfg,
		db:       dbConn,
		sources:  sources,
		images:   images,
		cache:    cacheRepo,
		embedder: embedder,
		holder:   holder,
		pipeline: pipeline,
		search:   searchService,
	}, nil
}

func runServer(a *app) error {
	deps := handler.RouterDeps{
		Search:   handler.NewSearchHandler(a.search),
		Clusters: handler.NewClusterHandler(a.search),
		Ingest:   handler.NewIngestHandler(a.pipeline),
		Stats:    handler.NewStatsHandler(a.search),
	}
	engine, err := webapi.NewEngine(
		"/api/v1",
		a.cfg.Listen,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(nil),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched := schedule.NewCronScheduler()
	if spec := a.cfg.Ingest.RescanCron; spec != "" {
		if err := sched.AddJob(job.NewIngestJob(a.pipeline), spec); err != nil {
			return err
		}
	}
	if spec := a.cfg.Ingest.CleanupCron; spec != "" {
		if err := sched.AddJob(job.NewCacheCleanupJob(a.cache, a.embedder.ModelVersion()), spec); err != nil {
			return err
		}
	}
	sched.Start(ctx)
	defer sched.Stop()

	if a.cfg.Ingest.Watch {
		watcher := watch.New(ingest.LocalRoots(a.sources), 0, func(ctx context.Context) error {
			_, err := a.pipeline.Run(ctx)
			return err
		})
		if watcher != nil {
			go func() {
				if err := watcher.Run(ctx); err != nil {
					logutil.GetLogger(ctx).Error("watcher stopped", zap.Error(err))
				}
			}()
		}
	}

	logutil.GetLogger(ctx).Info("http server listening", zap.String("addr", a.cfg.Listen))
	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
