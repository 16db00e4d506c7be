package service

import (
	"context"
	"sort"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/imgidx/internal/ai"
	"github.com/xxxsen/imgidx/internal/cluster"
	"github.com/xxxsen/imgidx/internal/config"
	"github.com/xxxsen/imgidx/internal/index"
	"github.com/xxxsen/imgidx/internal/model"
	appErr "github.com/xxxsen/imgidx/internal/pkg/errors"
	"github.com/xxxsen/imgidx/internal/repo"
	"github.com/xxxsen/imgidx/internal/storage"
)

var ErrAIUnavailable = ai.ErrUnavailable

// SearchService answers queries against whatever snapshot the holder serves
// right now. It never blocks on ingestion: a run publishing mid-query is
// invisible until the next Load.
type SearchService struct {
	holder     *index.Holder
	embedder   ai.IEmbedder
	images     *repo.ImageRepo
	cache      *repo.EmbeddingCacheRepo
	searchCfg  config.SearchConfig
	clusterCfg config.ClusterConfig
}

func NewSearchService(holder *index.Holder, embedder ai.IEmbedder, images *repo.ImageRepo,
	cache *repo.EmbeddingCacheRepo, searchCfg config.SearchConfig, clusterCfg config.ClusterConfig) *SearchService {
	return &SearchService{
		holder:     holder,
		embedder:   embedder,
		images:     images,
		cache:      cache,
		searchCfg:  searchCfg,
		clusterCfg: clusterCfg,
	}
}

// SemanticSearch embeds the query text and ranks every indexed content
// against it. Paths sharing a digest surface as separate hits with the same
// score; an empty query or an empty index yields an empty result.
func (s *SearchService) SemanticSearch(ctx context.Context, query string, topK int, minScore float32) ([]model.SearchHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	topK = s.clampTopK(topK)
	minScore = s.clampMinScore(minScore)

	snapshot := s.holder.Load()
	if snapshot.Digests() == 0 {
		return nil, nil
	}

	vec, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		logutil.GetLogger(ctx).Error("embed search query failed", zap.Error(err))
		return nil, err
	}
	// Rank without a cap; topK applies after digests expand to paths, so
	// duplicates cannot crowd a distinct hit out.
	matches := index.Rank(snapshot, vec, 0, minScore)
	hits := expandMatches(snapshot, matches, "")
	if len(hits) > topK {
		hits = hits[:topK]
	}
	logutil.GetLogger(ctx).Debug("semantic search served",
		zap.String("query", query), zap.Int("hits", len(hits)))
	return hits, nil
}

// SimilarByPath ranks the index against the vector already stored for path.
// The query content itself is excluded, so exact duplicates of the query
// never pad the result.
func (s *SearchService) SimilarByPath(ctx context.Context, path string, topK int) ([]model.SearchHit, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, appErr.ErrInvalid
	}
	topK = s.clampTopK(topK)

	snapshot := s.holder.Load()
	if snapshot.Digests() == 0 {
		return nil, appErr.ErrIndexEmpty
	}
	digest, ok := snapshot.DigestByPath(path)
	if !ok {
		return nil, appErr.ErrNotFound
	}
	entry, ok := snapshot.Lookup(digest)
	if !ok {
		return nil, appErr.ErrNotFound
	}

	matches := index.Rank(snapshot, entry.Vector, 0, 0)
	hits := expandMatches(snapshot, matches, digest)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Clusters groups the indexed contents by embedding density. Zero-valued
// params fall back to the configured defaults.
func (s *SearchService) Clusters(ctx context.Context, params cluster.Params) (*model.ClusterResult, error) {
	if params.MinClusterSize <= 0 {
		params.MinClusterSize = s.clusterCfg.MinClusterSize
	}
	if params.NeighborhoodRadius <= 0 {
		params.NeighborhoodRadius = s.clusterCfg.NeighborhoodRadius
	}
	snapshot := s.holder.Load()
	res := cluster.Clusterize(snapshot.Entries(), params)

	out := &model.ClusterResult{Clusters: make([]model.ClusterView, 0, len(res.Clusters))}
	for _, c := range res.Clusters {
		view := model.ClusterView{ID: c.ID, Size: c.Size}
		for _, digest := range c.Digests {
			if entry, ok := snapshot.Lookup(digest); ok {
				view.Paths = append(view.Paths, entry.Paths...)
			}
		}
		sort.Strings(view.Paths)
		out.Clusters = append(out.Clusters, view)
	}
	for _, digest := range res.Noise {
		if entry, ok := snapshot.Lookup(digest); ok {
			out.Noise = append(out.Noise, entry.Paths...)
		}
	}
	sort.Strings(out.Noise)
	logutil.GetLogger(ctx).Debug("clustering served",
		zap.Int("clusters", len(out.Clusters)), zap.Int("noise", len(out.Noise)))
	return out, nil
}

// Stats combines the live snapshot dimensions with the persisted row counts.
func (s *SearchService) Stats(ctx context.Context) (*model.IndexStats, error) {
	snapshot := s.holder.Load()
	rows, err := s.images.Count(ctx)
	if err != nil {
		return nil, err
	}
	vecs, err := s.cache.Count(ctx)
	if err != nil {
		return nil, err
	}
	return &model.IndexStats{
		Digests:      snapshot.Digests(),
		Paths:        snapshot.Paths(),
		ModelVersion: snapshot.ModelVersion(),
		BuiltAt:      snapshot.BuiltAt().Unix(),
		ImageRows:    rows,
		CachedVecs:   vecs,
	}, nil
}

func (s *SearchService) clampTopK(topK int) int {
	if topK <= 0 {
		return s.searchCfg.DefaultTopK
	}
	if topK > s.searchCfg.MaxTopK {
		return s.searchCfg.MaxTopK
	}
	return topK
}

func (s *SearchService) clampMinScore(minScore float32) float32 {
	if minScore <= 0 {
		return s.searchCfg.MinScore
	}
	if minScore > 1 {
		return 1
	}
	return minScore
}

// expandMatches turns digest matches into per-path hits, skipping
// excludeDigest, ordered by score descending and path ascending.
func expandMatches(snapshot *index.Snapshot, matches []index.Match, excludeDigest string) []model.SearchHit {
	hits := make([]model.SearchHit, 0, len(matches))
	for _, m := range matches {
		if m.Digest == excludeDigest {
			continue
		}
		entry, ok := snapshot.Lookup(m.Digest)
		if !ok {
			continue
		}
		for _, p := range entry.Paths {
			source, _ := storage.SplitPath(p)
			hits = append(hits, model.SearchHit{
				Path:          p,
				SourceName:    source,
				ContentDigest: m.Digest,
				Score:         m.Score,
			})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Path < hits[j].Path
	})
	return hits
}
