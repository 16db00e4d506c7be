// Package ingest reconciles the configured storage sources against the
// persisted record set and publishes a fresh vector index snapshot.
//
// A run walks four states. Enumerating lists every source; reconciling
// classifies each listed path against the stored rows, digesting only the
// files that size+mtime cannot vouch for; embedding computes vectors for the
// digests the cache does not cover; publishing writes the row changes and
// swaps the snapshot pointer. Nothing before publishing touches the queryable
// state, so a failed or cancelled run leaves the previous snapshot intact.
package ingest

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xxxsen/imgidx/internal/ai"
	"github.com/xxxsen/imgidx/internal/fingerprint"
	"github.com/xxxsen/imgidx/internal/index"
	"github.com/xxxsen/imgidx/internal/model"
	appErr "github.com/xxxsen/imgidx/internal/pkg/errors"
	"github.com/xxxsen/imgidx/internal/repo"
	"github.com/xxxsen/imgidx/internal/storage"
)

// maxReportErrors bounds the failure sample carried in status and reports.
const maxReportErrors = 10

type Pipeline struct {
	sources  []Source
	images   *repo.ImageRepo
	cache    *repo.EmbeddingCacheRepo
	embedder ai.IEmbedder
	holder   *index.Holder
	workers  int

	mu       sync.Mutex
	running  bool
	progress model.IngestStatus
}

func New(sources []Source, images *repo.ImageRepo, cache *repo.EmbeddingCacheRepo, embedder ai.IEmbedder, holder *index.Holder, workers int) *Pipeline {
	if workers <= 0 {
		workers = 4
	}
	return &Pipeline{
		sources:  sources,
		images:   images,
		cache:    cache,
		embedder: embedder,
		holder:   holder,
		workers:  workers,
		progress: model.IngestStatus{State: model.IngestStateIdle},
	}
}

type listedFile struct {
	source   string
	provider storage.Provider
	relPath  string
	path     string
	size     int64
	modTime  int64
}

type entryKind uint8

const (
	entryUnchanged entryKind = iota
	entryRefresh             // same digest, stale size/mtime on the row
	entryAdded
	entryUpdated
)

// entry is one listed path after reconciliation: its digest, the stored row
// it matched (nil when new), and how it classified.
type entry struct {
	file   listedFile
	digest string
	prior  *model.ImageRecord
	kind   entryKind
	// readFailed marks entries whose content could not be read this run.
	// They survive on their prior row and never serve as an embed source.
	readFailed bool
}

func (e entry) needsWrite() bool {
	return !e.readFailed && e.kind != entryUnchanged
}

// Run executes one full ingestion pass. Only one run may be in flight; a
// concurrent call returns ErrIngestRunning immediately.
func (p *Pipeline) Run(ctx context.Context) (*model.IngestReport, error) {
	if !p.tryBegin() {
		return nil, appErr.ErrIngestRunning
	}
	report, err := p.run(ctx)
	p.finish(err)
	return report, err
}

// Status returns a copy of the live progress counters.
func (p *Pipeline) Status() model.IngestStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	status := p.progress
	status.Errors = append([]string(nil), p.progress.Errors...)
	return status
}

func (p *Pipeline) run(ctx context.Context) (*model.IngestReport, error) {
	logger := logutil.GetLogger(ctx)
	start := time.Now()

	listing, err := p.enumerate(ctx)
	if err != nil {
		return nil, err
	}

	p.setState(model.IngestStateReconciling)
	known, err := p.images.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load image records: %w", err)
	}
	entries, removed, err := p.reconcile(ctx, listing, known)
	if err != nil {
		return nil, err
	}

	p.setState(model.IngestStateEmbedding)
	vectors, err := p.resolveVectors(ctx, entries)
	if err != nil {
		return nil, err
	}
	entries = p.dropVectorless(entries, vectors)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.setState(model.IngestStatePublishing)
	snapshot, err := p.publish(ctx, entries, removed, vectors)
	if err != nil {
		return nil, err
	}

	report := p.buildReport(snapshot)
	logger.Info("ingest run finished",
		zap.Int("listed", report.Listed),
		zap.Int("added", report.Added),
		zap.Int("updated", report.Updated),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("embedded", report.Embedded),
		zap.Int("reused", report.Reused),
		zap.Int("failed", report.Failed),
		zap.Int("removed", report.Removed),
		zap.Int("digests", report.Digests),
		zap.Int("paths", report.Paths),
		zap.Duration("duration", time.Since(start)),
	)
	return report, nil
}

// enumerate lists every source. An unreachable source fails the whole run:
// publishing a snapshot with one source missing would look like a mass
// removal.
func (p *Pipeline) enumerate(ctx context.Context) ([]listedFile, error) {
	var listing []listedFile
	for _, src := range p.sources {
		files, err := src.Provider.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", appErr.ErrSourceUnreachable, src.Name, err)
		}
		for _, f := range files {
			listing = append(listing, listedFile{
				source:   src.Name,
				provider: src.Provider,
				relPath:  f.Path,
				path:     storage.JoinPath(src.Name, f.Path),
				size:     f.Size,
				modTime:  f.ModTime.Unix(),
			})
		}
		logutil.GetLogger(ctx).Debug("source enumerated",
			zap.String("source", src.Name), zap.Int("files", len(files)))
	}
	p.update(func(s *model.IngestStatus) { s.Listed = len(listing) })
	return listing, nil
}

func (p *Pipeline) reconcile(ctx context.Context, listing []listedFile, known []model.ImageRecord) ([]entry, []string, error) {
	knownByPath := make(map[string]*model.ImageRecord, len(known))
	for i := range known {
		knownByPath[known[i].Path] = &known[i]
	}

	listedPaths := make(map[string]struct{}, len(listing))
	entries := make([]entry, 0, len(listing))
	var pending []listedFile
	var priors []*model.ImageRecord
	for _, lf := range listing {
		listedPaths[lf.path] = struct{}{}
		prior := knownByPath[lf.path]
		if prior != nil && prior.Size == lf.size && prior.ModTime == lf.modTime {
			// Size and mtime vouch for the content; reuse the stored digest
			// without touching the file.
			entries = append(entries, entry{file: lf, digest: prior.ContentDigest, prior: prior})
			p.update(func(s *model.IngestStatus) { s.Unchanged++ })
			continue
		}
		pending = append(pending, lf)
		priors = append(priors, prior)
	}

	var removed []string
	for _, rec := range known {
		if _, ok := listedPaths[rec.Path]; !ok {
			removed = append(removed, rec.Path)
		}
	}
	sort.Strings(removed)
	p.update(func(s *model.IngestStatus) { s.Removed = len(removed) })

	digested, err := p.digestAll(ctx, pending, priors)
	if err != nil {
		return nil, nil, err
	}
	return append(entries, digested...), removed, nil
}

// digestAll reads every pending file and resolves its digest, bounded by the
// worker limit. Unreadable entries fall back to their prior row when one
// exists; unreadable new entries are dropped.
func (p *Pipeline) digestAll(ctx context.Context, pending []listedFile, priors []*model.ImageRecord) ([]entry, error) {
	if len(pending) == 0 {
		return nil, nil
	}
	results := make([]entry, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i := range pending {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			lf := pending[i]
			digest, err := p.digestOne(gctx, lf)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				p.recordFailure(lf.path, "read", err)
				if priors[i] != nil {
					results[i] = entry{file: lf, digest: priors[i].ContentDigest, prior: priors[i], readFailed: true}
				}
				return nil
			}
			results[i] = entry{file: lf, digest: digest, prior: priors[i]}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	entries := make([]entry, 0, len(results))
	for _, e := range results {
		if e.digest == "" {
			continue // unreadable new entry, already reported
		}
		if e.readFailed {
			entries = append(entries, e)
			continue
		}
		switch {
		case e.prior == nil:
			e.kind = entryAdded
			p.update(func(s *model.IngestStatus) { s.Added++ })
		case e.digest == e.prior.ContentDigest:
			// Content held still while mtime or size moved; refresh the row
			// so the next run takes the fast path again.
			e.kind = entryRefresh
			p.update(func(s *model.IngestStatus) { s.Unchanged++ })
		default:
			e.kind = entryUpdated
			p.update(func(s *model.IngestStatus) { s.Updated++ })
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (p *Pipeline) digestOne(ctx context.Context, lf listedFile) (string, error) {
	rc, err := lf.provider.Open(ctx, lf.relPath)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	return fingerprint.Digest(rc)
}

// resolveVectors makes sure every entry digest has a vector under the active
// model: cached ones are batch-loaded, the rest embedded through the
// decorated embedder, which persists what it computes. Embedding failures are
// per-entry; only cancellation or a cache read error aborts the run.
func (p *Pipeline) resolveVectors(ctx context.Context, entries []entry) (map[string][]float32, error) {
	modelVersion := p.embedder.ModelVersion()
	digests := make([]string, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.digest]; !ok {
			seen[e.digest] = struct{}{}
			digests = append(digests, e.digest)
		}
	}
	sort.Strings(digests)

	vectors, err := p.cache.GetBatch(ctx, modelVersion, digests)
	if err != nil {
		return nil, fmt.Errorf("load cached embeddings: %w", err)
	}

	// Added/updated paths whose digest the cache already covers cost no
	// embed call; surface that in the report.
	reused := 0
	for _, e := range entries {
		if e.kind != entryAdded && e.kind != entryUpdated {
			continue
		}
		if _, ok := vectors[e.digest]; ok {
			reused++
		}
	}
	p.update(func(s *model.IngestStatus) { s.Reused = reused })

	var missing []string
	for _, digest := range digests {
		if _, ok := vectors[digest]; !ok {
			missing = append(missing, digest)
		}
	}
	if len(missing) == 0 {
		return vectors, nil
	}

	// The first readable entry carrying a missing digest becomes its byte
	// source; duplicates ride along for free.
	byDigest := make(map[string]listedFile, len(missing))
	for _, e := range entries {
		if e.readFailed {
			continue
		}
		if _, ok := vectors[e.digest]; ok {
			continue
		}
		if _, ok := byDigest[e.digest]; !ok {
			byDigest[e.digest] = e.file
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, digest := range missing {
		lf, ok := byDigest[digest]
		if !ok {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			vec, err := p.embedOne(gctx, lf)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				p.noteError(lf.path, "embed", err)
				return nil
			}
			mu.Lock()
			vectors[digest] = vec
			mu.Unlock()
			p.update(func(s *model.IngestStatus) { s.Embedded++ })
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (p *Pipeline) embedOne(ctx context.Context, lf listedFile) ([]float32, error) {
	rc, err := lf.provider.Open(ctx, lf.relPath)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(rc)
	closeErr := rc.Close()
	if err != nil {
		return nil, err
	}
	if closeErr != nil {
		return nil, closeErr
	}
	return p.embedder.EmbedImage(ctx, data, mimeOf(lf.relPath))
}

func mimeOf(relPath string) string {
	if m := mime.TypeByExtension(path.Ext(relPath)); m != "" {
		return m
	}
	return "application/octet-stream"
}

// dropVectorless removes entries whose digest ended up without a vector
// (failed embed, or an unreadable file under a fresh model). An updated path
// whose new bytes failed reverts to its prior row when the old vector is
// still around, so the last good content stays searchable.
func (p *Pipeline) dropVectorless(entries []entry, vectors map[string][]float32) []entry {
	kept := entries[:0]
	for _, e := range entries {
		if _, ok := vectors[e.digest]; ok {
			kept = append(kept, e)
			continue
		}
		p.countDropped(e)
		if e.prior != nil && e.digest != e.prior.ContentDigest {
			if _, ok := vectors[e.prior.ContentDigest]; ok {
				kept = append(kept, entry{
					file:       e.file,
					digest:     e.prior.ContentDigest,
					prior:      e.prior,
					readFailed: e.readFailed,
				})
			}
		}
	}
	return kept
}

func (p *Pipeline) countDropped(e entry) {
	if e.readFailed {
		return // already counted when the read failed
	}
	p.update(func(s *model.IngestStatus) {
		s.Failed++
		switch e.kind {
		case entryAdded:
			s.Added--
		case entryUpdated:
			s.Updated--
		default:
			s.Unchanged--
		}
	})
}

// publish writes the reconciled rows and swaps the snapshot. Writes run on a
// detached context: once publishing starts it completes even if the caller
// cancels.
func (p *Pipeline) publish(ctx context.Context, entries []entry, removed []string, vectors map[string][]float32) (*index.Snapshot, error) {
	writeCtx := context.WithoutCancel(ctx)
	now := time.Now().Unix()

	builder := index.NewBuilder(p.embedder.ModelVersion())
	for _, e := range entries {
		builder.Add(e.digest, vectors[e.digest], e.file.path)
		if !e.needsWrite() {
			continue
		}
		rec := &model.ImageRecord{
			Path:          e.file.path,
			SourceName:    e.file.source,
			ContentDigest: e.digest,
			Size:          e.file.size,
			ModTime:       e.file.modTime,
			Ctime:         now,
			Mtime:         now,
		}
		if e.prior != nil {
			rec.Ctime = e.prior.Ctime
		}
		if err := p.images.Upsert(writeCtx, rec); err != nil {
			return nil, fmt.Errorf("store image record %s: %w", e.file.path, err)
		}
	}
	if len(removed) > 0 {
		if _, err := p.images.DeleteByPaths(writeCtx, removed); err != nil {
			return nil, fmt.Errorf("delete removed records: %w", err)
		}
	}

	snapshot := builder.Build()
	p.holder.Swap(snapshot)
	return snapshot, nil
}

func (p *Pipeline) buildReport(snapshot *index.Snapshot) *model.IngestReport {
	s := p.Status()
	return &model.IngestReport{
		Listed:    s.Listed,
		Added:     s.Added,
		Updated:   s.Updated,
		Unchanged: s.Unchanged,
		Embedded:  s.Embedded,
		Reused:    s.Reused,
		Failed:    s.Failed,
		Removed:   s.Removed,
		Digests:   snapshot.Digests(),
		Paths:     snapshot.Paths(),
		Errors:    s.Errors,
	}
}

func (p *Pipeline) tryBegin() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return false
	}
	p.running = true
	p.progress = model.IngestStatus{
		State:     model.IngestStateEnumerating,
		Running:   true,
		StartedAt: time.Now().Unix(),
	}
	return true
}

func (p *Pipeline) finish(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	p.progress.Running = false
	p.progress.State = model.IngestStateIdle
	p.progress.FinishedAt = time.Now().Unix()
	if err != nil {
		p.progress.LastError = err.Error()
	}
}

func (p *Pipeline) setState(state string) {
	p.mu.Lock()
	p.progress.State = state
	p.mu.Unlock()
}

func (p *Pipeline) update(fn func(*model.IngestStatus)) {
	p.mu.Lock()
	fn(&p.progress)
	p.mu.Unlock()
}

// recordFailure counts one skipped entry and keeps a bounded reason sample.
func (p *Pipeline) recordFailure(filePath, stage string, err error) {
	p.update(func(s *model.IngestStatus) {
		s.Failed++
		appendErrorLocked(s, filePath, stage, err)
	})
}

// noteError keeps the reason without counting; used where the affected paths
// are counted separately.
func (p *Pipeline) noteError(filePath, stage string, err error) {
	p.update(func(s *model.IngestStatus) {
		appendErrorLocked(s, filePath, stage, err)
	})
}

func appendErrorLocked(s *model.IngestStatus, filePath, stage string, err error) {
	if len(s.Errors) >= maxReportErrors {
		return
	}
	s.Errors = append(s.Errors, fmt.Sprintf("%s: %s: %v", filePath, stage, err))
}
