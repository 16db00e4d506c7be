// Package index holds the in-memory vector index. A Snapshot is immutable
// once built; ingestion builds the next one off to the side and publishes it
// through the Holder in one pointer swap, so readers never observe a
// half-updated index.
package index

import (
	"sort"
	"time"
)

// Entry is one distinct image content: a digest, its vector, and every path
// currently carrying those bytes.
type Entry struct {
	Digest string
	Vector []float32
	Paths  []string
}

type Snapshot struct {
	entries      []Entry
	byDigest     map[string]int
	digestByPath map[string]string
	pathCount    int
	modelVersion string
	builtAt      time.Time
}

// NewEmptySnapshot is what the Holder serves before the first ingestion run
// publishes anything.
func NewEmptySnapshot(modelVersion string) *Snapshot {
	return &Snapshot{
		byDigest:     map[string]int{},
		digestByPath: map[string]string{},
		modelVersion: modelVersion,
		builtAt:      time.Now(),
	}
}

func (s *Snapshot) Digests() int {
	return len(s.entries)
}

func (s *Snapshot) Paths() int {
	return s.pathCount
}

// Entries returns the digest-ordered entry list. Callers must treat it as
// read-only.
func (s *Snapshot) Entries() []Entry {
	return s.entries
}

func (s *Snapshot) Lookup(digest string) (Entry, bool) {
	i, ok := s.byDigest[digest]
	if !ok {
		return Entry{}, false
	}
	return s.entries[i], true
}

func (s *Snapshot) DigestByPath(path string) (string, bool) {
	digest, ok := s.digestByPath[path]
	return digest, ok
}

func (s *Snapshot) VectorByPath(path string) ([]float32, bool) {
	digest, ok := s.digestByPath[path]
	if !ok {
		return nil, false
	}
	entry, ok := s.Lookup(digest)
	if !ok {
		return nil, false
	}
	return entry.Vector, true
}

func (s *Snapshot) ModelVersion() string {
	return s.modelVersion
}

func (s *Snapshot) BuiltAt() time.Time {
	return s.builtAt
}

// Builder accumulates (digest, vector, path) triples and freezes them into a
// Snapshot. Adding the same digest twice keeps the first vector and merges
// paths.
type Builder struct {
	modelVersion string
	vectors      map[string][]float32
	paths        map[string]map[string]struct{}
}

func NewBuilder(modelVersion string) *Builder {
	return &Builder{
		modelVersion: modelVersion,
		vectors:      map[string][]float32{},
		paths:        map[string]map[string]struct{}{},
	}
}

func (b *Builder) Add(digest string, vector []float32, paths ...string) {
	if digest == "" || len(paths) == 0 {
		return
	}
	if _, ok := b.vectors[digest]; !ok {
		b.vectors[digest] = vector
		b.paths[digest] = map[string]struct{}{}
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		b.paths[digest][p] = struct{}{}
	}
}

func (b *Builder) Len() int {
	return len(b.vectors)
}

func (b *Builder) Build() *Snapshot {
	snapshot := NewEmptySnapshot(b.modelVersion)
	digests := make([]string, 0, len(b.vectors))
	for digest := range b.vectors {
		digests = append(digests, digest)
	}
	sort.Strings(digests)
	snapshot.entries = make([]Entry, 0, len(digests))
	for i, digest := range digests {
		pathSet := b.paths[digest]
		paths := make([]string, 0, len(pathSet))
		for p := range pathSet {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		snapshot.entries = append(snapshot.entries, Entry{
			Digest: digest,
			Vector: b.vectors[digest],
			Paths:  paths,
		})
		snapshot.byDigest[digest] = i
		for _, p := range paths {
			snapshot.digestByPath[p] = digest
		}
		snapshot.pathCount += len(paths)
	}
	return snapshot
}
