package model

// SearchHit is one ranked path. Paths sharing a content digest appear as
// separate hits with the same score.
type SearchHit struct {
	Path          string  `json:"path"`
	SourceName    string  `json:"source_name"`
	ContentDigest string  `json:"content_digest"`
	Score         float32 `json:"score"`
}

type IndexStats struct {
	Digests      int    `json:"digests"`
	Paths        int    `json:"paths"`
	ModelVersion string `json:"model_version"`
	BuiltAt      int64  `json:"built_at"`
	ImageRows    int64  `json:"image_rows"`
	CachedVecs   int64  `json:"cached_vecs"`
}
