package model

type EmbeddingCache struct {
	ContentDigest string    `json:"content_digest"`
	ModelVersion  string    `json:"model_version"`
	Dim           int       `json:"dim"`
	Embedding     []float32 `json:"embedding"`
	Ctime         int64     `json:"ctime"`
}
