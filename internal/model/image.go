package model

// ImageRecord is one indexed file path. Several records may share the same
// ContentDigest when the same bytes live at multiple paths.
type ImageRecord struct {
	Path          string `json:"path"`
	SourceName    string `json:"source_name"`
	ContentDigest string `json:"content_digest"`
	Size          int64  `json:"size"`
	ModTime       int64  `json:"mod_time"`
	Ctime         int64  `json:"ctime"`
	Mtime         int64  `json:"mtime"`
}
