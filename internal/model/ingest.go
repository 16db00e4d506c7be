package model

const (
	IngestStateIdle        = "idle"
	IngestStateEnumerating = "enumerating"
	IngestStateReconciling = "reconciling"
	IngestStateEmbedding   = "embedding"
	IngestStatePublishing  = "publishing"
)

// IngestStatus is a point-in-time view of the pipeline, safe to serve while a
// run is in flight.
type IngestStatus struct {
	State      string   `json:"state"`
	Running    bool     `json:"running"`
	Listed     int      `json:"listed"`
	Added      int      `json:"added"`
	Updated    int      `json:"updated"`
	Unchanged  int      `json:"unchanged"`
	Embedded   int      `json:"embedded"`
	Reused     int      `json:"reused"`
	Failed     int      `json:"failed"`
	Removed    int      `json:"removed"`
	StartedAt  int64    `json:"started_at"`
	FinishedAt int64    `json:"finished_at"`
	LastError  string   `json:"last_error,omitempty"`
	Errors     []string `json:"errors,omitempty"`
}

// IngestReport summarizes one finished run. Added/Updated/Unchanged/Removed
// count paths; Embedded counts embedding computations (one per distinct new
// digest); Reused counts pending paths satisfied from the persistent cache.
type IngestReport struct {
	Listed    int      `json:"listed"`
	Added     int      `json:"added"`
	Updated   int      `json:"updated"`
	Unchanged int      `json:"unchanged"`
	Embedded  int      `json:"embedded"`
	Reused    int      `json:"reused"`
	Failed    int      `json:"failed"`
	Removed   int      `json:"removed"`
	Digests   int      `json:"digests"`
	Paths     int      `json:"paths"`
	Errors    []string `json:"errors,omitempty"`
}
