package index

import "sync/atomic"

// Holder publishes snapshots. Load is wait-free; Swap is the single point
// where a new index becomes visible.
type Holder struct {
	current atomic.Pointer[Snapshot]
}

func NewHolder(initial *Snapshot) *Holder {
	if initial == nil {
		initial = NewEmptySnapshot("")
	}
	h := &Holder{}
	h.current.Store(initial)
	return h
}

func (h *Holder) Load() *Snapshot {
	return h.current.Load()
}

func (h *Holder) Swap(next *Snapshot) *Snapshot {
	if next == nil {
		return h.current.Load()
	}
	return h.current.Swap(next)
}
