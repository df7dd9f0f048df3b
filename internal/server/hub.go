package server

import (
	"sync"
	"time"
)

// Hub caches the latest clock-state transition pushed by the poller for the
// status endpoint. It is the control API's listener registration.
type Hub struct {
	mu         sync.Mutex
	onTheClock bool
	jobcodeID  int64
	remaining  *int64
	updatedAt  time.Time
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{}
}

// OnTheClock records an active-clock transition.
func (h *Hub) OnTheClock(jobcodeID int64, remaining *int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onTheClock = true
	h.jobcodeID = jobcodeID
	h.remaining = remaining
	h.updatedAt = time.Now()
}

// OffTheClock records that the clock stopped.
func (h *Hub) OffTheClock() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onTheClock = false
	h.jobcodeID = 0
	h.remaining = nil
	h.updatedAt = time.Now()
}

type clockState struct {
	OnTheClock bool       `json:"on_the_clock"`
	JobcodeID  int64      `json:"jobcode_id,omitempty"`
	Remaining  *int64     `json:"remaining_seconds"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
}

func (h *Hub) snapshot() clockState {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := clockState{OnTheClock: h.onTheClock, JobcodeID: h.jobcodeID}
	if h.remaining != nil {
		v := *h.remaining
		st.Remaining = &v
	}
	if !h.updatedAt.IsZero() {
		t := h.updatedAt
		st.UpdatedAt = &t
	}
	return st
}
