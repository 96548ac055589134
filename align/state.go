package align

import (
	"sort"
	"sync"
	"time"
)

// PairingStatus is the latest known state of one pairing
type PairingStatus struct {
	Pairing     string              `json:"pairing"`
	State       AlignmentState      `json:"state"`
	Result      *RegistrationResult `json:"result,omitempty"`
	Diagnostics *Diagnostics        `json:"diagnostics,omitempty"`
	Active      bool                `json:"active"`
	Attempts    int                 `json:"attempts"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

type pairingEntry struct {
	status PairingStatus
	model  *PointCloud
	scan   *PointCloud
}

// StatusTracker tracks alignment attempts per pairing for the HTTP endpoints.
// At most one attempt per pairing is active at a time.
type StatusTracker struct {
	mu       sync.RWMutex
	pairings map[string]*pairingEntry
}

// NewStatusTracker creates an empty tracker
func NewStatusTracker() *StatusTracker {
	return &StatusTracker{pairings: make(map[string]*pairingEntry)}
}

func (st *StatusTracker) entry(id string) *pairingEntry {
	e, ok := st.pairings[id]
	if !ok {
		e = &pairingEntry{status: PairingStatus{
			Pairing: id,
			State:   AlignmentState{Phase: PhaseIdle},
		}}
		st.pairings[id] = e
	}
	return e
}

// TryStart marks an attempt active. It returns false if one is already running.
func (st *StatusTracker) TryStart(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	e := st.entry(id)
	if e.status.Active {
		return false
	}
	e.status.Active = true
	e.status.Attempts++
	e.status.UpdatedAt = time.Now()
	return true
}

// Finish marks the pairing's attempt as no longer active
func (st *StatusTracker) Finish(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	e := st.entry(id)
	e.status.Active = false
	e.status.UpdatedAt = time.Now()
}

// UpdateState records the latest state
func (st *StatusTracker) UpdateState(id string, s AlignmentState) {
	st.mu.Lock()
	defer st.mu.Unlock()
	e := st.entry(id)
	e.status.State = s
	e.status.UpdatedAt = time.Now()
}

// UpdateResult records a completed registration
func (st *StatusTracker) UpdateResult(id string, result RegistrationResult, diag *Diagnostics) {
	st.mu.Lock()
	defer st.mu.Unlock()
	e := st.entry(id)
	e.status.Result = &result
	e.status.Diagnostics = diag
	e.status.UpdatedAt = time.Now()
}

// SetClouds stores the finest model and scan clouds used for overlays
func (st *StatusTracker) SetClouds(id string, model, scan *PointCloud) {
	st.mu.Lock()
	defer st.mu.Unlock()
	e := st.entry(id)
	e.model = model
	e.scan = scan
}

// Clouds returns the stored model and scan clouds
func (st *StatusTracker) Clouds(id string) (model, scan *PointCloud, ok bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	e, found := st.pairings[id]
	if !found || e.model == nil || e.scan == nil {
		return nil, nil, false
	}
	return e.model, e.scan, true
}

// Get returns a copy of a pairing's status
func (st *StatusTracker) Get(id string) (PairingStatus, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	e, ok := st.pairings[id]
	if !ok {
		return PairingStatus{}, false
	}
	return e.status, true
}

// GetAll returns every pairing's status sorted by pairing ID
func (st *StatusTracker) GetAll() []PairingStatus {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]PairingStatus, 0, len(st.pairings))
	for _, e := range st.pairings {
		out = append(out, e.status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pairing < out[j].Pairing })
	return out
}

// Observer returns a coordinator observer recording states for a pairing
func (st *StatusTracker) Observer(id string) Observer {
	return func(s AlignmentState) {
		st.UpdateState(id, s)
	}
}
