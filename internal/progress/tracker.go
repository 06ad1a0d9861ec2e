package progress

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// estimatedTotal is the assumed wall-clock duration of a full analysis run,
// used to extrapolate progress between explicit updates.
const estimatedTotal = 60 * time.Second

// Snapshot is a point-in-time view of a tracker, shaped for the progress
// stream payload.
type Snapshot struct {
	Progress int    `json:"progress"`
	Status   string `json:"status"`
	Elapsed  int    `json:"elapsed"`
}

// Tracker holds the progress state of one analysis run. All methods are safe
// for concurrent use from the pipeline goroutine and the streaming goroutine.
type Tracker struct {
	mu       sync.Mutex
	progress int
	status   string
	start    time.Time
	now      func() time.Time
}

func newTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		status: "Starting analysis...",
		start:  now(),
		now:    now,
	}
}

// Update replaces the progress value (clamped to [0,100]) and status text.
// Last write wins under concurrent callers.
func (t *Tracker) Update(progress int, status string) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	t.mu.Lock()
	t.progress = progress
	t.status = status
	t.mu.Unlock()
}

// Complete forces progress to 100 unconditionally so a streaming consumer can
// always terminate, even when the run errored internally.
func (t *Tracker) Complete() {
	t.mu.Lock()
	t.progress = 100
	t.status = "Complete"
	t.mu.Unlock()
}

// Snapshot returns the current state. Below 95, the last explicit progress is
// blended with a time-based linear extrapolation toward the estimated total
// duration (capped at 90), taking the max of the two; this keeps a visible
// progress bar moving between explicit updates spaced tens of seconds apart.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := t.now().Sub(t.start)
	actual := t.progress
	if actual < 95 {
		timeBased := int(elapsed.Seconds() / estimatedTotal.Seconds() * 100)
		if timeBased > 90 {
			timeBased = 90
		}
		if timeBased > actual {
			actual = timeBased
		}
	}

	return Snapshot{
		Progress: actual,
		Status:   t.status,
		Elapsed:  int(elapsed.Seconds()),
	}
}

// Registry is a keyed store of live trackers. It is owned by the request
// handling layer and passed by reference into both the pipeline and the
// stream consumer, so tracker lifecycle is tied to requests rather than to
// the process.
type Registry struct {
	mu       sync.Mutex
	trackers map[string]*Tracker
	now      func() time.Time
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{trackers: make(map[string]*Tracker)}
}

// Create allocates a fresh tracker under a globally unique handle.
func (r *Registry) Create() (string, *Tracker) {
	handle := uuid.NewString()
	tracker := newTracker(r.now)
	r.mu.Lock()
	r.trackers[handle] = tracker
	r.mu.Unlock()
	return handle, tracker
}

// Lookup returns the tracker for handle, or nil if it does not exist.
func (r *Registry) Lookup(handle string) *Tracker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trackers[handle]
}

// Destroy removes the tracker from the registry. Must be called once after
// the consumer observes completion, to bound memory.
func (r *Registry) Destroy(handle string) {
	r.mu.Lock()
	delete(r.trackers, handle)
	r.mu.Unlock()
}

// Len reports how many trackers are live.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trackers)
}
