package timeline

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"reqscope/internal/event"
)

// Result is one aggregation pass. Generation orders passes; a pass with a
// lower generation than the last published one is stale.
type Result struct {
	Generation uint64
	Range      Range
	Now        time.Time
	Buckets    []Bucket
}

// Observer receives aggregation timings. Implementations must be cheap.
type Observer interface {
	ObserveAggregation(d time.Duration, events int)
}

// Options configures a Timeline.
type Options struct {
	Range    string
	Now      func() time.Time
	Observer Observer
	// OnResult is called for every published (non-stale) result.
	OnResult func(Result)
	Logger   *slog.Logger
}

// Timeline owns the event buffer and the active range. Every new event or
// range change triggers a full recompute over a snapshot of the buffer.
type Timeline struct {
	buf      *Buffer
	now      func() time.Time
	observer Observer
	onResult func(Result)
	logger   *slog.Logger

	gen atomic.Uint64

	// pubMu serializes publication so OnResult sees generations in order.
	pubMu sync.Mutex

	mu     sync.Mutex
	active Range
	latest Result
}

// New creates a Timeline over buf.
func New(buf *Buffer, opts Options) *Timeline {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Timeline{
		buf:      buf,
		now:      now,
		observer: opts.Observer,
		onResult: opts.OnResult,
		logger:   logger,
		active:   Resolve(opts.Range),
	}
}

// Buffer returns the owned buffer.
func (t *Timeline) Buffer() *Buffer {
	return t.buf
}

// Range returns the active range.
func (t *Timeline) Range() Range {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Append buffers e and recomputes the active range. A duplicate ID leaves
// the buffer unchanged and returns the latest result.
func (t *Timeline) Append(e event.Event) Result {
	if added, _ := t.buf.Append(e); !added {
		return t.Latest()
	}
	return t.Refresh()
}

// SetRange switches the active range and recomputes. Unknown ids fall back
// to the default range; known reports which happened.
func (t *Timeline) SetRange(id string) (res Result, known bool) {
	r, known := Lookup(id)
	if !known {
		t.logger.Warn("unknown time range, using default", "range", id, "default", r.ID)
	}
	t.mu.Lock()
	t.active = r
	t.mu.Unlock()
	return t.Refresh(), known
}

// Refresh recomputes the active range from the current buffer.
func (t *Timeline) Refresh() Result {
	gen := t.gen.Add(1)
	res := t.compute(gen, t.Range())
	if !t.publish(res) {
		return t.Latest()
	}
	return res
}

// Compute aggregates an arbitrary range without touching the active one.
func (t *Timeline) Compute(r Range) Result {
	return t.compute(0, r)
}

// Latest returns the newest published result.
func (t *Timeline) Latest() Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latest
}

func (t *Timeline) compute(gen uint64, r Range) Result {
	start := time.Now()
	snapshot := t.buf.Snapshot()
	now := t.now()
	buckets := Aggregate(snapshot, r, now)
	if t.observer != nil {
		t.observer.ObserveAggregation(time.Since(start), len(snapshot))
	}
	return Result{Generation: gen, Range: r, Now: now, Buckets: buckets}
}

// publish stores res unless a newer generation already won.
func (t *Timeline) publish(res Result) bool {
	t.pubMu.Lock()
	defer t.pubMu.Unlock()

	t.mu.Lock()
	if latest := t.latest.Generation; res.Generation <= latest {
		t.mu.Unlock()
		t.logger.Debug("discarding stale timeline result",
			"generation", res.Generation, "latest", latest)
		return false
	}
	t.latest = res
	t.mu.Unlock()

	if t.onResult != nil {
		t.onResult(res)
	}
	return true
}
