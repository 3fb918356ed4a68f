package timeline

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"reqscope/internal/event"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func ev(id string, ts time.Time) event.Event {
	return event.Event{ID: id, Timestamp: ts}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		id        string
		wantID    string
		wantKnown bool
		buckets   int
	}{
		{"1m", "1m", true, 12},
		{"5m", "5m", true, 10},
		{"10m", "10m", true, 10},
		{"30m", "30m", true, 10},
		{"1h", "1h", true, 6},
		{"2h", "2h", true, 8},
		{"6h", "6h", true, 12},
		{"12h", "12h", true, 12},
		{"24h", "24h", true, 48},
		{"1d", "24h", true, 48},
		{" 5M ", "5m", true, 10},
		{"7d", DefaultRangeID, false, 6},
		{"", DefaultRangeID, false, 6},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			r, known := Lookup(tt.id)
			if r.ID != tt.wantID || known != tt.wantKnown {
				t.Errorf("Lookup(%q) = %s,%v want %s,%v", tt.id, r.ID, known, tt.wantID, tt.wantKnown)
			}
			if got := r.BucketCount(); got != tt.buckets {
				t.Errorf("BucketCount() = %d, want %d", got, tt.buckets)
			}
			if Resolve(tt.id) != r {
				t.Error("Resolve and Lookup disagree")
			}
		})
	}
}

func TestRangesTableSane(t *testing.T) {
	prev := time.Duration(0)
	for _, r := range Ranges() {
		if r.BucketWidth <= 0 {
			t.Errorf("%s: zero bucket width", r.ID)
		}
		if r.Duration <= prev {
			t.Errorf("%s: durations not ascending", r.ID)
		}
		if r.TickCount <= 0 || r.LabelFormat == "" {
			t.Errorf("%s: missing tick count or label format", r.ID)
		}
		prev = r.Duration
	}
}

func TestAggregateOneHour(t *testing.T) {
	events := []event.Event{
		ev("a", testNow.Add(-55*time.Minute)),
		ev("b", testNow.Add(-5*time.Minute)),
		ev("c", testNow.Add(-5*time.Minute)),
	}

	buckets := Aggregate(events, Resolve("1h"), testNow)

	if len(buckets) != 6 {
		t.Fatalf("len(buckets) = %d, want 6", len(buckets))
	}
	want := []int{1, 0, 0, 0, 0, 2}
	for i, b := range buckets {
		if b.Count != want[i] {
			t.Errorf("bucket %d count = %d, want %d", i, b.Count, want[i])
		}
		if len(b.Events) != b.Count {
			t.Errorf("bucket %d has %d members for count %d", i, len(b.Events), b.Count)
		}
	}
	if buckets[5].Events[0].ID != "b" || buckets[5].Events[1].ID != "c" {
		t.Errorf("last bucket members = %v", buckets[5].Events)
	}
}

func TestAggregateRangeSwitch(t *testing.T) {
	events := []event.Event{
		ev("a", testNow.Add(-55*time.Minute)),
		ev("b", testNow.Add(-5*time.Minute)),
		ev("c", testNow.Add(-5*time.Minute)),
	}
	buf := NewBuffer(100)
	for _, e := range events {
		buf.Append(e)
	}
	tl := New(buf, Options{Range: "1h", Now: func() time.Time { return testNow }})

	before := tl.Refresh()
	if len(before.Buckets) != 6 {
		t.Fatalf("1h buckets = %d, want 6", len(before.Buckets))
	}

	res, known := tl.SetRange("24h")
	if !known {
		t.Error("24h should be a known range")
	}
	if len(res.Buckets) != 48 {
		t.Fatalf("24h buckets = %d, want 48", len(res.Buckets))
	}
	if got := Total(res.Buckets); got != 3 {
		t.Errorf("Total() = %d, want 3", got)
	}
	if res.Generation <= before.Generation {
		t.Errorf("generation did not advance: %d -> %d", before.Generation, res.Generation)
	}
	if tl.Range().ID != "24h" {
		t.Errorf("active range = %s, want 24h", tl.Range().ID)
	}
}

func TestAggregateEmptyMaterializesAllBuckets(t *testing.T) {
	for _, r := range Ranges() {
		buckets := Aggregate(nil, r, testNow)
		if len(buckets) != r.BucketCount() {
			t.Errorf("%s: len = %d, want %d", r.ID, len(buckets), r.BucketCount())
		}
		if MaxCount(buckets) != 0 {
			t.Errorf("%s: expected all-zero buckets", r.ID)
		}
	}
}

func TestAggregateCoversWindow(t *testing.T) {
	for _, r := range Ranges() {
		buckets := Aggregate(nil, r, testNow)
		if !buckets[0].Start.Equal(testNow.Add(-r.Duration)) {
			t.Errorf("%s: first start = %v", r.ID, buckets[0].Start)
		}
		if !buckets[len(buckets)-1].End.Equal(testNow) {
			t.Errorf("%s: last end = %v", r.ID, buckets[len(buckets)-1].End)
		}
		for i := 1; i < len(buckets); i++ {
			if !buckets[i].Start.Equal(buckets[i-1].End) {
				t.Errorf("%s: gap between bucket %d and %d", r.ID, i-1, i)
			}
			if buckets[i].Start.Before(buckets[i-1].Start) {
				t.Errorf("%s: buckets not ascending", r.ID)
			}
		}
	}
}

func TestAggregateBoundaries(t *testing.T) {
	r := Resolve("1h")
	start := testNow.Add(-r.Duration)

	tests := []struct {
		name   string
		ts     time.Time
		bucket int // -1 means excluded
	}{
		{"window start", start, 0},
		{"first boundary", start.Add(10 * time.Minute), 1},
		{"just before boundary", start.Add(10*time.Minute - time.Nanosecond), 0},
		{"now", testNow, 5},
		{"before window", start.Add(-time.Second), -1},
		{"future", testNow.Add(time.Second), -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buckets := Aggregate([]event.Event{ev("x", tt.ts)}, r, testNow)
			for i, b := range buckets {
				want := 0
				if i == tt.bucket {
					want = 1
				}
				if b.Count != want {
					t.Errorf("bucket %d count = %d, want %d", i, b.Count, want)
				}
			}
		})
	}
}

func TestAggregateUnorderedInput(t *testing.T) {
	events := []event.Event{
		ev("late", testNow.Add(-time.Minute)),
		ev("early", testNow.Add(-59*time.Minute)),
	}
	buckets := Aggregate(events, Resolve("1h"), testNow)
	if buckets[0].Count != 1 || buckets[5].Count != 1 {
		t.Errorf("counts = %d,%d want 1,1", buckets[0].Count, buckets[5].Count)
	}
}

func TestBufferEvictsOldest(t *testing.T) {
	buf := NewBuffer(3)
	for i := 0; i < 5; i++ {
		_, evicted := buf.Append(ev(fmt.Sprintf("e%d", i), testNow))
		if want := i >= 3; evicted != want {
			t.Errorf("Append(%d) evicted = %v, want %v", i, evicted, want)
		}
	}

	snap := buf.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("len(snapshot) = %d, want 3", len(snap))
	}
	for i, want := range []string{"e2", "e3", "e4"} {
		if snap[i].ID != want {
			t.Errorf("snapshot[%d] = %s, want %s", i, snap[i].ID, want)
		}
	}
	if _, ok := buf.Get("e0"); ok {
		t.Error("evicted event still addressable")
	}
	if _, ok := buf.Get("e4"); !ok {
		t.Error("newest event missing")
	}
}

func TestBufferIgnoresRedelivery(t *testing.T) {
	buf := NewBuffer(10)
	first := ev("a", testNow.Add(-2*time.Minute))
	if added, _ := buf.Append(first); !added {
		t.Fatal("first delivery not added")
	}
	v := buf.Version()
	if added, _ := buf.Append(ev("a", testNow)); added {
		t.Error("redelivered event was added")
	}
	buf.Append(ev("b", testNow))

	if buf.Len() != 2 {
		t.Errorf("Len() = %d, want 2", buf.Len())
	}
	if got, _ := buf.Get("a"); !got.Timestamp.Equal(first.Timestamp) {
		t.Errorf("Get(a) = %v, want the first delivery", got.Timestamp)
	}
	if buf.Version() != v+1 {
		t.Errorf("Version() = %d, want %d", buf.Version(), v+1)
	}

	buckets := Aggregate(buf.Snapshot(), Resolve("1h"), testNow)
	if Total(buckets) != 2 {
		t.Errorf("Total = %d, want 2", Total(buckets))
	}

	buf.Replace([]event.Event{ev("x", testNow), ev("x", testNow), ev("y", testNow)})
	if buf.Len() != 2 {
		t.Errorf("Len() after Replace with duplicates = %d, want 2", buf.Len())
	}
}

func TestBufferReplaceKeepsNewest(t *testing.T) {
	buf := NewBuffer(2)
	buf.Append(ev("old", testNow))
	buf.Replace([]event.Event{ev("a", testNow), ev("b", testNow), ev("c", testNow)})

	snap := buf.Snapshot()
	if len(snap) != 2 || snap[0].ID != "b" || snap[1].ID != "c" {
		t.Errorf("snapshot = %v", snap)
	}

	v := buf.Version()
	buf.Clear()
	if buf.Len() != 0 {
		t.Errorf("Len() after Clear = %d", buf.Len())
	}
	if buf.Version() <= v {
		t.Error("Version() did not advance on Clear")
	}
}

func TestSnapshotIsolation(t *testing.T) {
	buf := NewBuffer(10)
	buf.Append(ev("a", testNow))
	snap := buf.Snapshot()
	buf.Append(ev("b", testNow))

	if len(snap) != 1 {
		t.Errorf("snapshot changed after append: len = %d", len(snap))
	}
}

func TestStaleResultDiscarded(t *testing.T) {
	var published []uint64
	tl := New(NewBuffer(10), Options{
		Now:      func() time.Time { return testNow },
		OnResult: func(r Result) { published = append(published, r.Generation) },
	})

	fresh := tl.Refresh()
	if tl.publish(Result{Generation: fresh.Generation - 1, Range: Resolve("24h")}) {
		t.Fatal("stale result should not publish")
	}
	if tl.Latest().Generation != fresh.Generation {
		t.Errorf("Latest().Generation = %d, want %d", tl.Latest().Generation, fresh.Generation)
	}
	if tl.Latest().Range.ID != DefaultRangeID {
		t.Errorf("stale range leaked into latest: %s", tl.Latest().Range.ID)
	}
	if len(published) != 1 {
		t.Errorf("published = %v, want one result", published)
	}
}

func TestConcurrentAppendsPublishInOrder(t *testing.T) {
	var (
		mu   sync.Mutex
		last uint64
		bad  bool
	)
	tl := New(NewBuffer(1000), Options{
		Now: func() time.Time { return testNow },
		OnResult: func(r Result) {
			mu.Lock()
			if r.Generation <= last {
				bad = true
			}
			last = r.Generation
			mu.Unlock()
		},
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				tl.Append(ev(fmt.Sprintf("%d-%d", i, j), testNow.Add(-time.Minute)))
			}
		}(i)
	}
	wg.Wait()

	if bad {
		t.Error("OnResult observed a non-increasing generation")
	}
	if got := Total(tl.Refresh().Buckets); got != 400 {
		t.Errorf("Total() = %d, want 400", got)
	}
}

type countingObserver struct {
	calls int
}

func (o *countingObserver) ObserveAggregation(time.Duration, int) { o.calls++ }

func TestObserverCalled(t *testing.T) {
	obs := &countingObserver{}
	tl := New(NewBuffer(10), Options{Observer: obs})
	tl.Refresh()
	tl.Compute(Resolve("5m"))
	if obs.calls != 2 {
		t.Errorf("observer calls = %d, want 2", obs.calls)
	}
}
