package timeline

import (
	"time"

	"reqscope/internal/event"
)

// Bucket is the half-open interval [Start, End) and the events that fell in
// it. The last bucket of a pass also holds events at exactly End.
type Bucket struct {
	Start  time.Time
	End    time.Time
	Count  int
	Events []event.Event
}

// Aggregate buckets events into the window [now-r.Duration, now].
//
// Every bucket of the window is returned in ascending order, including empty
// ones. Events outside the window are ignored. An event on a boundary belongs
// to the later bucket.
func Aggregate(events []event.Event, r Range, now time.Time) []Bucket {
	n := r.BucketCount()
	if n == 0 {
		return nil
	}

	start := now.Add(-r.Duration)
	buckets := make([]Bucket, n)
	for i := range buckets {
		bs := start.Add(time.Duration(i) * r.BucketWidth)
		be := bs.Add(r.BucketWidth)
		if be.After(now) {
			be = now
		}
		buckets[i] = Bucket{Start: bs, End: be}
	}

	for _, e := range events {
		ts := e.Timestamp
		if ts.Before(start) || ts.After(now) {
			continue
		}
		idx := int(ts.Sub(start) / r.BucketWidth)
		if idx >= n {
			idx = n - 1
		}
		buckets[idx].Count++
		buckets[idx].Events = append(buckets[idx].Events, e)
	}

	return buckets
}

// Total sums bucket counts.
func Total(buckets []Bucket) int {
	total := 0
	for _, b := range buckets {
		total += b.Count
	}
	return total
}

// MaxCount returns the largest bucket count, 0 for no buckets.
func MaxCount(buckets []Bucket) int {
	max := 0
	for _, b := range buckets {
		if b.Count > max {
			max = b.Count
		}
	}
	return max
}
