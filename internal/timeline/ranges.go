package timeline

import (
	"strings"
	"time"
)

// DefaultRangeID is used when a range id is unknown.
const DefaultRangeID = "1h"

// Range is a named time window with its bucketing parameters.
type Range struct {
	ID          string        `json:"id"`
	Duration    time.Duration `json:"-"`
	BucketWidth time.Duration `json:"-"`
	TickCount   int           `json:"tick_count"`
	LabelFormat string        `json:"label_format"`
}

// BucketCount is the number of buckets spanning the range. A trailing
// partial bucket counts as one.
func (r Range) BucketCount() int {
	if r.BucketWidth <= 0 {
		return 0
	}
	n := int(r.Duration / r.BucketWidth)
	if r.Duration%r.BucketWidth != 0 {
		n++
	}
	return n
}

const (
	labelSeconds = "15:04:05"
	labelMinutes = "15:04"
)

var ranges = []Range{
	{ID: "1m", Duration: time.Minute, BucketWidth: 5 * time.Second, TickCount: 12, LabelFormat: labelSeconds},
	{ID: "5m", Duration: 5 * time.Minute, BucketWidth: 30 * time.Second, TickCount: 10, LabelFormat: labelSeconds},
	{ID: "10m", Duration: 10 * time.Minute, BucketWidth: time.Minute, TickCount: 10, LabelFormat: labelSeconds},
	{ID: "30m", Duration: 30 * time.Minute, BucketWidth: 3 * time.Minute, TickCount: 10, LabelFormat: labelMinutes},
	{ID: "1h", Duration: time.Hour, BucketWidth: 10 * time.Minute, TickCount: 6, LabelFormat: labelMinutes},
	{ID: "2h", Duration: 2 * time.Hour, BucketWidth: 15 * time.Minute, TickCount: 8, LabelFormat: labelMinutes},
	{ID: "6h", Duration: 6 * time.Hour, BucketWidth: 30 * time.Minute, TickCount: 12, LabelFormat: labelMinutes},
	{ID: "12h", Duration: 12 * time.Hour, BucketWidth: time.Hour, TickCount: 12, LabelFormat: labelMinutes},
	{ID: "24h", Duration: 24 * time.Hour, BucketWidth: 30 * time.Minute, TickCount: 12, LabelFormat: labelMinutes},
}

var aliases = map[string]string{
	"1d": "24h",
}

// Resolve maps a range id to its Range. Unknown ids resolve to the default.
func Resolve(id string) Range {
	r, _ := Lookup(id)
	return r
}

// Lookup is Resolve that also reports whether id was known.
func Lookup(id string) (Range, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	if canonical, ok := aliases[id]; ok {
		id = canonical
	}
	for _, r := range ranges {
		if r.ID == id {
			return r, true
		}
	}
	for _, r := range ranges {
		if r.ID == DefaultRangeID {
			return r, false
		}
	}
	panic("timeline: default range missing from table")
}

// Ranges returns the range table in ascending duration order.
func Ranges() []Range {
	out := make([]Range, len(ranges))
	copy(out, ranges)
	return out
}
