// Package analytics derives the summary views shown on the analytics and
// dashboard pages from a snapshot of the event buffer.
package analytics

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"reqscope/internal/event"
	"reqscope/internal/timeline"
)

// TopN is the length of the endpoint and error rankings.
const TopN = 5

// StatusClasses is the fixed order of reported status classes.
var StatusClasses = []string{"2xx", "3xx", "4xx", "5xx"}

// MethodCount is the number of requests for one method.
type MethodCount struct {
	Method string `json:"method"`
	Count  int    `json:"count"`
}

// ClassCount is the number of responses in one status class.
type ClassCount struct {
	Class string `json:"class"`
	Count int    `json:"count"`
}

// EndpointStat ranks a request path.
type EndpointStat struct {
	Path       string  `json:"path"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// ErrorStat ranks an error status on a path.
type ErrorStat struct {
	Status int    `json:"status"`
	Class  string `json:"class"`
	Path   string `json:"path"`
	Count  int    `json:"count"`
}

// Summary is the analytics page payload.
type Summary struct {
	TotalRequests  int            `json:"total_requests"`
	AvgResponseMs  int64          `json:"avg_response_ms"`
	UniqueVisitors int            `json:"unique_visitors"`
	Methods        []MethodCount  `json:"methods"`
	StatusClasses  []ClassCount   `json:"status_classes"`
	TopEndpoints   []EndpointStat `json:"top_endpoints"`
	TopErrors      []ErrorStat    `json:"top_errors"`
}

// Summarize computes every summary over events.
func Summarize(events []event.Event) Summary {
	return Summary{
		TotalRequests:  len(events),
		AvgResponseMs:  AverageResponseMs(events),
		UniqueVisitors: UniqueVisitors(events),
		Methods:        Methods(events),
		StatusClasses:  StatusClassCounts(events),
		TopEndpoints:   TopEndpoints(events, TopN),
		TopErrors:      TopErrors(events, TopN),
	}
}

// InRange keeps the events inside r's window ending at now.
func InRange(events []event.Event, r timeline.Range, now time.Time) []event.Event {
	start := now.Add(-r.Duration)
	return lo.Filter(events, func(e event.Event, _ int) bool {
		return !e.Timestamp.Before(start) && !e.Timestamp.After(now)
	})
}

// AverageResponseMs averages positive request-to-response latencies,
// rounded to the nearest millisecond. Events without a usable response
// timestamp are ignored.
func AverageResponseMs(events []event.Event) int64 {
	latencies := lo.FilterMap(events, func(e event.Event, _ int) (time.Duration, bool) {
		return e.Latency()
	})
	if len(latencies) == 0 {
		return 0
	}
	total := lo.Sum(latencies)
	avg := float64(total) / float64(len(latencies)) / float64(time.Millisecond)
	return int64(math.Round(avg))
}

// UniqueVisitors counts distinct non-empty client IPs.
func UniqueVisitors(events []event.Event) int {
	ips := lo.FilterMap(events, func(e event.Event, _ int) (string, bool) {
		ip := e.Log.Request.ClientIP
		return ip, ip != ""
	})
	return len(lo.Uniq(ips))
}

// Methods counts requests per method, most frequent first.
func Methods(events []event.Event) []MethodCount {
	counts := lo.CountValuesBy(events, func(e event.Event) string { return e.Method() })
	out := lo.MapToSlice(counts, func(m string, n int) MethodCount {
		return MethodCount{Method: m, Count: n}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Method < out[j].Method
	})
	return out
}

// StatusClass returns "2xx".."5xx" for status, or "" for anything else.
func StatusClass(status int) string {
	if status < 200 || status >= 600 {
		return ""
	}
	return strconv.Itoa(status/100) + "xx"
}

// StatusClassCounts counts responses per class in fixed 2xx..5xx order.
// Other statuses, including missing responses, are not counted.
func StatusClassCounts(events []event.Event) []ClassCount {
	counts := lo.CountValuesBy(events, func(e event.Event) string { return StatusClass(e.Status()) })
	return lo.Map(StatusClasses, func(class string, _ int) ClassCount {
		return ClassCount{Class: class, Count: counts[class]}
	})
}

// TopEndpoints ranks paths by request count with their share of all
// requests as a percentage rounded to one decimal.
func TopEndpoints(events []event.Event, n int) []EndpointStat {
	if len(events) == 0 {
		return []EndpointStat{}
	}
	counts := lo.CountValuesBy(events, func(e event.Event) string { return e.Path() })
	out := lo.MapToSlice(counts, func(path string, c int) EndpointStat {
		return EndpointStat{Path: path, Count: c, Percentage: round1(float64(c) * 100 / float64(len(events)))}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Path < out[j].Path
	})
	return lo.Subset(out, 0, uint(n))
}

type errorKey struct {
	status int
	path   string
}

// TopErrors ranks (status, path) pairs for responses with status >= 400.
func TopErrors(events []event.Event, n int) []ErrorStat {
	failed := lo.Filter(events, func(e event.Event, _ int) bool { return e.Status() >= 400 })
	counts := lo.CountValuesBy(failed, func(e event.Event) errorKey {
		return errorKey{status: e.Status(), path: e.Path()}
	})
	out := lo.MapToSlice(counts, func(k errorKey, c int) ErrorStat {
		return ErrorStat{Status: k.status, Class: StatusClass(k.status), Path: k.path, Count: c}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].Status != out[j].Status {
			return out[i].Status < out[j].Status
		}
		return out[i].Path < out[j].Path
	})
	return lo.Subset(out, 0, uint(n))
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}

// Query filters the request list.
type Query struct {
	// Search matches case-insensitively against method, URL and status.
	Search string
	// Method keeps only one method; "" or "all" keeps every method.
	Method string
	Limit  int
	Offset int
}

// Page is one page of the request list.
type Page struct {
	Total  int           `json:"total"`
	Events []event.Event `json:"-"`
}

// List filters events and returns them newest first with pagination.
func List(events []event.Event, q Query) Page {
	search := strings.ToLower(strings.TrimSpace(q.Search))
	method := strings.ToUpper(strings.TrimSpace(q.Method))
	if method == "ALL" {
		method = ""
	}

	matched := make([]event.Event, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if method != "" && e.Method() != method {
			continue
		}
		if search != "" && !matches(e, search) {
			continue
		}
		matched = append(matched, e)
	}

	page := Page{Total: len(matched)}
	if q.Offset >= len(matched) {
		return page
	}
	matched = matched[q.Offset:]
	if q.Limit > 0 && q.Limit < len(matched) {
		matched = matched[:q.Limit]
	}
	page.Events = matched
	return page
}

// matches reports whether search occurs in the method, URL or status.
// Logs without a response have no status to match.
func matches(e event.Event, search string) bool {
	if strings.Contains(strings.ToLower(e.Method()), search) ||
		strings.Contains(strings.ToLower(e.Log.Request.URL), search) {
		return true
	}
	return e.Status() != 0 && strings.Contains(strconv.Itoa(e.Status()), search)
}
