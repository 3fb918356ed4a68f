package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"reqscope/internal/analytics"
	"reqscope/internal/chart"
	"reqscope/internal/config"
	"reqscope/internal/feed"
	"reqscope/internal/monitor"
	"reqscope/internal/timeline"
)

// RangeView is a time range as listed by the API.
type RangeView struct {
	ID            string `json:"id"`
	DurationMs    int64  `json:"duration_ms"`
	BucketWidthMs int64  `json:"bucket_width_ms"`
	BucketCount   int    `json:"bucket_count"`
	TickCount     int    `json:"tick_count"`
	LabelFormat   string `json:"label_format"`
}

func newRangeView(r timeline.Range) RangeView {
	return RangeView{
		ID:            r.ID,
		DurationMs:    r.Duration.Milliseconds(),
		BucketWidthMs: r.BucketWidth.Milliseconds(),
		BucketCount:   r.BucketCount(),
		TickCount:     r.TickCount,
		LabelFormat:   r.LabelFormat,
	}
}

// BucketView is one bucket of a timeline response. Members are listed by id.
type BucketView struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Label    string    `json:"label"`
	Count    int       `json:"count"`
	EventIDs []string  `json:"event_ids"`
}

// TimelineView is the timeline payload shared by GET /timeline and the
// "timeline" live event.
type TimelineView struct {
	// Generation is 0 for on-demand results that were not published.
	Generation uint64       `json:"generation"`
	Range      RangeView    `json:"range"`
	Start      time.Time    `json:"start"`
	End        time.Time    `json:"end"`
	Total      int          `json:"total"`
	MaxCount   int          `json:"max_count"`
	Buckets    []BucketView `json:"buckets"`
	// Fallback is set when the requested range was unknown.
	Fallback bool `json:"fallback,omitempty"`
}

// NewTimelineView converts an aggregation result for the API.
func NewTimelineView(res timeline.Result, loc *time.Location) TimelineView {
	if loc == nil {
		loc = time.Local
	}
	v := TimelineView{
		Generation: res.Generation,
		Range:      newRangeView(res.Range),
		Start:      res.Now.Add(-res.Range.Duration),
		End:        res.Now,
		Total:      timeline.Total(res.Buckets),
		MaxCount:   timeline.MaxCount(res.Buckets),
		Buckets:    make([]BucketView, len(res.Buckets)),
	}
	for i, b := range res.Buckets {
		ids := make([]string, len(b.Events))
		for j, e := range b.Events {
			ids[j] = e.ID
		}
		v.Buckets[i] = BucketView{
			Start:    b.Start,
			End:      b.End,
			Label:    b.Start.In(loc).Format(res.Range.LabelFormat),
			Count:    b.Count,
			EventIDs: ids,
		}
	}
	return v
}

// handleRanges lists the selectable time ranges.
// GET /reqscope/api/v1/ranges
func (s *Server) handleRanges(w http.ResponseWriter, r *http.Request) {
	ranges := timeline.Ranges()
	out := make([]RangeView, len(ranges))
	for i, rg := range ranges {
		out[i] = newRangeView(rg)
	}
	s.writeJSON(w, map[string]any{
		"ranges":  out,
		"active":  s.tl.Range().ID,
		"default": timeline.DefaultRangeID,
	})
}

// requestedRange resolves ?range=, defaulting to the active range.
func (s *Server) requestedRange(r *http.Request) (timeline.Range, bool) {
	id := r.URL.Query().Get("range")
	if id == "" {
		return s.tl.Range(), true
	}
	return timeline.Lookup(id)
}

// handleTimeline aggregates the buffer for a range.
// GET /reqscope/api/v1/timeline?range=1h
func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	rg, known := s.requestedRange(r)
	v := NewTimelineView(s.tl.Compute(rg), s.location)
	v.Fallback = !known
	s.writeJSON(w, v)
}

// SetRangeRequest is the body of PUT /timeline/range.
type SetRangeRequest struct {
	Range string `json:"range"`
}

// handleSetRange switches the active range. Unknown ranges fall back to the
// default rather than failing.
// PUT /reqscope/api/v1/timeline/range
func (s *Server) handleSetRange(w http.ResponseWriter, r *http.Request) {
	var req SetRangeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, known := s.tl.SetRange(req.Range)
	v := NewTimelineView(res, s.location)
	v.Fallback = !known
	s.writeJSON(w, v)
}

// handleTimelineSVG renders the chart for a range.
// GET /reqscope/api/v1/timeline.svg?range=1h&width=800&height=300
func (s *Server) handleTimelineSVG(w http.ResponseWriter, r *http.Request) {
	rg, _ := s.requestedRange(r)
	q := r.URL.Query()
	width, err := parseInt(q.Get("width"), 0)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	height, err := parseInt(q.Get("height"), 0)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	layout := chart.New(s.tl.Compute(rg), chart.Options{Width: width, Height: height, Location: s.location})
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-cache")
	if err := chart.RenderSVG(w, layout); err != nil {
		s.logger.Debug("failed to write chart", "err", err)
	}
}

// AnalyticsResponse wraps the summaries with the window they cover.
type AnalyticsResponse struct {
	analytics.Summary
	// Range is empty when the summary covers the whole buffer.
	Range string `json:"range,omitempty"`
}

// handleAnalytics returns the analytics summaries, over the whole buffer
// or over ?range= when given.
// GET /reqscope/api/v1/analytics?range=24h
func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	buf := s.tl.Buffer()
	rangeID := ""
	var rg timeline.Range
	if id := r.URL.Query().Get("range"); id != "" {
		rg = timeline.Resolve(id)
		rangeID = rg.ID
	}

	key := cacheKey(buf.Version(), rangeID)
	if sum, ok := s.analyticsCache.Get(key); ok {
		s.writeJSON(w, AnalyticsResponse{Summary: sum, Range: rangeID})
		return
	}

	events := buf.Snapshot()
	if rangeID != "" {
		events = analytics.InRange(events, rg, s.now())
	}
	sum := analytics.Summarize(events)
	s.analyticsCache.Add(key, sum)
	s.writeJSON(w, AnalyticsResponse{Summary: sum, Range: rangeID})
}

func cacheKey(version uint64, rangeID string) string {
	return rangeID + "@" + strconv.FormatUint(version, 10)
}

// RequestListResponse contains a paginated request list.
type RequestListResponse struct {
	Requests []analytics.Row `json:"requests"`
	Total    int             `json:"total"`
	Limit    int             `json:"limit"`
	Offset   int             `json:"offset"`
}

// handleListRequests returns buffered requests, newest first.
// GET /reqscope/api/v1/requests?q=&method=&limit=50&offset=0
func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseInt(q.Get("limit"), defaultLimit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if limit == 0 || limit > maxLimit {
		limit = maxLimit
	}
	offset, err := parseInt(q.Get("offset"), 0)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page := analytics.List(s.tl.Buffer().Snapshot(), analytics.Query{
		Search: q.Get("q"),
		Method: q.Get("method"),
		Limit:  limit,
		Offset: offset,
	})

	rows := make([]analytics.Row, len(page.Events))
	for i, e := range page.Events {
		rows[i] = analytics.NewRow(e)
	}
	s.writeJSON(w, RequestListResponse{
		Requests: rows,
		Total:    page.Total,
		Limit:    limit,
		Offset:   offset,
	})
}

// handleGetRequest returns full details for one buffered request.
// GET /reqscope/api/v1/requests/{id}
func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request, id string) {
	e, ok := s.tl.Buffer().Get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "request not found")
		return
	}
	s.writeJSON(w, analytics.NewDetail(e))
}

// handleClearRequests drops buffered and persisted requests.
// DELETE /reqscope/api/v1/requests
func (s *Server) handleClearRequests(w http.ResponseWriter, r *http.Request) {
	s.tl.Buffer().Clear()
	if s.session != nil {
		if err := s.session.SaveEvents(r.Context(), nil); err != nil {
			s.logger.Warn("failed to clear persisted requests", "err", err)
		}
	}
	res := s.tl.Refresh()
	s.bus.Publish(monitor.Event{Type: monitor.EventCleared, Data: map[string]string{"scope": "requests"}})
	s.bus.Publish(monitor.Event{Type: monitor.EventTimeline, Data: NewTimelineView(res, s.location)})
	s.logger.Info("cleared buffered requests")
	w.WriteHeader(http.StatusNoContent)
}

// StatusResponse describes the feed, the inspector and persistence.
type StatusResponse struct {
	Feed      *feed.Status          `json:"feed,omitempty"`
	Inspector *monitor.StatusReport `json:"inspector,omitempty"`
	Storage   StorageStatus         `json:"storage"`
	Buffered  int                   `json:"buffered"`
	MaxEvents int                   `json:"max_events"`
	Range     string                `json:"range"`
}

// StorageStatus reports where session data is kept.
type StorageStatus struct {
	Type       config.StorageType `json:"type"`
	MemoryOnly bool               `json:"memory_only"`
}

// handleStatus returns connection and storage status.
// GET /reqscope/api/v1/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	buf := s.tl.Buffer()
	resp := StatusResponse{
		Storage:   StorageStatus{Type: s.cfg.Storage, MemoryOnly: s.session == nil || s.session.MemoryOnly()},
		Buffered:  buf.Len(),
		MaxEvents: buf.Cap(),
		Range:     s.tl.Range().ID,
	}
	if s.feed != nil {
		st := s.feed.Status()
		resp.Feed = &st
	}
	if s.poller != nil {
		if rep, ok := s.poller.Last(); ok {
			resp.Inspector = &rep
		}
	}
	s.writeJSON(w, resp)
}
