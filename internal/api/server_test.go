package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"reqscope/internal/config"
	"reqscope/internal/event"
	"reqscope/internal/inspector"
	"reqscope/internal/monitor"
	"reqscope/internal/notify"
	"reqscope/internal/storage"
	"reqscope/internal/timeline"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeInspector struct {
	mu   sync.Mutex
	reqs []inspector.ConfigureRequest
	err  error
}

func (f *fakeInspector) Configure(_ context.Context, req inspector.ConfigureRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.err
}

type harness struct {
	srv   *Server
	tl    *timeline.Timeline
	notes *notify.Log
	bus   *monitor.EventBus
	store *storage.MemoryStore
	insp  *fakeInspector
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := func() time.Time { return testNow }
	logger := quietLogger()

	bus := monitor.NewEventBus(64)
	t.Cleanup(bus.Shutdown)

	store := storage.NewMemoryStore()
	session := storage.NewSession(store, storage.SessionOptions{ID: "test", MaxEvents: 100, Logger: logger})
	tl := timeline.New(timeline.NewBuffer(100), timeline.Options{Now: clock, Logger: logger})
	notes := notify.NewLog(notify.Options{Max: 50, Now: clock, Logger: logger})
	insp := &fakeInspector{}

	srv := NewServer(Options{
		Timeline:      tl,
		Session:       session,
		Notifications: notes,
		Bus:           bus,
		Inspector:     insp,
		Config:        config.Config{Storage: config.StorageMemory, CORSAllowOrigin: "*", AnalyticsTTL: time.Minute},
		Logger:        logger,
		Now:           clock,
		Location:      time.UTC,
	})
	return &harness{srv: srv, tl: tl, notes: notes, bus: bus, store: store, insp: insp}
}

func mustEvent(t *testing.T, id, method, path string, status int, age time.Duration) event.Event {
	t.Helper()
	raw := fmt.Sprintf(`{"request": {"id": %q, "method": %q, "url": %q, "timestamp": %q, "client_ip": "10.0.0.1"},
		"response": {"status_code": %d, "headers": {"Content-Type": "application/json"}, "body": "{\"ok\":true}"}}`,
		id, method, path, testNow.Add(-age).Format(time.RFC3339Nano), status)
	e, err := event.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return e
}

func (h *harness) seed(t *testing.T) {
	h.tl.Append(mustEvent(t, "a", "GET", "/users", 200, 55*time.Minute))
	h.tl.Append(mustEvent(t, "b", "POST", "/users", 201, 5*time.Minute))
	h.tl.Append(mustEvent(t, "c", "GET", "/orders/1", 404, 5*time.Minute))
}

func (h *harness) do(method, target, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	h.srv.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
	return v
}

func TestRanges(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodGet, APIPrefix+"/ranges", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode[struct {
		Ranges []RangeView `json:"ranges"`
		Active string      `json:"active"`
	}](t, w)
	if len(resp.Ranges) != 9 || resp.Active != "1h" {
		t.Errorf("ranges = %d active = %q", len(resp.Ranges), resp.Active)
	}
	if resp.Ranges[8].ID != "24h" || resp.Ranges[8].BucketCount != 48 {
		t.Errorf("last range = %+v", resp.Ranges[8])
	}
}

func TestTimeline(t *testing.T) {
	h := newHarness(t)
	h.seed(t)

	tests := []struct {
		query    string
		rangeID  string
		buckets  int
		total    int
		fallback bool
	}{
		{"", "1h", 6, 3, false},
		{"?range=24h", "24h", 48, 3, false},
		{"?range=1d", "24h", 48, 3, false},
		{"?range=10m", "10m", 10, 2, false},
		{"?range=bogus", "1h", 6, 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := h.do(http.MethodGet, APIPrefix+"/timeline"+tt.query, "", "")
			v := decode[TimelineView](t, w)
			if v.Range.ID != tt.rangeID || len(v.Buckets) != tt.buckets || v.Total != tt.total || v.Fallback != tt.fallback {
				t.Errorf("got range=%s buckets=%d total=%d fallback=%v", v.Range.ID, len(v.Buckets), v.Total, v.Fallback)
			}
		})
	}

	w := h.do(http.MethodGet, APIPrefix+"/timeline", "", "")
	v := decode[TimelineView](t, w)
	counts := make([]int, len(v.Buckets))
	for i, b := range v.Buckets {
		counts[i] = b.Count
	}
	if fmt.Sprint(counts) != "[1 0 0 0 0 2]" {
		t.Errorf("counts = %v, want [1 0 0 0 0 2]", counts)
	}
	if got := v.Buckets[5].EventIDs; len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("last bucket members = %v", got)
	}
	if v.Buckets[0].Label != "11:00" {
		t.Errorf("first label = %q", v.Buckets[0].Label)
	}
}

func TestSetRange(t *testing.T) {
	h := newHarness(t)
	h.seed(t)

	w := h.do(http.MethodPut, APIPrefix+"/timeline/range", "application/json", `{"range": "5m"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	v := decode[TimelineView](t, w)
	if v.Range.ID != "5m" || v.Generation == 0 || h.tl.Range().ID != "5m" {
		t.Errorf("view = %s gen %d, active = %s", v.Range.ID, v.Generation, h.tl.Range().ID)
	}

	w = h.do(http.MethodPut, APIPrefix+"/timeline/range", "application/json", `{"range": "3y"}`)
	v = decode[TimelineView](t, w)
	if !v.Fallback || h.tl.Range().ID != "1h" {
		t.Errorf("unknown range: fallback=%v active=%s", v.Fallback, h.tl.Range().ID)
	}

	if w := h.do(http.MethodPut, APIPrefix+"/timeline/range", "application/json", `{`); w.Code != http.StatusBadRequest {
		t.Errorf("bad body status = %d", w.Code)
	}
}

func TestTimelineSVG(t *testing.T) {
	h := newHarness(t)
	h.seed(t)

	w := h.do(http.MethodGet, APIPrefix+"/timeline.svg?range=1h&width=400", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/svg+xml" {
		t.Errorf("Content-Type = %q", ct)
	}
	if body := w.Body.String(); !strings.Contains(body, `width="400"`) || strings.Count(body, "<circle") != 6 {
		t.Errorf("unexpected svg: %.200s", body)
	}

	small := h.do(http.MethodGet, APIPrefix+"/timeline.svg?range=1h&width=10&height=10", "", "")
	if body := small.Body.String(); !strings.Contains(body, `width="168"`) || !strings.Contains(body, `height="160"`) {
		t.Errorf("small chart not clamped: %.200s", body)
	}

	if w := h.do(http.MethodGet, APIPrefix+"/timeline.svg?width=wide", "", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad width status = %d", w.Code)
	}
}

func TestAnalytics(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	h.tl.Append(mustEvent(t, "old", "GET", "/old", 500, 3*time.Hour))

	w := h.do(http.MethodGet, APIPrefix+"/analytics", "", "")
	all := decode[AnalyticsResponse](t, w)
	if all.TotalRequests != 4 || all.Range != "" {
		t.Errorf("all: total=%d range=%q", all.TotalRequests, all.Range)
	}

	w = h.do(http.MethodGet, APIPrefix+"/analytics?range=1h", "", "")
	hour := decode[AnalyticsResponse](t, w)
	if hour.TotalRequests != 3 || hour.Range != "1h" {
		t.Errorf("1h: total=%d range=%q", hour.TotalRequests, hour.Range)
	}
	if len(hour.TopErrors) != 1 || hour.TopErrors[0].Status != 404 {
		t.Errorf("1h top errors = %+v", hour.TopErrors)
	}

	// A new event moves the buffer version, so the cache must not serve
	// the old summary.
	h.tl.Append(mustEvent(t, "d", "GET", "/users", 200, time.Minute))
	w = h.do(http.MethodGet, APIPrefix+"/analytics", "", "")
	if got := decode[AnalyticsResponse](t, w); got.TotalRequests != 5 {
		t.Errorf("after append total = %d, want 5", got.TotalRequests)
	}
}

func TestRequests(t *testing.T) {
	h := newHarness(t)
	h.seed(t)

	w := h.do(http.MethodGet, APIPrefix+"/requests?method=GET&limit=10", "", "")
	list := decode[RequestListResponse](t, w)
	if list.Total != 2 || len(list.Requests) != 2 || list.Requests[0].ID != "c" {
		t.Errorf("list = %+v", list)
	}

	if w := h.do(http.MethodGet, APIPrefix+"/requests?limit=-1", "", ""); w.Code != http.StatusBadRequest {
		t.Errorf("negative limit status = %d", w.Code)
	}

	w = h.do(http.MethodGet, APIPrefix+"/requests/b", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("detail status = %d", w.Code)
	}
	var detail struct {
		ID       string `json:"id"`
		Method   string `json:"method"`
		Response struct {
			Body string `json:"body"`
			JSON bool   `json:"json"`
		} `json:"response"`
	}
	if err := json.NewDecoder(w.Body).Decode(&detail); err != nil {
		t.Fatal(err)
	}
	if detail.ID != "b" || detail.Method != "POST" || !detail.Response.JSON {
		t.Errorf("detail = %+v", detail)
	}

	if w := h.do(http.MethodGet, APIPrefix+"/requests/missing", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing status = %d", w.Code)
	}

	if w := h.do(http.MethodDelete, APIPrefix+"/requests", "", ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	if n := h.tl.Buffer().Len(); n != 0 {
		t.Errorf("buffer len after delete = %d", n)
	}
	raw, err := h.store.Get(context.Background(), "test:"+storage.KeyRequestData)
	if err != nil || string(raw) != "[]" {
		t.Errorf("persisted after delete = %q, %v", raw, err)
	}
}

func TestNotifications(t *testing.T) {
	h := newHarness(t)
	warn := h.notes.Warn("Feed reconnecting")
	h.notes.Error("Failed to update configuration", "connection refused")
	h.notes.Info("Restored 3 requests")

	w := h.do(http.MethodGet, APIPrefix+"/notifications?type=error", "", "")
	list := decode[NotificationListResponse](t, w)
	if len(list.Notifications) != 1 || list.Notifications[0].Type != notify.TypeError {
		t.Errorf("filtered = %+v", list.Notifications)
	}
	if list.Counts[notify.TypeWarning] != 1 {
		t.Errorf("counts = %v", list.Counts)
	}
	if list.Notifications[0].Relative != "just now" {
		t.Errorf("relative = %q", list.Notifications[0].Relative)
	}

	w = h.do(http.MethodGet, APIPrefix+"/notifications?q=refused", "", "")
	if got := decode[NotificationListResponse](t, w); len(got.Notifications) != 1 {
		t.Errorf("search results = %d", len(got.Notifications))
	}

	if w := h.do(http.MethodGet, APIPrefix+"/notifications?type=fatal", "", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad type status = %d", w.Code)
	}

	w = h.do(http.MethodGet, APIPrefix+"/notifications/"+warn.ID, "", "")
	if got := decode[NotificationView](t, w); got.Message != "Feed reconnecting" {
		t.Errorf("get = %+v", got)
	}
	if w := h.do(http.MethodGet, APIPrefix+"/notifications/nope", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing status = %d", w.Code)
	}

	w = h.do(http.MethodGet, APIPrefix+"/notifications/export", "", "")
	if cd := w.Header().Get("Content-Disposition"); !strings.HasPrefix(cd, "attachment") || !strings.Contains(cd, "notifications-") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	var export notify.Export
	if err := json.NewDecoder(w.Body).Decode(&export); err != nil || len(export.Notifications) != 3 {
		t.Errorf("export = %+v, %v", export, err)
	}

	if w := h.do(http.MethodDelete, APIPrefix+"/notifications", "", ""); w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", w.Code)
	}
	if n := len(h.notes.List(notify.Filter{})); n != 0 {
		t.Errorf("notifications after delete = %d", n)
	}
}

func TestConfigure(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	h.notes.Warn("old warning")

	form := url.Values{"port": {"3000"}, "zrok_option": {"public"}, "zrok_port": {"8080"}}
	w := h.do(http.MethodPost, APIPrefix+"/configure", "application/x-www-form-urlencoded", form.Encode())
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", w.Code, w.Body.String())
	}
	if len(h.insp.reqs) != 1 || h.insp.reqs[0] != (inspector.ConfigureRequest{Port: 3000, ZrokOption: "public", ZrokPort: 8080}) {
		t.Errorf("forwarded = %+v", h.insp.reqs)
	}
	if n := h.tl.Buffer().Len(); n != 0 {
		t.Errorf("buffer not cleared: %d", n)
	}
	notes := h.notes.List(notify.Filter{})
	if len(notes) != 1 || notes[0].Type != notify.TypeSuccess {
		t.Errorf("notifications after configure = %+v", notes)
	}
}

func TestConfigureJSONAndErrors(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodPost, APIPrefix+"/configure", "application/json", `{"port": 8081}`)
	if w.Code != http.StatusOK || h.insp.reqs[0].Port != 8081 {
		t.Errorf("json configure: status %d reqs %+v", w.Code, h.insp.reqs)
	}

	tests := []struct {
		name string
		ct   string
		body string
		want int
	}{
		{"missing port", "application/x-www-form-urlencoded", "", http.StatusBadRequest},
		{"port out of range", "application/x-www-form-urlencoded", "port=70000", http.StatusBadRequest},
		{"bad zrok port", "application/x-www-form-urlencoded", "port=80&zrok_port=x", http.StatusBadRequest},
		{"bad json", "application/json", "{", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := h.do(http.MethodPost, APIPrefix+"/configure", tt.ct, tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}

	h.seed(t)
	h.insp.err = errors.New("/configure status 500: boom")
	w = h.do(http.MethodPost, APIPrefix+"/configure", "application/x-www-form-urlencoded", "port=9000")
	if w.Code != http.StatusBadGateway {
		t.Errorf("upstream failure status = %d", w.Code)
	}
	if h.tl.Buffer().Len() != 3 {
		t.Error("failed configure must keep buffered data")
	}
	errs := h.notes.List(notify.Filter{Type: notify.TypeError})
	if len(errs) != 1 || !strings.Contains(errs[0].Details, "boom") {
		t.Errorf("error notifications = %+v", errs)
	}
}

func TestStatus(t *testing.T) {
	h := newHarness(t)
	h.seed(t)

	w := h.do(http.MethodGet, APIPrefix+"/status", "", "")
	resp := decode[StatusResponse](t, w)
	if resp.Buffered != 3 || resp.MaxEvents != 100 || resp.Range != "1h" {
		t.Errorf("status = %+v", resp)
	}
	if resp.Storage.Type != config.StorageMemory || resp.Storage.MemoryOnly {
		t.Errorf("storage = %+v", resp.Storage)
	}
	if resp.Feed != nil || resp.Inspector != nil {
		t.Error("feed and inspector should be omitted when not wired")
	}
}

func TestCORSAndRouting(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodOptions, APIPrefix+"/requests", "", "")
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight = %d %v", w.Code, w.Header())
	}
	if w := h.do(http.MethodGet, APIPrefix+"/nope", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown path status = %d", w.Code)
	}
	if w := h.do(http.MethodGet, "/elsewhere", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("foreign path status = %d", w.Code)
	}
}

func TestEventsStream(t *testing.T) {
	h := newHarness(t)
	ts := httptest.NewServer(h.srv)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+APIPrefix+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	if err != nil || line != ": connected\n" {
		t.Fatalf("first line = %q, %v", line, err)
	}

	h.bus.Publish(monitor.Event{Type: monitor.EventNotification, Data: map[string]string{"message": "hi"}})

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if line == "event: notification\n" {
			data, _ := r.ReadString('\n')
			if !strings.HasPrefix(data, "data: ") || !strings.Contains(data, `"message":"hi"`) {
				t.Errorf("data line = %q", data)
			}
			return
		}
	}
}
