// Package api provides the versioned REST API for the dashboard.
// All endpoints are under /reqscope/api/v1/.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"reqscope/internal/analytics"
	"reqscope/internal/config"
	"reqscope/internal/feed"
	"reqscope/internal/inspector"
	"reqscope/internal/monitor"
	"reqscope/internal/notify"
	"reqscope/internal/storage"
	"reqscope/internal/timeline"
)

const (
	// APIPrefix is the base path for all API endpoints.
	APIPrefix = "/reqscope/api/v1"

	defaultLimit = 50
	maxLimit     = 1000

	analyticsCacheSize = 32
)

// Configurator forwards backend configuration to the inspector.
type Configurator interface {
	Configure(ctx context.Context, req inspector.ConfigureRequest) error
}

// FeedStatus reports the feed connection state.
type FeedStatus interface {
	Status() feed.Status
}

// InspectorStatus reports the last inspector status poll.
type InspectorStatus interface {
	Last() (monitor.StatusReport, bool)
}

// Options wires a Server to the running components. Only Timeline is
// required; handlers backed by a missing component answer 503.
type Options struct {
	Timeline      *timeline.Timeline
	Session       *storage.Session
	Notifications *notify.Log
	Bus           *monitor.EventBus
	Inspector     Configurator
	Feed          FeedStatus
	Poller        InspectorStatus
	Config        config.Config
	Logger        *slog.Logger
	Now           func() time.Time
	// Location is used for chart labels. Nil means time.Local.
	Location *time.Location
}

// Server handles API requests.
type Server struct {
	tl       *timeline.Timeline
	session  *storage.Session
	notes    *notify.Log
	bus      *monitor.EventBus
	insp     Configurator
	feed     FeedStatus
	poller   InspectorStatus
	cfg      config.Config
	logger   *slog.Logger
	now      func() time.Time
	location *time.Location

	// Analytics are cached per buffer version and range to absorb
	// refresh storms.
	analyticsCache *expirable.LRU[string, analytics.Summary]
}

// NewServer creates a new API server.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	ttl := opts.Config.AnalyticsTTL
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	return &Server{
		tl:             opts.Timeline,
		session:        opts.Session,
		notes:          opts.Notifications,
		bus:            opts.Bus,
		insp:           opts.Inspector,
		feed:           opts.Feed,
		poller:         opts.Poller,
		cfg:            opts.Config,
		logger:         logger,
		now:            now,
		location:       loc,
		analyticsCache: expirable.NewLRU[string, analytics.Summary](analyticsCacheSize, nil, ttl),
	}
}

// ServeHTTP handles API requests.
// It expects paths starting with /reqscope/api/v1/.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, APIPrefix)
	if path == r.URL.Path {
		http.NotFound(w, r)
		return
	}

	s.setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	switch {
	case path == "/ranges" && r.Method == http.MethodGet:
		s.handleRanges(w, r)
	case path == "/timeline" && r.Method == http.MethodGet:
		s.handleTimeline(w, r)
	case path == "/timeline/range" && r.Method == http.MethodPut:
		s.handleSetRange(w, r)
	case path == "/timeline.svg" && r.Method == http.MethodGet:
		s.handleTimelineSVG(w, r)
	case path == "/analytics" && r.Method == http.MethodGet:
		s.handleAnalytics(w, r)
	case path == "/requests" && r.Method == http.MethodGet:
		s.handleListRequests(w, r)
	case path == "/requests" && r.Method == http.MethodDelete:
		s.handleClearRequests(w, r)
	case strings.HasPrefix(path, "/requests/") && r.Method == http.MethodGet:
		s.handleGetRequest(w, r, strings.TrimPrefix(path, "/requests/"))
	case path == "/notifications" && r.Method == http.MethodGet:
		s.handleListNotifications(w, r)
	case path == "/notifications" && r.Method == http.MethodDelete:
		s.handleClearNotifications(w, r)
	case path == "/notifications/export" && r.Method == http.MethodGet:
		s.handleExportNotifications(w, r)
	case strings.HasPrefix(path, "/notifications/") && r.Method == http.MethodGet:
		s.handleGetNotification(w, r, strings.TrimPrefix(path, "/notifications/"))
	case path == "/status" && r.Method == http.MethodGet:
		s.handleStatus(w, r)
	case path == "/configure" && r.Method == http.MethodPost:
		s.handleConfigure(w, r)
	case path == "/events" && r.Method == http.MethodGet:
		s.handleEvents(w, r)
	default:
		s.writeError(w, http.StatusNotFound, "not found")
	}
}

// ClearAll drops buffered requests, notifications and everything persisted
// for the session, then tells live clients.
func (s *Server) ClearAll(ctx context.Context) error {
	s.tl.Buffer().Clear()
	if s.notes != nil {
		s.notes.Clear()
	}
	var err error
	if s.session != nil {
		err = s.session.Clear(ctx)
	}
	res := s.tl.Refresh()
	s.bus.Publish(monitor.Event{Type: monitor.EventCleared})
	s.bus.Publish(monitor.Event{Type: monitor.EventTimeline, Data: NewTimelineView(res, s.location)})
	return err
}

func (s *Server) setCORS(w http.ResponseWriter) {
	if s.cfg.CORSAllowOrigin == "" {
		return
	}
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", s.cfg.CORSAllowOrigin)
	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
}

// Helper functions

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func parseInt(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return n, nil
}
