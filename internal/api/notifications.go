package api

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"reqscope/internal/inspector"
	"reqscope/internal/monitor"
	"reqscope/internal/notify"
)

// NotificationView adds a relative age to a notification.
type NotificationView struct {
	notify.Notification
	Relative string `json:"relative"`
}

// NotificationListResponse lists notifications newest first.
type NotificationListResponse struct {
	Notifications []NotificationView  `json:"notifications"`
	Counts        map[notify.Type]int `json:"counts"`
}

func (s *Server) requireNotifications(w http.ResponseWriter) bool {
	if s.notes == nil {
		s.writeError(w, http.StatusServiceUnavailable, "notifications not available")
		return false
	}
	return true
}

// handleListNotifications filters notifications by type and search text.
// GET /reqscope/api/v1/notifications?type=error&q=
func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	if !s.requireNotifications(w) {
		return
	}
	q := r.URL.Query()
	var f notify.Filter
	if t := q.Get("type"); t != "" && !strings.EqualFold(t, "all") {
		parsed, ok := notify.ParseType(t)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown notification type %q", t))
			return
		}
		f.Type = parsed
	}
	f.Query = q.Get("q")

	now := s.now()
	items := s.notes.List(f)
	views := make([]NotificationView, len(items))
	for i, n := range items {
		views[i] = NotificationView{Notification: n, Relative: n.Relative(now)}
	}
	s.writeJSON(w, NotificationListResponse{Notifications: views, Counts: s.notes.Counts()})
}

// handleGetNotification returns one notification.
// GET /reqscope/api/v1/notifications/{id}
func (s *Server) handleGetNotification(w http.ResponseWriter, r *http.Request, id string) {
	if !s.requireNotifications(w) {
		return
	}
	n, ok := s.notes.Get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	s.writeJSON(w, NotificationView{Notification: n, Relative: n.Relative(s.now())})
}

// handleClearNotifications drops every notification.
// DELETE /reqscope/api/v1/notifications
func (s *Server) handleClearNotifications(w http.ResponseWriter, r *http.Request) {
	if !s.requireNotifications(w) {
		return
	}
	s.notes.Clear()
	s.bus.Publish(monitor.Event{Type: monitor.EventCleared, Data: map[string]string{"scope": "notifications"}})
	w.WriteHeader(http.StatusNoContent)
}

// handleExportNotifications downloads the log as JSON.
// GET /reqscope/api/v1/notifications/export
func (s *Server) handleExportNotifications(w http.ResponseWriter, r *http.Request) {
	if !s.requireNotifications(w) {
		return
	}
	data, err := s.notes.MarshalExport()
	if err != nil {
		s.logger.Error("failed to export notifications", "err", err)
		s.writeError(w, http.StatusInternalServerError, "failed to export notifications")
		return
	}
	name := "notifications-" + s.now().UTC().Format("2006-01-02T15-04-05") + ".json"
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Write(data)
}

// ConfigureResponse reports the outcome of POST /configure.
type ConfigureResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// handleConfigure forwards backend settings to the inspector. Both form and
// JSON bodies are accepted. On success every buffered request, notification
// and persisted value is cleared, since it belongs to the old backend.
// POST /reqscope/api/v1/configure
func (s *Server) handleConfigure(w http.ResponseWriter, r *http.Request) {
	if s.insp == nil {
		s.writeError(w, http.StatusServiceUnavailable, "inspector not configured")
		return
	}

	req, err := parseConfigureRequest(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.insp.Configure(r.Context(), req); err != nil {
		s.logger.Warn("inspector configure failed", "port", req.Port, "err", err)
		if s.notes != nil {
			s.notes.Error("Failed to update configuration", err.Error())
		}
		s.writeError(w, http.StatusBadGateway, "inspector rejected configuration: "+err.Error())
		return
	}

	if err := s.ClearAll(r.Context()); err != nil {
		s.logger.Warn("failed to clear session after configure", "err", err)
	}
	msg := fmt.Sprintf("Now inspecting localhost:%d", req.Port)
	if s.notes != nil {
		s.notes.Success(msg)
	}
	s.logger.Info("inspector configured", "port", req.Port, "zrok", req.ZrokOption)
	s.writeJSON(w, ConfigureResponse{Status: "ok", Message: msg})
}

func parseConfigureRequest(r *http.Request) (inspector.ConfigureRequest, error) {
	var req inspector.ConfigureRequest
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		if err := json.NewDecoder(io.LimitReader(r.Body, 64*1024)).Decode(&req); err != nil {
			return req, fmt.Errorf("invalid JSON body")
		}
		return req, nil
	}

	if err := r.ParseForm(); err != nil {
		return req, fmt.Errorf("invalid form body")
	}
	port, err := strconv.Atoi(strings.TrimSpace(r.PostForm.Get("port")))
	if err != nil {
		return req, fmt.Errorf("port must be a number")
	}
	req.Port = port
	req.ZrokOption = r.PostForm.Get("zrok_option")
	req.ZrokToken = r.PostForm.Get("zrok_token")
	if zp := strings.TrimSpace(r.PostForm.Get("zrok_port")); zp != "" {
		if req.ZrokPort, err = strconv.Atoi(zp); err != nil {
			return req, fmt.Errorf("zrok_port must be a number")
		}
	}
	return req, nil
}

// handleEvents streams live updates as Server-Sent Events.
// GET /reqscope/api/v1/events
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		s.writeError(w, http.StatusServiceUnavailable, "event bus not available")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	eventCh := s.bus.Subscribe()
	defer s.bus.Unsubscribe(eventCh)

	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-eventCh:
			if !ok {
				return
			}
			frame, err := monitor.FormatSSEEvent(ev)
			if err != nil {
				s.logger.Debug("failed to format live event", "type", ev.Type, "err", err)
				continue
			}
			if _, err := w.Write([]byte(frame)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
