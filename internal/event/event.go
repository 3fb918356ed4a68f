// Package event defines the request/response log records carried on the
// inspector feed and the single decode path used for live and restored data.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"reqscope/internal/util"
)

// ErrMalformed is wrapped by every Decode failure.
var ErrMalformed = errors.New("malformed event")

// RequestLog is the request half of an inspector log.
type RequestLog struct {
	ID        string            `json:"id"`
	Method    string            `json:"method"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      string            `json:"body,omitempty"`
	Timestamp string            `json:"timestamp"`
	ClientIP  string            `json:"client_ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
}

// ResponseLog is the response half of an inspector log.
type ResponseLog struct {
	ID         string            `json:"id,omitempty"`
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body,omitempty"`
	Timestamp  string            `json:"timestamp,omitempty"`
}

// APILog is one proxied request/response pair.
type APILog struct {
	Request  RequestLog  `json:"request"`
	Response ResponseLog `json:"response"`
}

// Event is an immutable, validated log entry.
type Event struct {
	ID          string
	Timestamp   time.Time
	RespondedAt time.Time
	Log         APILog
}

// Decode parses and validates one feed message.
//
// The request timestamp is required and may be an RFC3339 string or epoch
// milliseconds (number or numeric string). Methods are upper-cased and a
// missing request id is replaced with a generated one.
func Decode(b []byte) (Event, error) {
	m, err := decodeObject(b)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	req := util.Object(m, "request")
	if req == nil {
		return Event{}, fmt.Errorf("%w: missing request", ErrMalformed)
	}

	ts, ok := parseTimestamp(req["timestamp"])
	if !ok {
		return Event{}, fmt.Errorf("%w: missing or invalid request timestamp", ErrMalformed)
	}

	var e Event
	e.Timestamp = ts
	e.Log.Request = RequestLog{
		Method:    strings.ToUpper(strings.TrimSpace(str(req["method"]))),
		URL:       str(req["url"]),
		Headers:   util.ToStringMap(req["headers"]),
		Body:      str(req["body"]),
		Timestamp: ts.UTC().Format(time.RFC3339Nano),
		ClientIP:  str(req["client_ip"]),
		UserAgent: str(req["user_agent"]),
	}
	e.ID = str(req["id"])
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Log.Request.ID = e.ID

	if resp := util.Object(m, "response"); resp != nil {
		status, _ := util.ToInt(resp["status_code"])
		e.Log.Response = ResponseLog{
			ID:         str(resp["id"]),
			StatusCode: status,
			Headers:    util.ToStringMap(resp["headers"]),
			Body:       str(resp["body"]),
		}
		if rt, ok := parseTimestamp(resp["timestamp"]); ok {
			e.RespondedAt = rt
			e.Log.Response.Timestamp = rt.UTC().Format(time.RFC3339Nano)
		}
	}

	return e, nil
}

// Encode returns the normalized payload. Decode(Encode(e)) reproduces e.
func Encode(e Event) ([]byte, error) {
	return json.Marshal(e.Log)
}

// Method returns the upper-cased request method.
func (e Event) Method() string { return e.Log.Request.Method }

// Status returns the response status code, 0 when no response was logged.
func (e Event) Status() int { return e.Log.Response.StatusCode }

// Path returns the request URL path without query string.
func (e Event) Path() string {
	raw := e.Log.Request.URL
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		return u.Path
	}
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	return raw
}

// Latency is the time between request and response. ok is false when the
// response timestamp is missing or not after the request.
func (e Event) Latency() (time.Duration, bool) {
	if e.RespondedAt.IsZero() {
		return 0, false
	}
	d := e.RespondedAt.Sub(e.Timestamp)
	if d <= 0 {
		return 0, false
	}
	return d, true
}

func parseTimestamp(v any) (time.Time, bool) {
	if s, ok := util.ToString(v); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return time.Time{}, false
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t, true
		}
	}
	if ms, ok := util.ToInt64(v); ok && ms > 0 {
		return time.UnixMilli(ms), true
	}
	return time.Time{}, false
}

func str(v any) string {
	s, _ := util.ToString(v)
	return s
}
