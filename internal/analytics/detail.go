package analytics

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"reqscope/internal/event"
)

// Row is one line of the request list.
type Row struct {
	ID        string    `json:"id"`
	Method    string    `json:"method"`
	URL       string    `json:"url"`
	Path      string    `json:"path"`
	Status    int       `json:"status"`
	Class     string    `json:"class,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	LatencyMs *int64    `json:"latency_ms,omitempty"`
	ClientIP  string    `json:"client_ip,omitempty"`
}

// NewRow summarizes e for the request list.
func NewRow(e event.Event) Row {
	r := Row{
		ID:        e.ID,
		Method:    e.Method(),
		URL:       e.Log.Request.URL,
		Path:      e.Path(),
		Status:    e.Status(),
		Class:     StatusClass(e.Status()),
		Timestamp: e.Timestamp,
		ClientIP:  e.Log.Request.ClientIP,
	}
	if d, ok := e.Latency(); ok {
		ms := d.Milliseconds()
		r.LatencyMs = &ms
	}
	return r
}

// Message is the detail view of one half of an exchange.
type Message struct {
	Headers  map[string]string `json:"headers"`
	Body     string            `json:"body"`
	BodySize string            `json:"body_size"`
	// JSON is set when Body was pretty-printed as JSON.
	JSON bool `json:"json"`
}

// Detail is the request details panel.
type Detail struct {
	Row
	UserAgent string  `json:"user_agent,omitempty"`
	Request   Message `json:"request"`
	Response  Message `json:"response"`
}

// NewDetail builds the details view. JSON bodies are pretty-printed when
// the content type says JSON and the body parses.
func NewDetail(e event.Event) Detail {
	return Detail{
		Row:       NewRow(e),
		UserAgent: e.Log.Request.UserAgent,
		Request:   newMessage(e.Log.Request.Headers, e.Log.Request.Body),
		Response:  newMessage(e.Log.Response.Headers, e.Log.Response.Body),
	}
}

func newMessage(headers map[string]string, body string) Message {
	if headers == nil {
		headers = map[string]string{}
	}
	m := Message{
		Headers:  headers,
		Body:     body,
		BodySize: humanize.Bytes(uint64(len(body))),
	}
	if isJSON(headers) && body != "" {
		var buf bytes.Buffer
		if err := json.Indent(&buf, []byte(body), "", "  "); err == nil {
			m.Body = buf.String()
			m.JSON = true
		}
	}
	return m
}

func isJSON(headers map[string]string) bool {
	for k, v := range headers {
		if strings.EqualFold(k, "Content-Type") {
			return strings.Contains(strings.ToLower(v), "json")
		}
	}
	return false
}
