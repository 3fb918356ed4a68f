// Package notify keeps the user-facing notification log: feed drops,
// reconnects, persistence problems and configuration results.
package notify

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// Type classifies a notification.
type Type string

const (
	TypeInfo    Type = "info"
	TypeSuccess Type = "success"
	TypeWarning Type = "warning"
	TypeError   Type = "error"
)

// ParseType accepts a type name; "" and "all" mean no filter.
func ParseType(s string) (Type, bool) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case TypeInfo, TypeSuccess, TypeWarning, TypeError:
		return t, true
	}
	return "", false
}

// Notification is one entry of the log.
type Notification struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Relative renders the age of n, e.g. "3 minutes ago".
func (n Notification) Relative(now time.Time) string {
	if now.Sub(n.Timestamp) < time.Second {
		return "just now"
	}
	return humanize.RelTime(n.Timestamp, now, "ago", "from now")
}

// Filter selects notifications. Zero value matches everything.
type Filter struct {
	Type  Type
	Query string
}

func (f Filter) match(n Notification) bool {
	if f.Type != "" && n.Type != f.Type {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		return strings.Contains(strings.ToLower(n.Message), q) ||
			strings.Contains(strings.ToLower(n.Details), q)
	}
	return true
}

// Log is a capped, concurrency-safe notification list. When full, the
// oldest notification is dropped.
type Log struct {
	mu      sync.RWMutex
	items   []Notification // oldest first
	max     int
	version uint64

	now     func() time.Time
	publish func(Notification)
	logger  *slog.Logger
}

// Options configures a Log.
type Options struct {
	Max int
	Now func() time.Time
	// Publish receives every new notification, e.g. for live streaming.
	Publish func(Notification)
	Logger  *slog.Logger
}

// NewLog creates a notification log.
func NewLog(opts Options) *Log {
	if opts.Max < 1 {
		opts.Max = 200
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Log{
		max:     opts.Max,
		now:     opts.Now,
		publish: opts.Publish,
		logger:  opts.Logger,
	}
}

// Add records a notification and returns it.
func (l *Log) Add(t Type, message, details string) Notification {
	n := Notification{
		ID:        uuid.NewString(),
		Type:      t,
		Message:   message,
		Details:   details,
		Timestamp: l.now(),
	}

	l.mu.Lock()
	l.items = append(l.items, n)
	if len(l.items) > l.max {
		l.items = append([]Notification(nil), l.items[len(l.items)-l.max:]...)
	}
	l.version++
	l.mu.Unlock()

	l.logger.Debug("notification", "type", t, "message", message)
	if l.publish != nil {
		l.publish(n)
	}
	return n
}

// Info records an info notification.
func (l *Log) Info(message string) Notification { return l.Add(TypeInfo, message, "") }

// Success records a success notification.
func (l *Log) Success(message string) Notification { return l.Add(TypeSuccess, message, "") }

// Warn records a warning notification.
func (l *Log) Warn(message string) Notification { return l.Add(TypeWarning, message, "") }

// Error records an error notification.
func (l *Log) Error(message, details string) Notification { return l.Add(TypeError, message, details) }

// List returns matching notifications, newest first.
func (l *Log) List(f Filter) []Notification {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Notification, 0, len(l.items))
	for i := len(l.items) - 1; i >= 0; i-- {
		if f.match(l.items[i]) {
			out = append(out, l.items[i])
		}
	}
	return out
}

// Get returns the notification with the given id.
func (l *Log) Get(id string) (Notification, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, n := range l.items {
		if n.ID == id {
			return n, true
		}
	}
	return Notification{}, false
}

// Counts returns the number of notifications per type.
func (l *Log) Counts() map[Type]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := map[Type]int{TypeInfo: 0, TypeSuccess: 0, TypeWarning: 0, TypeError: 0}
	for _, n := range l.items {
		out[n.Type]++
	}
	return out
}

// Clear drops every notification.
func (l *Log) Clear() {
	l.mu.Lock()
	l.items = nil
	l.version++
	l.mu.Unlock()
}

// Snapshot returns all notifications, oldest first.
func (l *Log) Snapshot() []Notification {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Notification, len(l.items))
	copy(out, l.items)
	return out
}

// Replace restores notifications (oldest first), keeping the newest Max.
// Restored entries are not published.
func (l *Log) Replace(items []Notification) {
	if len(items) > l.max {
		items = items[len(items)-l.max:]
	}
	cp := make([]Notification, len(items))
	copy(cp, items)

	l.mu.Lock()
	l.items = cp
	l.version++
	l.mu.Unlock()
}

// Version increases on every mutation.
func (l *Log) Version() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.version
}

// Export is the downloadable form of the log.
type Export struct {
	Timestamp     time.Time      `json:"timestamp"`
	Notifications []Notification `json:"notifications"`
}

// Export returns the log newest first with an export timestamp.
func (l *Log) Export() Export {
	return Export{Timestamp: l.now(), Notifications: l.List(Filter{})}
}

// MarshalExport renders Export as indented JSON.
func (l *Log) MarshalExport() ([]byte, error) {
	return json.MarshalIndent(l.Export(), "", "  ")
}
