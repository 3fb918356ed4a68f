package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"reqscope/internal/event"
)

// Key names inside a session namespace.
const (
	KeyRequestData   = "requestData"
	KeyNotifications = "notifications"
)

// SessionOptions configures a Session.
type SessionOptions struct {
	ID        string
	MaxEvents int
	Logger    *slog.Logger
	// Warn reports user-facing persistence problems.
	Warn func(message string)
	// OnError is called with the failing operation ("load" or "save").
	OnError func(op string)
}

// Session persists the event buffer and notifications of one session.
//
// Persistence is best effort: a failed write or an unreadable snapshot
// switches the session to memory-only mode and later saves become no-ops,
// so stored data that could not be read is never overwritten.
type Session struct {
	store     Store
	id        string
	maxEvents int
	logger    *slog.Logger
	warn      func(string)
	onError   func(string)

	memoryOnly atomic.Bool
	warnOnce   sync.Once
}

// NewSession creates a Session over store. A nil store means memory-only.
func NewSession(store Store, opts SessionOptions) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ID == "" {
		opts.ID = "default"
	}
	if opts.MaxEvents < 1 {
		opts.MaxEvents = 10000
	}
	s := &Session{
		store:     store,
		id:        opts.ID,
		maxEvents: opts.MaxEvents,
		logger:    logger,
		warn:      opts.Warn,
		onError:   opts.OnError,
	}
	if store == nil {
		s.memoryOnly.Store(true)
	}
	return s
}

// MemoryOnly reports whether persistence is disabled.
func (s *Session) MemoryOnly() bool {
	return s.memoryOnly.Load()
}

// Key returns the namespaced store key for name.
func (s *Session) Key(name string) string {
	return s.id + ":" + name
}

// LoadEvents restores the persisted buffer in stored order. Entries that no
// longer decode are skipped. Only the newest MaxEvents are returned.
func (s *Session) LoadEvents(ctx context.Context) []event.Event {
	var raws []json.RawMessage
	found, err := s.loadJSON(ctx, KeyRequestData, &raws)
	if err != nil || !found {
		return nil
	}

	if len(raws) > s.maxEvents {
		raws = raws[len(raws)-s.maxEvents:]
	}

	events := make([]event.Event, 0, len(raws))
	skipped := 0
	for _, raw := range raws {
		e, err := event.Decode(raw)
		if err != nil {
			skipped++
			continue
		}
		events = append(events, e)
	}
	if skipped > 0 {
		s.logger.Warn("skipped invalid persisted events", "skipped", skipped, "restored", len(events))
		s.report(fmt.Sprintf("Skipped %d invalid stored requests while restoring the session", skipped))
	}
	s.logger.Info("restored session", "session", s.id, "events", len(events))
	return events
}

// SaveEvents persists events (oldest first), keeping the newest MaxEvents.
func (s *Session) SaveEvents(ctx context.Context, events []event.Event) error {
	if s.MemoryOnly() {
		return nil
	}
	if len(events) > s.maxEvents {
		events = events[len(events)-s.maxEvents:]
	}

	raws := make([]json.RawMessage, 0, len(events))
	for _, e := range events {
		b, err := event.Encode(e)
		if err != nil {
			s.logger.Warn("dropping unencodable event", "id", e.ID, "err", err)
			continue
		}
		raws = append(raws, b)
	}
	return s.SaveJSON(ctx, KeyRequestData, raws)
}

// SaveJSON persists v under name.
func (s *Session) SaveJSON(ctx context.Context, name string, v any) error {
	if s.MemoryOnly() {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := s.store.Set(ctx, s.Key(name), b); err != nil {
		s.fail("save", err)
		return err
	}
	return nil
}

// LoadJSON decodes the value stored under name into v. found is false when
// nothing was stored or the stored value was unreadable.
func (s *Session) LoadJSON(ctx context.Context, name string, v any) (found bool) {
	found, _ = s.loadJSON(ctx, name, v)
	return found
}

func (s *Session) loadJSON(ctx context.Context, name string, v any) (bool, error) {
	if s.store == nil {
		return false, nil
	}
	b, err := s.store.Get(ctx, s.Key(name))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		s.logger.Warn("failed to read session data", "key", s.Key(name), "err", err)
		s.countError("load")
		s.disable("load", err)
		s.report("Could not restore saved session data, continuing without persistence")
		return false, err
	}
	if err := json.Unmarshal(b, v); err != nil {
		s.logger.Warn("corrupt session data", "key", s.Key(name), "err", err)
		s.countError("load")
		s.disable("load", err)
		s.report("Saved session data is corrupted, continuing without persistence")
		return false, err
	}
	return true, nil
}

// Clear deletes everything persisted for the session.
func (s *Session) Clear(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	var errs []error
	for _, name := range []string{KeyRequestData, KeyNotifications} {
		if err := s.store.Delete(ctx, s.Key(name)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Session) fail(op string, err error) {
	s.countError(op)
	s.disable(op, err)
	s.warnOnce.Do(func() {
		s.report("Unable to save session data; continuing without persistence")
	})
}

func (s *Session) disable(op string, err error) {
	if s.memoryOnly.CompareAndSwap(false, true) {
		s.logger.Warn("session persistence failed, continuing in memory only", "op", op, "err", err)
	}
}

func (s *Session) countError(op string) {
	if s.onError != nil {
		s.onError(op)
	}
}

func (s *Session) report(msg string) {
	if s.warn != nil {
		s.warn(msg)
	}
}
