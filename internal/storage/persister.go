package storage

import (
	"context"
	"log/slog"
	"time"
)

// Track is one piece of state the Persister saves when its version moves.
type Track struct {
	Name    string
	Version func() uint64
	Save    func(ctx context.Context) error
}

// Persister debounces saves: every interval it saves each track whose
// version changed since the last successful save, and once more on stop.
type Persister struct {
	tracks   []Track
	interval time.Duration
	logger   *slog.Logger
	saved    map[string]uint64
}

// NewPersister creates a Persister. interval <= 0 defaults to one second.
func NewPersister(interval time.Duration, logger *slog.Logger, tracks ...Track) *Persister {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{
		tracks:   tracks,
		interval: interval,
		logger:   logger,
		saved:    make(map[string]uint64),
	}
}

// MarkSaved records the current versions as persisted, e.g. right after a
// restore so the restored state is not immediately written back.
func (p *Persister) MarkSaved() {
	for _, t := range p.tracks {
		p.saved[t.Name] = t.Version()
	}
}

// Run saves on every tick until ctx is done, then flushes once.
// Run must not be called concurrently with Flush.
func (p *Persister) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.Flush(ctx)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			p.Flush(flushCtx)
			cancel()
			return nil
		}
	}
}

// Flush saves every track with unsaved changes.
func (p *Persister) Flush(ctx context.Context) {
	for _, t := range p.tracks {
		v := t.Version()
		if last, ok := p.saved[t.Name]; ok && last == v {
			continue
		}
		if err := t.Save(ctx); err != nil {
			p.logger.Debug("persist failed", "track", t.Name, "err", err)
			continue
		}
		p.saved[t.Name] = v
	}
}
