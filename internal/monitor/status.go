package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"reqscope/internal/inspector"
)

// StatusSource fetches the inspector status.
type StatusSource interface {
	Status(ctx context.Context) (inspector.Status, error)
}

// StatusReport is the result of the last status poll.
type StatusReport struct {
	Reachable bool             `json:"reachable"`
	Status    inspector.Status `json:"status"`
	LastCheck time.Time        `json:"last_check"`
	LastError string           `json:"last_error,omitempty"`
}

func (r StatusReport) sameState(o StatusReport) bool {
	return r.Reachable == o.Reachable && r.Status.ServerStatus == o.Status.ServerStatus
}

// StatusPoller periodically polls the inspector /status endpoint.
type StatusPoller struct {
	source   StatusSource
	interval time.Duration
	timeout  time.Duration
	metrics  *Metrics
	logger   *slog.Logger
	onChange func(prev, cur StatusReport)

	mu      sync.RWMutex
	last    StatusReport
	checked bool
}

// NewStatusPoller creates a poller. onChange is called after the first poll
// and whenever reachability or the backend status changes.
func NewStatusPoller(source StatusSource, interval, timeout time.Duration, metrics *Metrics, logger *slog.Logger, onChange func(prev, cur StatusReport)) *StatusPoller {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusPoller{
		source:   source,
		interval: interval,
		timeout:  timeout,
		metrics:  metrics,
		logger:   logger,
		onChange: onChange,
	}
}

// Run polls immediately and then every interval until ctx is done.
func (p *StatusPoller) Run(ctx context.Context) error {
	p.Check(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.Check(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// Check performs a single poll and returns its report.
func (p *StatusPoller) Check(ctx context.Context) StatusReport {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	report := StatusReport{LastCheck: time.Now()}
	st, err := p.source.Status(ctx)
	if err != nil {
		report.LastError = err.Error()
		p.logger.Debug("inspector status check failed", "err", err)
	} else {
		report.Reachable = true
		report.Status = st
	}

	p.mu.Lock()
	prev, first := p.last, !p.checked
	p.last = report
	p.checked = true
	p.mu.Unlock()

	p.metrics.UpdateInspector(report.Reachable, report.Status.BackendActive())

	if p.onChange != nil && (first || !prev.sameState(report)) {
		p.onChange(prev, report)
	}
	return report
}

// Last returns the most recent report and whether any poll has completed.
func (p *StatusPoller) Last() (StatusReport, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last, p.checked
}
