package sync

import (
	"context"
	"errors"
	gosync "sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nhle/mail2issue/internal/gateway"
	"github.com/nhle/mail2issue/internal/logging"
)

// SyncState represents the current state of the poller.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncRunning
	SyncError
)

func (s SyncState) String() string {
	switch s {
	case SyncIdle:
		return "idle"
	case SyncRunning:
		return "running"
	case SyncError:
		return "error"
	default:
		return "unknown"
	}
}

// SyncStatus is a snapshot of the poller.
type SyncStatus struct {
	State    SyncState
	LastSync time.Time
	Error    error
	Cycles   int
}

// CycleResult is delivered after every cycle.
type CycleResult struct {
	Report Report
	Error  error

	// AuthError is set when the cycle failed on credentials. The poller
	// backs off until the next trigger or the backoff interval expires.
	AuthError *gateway.AuthError
}

// Cycler runs one inbound cycle. *Engine implements it.
type Cycler interface {
	SyncIncoming(ctx context.Context) (Report, error)
}

const (
	defaultInterval = 120 * time.Second

	// cycleTimeout is the maximum time allowed for a single cycle.
	cycleTimeout = 5 * time.Minute

	// authBackoff multiplies the interval after an auth failure.
	authBackoff = 5
)

// Poller runs cycles on an interval. Cycles never overlap: the poller
// has a single loop goroutine.
type Poller struct {
	cycler   Cycler
	interval time.Duration
	timeout  time.Duration

	// OnResult, when set, is called from the loop goroutine after every
	// cycle.
	OnResult func(CycleResult)

	status    SyncStatus
	resultCh  chan CycleResult
	triggerCh chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}
	mu        gosync.Mutex
	running   bool
}

// NewPoller creates a Poller. A non-positive interval selects the
// default.
func NewPoller(c Cycler, interval, timeout time.Duration) *Poller {
	if interval <= 0 {
		interval = defaultInterval
	}
	if timeout <= 0 {
		timeout = cycleTimeout
	}
	return &Poller{
		cycler:    c,
		interval:  interval,
		timeout:   timeout,
		resultCh:  make(chan CycleResult, 16),
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start launches the polling goroutine. An initial cycle runs
// immediately. Start is a no-op when already running.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true
	go p.loop(ctx)
}

// Stop halts the polling goroutine and waits for an in-flight cycle.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	close(p.stopCh)
	p.running = false
	p.mu.Unlock()

	<-p.doneCh
}

// Done is closed once the loop goroutine has exited.
func (p *Poller) Done() <-chan struct{} {
	return p.doneCh
}

// Refresh requests an immediate cycle. Requests made while one is
// already pending are coalesced.
func (p *Poller) Refresh() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

// Results delivers cycle results. Results are dropped when nobody reads.
func (p *Poller) Results() <-chan CycleResult {
	return p.resultCh
}

// Status returns a snapshot of the poller state.
func (p *Poller) Status() SyncStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.doneCh)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-timer.C:
		case <-p.triggerCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		result := p.runCycle(ctx)

		next := p.interval
		if result.AuthError != nil {
			next = p.interval * authBackoff
		}
		timer.Reset(next)
	}
}

// runCycle performs one cycle and publishes its result.
func (p *Poller) runCycle(ctx context.Context) CycleResult {
	p.setStatus(SyncRunning, nil)

	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	report, err := p.cycler.SyncIncoming(cctx)
	result := CycleResult{Report: report, Error: err}

	log := logging.Log.WithField("component", "poller")
	switch {
	case err != nil:
		p.setStatus(SyncError, err)
		var authErr *gateway.AuthError
		if errors.As(err, &authErr) {
			result.AuthError = authErr
			log.WithError(err).Error("Authentication failed, backing off")
		} else {
			log.WithError(err).Error("Sync cycle failed")
		}
	case report.Err() != nil:
		p.setStatus(SyncError, report.Err())
		log.WithFields(logrus.Fields{
			"failed": len(report.Failures),
		}).Warn("Sync cycle finished with failures")
	default:
		p.setStatus(SyncIdle, nil)
	}

	if p.OnResult != nil {
		p.OnResult(result)
	}
	p.sendResult(result)
	return result
}

// setStatus updates the sync status.
func (p *Poller) setStatus(state SyncState, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status.State = state
	p.status.Error = err
	if state != SyncRunning {
		p.status.Cycles++
		p.status.LastSync = time.Now()
	}
}

// sendResult sends a CycleResult without blocking.
func (p *Poller) sendResult(r CycleResult) {
	select {
	case p.resultCh <- r:
	default:
		// Drop if channel is full to avoid blocking the poller
	}
}
