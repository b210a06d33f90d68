// Package pool caches open trackers per employee so repeated
// operations against the same record skip the expensive repository
// acquisition. Leases serialize access: at most one caller holds an
// employee's tracker at any time, and a second concurrent request
// fails fast instead of queueing. A background sweep closes trackers
// that sit unused past the idle window.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/timebridge/timebridge/internal/common"
	"github.com/timebridge/timebridge/internal/service"
)

// DefaultIdleTTL is how long a released tracker stays available for
// reuse before the sweep closes it.
const DefaultIdleTTL = 20 * time.Second

// closeTimeout bounds the repository release of a discarded tracker.
const closeTimeout = 30 * time.Second

// Lease holds a pooled tracker on behalf of one caller. Every lease
// must end with exactly one Release call; the scoped helper
// (*Pool).With guarantees that on all exit paths.
type Lease struct {
	pool      *Pool
	tracker   service.TrackerAnalyzer
	expiresAt time.Time
}

// Tracker returns the leased tracker.
func (l *Lease) Tracker() service.TrackerAnalyzer { return l.tracker }

// Release returns the tracker to the pool. With success the tracker
// stays available for the idle window; without it the tracker is
// closed and discarded, since a failed operation may have left it in
// an unknown state.
func (l *Lease) Release(success bool) {
	if success {
		l.expiresAt = time.Now().Add(l.pool.idleTTL)
		l.pool.release(l)
		return
	}
	l.pool.discard(l)
}

// Pool caches trackers keyed by employee id.
type Pool struct {
	factory service.TrackerFactory
	idleTTL time.Duration

	mu sync.Mutex
	// entries maps employee id to its lease; a nil value flags
	// "checked out, not available".
	entries map[string]*Lease
	closed  bool

	stopCh chan struct{}
	done   sync.WaitGroup
}

// New creates a pool and starts its sweep goroutine. A non-positive
// idleTTL falls back to DefaultIdleTTL.
func New(factory service.TrackerFactory, idleTTL time.Duration) *Pool {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	p := &Pool{
		factory: factory,
		idleTTL: idleTTL,
		entries: make(map[string]*Lease),
		stopCh:  make(chan struct{}),
	}
	p.done.Add(1)
	go p.sweepLoop()
	return p
}

// Acquire leases the employee's tracker for the given year, reusing a
// pooled one when its year matches, discarding and recreating it when
// the year differs, and failing with ErrInUse when the tracker is
// already checked out.
func (p *Pool) Acquire(ctx context.Context, employeeID string, year int) (*Lease, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, common.ErrPoolClosed
	}

	if lease, present := p.entries[employeeID]; present {
		if lease == nil {
			p.mu.Unlock()
			return nil, fmt.Errorf("%w: employee %q", common.ErrInUse, employeeID)
		}
		if lease.tracker.Year() == year {
			p.entries[employeeID] = nil
			p.mu.Unlock()
			slog.Debug("Tracker found in pool", "employee", employeeID, "year", year)
			return lease, nil
		}
		// Wrong year: this tracker can't serve the request.
		delete(p.entries, employeeID)
		p.mu.Unlock()
		p.closeTracker(lease)
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, common.ErrPoolClosed
		}
		// Another caller may have slipped in while the old tracker was
		// being closed; its entry must not be clobbered.
		if _, present := p.entries[employeeID]; present {
			p.mu.Unlock()
			return nil, fmt.Errorf("%w: employee %q", common.ErrInUse, employeeID)
		}
	}

	// Mark as checked out before the (slow) factory call so a
	// concurrent acquire for the same employee fails fast instead of
	// racing the repository lock.
	p.entries[employeeID] = nil
	p.mu.Unlock()

	tracker, err := p.factory.Create(ctx, employeeID, year)
	if err != nil {
		p.mu.Lock()
		// Only this call can own the checked-out marker here, but guard
		// against removing anything else all the same.
		if current, present := p.entries[employeeID]; present && current == nil {
			delete(p.entries, employeeID)
		}
		p.mu.Unlock()
		return nil, err
	}

	slog.Debug("Tracker added to pool", "employee", employeeID, "year", year)
	return &Lease{pool: p, tracker: tracker}, nil
}

// With acquires a lease, runs fn with the tracker, and releases on
// every exit path: back to the pool when fn succeeds, discarded when
// it fails or panics.
func (p *Pool) With(ctx context.Context, employeeID string, year int, fn func(service.TrackerAnalyzer) error) error {
	lease, err := p.Acquire(ctx, employeeID, year)
	if err != nil {
		return err
	}

	success := false
	defer func() {
		lease.Release(success)
	}()

	if err := fn(lease.tracker); err != nil {
		return err
	}
	success = true
	return nil
}

// release puts a lease back as available, or discards it right away if
// the pool closed while it was checked out.
func (p *Pool) release(lease *Lease) {
	id := lease.tracker.Employee().ID

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.closeTracker(lease)
		return
	}
	p.entries[id] = lease
	p.mu.Unlock()
	slog.Debug("Tracker released in pool", "employee", id)
}

// discard removes a lease from the pool and closes its tracker.
func (p *Pool) discard(lease *Lease) {
	id := lease.tracker.Employee().ID

	p.mu.Lock()
	delete(p.entries, id)
	p.mu.Unlock()

	p.closeTracker(lease)
	slog.Debug("Tracker discarded from pool", "employee", id)
}

// closeTracker closes best-effort; cleanup failures are logged, never
// propagated, so they cannot mask the caller's own error.
func (p *Pool) closeTracker(lease *Lease) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	if err := lease.tracker.Close(ctx); err != nil {
		slog.Error("Failed to close pooled tracker",
			"employee", lease.tracker.Employee().ID, "error", err)
	}
}

// sweepLoop periodically discards available leases whose idle window
// has elapsed.
func (p *Pool) sweepLoop() {
	defer p.done.Done()

	ticker := time.NewTicker(p.sweepPeriod())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.discardExpired(false)
		case <-p.stopCh:
			p.discardExpired(true)
			return
		}
	}
}

func (p *Pool) sweepPeriod() time.Duration {
	period := p.idleTTL / 10
	if period < 100*time.Millisecond {
		period = 100 * time.Millisecond
	}
	return period
}

// discardExpired closes every available lease past its expiry; force
// closes all available leases regardless of expiry.
func (p *Pool) discardExpired(force bool) {
	now := time.Now()

	p.mu.Lock()
	var expired []*Lease
	for id, lease := range p.entries {
		if lease == nil {
			continue
		}
		if force || lease.expiresAt.Before(now) {
			expired = append(expired, lease)
			delete(p.entries, id)
		}
	}
	p.mu.Unlock()

	for _, lease := range expired {
		p.closeTracker(lease)
		slog.Debug("Idle tracker swept from pool", "employee", lease.tracker.Employee().ID)
	}
}

// Close stops accepting acquisitions, forcibly discards all available
// trackers and waits for the sweep goroutine to terminate. Checked-out
// leases are discarded when their holder releases them.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.stopCh)
	p.done.Wait()
}
