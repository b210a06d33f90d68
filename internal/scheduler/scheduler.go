// Package scheduler runs kiosk actions asynchronously on a fixed set
// of workers. Callers start an action, receive an opaque task id, and
// poll for completion; results stay available until collected or
// dropped, so a flaky frontend can retry the poll.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/timebridge/timebridge/internal/pool"
	"github.com/timebridge/timebridge/internal/service"
	"github.com/timebridge/timebridge/internal/validate"
)

// ErrTaskNotFound is returned when polling a task id the scheduler
// does not know, either never started or already dropped.
var ErrTaskNotFound = errors.New("task not found")

// TaskID identifies a started task.
type TaskID = uuid.UUID

// DefaultWorkers is the worker count used when none is configured.
const DefaultWorkers = 4

type taskState struct {
	done   bool
	result any
	err    error
}

type queuedTask struct {
	state *taskState
	run   func(context.Context) (any, error)
}

// Scheduler owns the worker goroutines and the task result store.
type Scheduler struct {
	pool      *pool.Pool
	factory   service.TrackerFactory
	validator *validate.Validator
	// Now is the clock actions are stamped with; overridable in tests.
	Now func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu sync.Mutex
	// cond signals the workers when pending grows; guarded by mu.
	cond    *sync.Cond
	pending []*queuedTask
	tasks   map[TaskID]*taskState
	closed  bool
}

// New starts a scheduler with the given worker count; non-positive
// falls back to DefaultWorkers.
func New(p *pool.Pool, factory service.TrackerFactory, validator *validate.Validator, workers int) *Scheduler {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		pool:      p,
		factory:   factory,
		validator: validator,
		Now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		tasks:     make(map[TaskID]*taskState),
	}
	s.cond = sync.NewCond(&s.mu)
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

// start registers a task and queues it for the workers. The queue is
// unbounded, so start never blocks no matter how busy the workers are.
// The zero TaskID flags rejection when the scheduler is closed.
func (s *Scheduler) start(run func(context.Context) (any, error)) TaskID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return uuid.Nil
	}
	id := uuid.New()
	state := &taskState{}
	s.tasks[id] = state
	s.pending = append(s.pending, &queuedTask{state: state, run: run})
	s.cond.Signal()
	return id
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		for len(s.pending) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		task := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		result, err := task.run(s.ctx)
		if err != nil {
			slog.Debug("Task failed", "error", err)
		}
		s.mu.Lock()
		task.state.done = true
		task.state.result = result
		task.state.err = err
		s.mu.Unlock()
	}
}

// Done reports whether a task has finished.
func (s *Scheduler) Done(id TaskID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.tasks[id]
	if !ok {
		return false, ErrTaskNotFound
	}
	return state.done, nil
}

// Result collects a finished task's outcome and forgets the task.
// Polling an unfinished task returns done=false with the task kept.
func (s *Scheduler) Result(id TaskID) (result any, done bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.tasks[id]
	if !ok {
		return nil, false, ErrTaskNotFound
	}
	if !state.done {
		return nil, false, nil
	}
	delete(s.tasks, id)
	return state.result, true, state.err
}

// Drop forgets a task without collecting it. A still-running task
// keeps running; only its result is discarded.
func (s *Scheduler) Drop(id TaskID) {
	s.mu.Lock()
	delete(s.tasks, id)
	s.mu.Unlock()
}

// Close rejects new tasks, cancels running ones and waits for the
// workers to stop. Tasks still queued never run; they fail so a
// poller still sees an outcome.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	for _, task := range s.pending {
		task.state.done = true
		task.state.err = context.Canceled
	}
	s.pending = nil
	s.mu.Unlock()
}
