// Package executor implements the bounded single-worker task queues that
// serialize asynchronous reads and writes.
package executor

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/btwiz/internal/groutine"
)

// DefaultQueueSize bounds the backlog of a Serial executor when none is configured.
const DefaultQueueSize = 256

var (
	ErrQueueFull = errors.New("executor: queue is full")
	ErrShutdown  = errors.New("executor: shut down")
)

// Serial runs submitted tasks one at a time, strictly in submission order.
//
// After Shutdown, tasks that were queued but not started are abandoned;
// a task already running is left to finish.
type Serial struct {
	name   string
	logger *logrus.Logger

	mu     sync.Mutex
	closed bool
	tasks  chan func()
	quit   chan struct{}
	done   chan struct{}
}

// NewSerial starts the worker goroutine of a new executor.
func NewSerial(name string, queueSize int, logger *logrus.Logger) *Serial {
	if logger == nil {
		logger = logrus.New()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	s := &Serial{
		name:   name,
		logger: logger,
		tasks:  make(chan func(), queueSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	groutine.Go(context.Background(), name, func(ctx context.Context) { s.run() })
	logger.WithField("executor", name).Debug("Executor started")
	return s
}

func (s *Serial) run() {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			return
		case task := <-s.tasks:
			// quit and tasks may be ready together; shutdown wins
			select {
			case <-s.quit:
				return
			default:
			}
			task()
		}
	}
}

// Submit enqueues task without blocking.
func (s *Serial) Submit(task func()) error {
	if task == nil {
		panic("executor: nil task")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrShutdown
	}
	select {
	case s.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops the worker. It does not wait; use Done for that. Idempotent.
func (s *Serial) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.quit)

	s.logger.WithFields(logrus.Fields{
		"executor":  s.name,
		"abandoned": len(s.tasks),
	}).Debug("Executor shut down")
}

// IsShutdown reports whether Shutdown was called.
func (s *Serial) IsShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Done is closed once the worker goroutine has exited.
func (s *Serial) Done() <-chan struct{} {
	return s.done
}

// Pair holds the process-wide read and write executors. Each is created on
// first use and re-created on the next use after Shutdown.
type Pair struct {
	queueSize int
	logger    *logrus.Logger

	mu     sync.Mutex
	reads  *Serial
	writes *Serial
}

// NewPair creates an empty Pair; no goroutines are started until first use.
func NewPair(queueSize int, logger *logrus.Logger) *Pair {
	if logger == nil {
		logger = logrus.New()
	}
	return &Pair{queueSize: queueSize, logger: logger}
}

// Reads returns the shared read executor.
func (p *Pair) Reads() *Serial {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reads == nil || p.reads.IsShutdown() {
		p.reads = NewSerial("btwiz-read", p.queueSize, p.logger)
	}
	return p.reads
}

// Writes returns the shared write executor.
func (p *Pair) Writes() *Serial {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writes == nil || p.writes.IsShutdown() {
		p.writes = NewSerial("btwiz-write", p.queueSize, p.logger)
	}
	return p.writes
}

// Shutdown stops both executors if they were created. Idempotent.
func (p *Pair) Shutdown() {
	p.mu.Lock()
	reads, writes := p.reads, p.writes
	p.reads, p.writes = nil, nil
	p.mu.Unlock()

	if reads != nil {
		reads.Shutdown()
	}
	if writes != nil {
		writes.Shutdown()
	}
}
