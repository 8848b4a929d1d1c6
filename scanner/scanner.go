package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/btwiz/internal/device"
	"github.com/srg/btwiz/internal/ringchan"
)

// State is the discovery lifecycle state.
type State int32

const (
	NotStarted State = iota
	Started
	Finished
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Started:
		return "started"
	case Finished:
		return "finished"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// EventType tags entries of the Events channel.
type EventType int

const (
	EventStarted EventType = iota
	EventFound
	EventFinished
)

func (t EventType) String() string {
	switch t {
	case EventStarted:
		return "started"
	case EventFound:
		return "found"
	case EventFinished:
		return "finished"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

type Event struct {
	Type   EventType
	Device device.DeviceRef // set for EventFound
}

// DefaultEventBuffer is the Events ring capacity when none is configured.
const DefaultEventBuffer = 100

// Config configures a Scanner.
type Config struct {
	ProtectAgainstDuplicates bool
	EventBuffer              int
	// Connecting reports whether a connect attempt is in flight. Optional.
	Connecting func() bool
}

// Options configures one discovery session.
type Options struct {
	// Filter selects which found devices are forwarded to Listener; nil forwards all.
	Filter device.Filter
	// Listener receives matching devices and the final not-found report. Optional.
	Listener LookupListener
	// OnFinished runs when the transport reports the end of the scan. Optional.
	OnFinished func()
}

type session struct {
	opts    Options
	matched bool
}

// Scanner is the discovery controller. It owns the transport's scan handler
// while a session is active.
type Scanner struct {
	transport  device.Transport
	logger     *logrus.Logger
	connecting func() bool
	events     *ringchan.RingChannel[Event]

	state      atomic.Int32
	protectDup atomic.Bool

	mu         sync.Mutex // guards discovered, seen, current
	discovered []device.DeviceRef
	seen       *hashmap.Map[string, struct{}]
	current    *session
}

// NewScanner creates a discovery controller over transport.
func NewScanner(transport device.Transport, cfg Config, logger *logrus.Logger) *Scanner {
	if transport == nil {
		panic("scanner: nil transport")
	}
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}
	connecting := cfg.Connecting
	if connecting == nil {
		connecting = func() bool { return false }
	}

	s := &Scanner{
		transport:  transport,
		logger:     logger,
		connecting: connecting,
		events:     ringchan.New[Event](cfg.EventBuffer),
		seen:       hashmap.New[string, struct{}](),
	}
	s.protectDup.Store(cfg.ProtectAgainstDuplicates)
	return s
}

// SetProtectAgainstDuplicates toggles (name, major) de-duplication for future events.
func (s *Scanner) SetProtectAgainstDuplicates(on bool) {
	s.protectDup.Store(on)
}

// StartDiscovery cancels any running scan, resets the discovered set and
// asks the transport for a new scan. It returns false if the transport
// refused; the state is then NotStarted and no listener will be called.
func (s *Scanner) StartDiscovery(opts Options) bool {
	s.CancelScan()

	if s.connecting() {
		s.logger.Warn("Discovery started while a connection attempt is in progress; this degrades connect performance")
	}

	sess := &session{opts: opts}
	s.mu.Lock()
	s.discovered = nil
	s.seen = hashmap.New[string, struct{}]()
	s.current = sess
	s.mu.Unlock()

	s.state.Store(int32(NotStarted))
	s.transport.SetScanHandler(func(ev device.ScanEvent) { s.handle(sess, ev) })

	if !s.transport.StartScan() {
		s.detach(sess)
		s.state.Store(int32(NotStarted))
		s.logger.Warn("Transport refused to start discovery")
		return false
	}

	s.logger.Info("Discovery started")
	return true
}

// StopDiscovery cancels the active scan and detaches the session. Safe to
// call at any time, including with no scan running.
func (s *Scanner) StopDiscovery() {
	s.mu.Lock()
	sess := s.current
	s.mu.Unlock()

	// Detached first: a transport may report ScanFinished from inside CancelScan
	if sess != nil {
		s.detach(sess)
	}
	s.CancelScan()
	if sess == nil {
		return
	}

	s.state.CompareAndSwap(int32(Started), int32(Finished))
	s.logger.Info("Discovery stopped")
}

// CancelScan asks the transport to stop scanning without detaching the
// session. Errors are logged and dropped.
func (s *Scanner) CancelScan() {
	if !s.transport.IsScanning() {
		return
	}
	if err := s.transport.CancelScan(); err != nil {
		s.logger.WithField("error", err).Debug("Ignoring scan cancel error")
	}
}

// detach uninstalls sess if it is still the current session.
func (s *Scanner) detach(sess *session) {
	s.mu.Lock()
	if s.current != sess {
		s.mu.Unlock()
		return
	}
	s.current = nil
	s.mu.Unlock()
	s.transport.SetScanHandler(nil)
}

func (s *Scanner) handle(sess *session, ev device.ScanEvent) {
	s.mu.Lock()
	if s.current != sess {
		// late event from a previous session
		s.mu.Unlock()
		return
	}

	switch ev.Kind {
	case device.ScanStarted:
		s.mu.Unlock()
		s.state.Store(int32(Started))
		s.events.Send(Event{Type: EventStarted})

	case device.ScanDeviceFound:
		dev := ev.Device
		if s.protectDup.Load() {
			if inserted := s.seen.Insert(dedupKey(dev), struct{}{}); !inserted {
				s.mu.Unlock()
				s.logger.WithField("address", dev.Address).Debug("Skipping duplicate device")
				return
			}
		}
		s.discovered = append(s.discovered, dev)
		matched := sess.opts.Filter == nil || sess.opts.Filter.Match(dev)
		if matched {
			sess.matched = true
		}
		s.mu.Unlock()

		s.logger.WithFields(logrus.Fields{
			"address": dev.Address,
			"name":    dev.Name,
			"major":   dev.Major.String(),
		}).Info("Discovered device")
		s.events.Send(Event{Type: EventFound, Device: dev})

		if matched && sess.opts.Listener != nil {
			if keepGoing := sess.opts.Listener.OnDeviceFound(dev, true); !keepGoing {
				s.StopDiscovery()
			}
		}

	case device.ScanFinished:
		matched := sess.matched
		count := len(s.discovered)
		s.mu.Unlock()

		s.state.Store(int32(Finished))
		s.logger.WithField("device_count", count).Info("Discovery finished")
		s.events.Send(Event{Type: EventFinished})

		if sess.opts.OnFinished != nil {
			sess.opts.OnFinished()
		}
		if !matched && sess.opts.Listener != nil {
			sess.opts.Listener.OnDeviceNotFound(true)
		}

	default:
		s.mu.Unlock()
	}
}

// dedupKey identifies a device by (name, major); an absent name is "".
func dedupKey(dev device.DeviceRef) string {
	return fmt.Sprintf("%d|%s", int(dev.Major), dev.Name)
}

// State returns the current discovery state.
func (s *Scanner) State() State {
	return State(s.state.Load())
}

// Discovered returns a snapshot of the devices seen in the current session.
func (s *Scanner) Discovered() []device.DeviceRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]device.DeviceRef, len(s.discovered))
	copy(out, s.discovered)
	return out
}

// Events returns the discovery event stream. When the consumer falls
// behind, the oldest events are dropped.
func (s *Scanner) Events() <-chan Event {
	return s.events.C()
}

// ErrScanInterrupted is returned by Scan when ctx ends before the transport finishes.
var ErrScanInterrupted = errors.New("scan interrupted")

// Scan runs one discovery session to completion and returns every device
// seen. If ctx ends first the scan is stopped and the devices seen so far
// are returned together with ctx's error.
func (s *Scanner) Scan(ctx context.Context, filter device.Filter) ([]device.DeviceRef, error) {
	finished := make(chan struct{})
	var once sync.Once

	started := s.StartDiscovery(Options{
		Filter:     filter,
		OnFinished: func() { once.Do(func() { close(finished) }) },
	})
	if !started {
		return nil, device.ErrScanStartFailed
	}

	select {
	case <-finished:
		return s.matching(filter), nil
	case <-ctx.Done():
		s.StopDiscovery()
		return s.matching(filter), fmt.Errorf("%w: %w", ErrScanInterrupted, ctx.Err())
	}
}

func (s *Scanner) matching(filter device.Filter) []device.DeviceRef {
	all := s.Discovered()
	if filter == nil {
		return all
	}
	out := all[:0]
	for _, d := range all {
		if filter.Match(d) {
			out = append(out, d)
		}
	}
	return out
}
