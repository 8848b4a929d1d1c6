package testutils

import (
	"bytes"
	"errors"
	"io"
	"sync"

	"github.com/srg/btwiz/internal/device"
)

// ErrSocketClosed is returned by scripted sockets after Close.
var ErrSocketClosed = errors.New("scripted socket closed")

// ReadStep is one scripted result of a Read call.
type ReadStep struct {
	Data []byte
	Err  error
}

// ScriptedSocket is a device.Socket whose reads follow a script.
//
// When the script runs out, Read returns io.EOF, or blocks until Close if
// BlockWhenDrained is set.
type ScriptedSocket struct {
	Remote           device.DeviceRef
	ConnectErr       error
	InputErr         error
	OutputErr        error
	WriteErr         error
	CloseErr         error
	BlockWhenDrained bool

	mu       sync.Mutex
	steps    []ReadStep
	written  bytes.Buffer
	reads    int
	writes   int
	connects int
	closes   int
	closed   chan struct{}
}

func NewScriptedSocket(remote device.DeviceRef, steps ...ReadStep) *ScriptedSocket {
	return &ScriptedSocket{
		Remote: remote,
		steps:  steps,
		closed: make(chan struct{}),
	}
}

// Chunks is shorthand for a script of successful reads.
func Chunks(chunks ...string) []ReadStep {
	steps := make([]ReadStep, 0, len(chunks))
	for _, c := range chunks {
		steps = append(steps, ReadStep{Data: []byte(c)})
	}
	return steps
}

func (s *ScriptedSocket) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	return s.ConnectErr
}

func (s *ScriptedSocket) InputStream() (io.Reader, error) {
	if s.InputErr != nil {
		return nil, s.InputErr
	}
	return scriptedReader{s}, nil
}

func (s *ScriptedSocket) OutputStream() (io.Writer, error) {
	if s.OutputErr != nil {
		return nil, s.OutputErr
	}
	return scriptedWriter{s}, nil
}

func (s *ScriptedSocket) RemoteDevice() device.DeviceRef { return s.Remote }

func (s *ScriptedSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lazyInit()
	s.closes++
	if s.closes == 1 {
		close(s.closed)
	}
	return s.CloseErr
}

// lazyInit lets tests build a ScriptedSocket as a struct literal. Callers hold mu.
func (s *ScriptedSocket) lazyInit() {
	if s.closed == nil {
		s.closed = make(chan struct{})
	}
}

func (s *ScriptedSocket) read(p []byte) (int, error) {
	s.mu.Lock()
	s.lazyInit()
	s.reads++
	select {
	case <-s.closed:
		s.mu.Unlock()
		return 0, ErrSocketClosed
	default:
	}

	if len(s.steps) == 0 {
		block := s.BlockWhenDrained
		s.mu.Unlock()
		if !block {
			return 0, io.EOF
		}
		<-s.closed
		return 0, ErrSocketClosed
	}

	step := s.steps[0]
	n := copy(p, step.Data)
	if n < len(step.Data) {
		// keep the unread tail for the next call
		s.steps[0] = ReadStep{Data: step.Data[n:], Err: step.Err}
		s.mu.Unlock()
		return n, nil
	}
	s.steps = s.steps[1:]
	s.mu.Unlock()
	return n, step.Err
}

func (s *ScriptedSocket) write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lazyInit()
	s.writes++
	select {
	case <-s.closed:
		return 0, ErrSocketClosed
	default:
	}
	if s.WriteErr != nil {
		return 0, s.WriteErr
	}
	return s.written.Write(p)
}

// Written returns everything written so far.
func (s *ScriptedSocket) Written() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.written.Bytes()...)
}

func (s *ScriptedSocket) ReadCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func (s *ScriptedSocket) WriteCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *ScriptedSocket) ConnectCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

func (s *ScriptedSocket) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

type scriptedReader struct{ s *ScriptedSocket }

func (r scriptedReader) Read(p []byte) (int, error) { return r.s.read(p) }

type scriptedWriter struct{ s *ScriptedSocket }

func (w scriptedWriter) Write(p []byte) (int, error) { return w.s.write(p) }

// AcceptStep is one scripted result of an Accept call. A step with both
// fields nil models the transient (nil, nil) result.
type AcceptStep struct {
	Socket device.Socket
	Err    error
}

// ScriptedServerSocket is a device.ServerSocket whose accepts follow a script.
// When the script runs out, Accept blocks until Close.
type ScriptedServerSocket struct {
	mu      sync.Mutex
	steps   []AcceptStep
	accepts int
	closes  int
	closed  chan struct{}
}

func NewScriptedServerSocket(steps ...AcceptStep) *ScriptedServerSocket {
	return &ScriptedServerSocket{steps: steps, closed: make(chan struct{})}
}

func (s *ScriptedServerSocket) Accept() (device.Socket, error) {
	s.mu.Lock()
	s.accepts++
	select {
	case <-s.closed:
		s.mu.Unlock()
		return nil, ErrSocketClosed
	default:
	}
	if len(s.steps) == 0 {
		s.mu.Unlock()
		<-s.closed
		return nil, ErrSocketClosed
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	s.mu.Unlock()
	return step.Socket, step.Err
}

func (s *ScriptedServerSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	if s.closes == 1 {
		close(s.closed)
	}
	return nil
}

func (s *ScriptedServerSocket) AcceptCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepts
}

func (s *ScriptedServerSocket) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

var (
	_ device.Socket       = (*ScriptedSocket)(nil)
	_ device.ServerSocket = (*ScriptedServerSocket)(nil)
)
