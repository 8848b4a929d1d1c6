package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/srg/btwiz/internal/device"
	"github.com/srg/btwiz/internal/groutine"
	"github.com/srg/btwiz/internal/registry"
	"github.com/srg/btwiz/internal/testutils"
	"github.com/srg/btwiz/pkg/conn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	appID  = device.MustParseServiceID("8ce255c0-200a-11e0-ac64-0800200c9a66")
	client = testutils.Dev("00:00:00:00:00:01", "client", device.MajorComputer)
)

type acceptRecorder struct {
	mu       sync.Mutex
	accepted []*conn.Conn
	errs     []error
	stages   []string
	events   []string
}

func (r *acceptRecorder) OnNewConnectionAccepted(c *conn.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accepted = append(r.accepted, c)
	r.events = append(r.events, "accepted")
}

func (r *acceptRecorder) OnAcceptError(err error, stage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
	r.stages = append(r.stages, stage)
	r.events = append(r.events, "error")
}

func newServer(t *testing.T, transport *testutils.MockTransport) (*Server, *registry.Registry) {
	h := testutils.NewTestHelper(t)
	reg := registry.New(h.Logger)
	wrap := WrapFunc(func(sock device.Socket) *conn.Conn {
		return conn.New(sock, conn.Options{AutoOpen: true, Logger: h.Logger})
	})
	return NewServer(transport, wrap, reg, h.Logger), reg
}

func TestAcceptLoopScenario(t *testing.T) {
	// GOAL: Verify nil accepts are retried, an accept error ends the loop and the server socket closes once
	//
	// TEST SCENARIO: Accepts return nil x3, a socket, then an error → one accepted, one error, one close

	sock := testutils.NewScriptedSocket(client)
	srv := testutils.NewScriptedServerSocket(
		testutils.AcceptStep{},
		testutils.AcceptStep{},
		testutils.AcceptStep{},
		testutils.AcceptStep{Socket: sock},
		testutils.AcceptStep{Err: errors.New("adapter reset")},
	)
	transport := testutils.NewMockTransport()
	transport.On("Listen", "btwiz", appID, device.Secure).Return(srv, nil).Once()
	s, reg := newServer(t, transport)
	rec := &acceptRecorder{}

	err := s.Serve(context.Background(), "btwiz", rec, ListenOptions{ServiceID: appID})

	require.Error(t, err)
	assert.ErrorIs(t, err, device.ErrAcceptFailed)
	assert.Equal(t, []string{"accepted", "error"}, rec.events)
	assert.Equal(t, []string{device.StageAccept}, rec.stages)
	require.Len(t, rec.accepted, 1)
	assert.Same(t, sock, rec.accepted[0].Socket())
	assert.Equal(t, 1, reg.Len(), "accepted handle MUST be registered")
	assert.Equal(t, 5, srv.AcceptCalls())
	assert.Equal(t, 1, srv.CloseCalls(), "server socket MUST be closed exactly once")
	assert.False(t, s.IsListening())
	assert.Nil(t, s.ServerSocket())

	s.StopListening()
	assert.Equal(t, 1, srv.CloseCalls(), "StopListening after exit MUST NOT close again")
}

func TestListenCreationFailure(t *testing.T) {
	transport := testutils.NewMockTransport()
	transport.On("Listen", "btwiz", appID, device.Insecure).Return(nil, errors.New("no adapter")).Once()
	s, _ := newServer(t, transport)
	rec := &acceptRecorder{}

	err := s.Serve(context.Background(), "btwiz", rec, ListenOptions{Mode: device.Insecure, ServiceID: appID})

	assert.ErrorIs(t, err, device.ErrAcceptFailed)
	assert.Equal(t, []string{device.StageCreateServerSocket}, rec.stages)
	assert.Empty(t, rec.accepted)
	assert.False(t, s.IsListening(), "loop MUST NOT start without a socket")
}

func TestStopListeningEndsLoopQuietly(t *testing.T) {
	srv := testutils.NewScriptedServerSocket()
	transport := testutils.NewMockTransport()
	transport.On("Listen", "btwiz", appID, device.Secure).Return(srv, nil).Once()
	s, _ := newServer(t, transport)
	rec := &acceptRecorder{}

	done := make(chan error, 1)
	go func() { done <- s.Serve(context.Background(), "btwiz", rec, ListenOptions{ServiceID: appID}) }()
	testutils.NewTestHelper(t).WaitFor(func() bool { return srv.AcceptCalls() == 1 })
	assert.True(t, s.IsListening())
	assert.Same(t, srv, s.ServerSocket())

	s.StopListening()
	s.StopListening()

	assert.NoError(t, testutils.Receive(t, done, "serve exit"))
	assert.Empty(t, rec.errs, "a requested stop MUST NOT be reported as an error")
	assert.Equal(t, 1, srv.CloseCalls())
}

func TestServeStopsWhenContextEnds(t *testing.T) {
	srv := testutils.NewScriptedServerSocket()
	transport := testutils.NewMockTransport()
	transport.On("Listen", "btwiz", appID, device.Secure).Return(srv, nil).Once()
	s, _ := newServer(t, transport)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, "btwiz", AcceptFuncs{}, ListenOptions{ServiceID: appID}) }()
	testutils.NewTestHelper(t).WaitFor(func() bool { return srv.AcceptCalls() == 1 })

	cancel()
	assert.NoError(t, testutils.Receive(t, done, "serve exit"))
	assert.Equal(t, 1, srv.CloseCalls())
}

func TestListenAsync(t *testing.T) {
	sock := testutils.NewScriptedSocket(client)
	srv := testutils.NewScriptedServerSocket(testutils.AcceptStep{Socket: sock})
	transport := testutils.NewMockTransport()
	transport.On("Listen", "chat", appID, device.Secure).Return(srv, nil).Once()
	s, _ := newServer(t, transport)

	accepted := make(chan *conn.Conn, 1)
	s.ListenAsync("chat", AcceptFuncs{Accepted: func(c *conn.Conn) { accepted <- c }}, ListenOptions{ServiceID: appID})

	c := testutils.Receive(t, accepted, "accepted connection")
	assert.Equal(t, client, c.RemoteDevice())

	s.StopListening()
	testutils.NewTestHelper(t).WaitFor(func() bool { return !s.IsListening() })
	assert.Equal(t, 1, srv.CloseCalls())
}

func TestStopBeforeAcceptLoopStarts(t *testing.T) {
	// GOAL: Verify a stop issued while the listening socket is still being created is honored
	//
	// TEST SCENARIO: Listen takes 50ms, StopListening right after ListenAsync → socket closed, no accept, not listening

	srv := testutils.NewScriptedServerSocket(testutils.AcceptStep{Socket: testutils.NewScriptedSocket(client)})
	transport := testutils.NewMockTransport()
	transport.On("Listen", "btwiz", appID, device.Secure).After(50*time.Millisecond).Return(srv, nil).Once()
	s, reg := newServer(t, transport)
	rec := &acceptRecorder{}

	s.ListenAsync("btwiz", rec, ListenOptions{ServiceID: appID})
	assert.True(t, s.IsListening(), "ListenAsync MUST mark the server listening before returning")
	s.StopListening()

	testutils.NewTestHelper(t).WaitFor(func() bool { return srv.CloseCalls() == 1 }, "socket created after the stop MUST be closed")
	assert.False(t, s.IsListening())
	assert.Nil(t, s.ServerSocket())
	assert.Equal(t, 0, srv.AcceptCalls(), "accept loop MUST NOT start after a stop")
	assert.Equal(t, 0, reg.Len())
	assert.Empty(t, rec.events)
}

func TestServeReturnsWhenStoppedDuringCreation(t *testing.T) {
	srv := testutils.NewScriptedServerSocket()
	transport := testutils.NewMockTransport()
	transport.On("Listen", "btwiz", appID, device.Secure).After(50*time.Millisecond).Return(srv, nil).Once()
	s, _ := newServer(t, transport)

	done := make(chan error, 1)
	go func() { done <- s.Serve(context.Background(), "btwiz", AcceptFuncs{}, ListenOptions{ServiceID: appID}) }()
	testutils.NewTestHelper(t).WaitFor(s.IsListening)
	s.StopListening()

	assert.NoError(t, testutils.Receive(t, done, "serve exit"))
	assert.Equal(t, 1, srv.CloseCalls())
	assert.Equal(t, 0, srv.AcceptCalls())
}

func TestServeFromRestrictedGoroutine(t *testing.T) {
	s, _ := newServer(t, testutils.NewMockTransport())
	unmark := groutine.MarkRestricted()
	defer unmark()

	err := s.Serve(context.Background(), "btwiz", AcceptFuncs{}, ListenOptions{})
	assert.ErrorIs(t, err, device.ErrRestrictedContext)
}

func TestNilListenerPanics(t *testing.T) {
	s, _ := newServer(t, testutils.NewMockTransport())
	assert.Panics(t, func() { s.ListenAsync("x", nil, ListenOptions{}) })
}
