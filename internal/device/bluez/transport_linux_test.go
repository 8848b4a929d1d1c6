//go:build linux

package bluez

import (
	"sync"
	"testing"
	"time"

	dbus "github.com/godbus/dbus/v5"
	"github.com/srg/btwiz/internal/device"
	"github.com/srg/btwiz/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAdapter = dbus.ObjectPath("/org/bluez/hci0")

// adapterCalls records Adapter1 method calls made by a busless Transport.
type adapterCalls struct {
	mu    sync.Mutex
	names []string
}

func (a *adapterCalls) call(method string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.names = append(a.names, method)
	return nil
}

func (a *adapterCalls) get() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.names...)
}

// eventLog collects scan events delivered to one handler.
type eventLog struct {
	mu     sync.Mutex
	events []device.ScanEvent
}

func (l *eventLog) handle(ev device.ScanEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) get() []device.ScanEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]device.ScanEvent(nil), l.events...)
}

func newBuslessTransport(t *testing.T) (*Transport, *adapterCalls) {
	calls := &adapterCalls{}
	return &Transport{
		adapter:     testAdapter,
		logger:      testutils.NewTestHelper(t).Logger,
		callAdapter: calls.call,
	}, calls
}

// startSession mimics a successful StartScan without subscribing to the bus.
func startSession(t *testing.T, tr *Transport) (*scanSession, <-chan struct{}) {
	sess := tr.beginScan()
	require.NotNil(t, sess)
	tr.scanning.Store(true)
	done := make(chan struct{})
	go func() {
		tr.pump(sess)
		close(done)
	}()
	return sess, done
}

func TestCancelScanEndsSessionBeforeRestart(t *testing.T) {
	// GOAL: Verify a scan can be restarted right after CancelScan and the old session cannot reach the new handler
	//
	// TEST SCENARIO: cancel → Finished delivered inline to old handler → new handler + new session accepted → stale events dropped

	tr, calls := newBuslessTransport(t)
	oldEvents, newEvents := &eventLog{}, &eventLog{}
	tr.SetScanHandler(oldEvents.handle)
	old, pumpDone := startSession(t, tr)

	require.NoError(t, tr.CancelScan())

	evs := oldEvents.get()
	require.Len(t, evs, 1, "CancelScan MUST finish the session before returning")
	assert.Equal(t, device.ScanFinished, evs[0].Kind)
	assert.False(t, tr.IsScanning())
	assert.Equal(t, []string{"StopDiscovery"}, calls.get())

	tr.SetScanHandler(newEvents.handle)
	next := tr.beginScan()
	require.NotNil(t, next, "a restart right after CancelScan MUST NOT be refused")

	testutils.Receive(t, pumpDone, "old pump exit")
	tr.endScan(old, true)
	tr.emit(old, device.ScanEvent{Kind: device.ScanDeviceFound, Device: testutils.Dev("00:00:00:00:00:01", "late", device.MajorPhone)})
	assert.Empty(t, newEvents.get(), "events of a previous session MUST NOT reach a newer handler")
	assert.Len(t, oldEvents.get(), 1, "a session MUST finish once")

	tr.emit(next, device.ScanEvent{Kind: device.ScanStarted})
	assert.Len(t, newEvents.get(), 1)
}

func TestCancelScanWithoutSession(t *testing.T) {
	tr, calls := newBuslessTransport(t)

	assert.NoError(t, tr.CancelScan())
	assert.Empty(t, calls.get(), "no session MUST mean no adapter call")
}

func TestDiscoveryWindowEndsScan(t *testing.T) {
	saved := DiscoveryWindow
	DiscoveryWindow = 10 * time.Millisecond
	defer func() { DiscoveryWindow = saved }()

	tr, calls := newBuslessTransport(t)
	events := &eventLog{}
	tr.SetScanHandler(events.handle)
	_, pumpDone := startSession(t, tr)

	testutils.Receive(t, pumpDone, "pump exit")
	assert.Equal(t, []string{"StopDiscovery"}, calls.get())
	require.Len(t, events.get(), 1)
	assert.Equal(t, device.ScanFinished, events.get()[0].Kind)
	assert.NotNil(t, tr.beginScan(), "an ended window MUST free the session slot")
}

func TestAdapterStoppingDiscoveryEndsScan(t *testing.T) {
	tr, calls := newBuslessTransport(t)
	events := &eventLog{}
	tr.SetScanHandler(events.handle)
	sess, pumpDone := startSession(t, tr)

	sess.signals <- &dbus.Signal{
		Path: testAdapter,
		Name: propsIface + ".PropertiesChanged",
		Body: []interface{}{adapterIface, map[string]dbus.Variant{"Discovering": dbus.MakeVariant(false)}, []string{}},
	}

	testutils.Receive(t, pumpDone, "pump exit")
	assert.Empty(t, calls.get(), "the adapter already stopped; no StopDiscovery call expected")
	require.Len(t, events.get(), 1)
	assert.Equal(t, device.ScanFinished, events.get()[0].Kind)
	assert.False(t, tr.IsScanning())
}
