//go:build linux

package bluez

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	dbus "github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/btwiz/internal/device"
	"github.com/srg/btwiz/internal/groutine"
)

// DiscoveryWindow bounds one inquiry; BlueZ keeps discovering until told to stop.
var DiscoveryWindow = 12 * time.Second

var pathCounter uint64

// Transport is the BlueZ implementation of device.Transport.
type Transport struct {
	bus     *dbus.Conn
	adapter dbus.ObjectPath
	logger  *logrus.Logger

	// callAdapter invokes a no-argument Adapter1 method
	callAdapter func(method string) error

	mu         sync.Mutex
	handler    device.ScanHandler
	handlerGen uint64 // bumped by SetScanHandler
	scan       *scanSession
	closed     bool

	scanning atomic.Bool
}

// scanSession is one StartScan..ScanFinished run. Its events reach only the
// handler that was installed when it started.
type scanSession struct {
	signals    chan *dbus.Signal
	stop       chan struct{}
	stopOnce   sync.Once
	once       sync.Once
	handlerGen uint64
	unsub      func()
}

// New connects to the system bus and binds the first adapter that BlueZ reports.
func New(logger *logrus.Logger) (*Transport, error) {
	if logger == nil {
		logger = logrus.New()
	}
	bus, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("bluez: connect system bus: %w", err)
	}
	objs, err := getManagedObjects(bus)
	if err != nil {
		_ = bus.Close()
		return nil, err
	}
	var adapter dbus.ObjectPath
	for path, ifaces := range objs {
		if _, ok := ifaces[adapterIface]; ok && (adapter == "" || path < adapter) {
			adapter = path
		}
	}
	if adapter == "" {
		_ = bus.Close()
		return nil, errors.New("bluez: no adapter found")
	}
	logger.WithField("adapter", adapter).Debug("Bound BlueZ adapter")
	t := &Transport{bus: bus, adapter: adapter, logger: logger}
	t.callAdapter = func(method string) error {
		return t.adapterObj().Call(adapterIface+"."+method, 0).Err
	}
	return t, nil
}

func getManagedObjects(bus *dbus.Conn) (managedObjects, error) {
	var objs managedObjects
	call := bus.Object(bluezService, "/").Call(objManagerIface+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("bluez: GetManagedObjects: %w", call.Err)
	}
	if err := call.Store(&objs); err != nil {
		return nil, fmt.Errorf("bluez: decode GetManagedObjects: %w", err)
	}
	return objs, nil
}

func (t *Transport) adapterObj() dbus.BusObject {
	return t.bus.Object(bluezService, t.adapter)
}

func (t *Transport) IsRadioEnabled() bool {
	v, err := t.adapterObj().GetProperty(adapterIface + ".Powered")
	if err != nil {
		t.logger.WithField("error", err).Debug("Failed to read adapter power state")
		return false
	}
	powered, _ := v.Value().(bool)
	return powered
}

func (t *Transport) BondedDevices() ([]device.DeviceRef, error) {
	objs, err := getManagedObjects(t.bus)
	if err != nil {
		return nil, err
	}
	var out []device.DeviceRef
	for path, ifaces := range objs {
		props, ok := ifaces[deviceIface]
		if !ok || !boolProp(props, "Paired") {
			continue
		}
		if adapter, _ := props["Adapter"].Value().(dbus.ObjectPath); adapter != "" && adapter != t.adapter {
			continue
		}
		out = append(out, deviceFromProps(path, props))
	}
	return out, nil
}

func (t *Transport) SetScanHandler(h device.ScanHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
	t.handlerGen++
}

// emit delivers ev unless the handler was replaced after sess started.
func (t *Transport) emit(sess *scanSession, ev device.ScanEvent) {
	t.mu.Lock()
	h := t.handler
	if t.handlerGen != sess.handlerGen {
		h = nil
	}
	t.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

// beginScan installs a new session, or returns nil while one is running.
func (t *Transport) beginScan() *scanSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.scan != nil {
		return nil
	}
	sess := &scanSession{
		signals:    make(chan *dbus.Signal, 32),
		stop:       make(chan struct{}),
		handlerGen: t.handlerGen,
	}
	t.scan = sess
	return sess
}

func (t *Transport) StartScan() bool {
	sess := t.beginScan()
	if sess == nil {
		return false
	}

	t.bus.Signal(sess.signals)
	_ = t.bus.AddMatchSignal(dbus.WithMatchInterface(objManagerIface), dbus.WithMatchMember("InterfacesAdded"))
	_ = t.bus.AddMatchSignal(dbus.WithMatchInterface(propsIface), dbus.WithMatchMember("PropertiesChanged"))
	sess.unsub = func() {
		t.bus.RemoveSignal(sess.signals)
		_ = t.bus.RemoveMatchSignal(dbus.WithMatchInterface(objManagerIface), dbus.WithMatchMember("InterfacesAdded"))
		_ = t.bus.RemoveMatchSignal(dbus.WithMatchInterface(propsIface), dbus.WithMatchMember("PropertiesChanged"))
	}

	if err := t.callAdapter("StartDiscovery"); err != nil {
		t.logger.WithField("error", err).Warn("Adapter refused discovery")
		t.endScan(sess, false)
		return false
	}
	t.scanning.Store(true)
	t.emit(sess, device.ScanEvent{Kind: device.ScanStarted})

	groutine.Go(context.Background(), "bluez-discovery", func(ctx context.Context) {
		t.pump(sess)
	})
	return true
}

// pump forwards discovery signals until the window ends, discovery stops or
// CancelScan is called. CancelScan ends the session itself.
func (t *Transport) pump(sess *scanSession) {
	window := time.NewTimer(DiscoveryWindow)
	defer window.Stop()

	for {
		select {
		case <-sess.stop:
			return
		case <-window.C:
			_ = t.callAdapter("StopDiscovery")
			t.endScan(sess, true)
			return
		case sig, ok := <-sess.signals:
			if !ok {
				t.endScan(sess, true)
				return
			}
			if t.handleSignal(sess, sig) {
				t.endScan(sess, true)
				return
			}
		}
	}
}

// handleSignal reports true once the adapter leaves discovering state.
func (t *Transport) handleSignal(sess *scanSession, sig *dbus.Signal) bool {
	if sig == nil {
		return false
	}
	switch sig.Name {
	case objManagerIface + ".InterfacesAdded":
		if len(sig.Body) < 2 {
			return false
		}
		path, _ := sig.Body[0].(dbus.ObjectPath)
		ifaces, _ := sig.Body[1].(map[string]map[string]dbus.Variant)
		if props, ok := ifaces[deviceIface]; ok {
			t.emit(sess, device.ScanEvent{Kind: device.ScanDeviceFound, Device: deviceFromProps(path, props)})
		}
	case propsIface + ".PropertiesChanged":
		if len(sig.Body) < 2 {
			return false
		}
		iface, _ := sig.Body[0].(string)
		changed, _ := sig.Body[1].(map[string]dbus.Variant)
		switch {
		case iface == adapterIface && sig.Path == t.adapter:
			if v, ok := changed["Discovering"]; ok {
				if on, _ := v.Value().(bool); !on {
					return true
				}
			}
		case iface == deviceIface:
			// A known device seen again reports a fresh RSSI
			if _, ok := changed["RSSI"]; !ok {
				return false
			}
			var props map[string]dbus.Variant
			call := t.bus.Object(bluezService, sig.Path).Call(propsIface+".GetAll", 0, deviceIface)
			if call.Err == nil && call.Store(&props) == nil {
				t.emit(sess, device.ScanEvent{Kind: device.ScanDeviceFound, Device: deviceFromProps(sig.Path, props)})
			}
		}
	}
	return false
}

func (t *Transport) endScan(sess *scanSession, notify bool) {
	sess.once.Do(func() {
		if sess.unsub != nil {
			sess.unsub()
		}

		t.mu.Lock()
		if t.scan == sess {
			t.scan = nil
		}
		t.mu.Unlock()
		t.scanning.Store(false)

		if notify {
			t.emit(sess, device.ScanEvent{Kind: device.ScanFinished})
		}
	})
}

// CancelScan stops discovery and ends the session before returning, so a
// StartScan right after it starts a fresh session.
func (t *Transport) CancelScan() error {
	t.mu.Lock()
	sess := t.scan
	t.mu.Unlock()
	if sess == nil {
		return nil
	}
	err := t.callAdapter("StopDiscovery")
	sess.stopOnce.Do(func() { close(sess.stop) })
	t.endScan(sess, true)
	if err != nil {
		return fmt.Errorf("bluez: StopDiscovery: %w", err)
	}
	return nil
}

func (t *Transport) IsScanning() bool {
	return t.scanning.Load()
}

func (t *Transport) AdvertisedServiceIDs(dev device.DeviceRef) ([]device.ServiceID, error) {
	var props map[string]dbus.Variant
	call := t.bus.Object(bluezService, devicePath(t.adapter, dev.Address)).Call(propsIface+".GetAll", 0, deviceIface)
	if call.Err != nil {
		return nil, fmt.Errorf("bluez: read device %s: %w", dev.Address, call.Err)
	}
	if err := call.Store(&props); err != nil {
		return nil, fmt.Errorf("bluez: decode device %s: %w", dev.Address, err)
	}
	return serviceIDsFromProps(props), nil
}

func (t *Transport) CreateSocket(dev device.DeviceRef, id device.ServiceID, mode device.SecureMode) (device.Socket, error) {
	if _, err := parseAddress(dev.Address); err != nil {
		return nil, err
	}
	return &profileSocket{t: t, remote: dev, id: id, mode: mode, done: make(chan struct{})}, nil
}

func (t *Transport) CreateSocketLowLevel(dev device.DeviceRef, mode device.SecureMode) (device.Socket, error) {
	return newRFCOMMSocket(dev, LowLevelChannel, mode)
}

func (t *Transport) Listen(name string, id device.ServiceID, mode device.SecureMode) (device.ServerSocket, error) {
	prof, path, err := t.registerProfile("server", name, id, mode)
	if err != nil {
		return nil, err
	}
	return &profileServer{t: t, prof: prof, path: path, closed: make(chan struct{})}, nil
}

// registerProfile exports a Profile1 object and registers it with BlueZ for id.
func (t *Transport) registerProfile(role, name string, id device.ServiceID, mode device.SecureMode) (*profile, dbus.ObjectPath, error) {
	prof := &profile{adapter: t.adapter, conns: make(chan profileConn, 4)}
	seq := atomic.AddUint64(&pathCounter, 1)
	path := dbus.ObjectPath("/org/btwiz/profile/" + role + strconv.FormatUint(seq, 10))

	if err := t.bus.Export(prof, path, profileIface); err != nil {
		return nil, "", fmt.Errorf("bluez: export %s profile: %w", role, err)
	}
	pm := t.bus.Object(bluezService, "/org/bluez")
	if call := pm.Call(profileManagerIface+".RegisterProfile", 0, path, id.String(), profileOptions(role, name, mode)); call.Err != nil {
		_ = t.bus.Export(nil, path, profileIface)
		return nil, "", fmt.Errorf("bluez: RegisterProfile(%s): %w", role, call.Err)
	}
	return prof, path, nil
}

func (t *Transport) unregisterProfile(path dbus.ObjectPath) {
	_ = t.bus.Object(bluezService, "/org/bluez").Call(profileManagerIface+".UnregisterProfile", 0, path).Err
	_ = t.bus.Export(nil, path, profileIface)
}

// Close stops discovery and releases the bus connection. Idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	_ = t.CancelScan()
	return t.bus.Close()
}

var _ device.Transport = (*Transport)(nil)
