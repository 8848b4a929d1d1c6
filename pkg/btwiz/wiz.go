// Package btwiz is the process context that owns the transport, discovery,
// connection and accept components, and their shared teardown.
package btwiz

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/btwiz/connector"
	"github.com/srg/btwiz/internal/device"
	"github.com/srg/btwiz/internal/devicefactory"
	"github.com/srg/btwiz/internal/executor"
	"github.com/srg/btwiz/internal/registry"
	"github.com/srg/btwiz/pkg/config"
	"github.com/srg/btwiz/pkg/conn"
	"github.com/srg/btwiz/scanner"
	"github.com/srg/btwiz/server"
)

// Wiz holds every component bound to one transport. Operations other than
// Init, configuration setters and Cleanup return device.ErrNotInitialized
// until Init succeeds.
type Wiz struct {
	cfg    *config.Config
	logger *logrus.Logger

	mu        sync.Mutex
	transport device.Transport
	scanner   *scanner.Scanner
	connector *connector.Connector
	server    *server.Server
	registry  *registry.Registry
	execs     *executor.Pair

	appID      device.ServiceID
	protectDup bool
	autoOpen   bool
}

// New creates an uninitialized Wiz. A nil cfg means config.DefaultConfig.
// An invalid service id in cfg is ignored in favour of a random one; validate
// the config first to reject it.
func New(cfg *config.Config, logger *logrus.Logger) *Wiz {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = cfg.NewLogger()
	}
	appID, set, err := cfg.AppServiceID()
	if err != nil || !set {
		appID = device.NewRandomServiceID()
	}
	return &Wiz{
		cfg:        cfg,
		logger:     logger,
		appID:      appID,
		protectDup: cfg.ProtectAgainstDuplicates,
		autoOpen:   cfg.AutoOpenStreams,
	}
}

// Init binds the platform transport and builds the components. Idempotent.
func (w *Wiz) Init() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.transport != nil {
		return nil
	}

	transport, err := devicefactory.TransportFactory(w.logger)
	if err != nil {
		if !device.IsKind(err, device.UnsupportedTransport) {
			err = device.NewError(device.UnsupportedTransport, "", err)
		}
		w.logger.WithField("error", err).Error("Failed to initialize transport")
		return err
	}
	if transport == nil {
		return &device.Error{Kind: device.UnsupportedTransport, Msg: "no transport"}
	}

	queueSize := w.cfg.IOQueueSize
	if queueSize <= 0 {
		queueSize = executor.DefaultQueueSize
	}
	reg := registry.New(w.logger)
	execs := executor.NewPair(queueSize, w.logger)

	var cn *connector.Connector
	sc := scanner.NewScanner(transport, scanner.Config{
		ProtectAgainstDuplicates: w.protectDup,
		EventBuffer:              w.cfg.EventBuffer,
		Connecting:               func() bool { return cn != nil && cn.IsConnecting() },
	}, w.logger)
	cn = connector.NewConnector(transport, sc, reg, execs, connector.Config{AutoOpenStreams: w.autoOpen}, w.logger)

	w.transport = transport
	w.scanner = sc
	w.connector = cn
	w.server = server.NewServer(transport, cn, reg, w.logger)
	w.registry = reg
	w.execs = execs

	w.logger.WithField("service", w.appID.String()).Debug("Initialized")
	return nil
}

// IsInitialized reports whether Init has succeeded and Cleanup has not run since.
func (w *Wiz) IsInitialized() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.transport != nil
}

type parts struct {
	transport device.Transport
	scanner   *scanner.Scanner
	connector *connector.Connector
	server    *server.Server
	registry  *registry.Registry
	execs     *executor.Pair
}

func (w *Wiz) parts() (parts, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.transport == nil {
		return parts{}, device.ErrNotInitialized
	}
	return parts{
		transport: w.transport,
		scanner:   w.scanner,
		connector: w.connector,
		server:    w.server,
		registry:  w.registry,
		execs:     w.execs,
	}, nil
}

// Cleanup stops discovery, stops the accept server, closes every registered
// connection and shuts down the async executors, in that order. Safe to call
// more than once; Init may be called again afterwards.
func (w *Wiz) Cleanup() {
	w.mu.Lock()
	p := parts{
		transport: w.transport,
		scanner:   w.scanner,
		connector: w.connector,
		server:    w.server,
		registry:  w.registry,
		execs:     w.execs,
	}
	w.transport, w.scanner, w.connector, w.server, w.registry, w.execs = nil, nil, nil, nil, nil, nil
	w.mu.Unlock()

	if p.transport == nil {
		return
	}

	p.scanner.StopDiscovery()
	p.server.StopListening()
	closed := p.registry.CloseAll()
	p.execs.Shutdown()

	if c, ok := p.transport.(io.Closer); ok {
		if err := c.Close(); err != nil {
			w.logger.WithField("error", err).Debug("Ignoring transport close error")
		}
	}
	w.logger.WithField("connections", closed).Info("Cleaned up")
}

// IsEnabled reports whether the radio is on. False before Init.
func (w *Wiz) IsEnabled() bool {
	p, err := w.parts()
	if err != nil {
		return false
	}
	if !p.transport.IsRadioEnabled() {
		w.logger.Warn("Bluetooth radio is disabled")
		return false
	}
	return true
}

// SetProtectAgainstDuplicates toggles (name, major) de-duplication of discovery results.
func (w *Wiz) SetProtectAgainstDuplicates(on bool) {
	w.mu.Lock()
	w.protectDup = on
	sc := w.scanner
	w.mu.Unlock()
	if sc != nil {
		sc.SetProtectAgainstDuplicates(on)
	}
}

// SetAutoOpenStreams controls whether new handles open their streams on first I/O.
func (w *Wiz) SetAutoOpenStreams(on bool) {
	w.mu.Lock()
	w.autoOpen = on
	cn := w.connector
	w.mu.Unlock()
	if cn != nil {
		cn.SetAutoOpenStreams(on)
	}
}

// ServiceID returns the id the accept server listens on.
func (w *Wiz) ServiceID() device.ServiceID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appID
}

// SetServiceID changes the listening id. The zero id is rejected.
func (w *Wiz) SetServiceID(id device.ServiceID) error {
	if id.IsZero() {
		return errors.New("btwiz: zero service id")
	}
	w.mu.Lock()
	w.appID = id
	w.mu.Unlock()
	return nil
}

// UseSerialPortProfile resets the listening id to the serial-port profile.
func (w *Wiz) UseSerialPortProfile() {
	w.mu.Lock()
	w.appID = device.SerialPortProfile
	w.mu.Unlock()
}

// Discovery

func (w *Wiz) StartDiscovery(opts scanner.Options) (bool, error) {
	p, err := w.parts()
	if err != nil {
		return false, err
	}
	return p.scanner.StartDiscovery(opts), nil
}

func (w *Wiz) StopDiscovery() error {
	p, err := w.parts()
	if err != nil {
		return err
	}
	p.scanner.StopDiscovery()
	return nil
}

// DiscoveryState is NotStarted before Init.
func (w *Wiz) DiscoveryState() scanner.State {
	p, err := w.parts()
	if err != nil {
		return scanner.NotStarted
	}
	return p.scanner.State()
}

// DiscoveredDevices returns a snapshot of the current session's devices.
func (w *Wiz) DiscoveredDevices() ([]device.DeviceRef, error) {
	p, err := w.parts()
	if err != nil {
		return nil, err
	}
	return p.scanner.Discovered(), nil
}

func (w *Wiz) Events() (<-chan scanner.Event, error) {
	p, err := w.parts()
	if err != nil {
		return nil, err
	}
	return p.scanner.Events(), nil
}

// Scan runs one discovery session to completion or until ctx ends.
func (w *Wiz) Scan(ctx context.Context, filter device.Filter) ([]device.DeviceRef, error) {
	p, err := w.parts()
	if err != nil {
		return nil, err
	}
	return p.scanner.Scan(ctx, filter)
}

// Lookup and connect

func (w *Wiz) BondedDevices() ([]device.DeviceRef, error) {
	p, err := w.parts()
	if err != nil {
		return nil, err
	}
	return p.connector.BondedDevices()
}

func (w *Wiz) FindBondedDevice(filter device.Filter) (device.DeviceRef, bool, error) {
	p, err := w.parts()
	if err != nil {
		return device.DeviceRef{}, false, err
	}
	dev, ok := p.connector.FindBondedDevice(filter)
	return dev, ok, nil
}

func (w *Wiz) AdvertisedServiceIDs(dev device.DeviceRef) ([]device.ServiceID, error) {
	p, err := w.parts()
	if err != nil {
		return nil, err
	}
	return p.connector.AdvertisedServiceIDs(dev)
}

func (w *Wiz) LookupDevice(filter device.Filter, l scanner.LookupListener, discoverIfNeeded bool) error {
	p, err := w.parts()
	if err != nil {
		return err
	}
	p.connector.LookupDevice(filter, l, discoverIfNeeded)
	return nil
}

func (w *Wiz) Lookup(ctx context.Context, filter device.Filter, discoverIfNeeded bool) (connector.LookupResult, error) {
	p, err := w.parts()
	if err != nil {
		return connector.LookupResult{}, err
	}
	return p.connector.Lookup(ctx, filter, discoverIfNeeded)
}

func (w *Wiz) ConnectAsClient(dev device.DeviceRef, l connector.ConnectionListener, opts connector.ConnectOptions) error {
	p, err := w.parts()
	if err != nil {
		return err
	}
	p.connector.ConnectAsClient(dev, l, opts)
	return nil
}

func (w *Wiz) Connect(ctx context.Context, dev device.DeviceRef, opts connector.ConnectOptions) (*conn.Conn, error) {
	p, err := w.parts()
	if err != nil {
		return nil, err
	}
	return p.connector.Connect(ctx, dev, opts)
}

// Accept server

func (w *Wiz) listenOptions(mode device.SecureMode) server.ListenOptions {
	return server.ListenOptions{Mode: mode, ServiceID: w.ServiceID()}
}

// Listen starts the accept loop in the background on the app service id.
func (w *Wiz) Listen(name string, mode device.SecureMode, l server.AcceptListener) error {
	p, err := w.parts()
	if err != nil {
		return err
	}
	p.server.ListenAsync(name, l, w.listenOptions(mode))
	return nil
}

// Serve runs the accept loop on the calling goroutine.
func (w *Wiz) Serve(ctx context.Context, name string, mode device.SecureMode, l server.AcceptListener) error {
	p, err := w.parts()
	if err != nil {
		return err
	}
	return p.server.Serve(ctx, name, l, w.listenOptions(mode))
}

func (w *Wiz) StopListening() {
	p, err := w.parts()
	if err != nil {
		return
	}
	p.server.StopListening()
}

// Server returns the current listening socket, or nil.
func (w *Wiz) Server() device.ServerSocket {
	p, err := w.parts()
	if err != nil {
		return nil
	}
	return p.server.ServerSocket()
}

// Connections returns the number of registered handles.
func (w *Wiz) Connections() int {
	p, err := w.parts()
	if err != nil {
		return 0
	}
	return p.registry.Len()
}
