// Package connector resolves a target device to a live connection: bonded
// lookup before discovery, and a service id fallback chain for connects.
package connector

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/btwiz/internal/device"
	"github.com/srg/btwiz/internal/executor"
	"github.com/srg/btwiz/internal/groutine"
	"github.com/srg/btwiz/internal/registry"
	"github.com/srg/btwiz/pkg/conn"
	"github.com/srg/btwiz/scanner"
)

// Config configures a Connector.
type Config struct {
	AutoOpenStreams bool
}

// ConnectOptions selects the security mode and, optionally, an explicit
// service id. Without one the fallback chain is used.
type ConnectOptions struct {
	Mode      device.SecureMode
	ServiceID *device.ServiceID
}

// ConnectionListener receives the outcome of ConnectAsClient. stage is one
// of the device.Stage* constants.
type ConnectionListener interface {
	OnConnectSuccess(c *conn.Conn)
	OnConnectionError(err error, stage string)
}

// LookupResult is the outcome of Lookup. Device is meaningful only when Found.
type LookupResult struct {
	Found       bool
	Device      device.DeviceRef
	ByDiscovery bool
}

// Connector is the connection orchestrator.
type Connector struct {
	transport device.Transport
	scanner   *scanner.Scanner
	registry  *registry.Registry
	execs     *executor.Pair
	logger    *logrus.Logger

	connecting atomic.Bool
	autoOpen   atomic.Bool
}

func NewConnector(transport device.Transport, sc *scanner.Scanner, reg *registry.Registry, execs *executor.Pair, cfg Config, logger *logrus.Logger) *Connector {
	if transport == nil || sc == nil || reg == nil {
		panic("connector: nil transport, scanner or registry")
	}
	if logger == nil {
		logger = logrus.New()
	}
	if execs == nil {
		execs = executor.NewPair(executor.DefaultQueueSize, logger)
	}
	c := &Connector{
		transport: transport,
		scanner:   sc,
		registry:  reg,
		execs:     execs,
		logger:    logger,
	}
	c.autoOpen.Store(cfg.AutoOpenStreams)
	return c
}

// IsConnecting reports whether a connect attempt is in flight. Advisory only.
func (c *Connector) IsConnecting() bool { return c.connecting.Load() }

// SetAutoOpenStreams applies to handles created after the call.
func (c *Connector) SetAutoOpenStreams(on bool) { c.autoOpen.Store(on) }

// CancelDiscovery and MarkConnecting make Connector the conn.ConnectHooks of
// every handle it creates.
func (c *Connector) CancelDiscovery() { c.scanner.CancelScan() }

func (c *Connector) MarkConnecting(connecting bool) { c.connecting.Store(connecting) }

// Wrap turns a transport socket into a handle that shares this connector's
// executors and hooks. The handle is not registered.
func (c *Connector) Wrap(sock device.Socket) *conn.Conn {
	return conn.New(sock, conn.Options{
		AutoOpen:  c.autoOpen.Load(),
		Executors: c.execs,
		Hooks:     c,
		Logger:    c.logger,
	})
}

// BondedDevices enumerates paired devices. It blocks on the transport.
func (c *Connector) BondedDevices() ([]device.DeviceRef, error) {
	if err := groutine.CheckBlocking("BondedDevices"); err != nil {
		return nil, err
	}
	return c.transport.BondedDevices()
}

// FindBondedDevice returns the first bonded device matching filter.
func (c *Connector) FindBondedDevice(filter device.Filter) (device.DeviceRef, bool) {
	if filter == nil {
		panic("connector: nil filter")
	}
	devs, err := c.transport.BondedDevices()
	if err != nil {
		c.logger.WithField("error", err).Error("Failed to enumerate bonded devices")
		return device.DeviceRef{}, false
	}
	for _, d := range devs {
		if filter.Match(d) {
			return d, true
		}
	}
	return device.DeviceRef{}, false
}

// AdvertisedServiceIDs returns the service ids the transport knows for dev.
func (c *Connector) AdvertisedServiceIDs(dev device.DeviceRef) ([]device.ServiceID, error) {
	return c.transport.AdvertisedServiceIDs(dev)
}

// LookupDevice reports a bonded match with byDiscovery=false without
// scanning. Otherwise, if discoverIfNeeded, it runs discovery until the
// first match; else it reports not-found with byDiscovery=false.
func (c *Connector) LookupDevice(filter device.Filter, l scanner.LookupListener, discoverIfNeeded bool) {
	if filter == nil || l == nil {
		panic("connector: nil filter or listener")
	}

	if dev, ok := c.FindBondedDevice(filter); ok {
		c.logger.WithFields(logrus.Fields{"address": dev.Address, "name": dev.Name}).Info("Found bonded device")
		l.OnDeviceFound(dev, false)
		return
	}
	if discoverIfNeeded {
		c.DiscoverDevice(filter, l)
		return
	}
	l.OnDeviceNotFound(false)
}

// firstMatch forwards the first discovered match and stops the scan.
type firstMatch struct {
	scanner.LookupListener
}

func (f firstMatch) OnDeviceFound(dev device.DeviceRef, _ bool) bool {
	f.LookupListener.OnDeviceFound(dev, true)
	return false
}

// DiscoverDevice runs discovery looking for the first device matching
// filter. If the scan cannot start, l gets not-found with byDiscovery=false.
func (c *Connector) DiscoverDevice(filter device.Filter, l scanner.LookupListener) bool {
	if filter == nil || l == nil {
		panic("connector: nil filter or listener")
	}
	started := c.scanner.StartDiscovery(scanner.Options{
		Filter:   filter,
		Listener: firstMatch{l},
	})
	if !started {
		l.OnDeviceNotFound(false)
	}
	return started
}

// Lookup is the blocking form of LookupDevice. When ctx ends first any
// discovery is stopped and ctx's error returned.
func (c *Connector) Lookup(ctx context.Context, filter device.Filter, discoverIfNeeded bool) (LookupResult, error) {
	if err := groutine.CheckBlocking("Lookup"); err != nil {
		return LookupResult{}, err
	}

	results := make(chan LookupResult, 1)
	var once sync.Once
	deliver := func(r LookupResult) { once.Do(func() { results <- r }) }

	c.LookupDevice(filter, scanner.LookupFuncs{
		Found: func(dev device.DeviceRef, byDiscovery bool) bool {
			deliver(LookupResult{Found: true, Device: dev, ByDiscovery: byDiscovery})
			return false
		},
		NotFound: func(byDiscovery bool) {
			deliver(LookupResult{ByDiscovery: byDiscovery})
		},
	}, discoverIfNeeded)

	select {
	case r := <-results:
		return r, nil
	case <-ctx.Done():
		c.scanner.StopDiscovery()
		return LookupResult{}, ctx.Err()
	}
}
