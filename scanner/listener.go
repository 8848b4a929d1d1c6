package scanner

import (
	"sync"

	"github.com/srg/btwiz/internal/device"
)

// LookupListener receives device lookup results.
//
// OnDeviceFound returns false to stop the discovery that produced dev.
// byDiscovery is false when the result came from the bonded list.
type LookupListener interface {
	OnDeviceFound(dev device.DeviceRef, byDiscovery bool) (keepGoing bool)
	OnDeviceNotFound(byDiscovery bool)
}

// LookupFuncs adapts funcs to LookupListener. A nil Found keeps discovery going.
type LookupFuncs struct {
	Found    func(dev device.DeviceRef, byDiscovery bool) bool
	NotFound func(byDiscovery bool)
}

func (f LookupFuncs) OnDeviceFound(dev device.DeviceRef, byDiscovery bool) bool {
	if f.Found == nil {
		return true
	}
	return f.Found(dev, byDiscovery)
}

func (f LookupFuncs) OnDeviceNotFound(byDiscovery bool) {
	if f.NotFound != nil {
		f.NotFound(byDiscovery)
	}
}

// Collector is a LookupListener that records every device and never stops discovery.
type Collector struct {
	mu      sync.Mutex
	devices []device.DeviceRef
}

func CollectAll() *Collector { return &Collector{} }

func (c *Collector) OnDeviceFound(dev device.DeviceRef, _ bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.devices = append(c.devices, dev)
	return true
}

func (c *Collector) OnDeviceNotFound(bool) {}

// Devices returns what was collected so far.
func (c *Collector) Devices() []device.DeviceRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]device.DeviceRef, len(c.devices))
	copy(out, c.devices)
	return out
}
