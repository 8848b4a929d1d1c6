package device_test

import (
	"testing"

	"github.com/srg/btwiz/internal/device"
	"github.com/stretchr/testify/assert"
)

func TestMajorFilterMatch(t *testing.T) {
	phoneX := device.DeviceRef{Address: "00:00:00:00:00:01", Name: "X", Major: device.MajorPhone}
	unnamedPC := device.DeviceRef{Address: "00:00:00:00:00:02", Major: device.MajorComputer}

	tests := []struct {
		name   string
		filter device.Filter
		dev    device.DeviceRef
		match  bool
	}{
		{"any device matches phone", device.AnyDevice(), phoneX, true},
		{"any device matches unnamed", device.AnyDevice(), unnamedPC, true},
		{"phone filter matches phone", device.Phone(), phoneX, true},
		{"phone filter rejects computer", device.Phone(), unnamedPC, false},
		{"computer filter matches computer", device.Computer(), unnamedPC, true},
		{"name filter matches", device.ByName("X"), phoneX, true},
		{"name filter rejects absent name", device.ByName("X"), unnamedPC, false},
		{"major and name both match", device.ByMajorAndName(device.MajorPhone, "X"), phoneX, true},
		{"major matches but name differs", device.ByMajorAndName(device.MajorPhone, "Y"), phoneX, false},
		{"name matches but major differs", device.ByMajorAndName(device.MajorComputer, "X"), phoneX, false},
		{"address filter ignores case", device.ByAddress("00:00:00:00:00:0a"), device.DeviceRef{Address: "00:00:00:00:00:0A"}, true},
		{"address filter rejects other", device.ByAddress("00:00:00:00:00:01"), unnamedPC, false},
		{"func filter", device.FilterFunc(func(d device.DeviceRef) bool { return d.Name == "" }), unnamedPC, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.match, tt.filter.Match(tt.dev))
		})
	}
}

func TestMajorFilterFactories(t *testing.T) {
	factories := map[device.MajorClass]func() device.MajorFilter{
		device.MajorAudioVideo:    device.AudioVideo,
		device.MajorComputer:      device.Computer,
		device.MajorHealth:        device.Health,
		device.MajorImaging:       device.Imaging,
		device.MajorMisc:          device.Misc,
		device.MajorNetworking:    device.Networking,
		device.MajorPeripheral:    device.Peripheral,
		device.MajorPhone:         device.Phone,
		device.MajorToy:           device.Toy,
		device.MajorUncategorized: device.Uncategorized,
		device.MajorWearable:      device.Wearable,
	}

	for major, factory := range factories {
		f := factory()
		assert.Equal(t, major, f.Major, "factory for %s MUST set its class", major)
		assert.Nil(t, f.Name, "factory for %s MUST NOT compare names", major)
	}
}
