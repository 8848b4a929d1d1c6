package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/srg/btwiz/internal/device"
)

// DeviceBuilder builds device.DeviceRef values for tests.
type DeviceBuilder struct {
	ref device.DeviceRef
}

func NewDeviceBuilder() *DeviceBuilder {
	return &DeviceBuilder{ref: device.DeviceRef{
		Address: "00:11:22:33:44:55",
		Major:   device.MajorUncategorized,
	}}
}

func (b *DeviceBuilder) WithAddress(addr string) *DeviceBuilder {
	b.ref.Address = addr
	return b
}

func (b *DeviceBuilder) WithName(name string) *DeviceBuilder {
	b.ref.Name = name
	return b
}

func (b *DeviceBuilder) WithMajor(major device.MajorClass) *DeviceBuilder {
	b.ref.Major = major
	return b
}

// FromJSON overlays fields decoded from a JSON object, e.g. {"name":"X","major":512}.
func (b *DeviceBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *DeviceBuilder {
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &b.ref); err != nil {
		panic(fmt.Sprintf("DeviceBuilder.FromJSON: %v", err))
	}
	return b
}

func (b *DeviceBuilder) Build() device.DeviceRef {
	return b.ref
}

// Dev is shorthand for a DeviceRef literal.
func Dev(address, name string, major device.MajorClass) device.DeviceRef {
	return device.DeviceRef{Address: address, Name: name, Major: major}
}
