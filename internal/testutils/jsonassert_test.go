package testutils

import (
	"fmt"
	"testing"

	"github.com/srg/btwiz/internal/device"
	"github.com/stretchr/testify/assert"
)

type recordingT struct {
	errors []string
}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func TestJSONAsserter_DefaultOptions(t *testing.T) {
	opts := NewJSONAsserter(t).GetOptions()

	assert.True(t, opts.IgnoreExtraKeys, "IgnoreExtraKeys MUST default to true")
	assert.True(t, opts.NilToEmptyArray, "NilToEmptyArray MUST default to true")
	assert.True(t, opts.AllowPresencePlaceholder, "AllowPresencePlaceholder MUST default to true")
	assert.False(t, opts.IgnoreArrayOrder)
	assert.Empty(t, opts.IgnoredFields)
}

func TestJSONAsserter_Compare(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		actual   string
		expected string
		pass     bool
	}{
		{name: "identical", actual: `{"a":1}`, expected: `{"a":1}`, pass: true},
		{name: "extra keys ignored", actual: `{"a":1,"b":2}`, expected: `{"a":1}`, pass: true},
		{name: "extra keys strict", opts: []Option{WithIgnoreExtraKeys(false)}, actual: `{"a":1,"b":2}`, expected: `{"a":1}`, pass: false},
		{name: "value differs", actual: `{"a":1}`, expected: `{"a":2}`, pass: false},
		{name: "presence placeholder", actual: `{"id":"xyz"}`, expected: `{"id":"<<PRESENCE>>"}`, pass: true},
		{name: "null equals empty array", actual: `{"ids":null}`, expected: `{"ids":[]}`, pass: true},
		{name: "ignored field", opts: []Option{WithIgnoredFields("ts")}, actual: `{"a":1,"ts":5}`, expected: `{"a":1,"ts":9}`, pass: true},
		{name: "array order strict", actual: `[1,2]`, expected: `[2,1]`, pass: false},
		{name: "array order ignored", opts: []Option{WithIgnoreArrayOrder(true)}, actual: `[1,2]`, expected: `[2,1]`, pass: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingT{}
			NewJSONAsserterWithInterface(rec).WithOptions(tt.opts...).Assert(tt.actual, tt.expected)
			if tt.pass {
				assert.Empty(t, rec.errors)
			} else {
				assert.NotEmpty(t, rec.errors)
			}
		})
	}
}

func TestJSONAsserter_AssertDevices(t *testing.T) {
	devs := []device.DeviceRef{
		Dev("00:00:00:00:00:01", "X", device.MajorPhone),
		NewDeviceBuilder().WithAddress("00:00:00:00:00:02").WithMajor(device.MajorComputer).Build(),
	}

	NewJSONAsserter(t).AssertDevices(devs, `[
		{"address": "00:00:00:00:00:01", "name": "X", "major": 512},
		{"address": "00:00:00:00:00:02", "major": 256}
	]`)
}

func TestJSONAsserter_InvalidJSON(t *testing.T) {
	rec := &recordingT{}
	NewJSONAsserterWithInterface(rec).Assert(`{`, `{}`)
	assert.Len(t, rec.errors, 1)
	assert.Contains(t, rec.errors[0], "invalid actual JSON")
}

func TestDeviceBuilderFromJSON(t *testing.T) {
	dev := NewDeviceBuilder().FromJSON(`{"name":%q,"major":%d}`, "Pixel", int(device.MajorPhone)).Build()
	assert.Equal(t, "Pixel", dev.Name)
	assert.Equal(t, device.MajorPhone, dev.Major)
	assert.Equal(t, "00:11:22:33:44:55", dev.Address)
}
