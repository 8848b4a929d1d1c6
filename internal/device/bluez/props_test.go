package bluez

import (
	"testing"

	dbus "github.com/godbus/dbus/v5"
	"github.com/srg/btwiz/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceFromProps(t *testing.T) {
	tests := []struct {
		name     string
		path     dbus.ObjectPath
		props    map[string]dbus.Variant
		expected device.DeviceRef
	}{
		{
			name: "full properties",
			path: "/org/bluez/hci0/dev_00_11_22_33_44_55",
			props: map[string]dbus.Variant{
				"Address": dbus.MakeVariant("00:11:22:33:44:55"),
				"Name":    dbus.MakeVariant("Pixel"),
				"Class":   dbus.MakeVariant(uint32(0x5a020c)),
			},
			expected: device.DeviceRef{Address: "00:11:22:33:44:55", Name: "Pixel", Major: device.MajorPhone},
		},
		{
			name:     "address from path and no class",
			path:     "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF",
			props:    map[string]dbus.Variant{},
			expected: device.DeviceRef{Address: "AA:BB:CC:DD:EE:FF", Major: device.MajorUncategorized},
		},
		{
			name: "alias used when name missing",
			path: "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF",
			props: map[string]dbus.Variant{
				"Alias": dbus.MakeVariant("Workbench"),
				"Class": dbus.MakeVariant(uint32(0x000104)),
			},
			expected: device.DeviceRef{Address: "AA:BB:CC:DD:EE:FF", Name: "Workbench", Major: device.MajorComputer},
		},
		{
			name: "address alias ignored",
			path: "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF",
			props: map[string]dbus.Variant{
				"Alias": dbus.MakeVariant("AA-BB-CC-DD-EE-FF"),
			},
			expected: device.DeviceRef{Address: "AA:BB:CC:DD:EE:FF", Major: device.MajorUncategorized},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, deviceFromProps(tt.path, tt.props))
		})
	}
}

func TestServiceIDsFromProps(t *testing.T) {
	props := map[string]dbus.Variant{
		"UUIDs": dbus.MakeVariant([]string{
			"00001101-0000-1000-8000-00805f9b34fb",
			"garbage",
			"8ce255c0-200a-11e0-ac64-0800200c9a66",
		}),
	}

	ids := serviceIDsFromProps(props)

	require.Len(t, ids, 2, "malformed entries MUST be skipped")
	assert.Equal(t, device.SerialPortProfile, ids[0])
	assert.Equal(t, "8ce255c0-200a-11e0-ac64-0800200c9a66", ids[1].String())
	assert.Nil(t, serviceIDsFromProps(map[string]dbus.Variant{}))
}

func TestAddressHelpers(t *testing.T) {
	assert.Equal(t, "", addressFromPath("/org/bluez/hci0"))
	assert.Equal(t,
		dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_0F"),
		devicePath("/org/bluez/hci0", "aa:bb:cc:dd:ee:0f"))

	addr, err := parseAddress("00:11:22:33:44:55")
	require.NoError(t, err)
	assert.Equal(t, [6]uint8{0x55, 0x44, 0x33, 0x22, 0x11, 0x00}, addr)

	for _, bad := range []string{"", "00:11:22:33:44", "00:11:22:33:44:zz", "0:11:22:33:44:55"} {
		_, err := parseAddress(bad)
		assert.Error(t, err, "address %q MUST be rejected", bad)
	}
}

func TestProfileOptions(t *testing.T) {
	secure := profileOptions("server", "btwiz", device.Secure)
	assert.Equal(t, "server", secure["Role"].Value())
	assert.Equal(t, "btwiz", secure["Name"].Value())
	assert.Equal(t, true, secure["RequireAuthentication"].Value())

	insecure := profileOptions("client", "", device.Insecure)
	assert.Equal(t, false, insecure["RequireAuthorization"].Value())
	_, hasName := insecure["Name"]
	assert.False(t, hasName)
}
