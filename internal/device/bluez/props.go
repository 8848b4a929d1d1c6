// Package bluez binds device.Transport to the BlueZ D-Bus API and Linux RFCOMM sockets.
package bluez

import (
	"fmt"
	"strings"

	dbus "github.com/godbus/dbus/v5"
	"github.com/srg/btwiz/internal/device"
)

const (
	bluezService        = "org.bluez"
	profileIface        = "org.bluez.Profile1"
	profileManagerIface = "org.bluez.ProfileManager1"
	deviceIface         = "org.bluez.Device1"
	adapterIface        = "org.bluez.Adapter1"
	objManagerIface     = "org.freedesktop.DBus.ObjectManager"
	propsIface          = "org.freedesktop.DBus.Properties"
)

// managedObjects is the reply shape of ObjectManager.GetManagedObjects.
type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// deviceFromProps builds a DeviceRef from Device1 properties.
func deviceFromProps(path dbus.ObjectPath, props map[string]dbus.Variant) device.DeviceRef {
	var dev device.DeviceRef
	if v, ok := props["Address"]; ok {
		dev.Address, _ = v.Value().(string)
	}
	if dev.Address == "" {
		dev.Address = addressFromPath(path)
	}
	if v, ok := props["Name"]; ok {
		dev.Name, _ = v.Value().(string)
	}
	if dev.Name == "" {
		// Alias defaults to the address in BlueZ; only use it when it differs
		if v, ok := props["Alias"]; ok {
			if alias, _ := v.Value().(string); alias != "" && !isAddressAlias(alias, dev.Address) {
				dev.Name = alias
			}
		}
	}
	dev.Major = device.MajorUncategorized
	if v, ok := props["Class"]; ok {
		if cod, ok := v.Value().(uint32); ok {
			dev.Major = device.MajorFromClassOfDevice(cod)
		}
	}
	return dev
}

func isAddressAlias(alias, address string) bool {
	return strings.EqualFold(strings.ReplaceAll(alias, "-", ":"), address)
}

func boolProp(props map[string]dbus.Variant, name string) bool {
	v, ok := props[name]
	if !ok {
		return false
	}
	b, _ := v.Value().(bool)
	return b
}

// serviceIDsFromProps parses the Device1 UUIDs property, skipping malformed entries.
func serviceIDsFromProps(props map[string]dbus.Variant) []device.ServiceID {
	v, ok := props["UUIDs"]
	if !ok {
		return nil
	}
	raw, _ := v.Value().([]string)
	ids := make([]device.ServiceID, 0, len(raw))
	for _, s := range raw {
		if id, err := device.ParseServiceID(s); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// addressFromPath extracts the address from a .../dev_XX_XX_XX_XX_XX_XX object path.
func addressFromPath(p dbus.ObjectPath) string {
	s := string(p)
	idx := strings.LastIndex(s, "/dev_")
	if idx < 0 {
		return ""
	}
	return strings.ReplaceAll(s[idx+5:], "_", ":")
}

// devicePath returns the Device1 object path of address under adapter.
func devicePath(adapter dbus.ObjectPath, address string) dbus.ObjectPath {
	return adapter + dbus.ObjectPath("/dev_"+strings.ToUpper(strings.ReplaceAll(address, ":", "_")))
}

// parseAddress converts "AA:BB:CC:DD:EE:FF" to the little-endian bdaddr layout used by sockets.
func parseAddress(address string) ([6]uint8, error) {
	var out [6]uint8
	parts := strings.Split(address, ":")
	if len(parts) != 6 {
		return out, fmt.Errorf("invalid bluetooth address %q", address)
	}
	for i, p := range parts {
		var b uint8
		if _, err := fmt.Sscanf(p, "%02x", &b); err != nil || len(p) != 2 {
			return out, fmt.Errorf("invalid bluetooth address %q", address)
		}
		out[5-i] = b
	}
	return out, nil
}

// profileOptions builds RegisterProfile options for a role and security mode.
func profileOptions(role, name string, mode device.SecureMode) map[string]dbus.Variant {
	secure := mode == device.Secure
	opts := map[string]dbus.Variant{
		"Role":                  dbus.MakeVariant(role),
		"RequireAuthentication": dbus.MakeVariant(secure),
		"RequireAuthorization":  dbus.MakeVariant(secure),
	}
	if name != "" {
		opts["Name"] = dbus.MakeVariant(name)
	}
	return opts
}
