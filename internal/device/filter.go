package device

import "strings"

// Filter is a predicate over device identity, used for bonded-list search
// and live discovery filtering.
type Filter interface {
	Match(dev DeviceRef) bool
}

// FilterFunc adapts a plain function to Filter.
type FilterFunc func(dev DeviceRef) bool

func (f FilterFunc) Match(dev DeviceRef) bool { return f(dev) }

// MajorFilter matches on major class and, optionally, on exact name.
// When both are set a device must satisfy both.
type MajorFilter struct {
	Major MajorClass // MajorAny disables the class comparison
	Name  *string    // nil disables the name comparison
}

func (f MajorFilter) Match(dev DeviceRef) bool {
	if f.Major != MajorAny && f.Major != dev.Major {
		return false
	}
	if f.Name != nil && *f.Name != dev.Name {
		return false
	}
	return true
}

// ByMajorAndName matches devices of the given class carrying exactly name.
func ByMajorAndName(major MajorClass, name string) MajorFilter {
	return MajorFilter{Major: major, Name: &name}
}

// ByName matches devices carrying exactly name, of any class.
func ByName(name string) MajorFilter {
	return MajorFilter{Major: MajorAny, Name: &name}
}

// ByMajor matches devices of the given class.
func ByMajor(major MajorClass) MajorFilter {
	return MajorFilter{Major: major}
}

// ByAddress matches a single device address, case-insensitively.
func ByAddress(address string) Filter {
	return FilterFunc(func(dev DeviceRef) bool {
		return strings.EqualFold(dev.Address, address)
	})
}

// AnyDevice matches every device.
func AnyDevice() MajorFilter { return ByMajor(MajorAny) }

func AudioVideo() MajorFilter    { return ByMajor(MajorAudioVideo) }
func Computer() MajorFilter      { return ByMajor(MajorComputer) }
func Health() MajorFilter        { return ByMajor(MajorHealth) }
func Imaging() MajorFilter       { return ByMajor(MajorImaging) }
func Misc() MajorFilter          { return ByMajor(MajorMisc) }
func Networking() MajorFilter    { return ByMajor(MajorNetworking) }
func Peripheral() MajorFilter    { return ByMajor(MajorPeripheral) }
func Phone() MajorFilter         { return ByMajor(MajorPhone) }
func Toy() MajorFilter           { return ByMajor(MajorToy) }
func Uncategorized() MajorFilter { return ByMajor(MajorUncategorized) }
func Wearable() MajorFilter      { return ByMajor(MajorWearable) }
