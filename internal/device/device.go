package device

import (
	"fmt"
	"io"
	"strings"
)

// MajorClass is the major device class of a remote device's class-of-device field.
type MajorClass int

// Major device classes, as assigned in the Bluetooth baseband "Class of Device" field.
const (
	MajorMisc          MajorClass = 0x0000
	MajorComputer      MajorClass = 0x0100
	MajorPhone         MajorClass = 0x0200
	MajorNetworking    MajorClass = 0x0300
	MajorAudioVideo    MajorClass = 0x0400
	MajorPeripheral    MajorClass = 0x0500
	MajorImaging       MajorClass = 0x0600
	MajorWearable      MajorClass = 0x0700
	MajorToy           MajorClass = 0x0800
	MajorHealth        MajorClass = 0x0900
	MajorUncategorized MajorClass = 0x1F00

	// MajorAny never appears on a device; filters use it as "do not compare".
	MajorAny MajorClass = -1
)

var majorNames = map[MajorClass]string{
	MajorMisc:          "MISC",
	MajorComputer:      "COMPUTER",
	MajorPhone:         "PHONE",
	MajorNetworking:    "NETWORKING",
	MajorAudioVideo:    "AUDIO_VIDEO",
	MajorPeripheral:    "PERIPHERAL",
	MajorImaging:       "IMAGING",
	MajorWearable:      "WEARABLE",
	MajorToy:           "TOY",
	MajorHealth:        "HEALTH",
	MajorUncategorized: "UNCATEGORIZED",
}

func (m MajorClass) String() string {
	if name, ok := majorNames[m]; ok {
		return name
	}
	if m == MajorAny {
		return "ANY"
	}
	return fmt.Sprintf("Unknown (%d)", int(m))
}

// ParseMajorClass accepts the names produced by MajorClass.String (case-insensitive).
func ParseMajorClass(s string) (MajorClass, error) {
	for m, name := range majorNames {
		if strings.EqualFold(name, s) {
			return m, nil
		}
	}
	if strings.EqualFold(s, "ANY") {
		return MajorAny, nil
	}
	return MajorAny, fmt.Errorf("unknown major device class %q", s)
}

// MajorFromClassOfDevice extracts the major class bits from a 24-bit class-of-device value.
func MajorFromClassOfDevice(cod uint32) MajorClass {
	return MajorClass(cod & 0x1F00)
}

// DeviceRef identifies a remote device. It is immutable once observed.
type DeviceRef struct {
	Address string     `json:"address"`
	Name    string     `json:"name,omitempty"` // empty when the device did not report a name
	Major   MajorClass `json:"major"`
}

// DisplayName returns the name, falling back to the address.
func (d DeviceRef) DisplayName() string {
	if d.Name == "" {
		return d.Address
	}
	return d.Name
}

func (d DeviceRef) String() string {
	return fmt.Sprintf("%s (%s, %s)", d.DisplayName(), d.Address, d.Major)
}

// SecureMode selects whether the link requires authentication and encryption.
type SecureMode int

const (
	Secure SecureMode = iota
	Insecure
)

func (m SecureMode) String() string {
	if m == Insecure {
		return "insecure"
	}
	return "secure"
}

// ParseSecureMode accepts "secure" or "insecure"; an empty string means Secure.
func ParseSecureMode(s string) (SecureMode, error) {
	switch {
	case s == "" || strings.EqualFold(s, "secure"):
		return Secure, nil
	case strings.EqualFold(s, "insecure"):
		return Insecure, nil
	default:
		return Secure, fmt.Errorf("invalid secure mode %q (must be secure or insecure)", s)
	}
}

// ScanEventKind tags the scan lifecycle events a transport delivers.
type ScanEventKind int

const (
	ScanStarted ScanEventKind = iota
	ScanDeviceFound
	ScanFinished
)

func (k ScanEventKind) String() string {
	switch k {
	case ScanStarted:
		return "started"
	case ScanDeviceFound:
		return "device_found"
	case ScanFinished:
		return "finished"
	default:
		return fmt.Sprintf("scan_event(%d)", int(k))
	}
}

// ScanEvent is a single scan lifecycle notification. Device is set only for ScanDeviceFound.
type ScanEvent struct {
	Kind   ScanEventKind
	Device DeviceRef
}

// ScanHandler receives scan lifecycle events. Transports may call it from any goroutine.
type ScanHandler func(ScanEvent)

// Socket is one client or accepted byte-stream connection as produced by a transport.
//
// Connect blocks until the link is up. InputStream and OutputStream may be
// called once each; Close must unblock any pending Read or Write.
type Socket interface {
	Connect() error
	InputStream() (io.Reader, error)
	OutputStream() (io.Writer, error)
	RemoteDevice() DeviceRef
	Close() error
}

// ServerSocket is a listening endpoint.
//
// Accept may return (nil, nil) on platform-specific transient conditions;
// callers retry in that case. Close must unblock a pending Accept.
type ServerSocket interface {
	Accept() (Socket, error)
	Close() error
}

// Transport is the radio capability consumed by the core.
type Transport interface {
	IsRadioEnabled() bool
	BondedDevices() ([]DeviceRef, error)

	// SetScanHandler installs the receiver of scan lifecycle events; nil detaches it.
	SetScanHandler(h ScanHandler)
	// StartScan requests an asynchronous scan; false means the adapter refused.
	StartScan() bool
	CancelScan() error
	IsScanning() bool

	AdvertisedServiceIDs(dev DeviceRef) ([]ServiceID, error)
	CreateSocket(dev DeviceRef, id ServiceID, mode SecureMode) (Socket, error)
	// CreateSocketLowLevel bypasses service lookup and opens an RFCOMM channel directly.
	CreateSocketLowLevel(dev DeviceRef, mode SecureMode) (Socket, error)
	Listen(name string, id ServiceID, mode SecureMode) (ServerSocket, error)
}
