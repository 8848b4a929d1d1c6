package testutils

import (
	"sync"

	"github.com/srg/btwiz/internal/device"
	"github.com/stretchr/testify/mock"
)

// MockTransport is a testify mock of device.Transport.
//
// Every capability call is recorded, so tests can assert on scan and socket
// counts. SetScanHandler is not recorded; the installed handler is kept so
// tests can drive the scan lifecycle with Emit.
type MockTransport struct {
	mock.Mock

	mu      sync.Mutex
	handler device.ScanHandler
	sets    int
}

func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// AllowScanControl registers optional expectations for CancelScan and IsScanning.
func (m *MockTransport) AllowScanControl() *MockTransport {
	m.On("CancelScan").Return(nil).Maybe()
	m.On("IsScanning").Return(false).Maybe()
	return m
}

// WithBonded registers the bonded device list.
func (m *MockTransport) WithBonded(devs ...device.DeviceRef) *MockTransport {
	m.On("BondedDevices").Return(devs, nil)
	return m
}

func (m *MockTransport) IsRadioEnabled() bool {
	return m.Called().Bool(0)
}

func (m *MockTransport) BondedDevices() ([]device.DeviceRef, error) {
	args := m.Called()
	devs, _ := args.Get(0).([]device.DeviceRef)
	return devs, args.Error(1)
}

func (m *MockTransport) SetScanHandler(h device.ScanHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
	m.sets++
}

func (m *MockTransport) StartScan() bool {
	return m.Called().Bool(0)
}

func (m *MockTransport) CancelScan() error {
	return m.Called().Error(0)
}

func (m *MockTransport) IsScanning() bool {
	return m.Called().Bool(0)
}

func (m *MockTransport) AdvertisedServiceIDs(dev device.DeviceRef) ([]device.ServiceID, error) {
	args := m.Called(dev)
	ids, _ := args.Get(0).([]device.ServiceID)
	return ids, args.Error(1)
}

func (m *MockTransport) CreateSocket(dev device.DeviceRef, id device.ServiceID, mode device.SecureMode) (device.Socket, error) {
	args := m.Called(dev, id, mode)
	sock, _ := args.Get(0).(device.Socket)
	return sock, args.Error(1)
}

func (m *MockTransport) CreateSocketLowLevel(dev device.DeviceRef, mode device.SecureMode) (device.Socket, error) {
	args := m.Called(dev, mode)
	sock, _ := args.Get(0).(device.Socket)
	return sock, args.Error(1)
}

func (m *MockTransport) Listen(name string, id device.ServiceID, mode device.SecureMode) (device.ServerSocket, error) {
	args := m.Called(name, id, mode)
	srv, _ := args.Get(0).(device.ServerSocket)
	return srv, args.Error(1)
}

// HasScanHandler reports whether a scan handler is currently installed.
func (m *MockTransport) HasScanHandler() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handler != nil
}

// Emit delivers ev to the installed scan handler, if any, on the calling goroutine.
func (m *MockTransport) Emit(ev device.ScanEvent) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

func (m *MockTransport) EmitStarted() { m.Emit(device.ScanEvent{Kind: device.ScanStarted}) }

func (m *MockTransport) EmitFound(devs ...device.DeviceRef) {
	for _, d := range devs {
		m.Emit(device.ScanEvent{Kind: device.ScanDeviceFound, Device: d})
	}
}

func (m *MockTransport) EmitFinished() { m.Emit(device.ScanEvent{Kind: device.ScanFinished}) }

var _ device.Transport = (*MockTransport)(nil)
