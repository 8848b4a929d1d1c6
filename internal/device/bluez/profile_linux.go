//go:build linux

package bluez

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	dbus "github.com/godbus/dbus/v5"
	"github.com/srg/btwiz/internal/device"
)

var errServerClosed = errors.New("bluez: server socket closed")

type profileConn struct {
	file   *os.File
	remote device.DeviceRef
}

// profile implements org.bluez.Profile1 and forwards NewConnection file descriptors.
type profile struct {
	adapter dbus.ObjectPath
	conns   chan profileConn
}

func (p *profile) Release() *dbus.Error { return nil }

func (p *profile) Cancel() *dbus.Error { return nil }

func (p *profile) RequestDisconnection(_ dbus.ObjectPath) *dbus.Error { return nil }

func (p *profile) NewConnection(dev dbus.ObjectPath, fd dbus.UnixFD, _ map[string]dbus.Variant) *dbus.Error {
	file := os.NewFile(uintptr(fd), "rfcomm")
	conn := profileConn{
		file:   file,
		remote: device.DeviceRef{Address: addressFromPath(dev), Major: device.MajorUncategorized},
	}
	select {
	case p.conns <- conn:
		return nil
	default:
		// No receiver; close the descriptor rather than leak it
		_ = file.Close()
		return &dbus.Error{Name: "org.bluez.Error.Rejected", Body: []interface{}{"no receiver"}}
	}
}

// fdSocket is a connected stream delivered by BlueZ as a file descriptor.
type fdSocket struct {
	file   *os.File
	remote device.DeviceRef
	after  func()
	once   sync.Once
}

func (s *fdSocket) Connect() error { return nil }

func (s *fdSocket) InputStream() (io.Reader, error) { return s.file, nil }

func (s *fdSocket) OutputStream() (io.Writer, error) { return s.file, nil }

func (s *fdSocket) RemoteDevice() device.DeviceRef { return s.remote }

func (s *fdSocket) Close() error {
	var err error
	s.once.Do(func() {
		err = s.file.Close()
		if s.after != nil {
			s.after()
		}
	})
	return err
}

// profileSocket is a client socket for a service id. Connect registers a
// client profile and asks BlueZ to connect it; the stream arrives through
// the profile's NewConnection.
type profileSocket struct {
	t      *Transport
	remote device.DeviceRef
	id     device.ServiceID
	mode   device.SecureMode

	done chan struct{}

	mu     sync.Mutex
	conn   *fdSocket
	closed bool
}

func (s *profileSocket) Connect() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("bluez: socket closed")
	}
	s.mu.Unlock()

	prof, path, err := s.t.registerProfile("client", "", s.id, s.mode)
	if err != nil {
		return err
	}
	devObj := s.t.bus.Object(bluezService, devicePath(s.t.adapter, s.remote.Address))
	if err := devObj.Call(deviceIface+".ConnectProfile", 0, s.id.String()).Err; err != nil {
		s.t.unregisterProfile(path)
		return fmt.Errorf("bluez: ConnectProfile %s: %w", s.id, err)
	}

	var c profileConn
	select {
	case c = <-prof.conns:
	case <-s.done:
		s.t.unregisterProfile(path)
		return errors.New("bluez: socket closed")
	}
	fs := &fdSocket{file: c.file, remote: s.remote, after: func() { s.t.unregisterProfile(path) }}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = fs.Close()
		return errors.New("bluez: socket closed")
	}
	s.conn = fs
	return nil
}

func (s *profileSocket) stream() (*fdSocket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil, errors.New("bluez: socket not connected")
	}
	return s.conn, nil
}

func (s *profileSocket) InputStream() (io.Reader, error) {
	c, err := s.stream()
	if err != nil {
		return nil, err
	}
	return c.InputStream()
}

func (s *profileSocket) OutputStream() (io.Writer, error) {
	c, err := s.stream()
	if err != nil {
		return nil, err
	}
	return c.OutputStream()
}

func (s *profileSocket) RemoteDevice() device.DeviceRef { return s.remote }

func (s *profileSocket) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	c := s.conn
	s.conn = nil
	s.mu.Unlock()
	if c != nil {
		return c.Close()
	}
	return nil
}

// profileServer accepts the connections BlueZ delivers to a server profile.
type profileServer struct {
	t    *Transport
	prof *profile
	path dbus.ObjectPath

	once   sync.Once
	closed chan struct{}
}

func (s *profileServer) Accept() (device.Socket, error) {
	select {
	case <-s.closed:
		return nil, errServerClosed
	case c := <-s.prof.conns:
		return &fdSocket{file: c.file, remote: s.t.resolve(c.remote)}, nil
	}
}

func (s *profileServer) Close() error {
	s.once.Do(func() {
		close(s.closed)
		s.t.unregisterProfile(s.path)
	})
	return nil
}

// resolve fills in the name and class of a peer known only by address.
func (t *Transport) resolve(dev device.DeviceRef) device.DeviceRef {
	var props map[string]dbus.Variant
	call := t.bus.Object(bluezService, devicePath(t.adapter, dev.Address)).Call(propsIface+".GetAll", 0, deviceIface)
	if call.Err != nil || call.Store(&props) != nil {
		return dev
	}
	return deviceFromProps(devicePath(t.adapter, dev.Address), props)
}
