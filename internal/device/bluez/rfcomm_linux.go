//go:build linux

package bluez

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/srg/btwiz/internal/device"
	"golang.org/x/sys/unix"
)

// LowLevelChannel is the RFCOMM channel used when service lookup is bypassed.
const LowLevelChannel = 1

// RFCOMM link-mode socket option (linux/rfcomm.h).
const (
	solRFCOMM     = 18
	rfcommLM      = 0x03
	rfcommLMAuth  = 0x0002
	rfcommLMCrypt = 0x0004
)

// rfcommSocket is a raw RFCOMM client socket on a fixed channel.
type rfcommSocket struct {
	remote device.DeviceRef
	addr   unix.SockaddrRFCOMM
	mode   device.SecureMode

	mu     sync.Mutex
	fd     int
	file   *os.File
	closed bool
}

func newRFCOMMSocket(dev device.DeviceRef, channel uint8, mode device.SecureMode) (*rfcommSocket, error) {
	addr, err := parseAddress(dev.Address)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, fmt.Errorf("bluez: rfcomm socket: %w", err)
	}
	if mode == device.Secure {
		if err := unix.SetsockoptInt(fd, solRFCOMM, rfcommLM, rfcommLMAuth|rfcommLMCrypt); err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("bluez: rfcomm link mode: %w", err)
		}
	}
	return &rfcommSocket{
		remote: dev,
		addr:   unix.SockaddrRFCOMM{Addr: addr, Channel: channel},
		mode:   mode,
		fd:     fd,
	}, nil
}

func (s *rfcommSocket) Connect() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("bluez: socket closed")
	}
	fd := s.fd
	s.mu.Unlock()

	if err := unix.Connect(fd, &s.addr); err != nil {
		return fmt.Errorf("bluez: rfcomm connect %s channel %d: %w", s.remote.Address, s.addr.Channel, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("bluez: socket closed")
	}
	s.file = os.NewFile(uintptr(fd), "rfcomm")
	return nil
}

func (s *rfcommSocket) stream() (*os.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil, errors.New("bluez: socket not connected")
	}
	return s.file, nil
}

func (s *rfcommSocket) InputStream() (io.Reader, error) {
	f, err := s.stream()
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *rfcommSocket) OutputStream() (io.Writer, error) {
	f, err := s.stream()
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *rfcommSocket) RemoteDevice() device.DeviceRef { return s.remote }

func (s *rfcommSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.file != nil {
		return s.file.Close()
	}
	// Shutdown first so a pending Connect returns
	_ = unix.Shutdown(s.fd, unix.SHUT_RDWR)
	return unix.Close(s.fd)
}
