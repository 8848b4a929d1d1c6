package main

import (
	"errors"
	"fmt"

	"github.com/srg/btwiz/internal/device"
)

// FormatUserError turns a btwiz error into a one-line message for the terminal.
func FormatUserError(err error) string {
	var e *device.Error
	if !errors.As(err, &e) {
		return err.Error()
	}
	var hint string
	switch e.Kind {
	case device.UnsupportedTransport:
		hint = "no usable Bluetooth adapter (is bluetoothd running?)"
	case device.ScanStartFailed:
		hint = "the adapter refused to start discovery"
	case device.SocketCreationFailed:
		hint = "could not create a socket for the device"
	case device.ConnectFailed:
		hint = "could not connect to the device (is it in range and paired?)"
	case device.StreamOpenFailed:
		hint = "connected, but the data streams could not be opened"
	case device.IoFailed:
		hint = "the connection failed during transfer"
	case device.AcceptFailed:
		hint = "listening for connections failed"
	default:
		return err.Error()
	}
	return fmt.Sprintf("%s: %v", hint, err)
}
