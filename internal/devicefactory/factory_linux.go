//go:build linux

package devicefactory

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/btwiz/internal/device"
	"github.com/srg/btwiz/internal/device/bluez"
)

func newPlatformTransport(logger *logrus.Logger) (device.Transport, error) {
	t, err := bluez.New(logger)
	if err != nil {
		return nil, &device.Error{Kind: device.UnsupportedTransport, Msg: "BlueZ unavailable", Err: err}
	}
	return t, nil
}
