//go:build !linux

package devicefactory

import (
	"runtime"

	"github.com/sirupsen/logrus"
	"github.com/srg/btwiz/internal/device"
)

func newPlatformTransport(_ *logrus.Logger) (device.Transport, error) {
	return nil, &device.Error{Kind: device.UnsupportedTransport, Msg: "no Bluetooth classic transport for " + runtime.GOOS}
}
