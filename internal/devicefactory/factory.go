package devicefactory

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/btwiz/internal/device"
)

// TransportFactory creates the platform radio transport.
// This is a variable so that it can be overridden in tests.
var TransportFactory = func(logger *logrus.Logger) (device.Transport, error) {
	return newPlatformTransport(logger)
}
