package connector

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/srg/btwiz/internal/device"
	"github.com/srg/btwiz/internal/groutine"
	"github.com/srg/btwiz/pkg/conn"
)

// socketFactory creates one client socket; stage names the creation path.
type socketFactory struct {
	name   string
	stage  string
	create func() (device.Socket, error)
}

// Connect blocks until dev is connected, returning a registered handle.
//
// With opts.ServiceID set exactly one socket is created for that id. Without
// it the advertised id, the serial port profile and the low-level RFCOMM
// path are tried in order; the error returned is that of the last attempt.
// ctx is checked between attempts. A transport connect already in progress
// is not interrupted.
func (c *Connector) Connect(ctx context.Context, dev device.DeviceRef, opts ConnectOptions) (*conn.Conn, error) {
	if err := groutine.CheckBlocking("Connect"); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if opts.ServiceID != nil {
		id := *opts.ServiceID
		return c.attempt(dev, socketFactory{
			name:  "explicit",
			stage: device.StageCreateClientSocket,
			create: func() (device.Socket, error) {
				return c.transport.CreateSocket(dev, id, opts.Mode)
			},
		})
	}

	var lastErr error
	for _, f := range c.chain(dev, opts.Mode) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h, err := c.attempt(dev, f)
		if err == nil {
			return h, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Connector) chain(dev device.DeviceRef, mode device.SecureMode) []socketFactory {
	var chain []socketFactory

	ids, err := c.transport.AdvertisedServiceIDs(dev)
	switch {
	case err != nil:
		c.logger.WithFields(logrus.Fields{"address": dev.Address, "error": err}).Error("Failed to read advertised service ids")
	case len(ids) == 0:
		c.logger.WithField("address", dev.Address).Debug("Device advertises no service ids")
	default:
		advertised := ids[0]
		chain = append(chain, socketFactory{
			name:  "advertised " + advertised.String(),
			stage: device.StageCreateClientSocket,
			create: func() (device.Socket, error) {
				return c.transport.CreateSocket(dev, advertised, mode)
			},
		})
	}

	return append(chain,
		socketFactory{
			name:  "serial port profile",
			stage: device.StageCreateClientSocket,
			create: func() (device.Socket, error) {
				return c.transport.CreateSocket(dev, device.SerialPortProfile, mode)
			},
		},
		socketFactory{
			name:  "low-level rfcomm",
			stage: device.StageCreateRfcommSocket,
			create: func() (device.Socket, error) {
				return c.transport.CreateSocketLowLevel(dev, mode)
			},
		},
	)
}

// attempt runs Idle → SocketCreated → Connecting → Connected|Failed for one
// factory. A failed attempt leaves no open socket behind.
func (c *Connector) attempt(dev device.DeviceRef, f socketFactory) (*conn.Conn, error) {
	fields := logrus.Fields{"address": dev.Address, "name": dev.Name, "service": f.name}

	sock, err := f.create()
	if err != nil || sock == nil {
		if sock != nil {
			_ = sock.Close()
		}
		c.logger.WithFields(fields).WithField("error", err).Error("Socket creation failed")
		return nil, device.NewError(device.SocketCreationFailed, f.stage, err)
	}

	h := c.Wrap(sock)
	if err := h.Connect(); err != nil {
		h.Close()
		return nil, err
	}

	if !c.registry.Register(h) {
		return nil, &device.Error{Kind: device.Closed, Stage: device.StageConnectAsClient, Msg: "connected after cleanup"}
	}
	c.logger.WithFields(fields).Info("Connected as client")
	return h, nil
}

// ConnectAsClient runs Connect on its own goroutine and reports through l.
// Concurrent calls are not serialized with each other.
func (c *Connector) ConnectAsClient(dev device.DeviceRef, l ConnectionListener, opts ConnectOptions) {
	if l == nil {
		panic("connector: nil connection listener")
	}
	groutine.Go(context.Background(), "connect-"+dev.Address, func(ctx context.Context) {
		h, err := c.Connect(ctx, dev, opts)
		if err != nil {
			l.OnConnectionError(err, device.StageOf(err))
			return
		}
		l.OnConnectSuccess(h)
	})
}
