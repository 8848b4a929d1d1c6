// Package conn wraps one established byte-stream connection: lazy stream
// acquisition, blocking and asynchronous I/O, and idempotent close.
package conn

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/btwiz/internal/device"
	"github.com/srg/btwiz/internal/executor"
	"github.com/srg/btwiz/internal/groutine"
)

var nextID atomic.Uint64

// ConnectHooks lets the owner of the radio observe connect attempts made
// through a handle. Either method may be a no-op.
type ConnectHooks interface {
	// CancelDiscovery is called before every connect; scanning and connecting must not overlap.
	CancelDiscovery()
	// MarkConnecting is called with true before connect and false after it returns.
	MarkConnecting(connecting bool)
}

// Options configures a Conn.
type Options struct {
	// AutoOpen opens both streams on the first Read or Write. When false the
	// caller must call Open first.
	AutoOpen bool
	// Executors runs ReadAsync and WriteAsync. When nil the handle gets a private pair.
	Executors *executor.Pair
	Hooks     ConnectHooks
	Logger    *logrus.Logger
}

// Conn owns exactly one device.Socket. Once closed, every I/O call fails
// with device.ErrClosed.
type Conn struct {
	id     uint64
	remote device.DeviceRef
	logger *logrus.Logger
	execs  *executor.Pair
	hooks  ConnectHooks

	autoOpen bool

	mu     sync.Mutex
	sock   device.Socket
	in     io.Reader
	out    io.Writer
	closed bool
}

// New wraps sock. It panics if sock is nil.
func New(sock device.Socket, opts Options) *Conn {
	if sock == nil {
		panic("conn: nil socket")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	execs := opts.Executors
	if execs == nil {
		execs = executor.NewPair(executor.DefaultQueueSize, logger)
	}

	return &Conn{
		id:       nextID.Add(1),
		remote:   sock.RemoteDevice(),
		logger:   logger,
		execs:    execs,
		hooks:    opts.Hooks,
		autoOpen: opts.AutoOpen,
		sock:     sock,
	}
}

// ID is unique per process for the lifetime of the handle.
func (c *Conn) ID() uint64 { return c.id }

// RemoteDevice returns the peer. It stays valid after Close.
func (c *Conn) RemoteDevice() device.DeviceRef { return c.remote }

// Name returns the peer's name, which may be empty.
func (c *Conn) Name() string { return c.remote.Name }

func (c *Conn) Major() device.MajorClass { return c.remote.Major }

func (c *Conn) MajorString() string { return c.remote.Major.String() }

// Socket returns the underlying socket, or nil once closed.
func (c *Conn) Socket() device.Socket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sock
}

func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) String() string {
	return fmt.Sprintf("conn#%d(%s)", c.id, c.remote.Address)
}

// Open acquires both streams. If either fails the handle is closed and a
// StreamOpenFailed error returned. Opening an open handle is a no-op.
func (c *Conn) Open() error {
	_, _, err := c.streams(true)
	return err
}

// streams returns the open streams, opening them first when allowed.
func (c *Conn) streams(open bool) (io.Reader, io.Writer, error) {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return nil, nil, device.ErrClosed
	}
	if c.in != nil && c.out != nil {
		in, out := c.in, c.out
		c.mu.Unlock()
		return in, out, nil
	}
	if !open {
		c.mu.Unlock()
		return nil, nil, &device.Error{Kind: device.StreamOpenFailed, Msg: "streams not open and auto-open is disabled"}
	}

	in, err := c.sock.InputStream()
	if err != nil {
		c.mu.Unlock()
		c.logger.WithFields(logrus.Fields{"address": c.remote.Address, "error": err}).Error("Failed to open input stream")
		c.Close()
		return nil, nil, &device.Error{Kind: device.StreamOpenFailed, Msg: "input stream", Err: err}
	}
	out, err := c.sock.OutputStream()
	if err != nil {
		c.mu.Unlock()
		c.logger.WithFields(logrus.Fields{"address": c.remote.Address, "error": err}).Error("Failed to open output stream")
		c.Close()
		return nil, nil, &device.Error{Kind: device.StreamOpenFailed, Msg: "output stream", Err: err}
	}
	c.in, c.out = in, out
	c.mu.Unlock()

	c.logger.WithField("address", c.remote.Address).Debug("Streams opened")
	return in, out, nil
}

// Read blocks until data arrives. End of stream is reported as io.EOF;
// other transport failures are IoFailed errors.
func (c *Conn) Read(p []byte) (int, error) {
	if err := groutine.CheckBlocking("Read"); err != nil {
		return 0, err
	}
	in, _, err := c.streams(c.autoOpen)
	if err != nil {
		return 0, err
	}

	n, err := in.Read(p)
	if err != nil && err != io.EOF {
		return n, &device.Error{Kind: device.IoFailed, Msg: "read", Err: err}
	}
	return n, err
}

// ReadByte reads a single byte.
func (c *Conn) ReadByte() (byte, error) {
	var b [1]byte
	for {
		n, err := c.Read(b[:])
		if n == 1 {
			return b[0], nil
		}
		if err != nil {
			return 0, err
		}
	}
}

// Write blocks until all of p has been written.
func (c *Conn) Write(p []byte) (int, error) {
	if err := groutine.CheckBlocking("Write"); err != nil {
		return 0, err
	}
	_, out, err := c.streams(c.autoOpen)
	if err != nil {
		return 0, err
	}

	written := 0
	for written < len(p) {
		n, err := out.Write(p[written:])
		written += n
		if err != nil {
			return written, &device.Error{Kind: device.IoFailed, Msg: "write", Err: err}
		}
		if n == 0 {
			return written, &device.Error{Kind: device.IoFailed, Msg: "write", Err: io.ErrShortWrite}
		}
	}
	return written, nil
}

func (c *Conn) WriteByte(b byte) error {
	_, err := c.Write([]byte{b})
	return err
}

// WriteString writes s; an empty string writes nothing.
func (c *Conn) WriteString(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return c.Write([]byte(s))
}

// Connect performs the blocking connect of the underlying socket. Any scan
// is canceled first, and the connecting hint is raised for the duration.
func (c *Conn) Connect() error {
	if err := groutine.CheckBlocking("Connect"); err != nil {
		return err
	}
	sock := c.Socket()
	if sock == nil {
		return device.ErrClosed
	}

	if c.hooks != nil {
		c.hooks.CancelDiscovery()
		c.hooks.MarkConnecting(true)
		defer c.hooks.MarkConnecting(false)
	}

	fields := logrus.Fields{"address": c.remote.Address, "name": c.remote.Name}
	c.logger.WithFields(fields).Info("Connecting...")
	if err := sock.Connect(); err != nil {
		c.logger.WithFields(fields).WithField("error", err).Error("Connect failed")
		return device.NewError(device.ConnectFailed, device.StageConnectAsClient, err)
	}
	c.logger.WithFields(fields).Info("Connected")
	return nil
}

// ConnectListener receives the outcome of ConnectAsync.
type ConnectListener interface {
	OnConnected(c *Conn)
	OnConnectError(c *Conn, err error)
}

// ConnectAsync runs Connect on its own goroutine; concurrent calls are not serialized.
func (c *Conn) ConnectAsync(l ConnectListener) {
	if l == nil {
		panic("conn: nil connect listener")
	}
	groutine.Go(context.Background(), "connect-"+c.remote.Address, func(ctx context.Context) {
		if err := c.Connect(); err != nil {
			l.OnConnectError(c, err)
			return
		}
		l.OnConnected(c)
	})
}

// Close releases the socket and drops the streams. It is idempotent and
// always returns nil; errors from the transport are logged and dropped.
func (c *Conn) Close() error {
	c.mu.Lock()
	sock := c.sock
	c.sock, c.in, c.out = nil, nil, nil
	c.closed = true
	c.mu.Unlock()

	if sock == nil {
		return nil
	}
	if err := sock.Close(); err != nil {
		c.logger.WithFields(logrus.Fields{"address": c.remote.Address, "error": err}).Debug("Ignoring socket close error")
	}
	c.logger.WithField("address", c.remote.Address).Debug("Connection closed")
	return nil
}
