// Package bridge pipes a connection to a local byte stream, typically a PTY,
// using the shared async read and write executors.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/srg/btwiz/connector"
	"github.com/srg/btwiz/internal/device"
	"github.com/srg/btwiz/internal/groutine"
	"github.com/srg/btwiz/internal/ptyio"
	"github.com/srg/btwiz/pkg/conn"
)

// DefaultChunkSize is the largest single read issued in each direction.
const DefaultChunkSize = 1024

// ErrRemoteClosed means the remote end of the connection went away.
var ErrRemoteClosed = errors.New("remote closed the connection")

// Dialer opens a connection to a remote device.
type Dialer interface {
	Connect(ctx context.Context, dev device.DeviceRef, opts connector.ConnectOptions) (*conn.Conn, error)
}

// Options contains all the configuration for running a bridge
type Options struct {
	Address        string                   // remote device address
	Connect        connector.ConnectOptions // security mode and optional explicit service id
	ChunkSize      int                      // 0 = DefaultChunkSize
	TTYSymlinkPath string                   // optional symlink to the PTY slave (e.g., /tmp/bt-device)
	Logger         *logrus.Logger
}

// ProgressCallback is called when the bridge phase changes
type ProgressCallback func(phase string)

// Bridge is a running PTY bridge.
type Bridge struct {
	Conn    *conn.Conn
	PTY     *ptyio.PTY
	Symlink string
}

// TTYName returns the PTY slave path.
func (b *Bridge) TTYName() string { return b.PTY.TTYName() }

// RunPTY connects to opts.Address, opens a PTY and pipes the two until ctx
// ends or either side fails. ready is invoked once the PTY exists.
func RunPTY(ctx context.Context, d Dialer, opts Options, progress ProgressCallback, ready func(*Bridge)) error {
	if opts.Address == "" {
		return fmt.Errorf("failed to execute bridge: device address is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	if progress == nil {
		progress = func(string) {}
	}

	progress("Connecting")
	c, err := d.Connect(ctx, device.DeviceRef{Address: opts.Address}, opts.Connect)
	if err != nil {
		progress("Failed")
		return fmt.Errorf("failed to connect to device %s: %w", opts.Address, err)
	}
	defer c.Close()
	progress("Connected")

	p, err := ptyio.Open(logger)
	if err != nil {
		return err
	}
	defer p.Close()
	logger.WithField("tty", p.TTYName()).Info("Created PTY device")

	b := &Bridge{Conn: c, PTY: p}
	if opts.TTYSymlinkPath != "" {
		if err := os.Symlink(p.TTYName(), opts.TTYSymlinkPath); err != nil {
			return fmt.Errorf("failed to create tty symlink %s -> %s: %w", opts.TTYSymlinkPath, p.TTYName(), err)
		}
		b.Symlink = opts.TTYSymlinkPath
		// Remove the symlink before the PTY closes
		defer func() {
			if err := os.Remove(opts.TTYSymlinkPath); err != nil {
				logger.WithError(err).WithField("ttySymlink", opts.TTYSymlinkPath).Warn("Failed to remove tty symlink")
			}
		}()
	}

	progress("Running")
	if ready != nil {
		ready(b)
	}
	return Pipe(ctx, c, p, opts.ChunkSize, logger)
}

// Pipe copies c to rw and rw to c until ctx ends or a side fails. Remote
// reads go through c.ReadAsync and local input through c.WriteAsync.
//
// The returned error is nil when ctx ended, ErrRemoteClosed when the remote
// reached end of stream, and the first failure otherwise. c is closed on return.
func Pipe(ctx context.Context, c *conn.Conn, rw io.ReadWriter, chunkSize int, logger *logrus.Logger) error {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Only the first failure before shutdown is reported; closing c makes
	// the pending operations fail afterwards
	errCh := make(chan error, 1)
	fail := func(err error) {
		if ctx.Err() == nil {
			select {
			case errCh <- err:
			default:
			}
		}
		cancel()
	}

	groutine.Go(ctx, "bridge-remote", func(ctx context.Context) {
		remoteToLocal(ctx, c, rw, chunkSize, fail)
	})
	groutine.Go(ctx, "bridge-local", func(ctx context.Context) {
		localToRemote(ctx, c, rw, chunkSize, logger, fail)
	})

	<-ctx.Done()
	// Unblocks pending reads and writes on both executors
	_ = c.Close()

	select {
	case err := <-errCh:
		if errors.Is(err, io.EOF) {
			return ErrRemoteClosed
		}
		return err
	default:
		return nil
	}
}

func remoteToLocal(ctx context.Context, c *conn.Conn, w io.Writer, chunkSize int, fail func(error)) {
	buf := make([]byte, chunkSize)
	for ctx.Err() == nil {
		done := make(chan error, 1)
		var got int
		err := c.ReadAsync(buf, true, conn.ReadFuncs{
			Success: func(n int) { got = n; done <- nil },
			Error:   func(n int, err error) { got = n; done <- err },
		})
		if err != nil {
			fail(err)
			return
		}

		var readErr error
		select {
		case <-ctx.Done():
			return
		case readErr = <-done:
		}
		if got > 0 {
			if _, err := w.Write(buf[:got]); err != nil {
				fail(fmt.Errorf("local write: %w", err))
				return
			}
		}
		if readErr != nil {
			fail(readErr)
			return
		}
	}
}

func localToRemote(ctx context.Context, c *conn.Conn, r io.Reader, chunkSize int, logger *logrus.Logger, fail func(error)) {
	for ctx.Err() == nil {
		buf := make([]byte, chunkSize)
		n, err := r.Read(buf)
		if n > 0 {
			done := make(chan error, 1)
			if err := c.WriteAsync(buf[:n], conn.WriteFuncs{
				Success: func() { done <- nil },
				Error:   func(err error) { done <- err },
			}); err != nil {
				fail(err)
				return
			}
			select {
			case <-ctx.Done():
				return
			case werr := <-done:
				if werr != nil {
					fail(werr)
					return
				}
			}
			logger.WithField("bytes", n).Debug("Forwarded local input")
		}
		if err != nil {
			// Local end of input ends the bridge without an error
			if errors.Is(err, io.EOF) {
				fail(nil)
				return
			}
			fail(fmt.Errorf("local read: %w", err))
			return
		}
	}
}
