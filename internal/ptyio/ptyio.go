// Package ptyio opens a raw-mode pseudo-terminal pair with github.com/creack/pty
// so a byte stream can be exposed to serial-port applications.
//
//	p, err := ptyio.Open(logger)
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//	// p.TTYName() -> "/dev/pts/X"; bytes written to p appear on the slave
package ptyio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

// PTY is the master side of a pseudo-terminal pair. The slave stays open for
// the PTY's lifetime so readers of the master never see a hangup before a
// client attaches.
type PTY struct {
	logger *logrus.Logger
	master *os.File
	tty    *os.File

	closeOnce sync.Once
	closeErr  error
}

var _ io.ReadWriteCloser = (*PTY)(nil)

// Open creates the pair and puts the slave in raw mode.
func Open(logger *logrus.Logger) (*PTY, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	master, tty, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}

	// Raw mode so line discipline does not rewrite the byte stream
	if _, err := term.MakeRaw(int(tty.Fd())); err != nil {
		closeErr := errors.Join(master.Close(), tty.Close())
		if closeErr != nil {
			return nil, fmt.Errorf("failed to set PTY(tty) %s to raw mode: %w (cleanup errors: %v)", tty.Name(), err, closeErr)
		}
		return nil, fmt.Errorf("failed to set PTY(tty) %s to raw mode: %w", tty.Name(), err)
	}

	logger.WithField("tty", tty.Name()).Debug("Opened PTY")
	return &PTY{logger: logger, master: master, tty: tty}, nil
}

// TTYName returns the slave path, e.g. "/dev/pts/5".
func (p *PTY) TTYName() string {
	return p.tty.Name()
}

// Read returns bytes written to the slave by its client.
func (p *PTY) Read(b []byte) (int, error) {
	return p.master.Read(b)
}

// Write delivers bytes to the slave's client.
func (p *PTY) Write(b []byte) (int, error) {
	return p.master.Write(b)
}

// Close closes both ends. Idempotent.
func (p *PTY) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = errors.Join(p.master.Close(), p.tty.Close())
		p.logger.WithField("tty", p.tty.Name()).Debug("Closed PTY")
	})
	return p.closeErr
}
