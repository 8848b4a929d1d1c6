package conn

import (
	"errors"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/srg/btwiz/internal/device"
)

// ReadListener receives the outcome of ReadAsync.
type ReadListener interface {
	OnSuccess(n int)
	OnError(n int, err error)
}

// WriteListener receives the outcome of WriteAsync.
type WriteListener interface {
	OnSuccess()
	OnError(err error)
}

// ReadFuncs adapts a pair of funcs to ReadListener. Nil funcs are skipped.
type ReadFuncs struct {
	Success func(n int)
	Error   func(n int, err error)
}

func (f ReadFuncs) OnSuccess(n int) {
	if f.Success != nil {
		f.Success(n)
	}
}

func (f ReadFuncs) OnError(n int, err error) {
	if f.Error != nil {
		f.Error(n, err)
	}
}

// WriteFuncs adapts a pair of funcs to WriteListener. Nil funcs are skipped.
type WriteFuncs struct {
	Success func()
	Error   func(err error)
}

func (f WriteFuncs) OnSuccess() {
	if f.Success != nil {
		f.Success()
	}
}

func (f WriteFuncs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

// ReadAsync queues a read into buf on the shared read executor.
//
// With readOnce the task completes after the first successful read.
// Otherwise it keeps reading until buf is full. End of stream before that
// point is an IoFailed error wrapping io.EOF, reported together with
// the number of bytes already placed in buf. l may be nil.
//
// The returned error is non-nil only if the task could not be queued.
func (c *Conn) ReadAsync(buf []byte, readOnce bool, l ReadListener) error {
	if l == nil {
		l = ReadFuncs{}
	}
	return c.execs.Reads().Submit(func() {
		total, err := c.readLoop(buf, readOnce)
		if err != nil {
			c.logger.WithFields(logrus.Fields{
				"address": c.remote.Address,
				"bytes":   total,
				"error":   err,
			}).Error("Async read failed")
			l.OnError(total, err)
			return
		}
		l.OnSuccess(total)
	})
}

func (c *Conn) readLoop(buf []byte, readOnce bool) (int, error) {
	total := 0
	for {
		n, err := c.Read(buf[total:])
		total += n
		done := readOnce || total >= len(buf)

		if err != nil {
			if n > 0 && done {
				return total, nil
			}
			if errors.Is(err, io.EOF) {
				return total, &device.Error{Kind: device.IoFailed, Msg: "end of stream reached", Err: io.EOF}
			}
			return total, err
		}
		if done {
			return total, nil
		}
	}
}

// WriteAsync queues one blocking write of buf on the shared write executor.
// l may be nil. The returned error is non-nil only if the task could not be queued.
func (c *Conn) WriteAsync(buf []byte, l WriteListener) error {
	if l == nil {
		l = WriteFuncs{}
	}
	return c.execs.Writes().Submit(func() {
		if _, err := c.Write(buf); err != nil {
			c.logger.WithFields(logrus.Fields{
				"address": c.remote.Address,
				"bytes":   len(buf),
				"error":   err,
			}).Error("Async write failed")
			l.OnError(err)
			return
		}
		l.OnSuccess()
	})
}
