package conn_test

import (
	"errors"
	"io"
	"testing"

	"github.com/srg/btwiz/internal/device"
	"github.com/srg/btwiz/internal/executor"
	"github.com/srg/btwiz/internal/testutils"
	"github.com/srg/btwiz/pkg/conn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type readResult struct {
	n   int
	err error
}

func readListener(ch chan readResult) conn.ReadFuncs {
	return conn.ReadFuncs{
		Success: func(n int) { ch <- readResult{n: n} },
		Error:   func(n int, err error) { ch <- readResult{n: n, err: err} },
	}
}

func TestReadAsyncAccumulatesUntilFull(t *testing.T) {
	// GOAL: Verify a full-length async read keeps reading until the buffer is filled
	//
	// TEST SCENARIO: Underlying reads return 4 then 6 bytes into a 10 byte buffer → one OnSuccess(10), two reads

	sock := testutils.NewScriptedSocket(peer, testutils.Chunks("abcd", "efghij")...)
	c := newConn(t, sock, true)

	results := make(chan readResult, 2)
	buf := make([]byte, 10)
	require.NoError(t, c.ReadAsync(buf, false, readListener(results)))

	res := testutils.Receive(t, results, "read result")
	require.NoError(t, res.err)
	assert.Equal(t, 10, res.n)
	assert.Equal(t, "abcdefghij", string(buf))
	assert.Equal(t, 2, sock.ReadCalls(), "exactly two underlying reads MUST happen")
	testutils.NoReceive(t, results, "second callback")
}

func TestReadAsyncReadOnce(t *testing.T) {
	sock := testutils.NewScriptedSocket(peer, testutils.Chunks("abcd", "efghij")...)
	c := newConn(t, sock, true)

	results := make(chan readResult, 1)
	buf := make([]byte, 10)
	require.NoError(t, c.ReadAsync(buf, true, readListener(results)))

	res := testutils.Receive(t, results, "read result")
	require.NoError(t, res.err)
	assert.Equal(t, 4, res.n)
	assert.Equal(t, 1, sock.ReadCalls())
}

func TestReadAsyncEndOfStreamIsError(t *testing.T) {
	sock := testutils.NewScriptedSocket(peer, testutils.Chunks("abc")...)
	c := newConn(t, sock, true)

	results := make(chan readResult, 1)
	require.NoError(t, c.ReadAsync(make([]byte, 10), false, readListener(results)))

	res := testutils.Receive(t, results, "read result")
	require.Error(t, res.err)
	assert.ErrorIs(t, res.err, device.ErrIoFailed)
	assert.ErrorIs(t, res.err, io.EOF)
	assert.Equal(t, 3, res.n, "partial count MUST be reported with the error")
}

func TestReadAsyncErrorAfterDataStillCompletes(t *testing.T) {
	sock := testutils.NewScriptedSocket(peer, testutils.ReadStep{Data: []byte("abc"), Err: io.EOF})
	c := newConn(t, sock, true)

	results := make(chan readResult, 1)
	require.NoError(t, c.ReadAsync(make([]byte, 3), false, readListener(results)))

	res := testutils.Receive(t, results, "read result")
	assert.NoError(t, res.err)
	assert.Equal(t, 3, res.n)
}

func TestReadAsyncSerializesReads(t *testing.T) {
	sock := testutils.NewScriptedSocket(peer, testutils.Chunks("1", "2", "3")...)
	c := newConn(t, sock, true)

	order := make(chan string, 3)
	for i := 0; i < 3; i++ {
		buf := make([]byte, 1)
		require.NoError(t, c.ReadAsync(buf, true, conn.ReadFuncs{
			Success: func(n int) { order <- string(buf[:n]) },
		}))
	}

	assert.Equal(t, "1", testutils.Receive(t, order, "first read"))
	assert.Equal(t, "2", testutils.Receive(t, order, "second read"))
	assert.Equal(t, "3", testutils.Receive(t, order, "third read"))
}

func TestReadAsyncNilListener(t *testing.T) {
	sock := testutils.NewScriptedSocket(peer, testutils.Chunks("x")...)
	c := newConn(t, sock, true)

	require.NoError(t, c.ReadAsync(make([]byte, 1), true, nil))
	testutils.NewTestHelper(t).WaitFor(func() bool { return sock.ReadCalls() == 1 })
}

func TestWriteAsync(t *testing.T) {
	sock := testutils.NewScriptedSocket(peer)
	c := newConn(t, sock, true)

	done := make(chan error, 2)
	l := conn.WriteFuncs{
		Success: func() { done <- nil },
		Error:   func(err error) { done <- err },
	}
	require.NoError(t, c.WriteAsync([]byte("he"), l))
	require.NoError(t, c.WriteAsync([]byte("llo"), l))

	assert.NoError(t, testutils.Receive(t, done, "first write"))
	assert.NoError(t, testutils.Receive(t, done, "second write"))
	assert.Equal(t, "hello", string(sock.Written()), "writes MUST run in submission order")
}

func TestWriteAsyncNilListenerOnError(t *testing.T) {
	sock := testutils.NewScriptedSocket(peer)
	sock.WriteErr = errors.New("broken pipe")
	c := newConn(t, sock, true)

	require.NoError(t, c.WriteAsync([]byte("x"), nil), "nil write listener MUST be accepted")
	testutils.NewTestHelper(t).WaitFor(func() bool { return sock.WriteCalls() == 1 })
}

func TestWriteAsyncFailureReported(t *testing.T) {
	sock := testutils.NewScriptedSocket(peer)
	sock.WriteErr = errors.New("broken pipe")
	c := newConn(t, sock, true)

	done := make(chan error, 1)
	require.NoError(t, c.WriteAsync([]byte("x"), conn.WriteFuncs{Error: func(err error) { done <- err }}))
	assert.ErrorIs(t, testutils.Receive(t, done, "write error"), device.ErrIoFailed)
}

func TestAsyncAfterExecutorShutdown(t *testing.T) {
	sock := testutils.NewScriptedSocket(peer, testutils.Chunks("x")...)
	execs := executor.NewPair(1, nil)
	c := conn.New(sock, conn.Options{AutoOpen: true, Executors: execs})

	execs.Shutdown()
	results := make(chan readResult, 1)
	require.NoError(t, c.ReadAsync(make([]byte, 1), true, readListener(results)), "executors MUST be re-created after shutdown")
	res := testutils.Receive(t, results, "read result")
	assert.NoError(t, res.err)
	execs.Shutdown()
}

func TestCloseUnblocksPendingAsyncRead(t *testing.T) {
	sock := testutils.NewScriptedSocket(peer)
	sock.BlockWhenDrained = true
	c := newConn(t, sock, true)

	results := make(chan readResult, 1)
	require.NoError(t, c.ReadAsync(make([]byte, 4), false, readListener(results)))
	testutils.NewTestHelper(t).WaitFor(func() bool { return sock.ReadCalls() == 1 })

	require.NoError(t, c.Close())
	res := testutils.Receive(t, results, "read result")
	assert.ErrorIs(t, res.err, device.ErrIoFailed)
}
