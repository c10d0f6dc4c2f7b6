package serialport

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anne-pro-tools/aplights/internal/txring"
)

// fakeConn is an in-memory stand-in for the serial connection.
type fakeConn struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.buf.Bytes()...)
}

// gatedConn blocks each write until the test releases the gate.
type gatedConn struct {
	fakeConn
	gate chan struct{}
}

func (c *gatedConn) Write(p []byte) (int, error) {
	<-c.gate
	return c.fakeConn.Write(p)
}

func TestTransmitReportsCompletion(t *testing.T) {
	conn := &fakeConn{}
	completed := make(chan struct{}, 1)
	p := New(conn, func() { completed <- struct{}{} })

	p.Transmit([]byte("\x09\x01\x01"))

	select {
	case <-completed:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for transmit completion")
	}
	require.Equal(t, []byte{0x09, 0x01, 0x01}, conn.bytes())

	require.NoError(t, p.Close())
	require.True(t, conn.closed)
}

func TestSequentialTransmitsPreserveOrder(t *testing.T) {
	conn := &fakeConn{}
	completed := make(chan struct{}, 1)
	p := New(conn, func() { completed <- struct{}{} })

	runs := [][]byte{{1, 2, 3}, {4, 5}, {6}}
	for _, r := range runs {
		p.Transmit(r)
		select {
		case <-completed:
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for transmit completion")
		}
	}

	require.Equal(t, []byte{1, 2, 3, 4, 5, 6}, conn.bytes())
	require.NoError(t, p.Close())
}

func TestDrivesTransmitRingAcrossWraparound(t *testing.T) {
	conn := &fakeConn{}
	var ring *txring.Ring
	p := New(conn, func() { ring.FinishTransmission() })
	defer p.Close()

	ring = txring.New(8, p)

	require.NoError(t, ring.Write([]byte{1, 2, 3, 4, 5}))
	ring.StartTransmission()
	require.Eventually(t, ring.Empty, time.Second, time.Millisecond)

	// The next write wraps around the end of the ring's buffer and
	// drains in two runs.
	require.NoError(t, ring.Write([]byte{6, 7, 8, 9, 10, 11}))
	ring.StartTransmission()
	require.Eventually(t, ring.Empty, time.Second, time.Millisecond)

	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, conn.bytes())
	require.Equal(t, 0, ring.Pending())
}

func TestCloseWithBytesStillQueued(t *testing.T) {
	conn := &gatedConn{gate: make(chan struct{})}
	var ring *txring.Ring
	p := New(conn, func() { ring.FinishTransmission() })
	ring = txring.New(16, p)

	// First run stalls inside the serial write; the second write
	// queues behind it in the ring.
	require.NoError(t, ring.Write([]byte{1, 2, 3}))
	ring.StartTransmission()
	require.NoError(t, ring.Write([]byte{4, 5, 6}))

	closed := make(chan error, 1)
	go func() { closed <- p.Close() }()

	// Let Close stop the port before the stalled write finishes, so
	// the ring's re-arm lands after shutdown.
	time.Sleep(50 * time.Millisecond)
	conn.gate <- struct{}{}

	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for Close")
	}

	require.Eventually(t, ring.Empty, time.Second, time.Millisecond,
		"dropped runs must still complete so the ring drains")
	require.Equal(t, 0, ring.Pending())
	require.Equal(t, []byte{1, 2, 3}, conn.bytes(), "only the in-flight run reaches the wire")
	require.True(t, conn.closed)
}

func TestCloseIsIdempotent(t *testing.T) {
	conn := &fakeConn{}
	p := New(conn, nil)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
}
