package presence

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/omochice/canvas-presence/internal/transport"
	"github.com/omochice/canvas-presence/pkg/protocol"
)

// mockConn is a mock implementation of transport.Conn for testing.
type mockConn struct {
	readCh     chan []byte
	closeOnce  sync.Once
	closedCh   chan struct{}
	writtenMu  sync.Mutex
	written    [][]byte
	writeErr   error
	remoteAddr string
}

func newMockConn(addr string) *mockConn {
	return &mockConn{
		readCh:     make(chan []byte, 16),
		closedCh:   make(chan struct{}),
		remoteAddr: addr,
	}
}

func (m *mockConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.closedCh:
		return nil, net.ErrClosed
	case data, ok := <-m.readCh:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	}
}

func (m *mockConn) Write(ctx context.Context, data []byte) error {
	m.writtenMu.Lock()
	defer m.writtenMu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	select {
	case <-m.closedCh:
		return net.ErrClosed
	default:
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	m.written = append(m.written, copied)
	return nil
}

func (m *mockConn) Close() error {
	m.closeOnce.Do(func() { close(m.closedCh) })
	return nil
}

func (m *mockConn) RemoteAddr() string {
	return m.remoteAddr
}

func (m *mockConn) Closed() bool {
	select {
	case <-m.closedCh:
		return true
	default:
		return false
	}
}

func (m *mockConn) failWrites(err error) {
	m.writtenMu.Lock()
	defer m.writtenMu.Unlock()
	m.writeErr = err
}

// Messages decodes everything written so far.
func (m *mockConn) Messages(t *testing.T) []protocol.Message {
	t.Helper()
	m.writtenMu.Lock()
	defer m.writtenMu.Unlock()
	msgs := make([]protocol.Message, 0, len(m.written))
	for _, data := range m.written {
		var msg protocol.Message
		if err := msg.Decode(data); err != nil {
			t.Fatalf("written frame %s: %v", data, err)
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

// deliver feeds an inbound frame to the reader.
func (m *mockConn) deliver(t *testing.T, event protocol.Event, canvasID string, payload any) {
	t.Helper()
	msg := newMessage(t, event, canvasID, payload)
	data, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	m.readCh <- data
}

// Compile-time check that mockConn implements transport.Conn
var _ transport.Conn = (*mockConn)(nil)

// fakeDialer hands out mockConns, or fails while err is set.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*mockConn
	opts  []transport.DialOptions
	urls  []string
	err   error
}

func (d *fakeDialer) Dial(ctx context.Context, url string, opts transport.DialOptions) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	d.opts = append(d.opts, opts)
	if d.err != nil {
		return nil, d.err
	}
	conn := newMockConn("10.0.0.1:443")
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) Conns() []*mockConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*mockConn(nil), d.conns...)
}

func (d *fakeDialer) Last() *mockConn {
	conns := d.Conns()
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

var errBroken = errors.New("broken pipe")

// eventually polls cond until it holds or a second passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
