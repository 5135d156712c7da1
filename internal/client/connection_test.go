package client_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"chatcore/internal/client"
	"chatcore/internal/transport"
	"chatcore/pkg/protocol"
)

// fakeConn is an in-memory transport.Conn driven by the test.
type fakeConn struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-c.in:
		return frame, nil
	case <-c.closed:
		return nil, errors.New("connection closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) WriteFrame(_ context.Context, frame []byte) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	c.mu.Lock()
	c.written = append(c.written, slices.Clone(frame))
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) RemoteAddr() string { return "fake" }

// deliver pushes a frame to the read loop.
func (c *fakeConn) deliver(frame []byte) { c.in <- frame }

func (c *fakeConn) frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.written)
}

// fakeDialer hands out scripted connections; a nil entry (or running out of
// entries) is a dial failure.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	calls int
}

func (d *fakeDialer) Dial(context.Context, string) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.calls > len(d.conns) || d.conns[d.calls-1] == nil {
		return nil, errors.New("dial refused")
	}
	return d.conns[d.calls-1], nil
}

func (d *fakeDialer) Scheme() string { return "fake" }

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// recordingSink records EventSink callbacks in order.
type sinkRecord struct {
	kind  string // "connected", "disconnected", "frame"
	gen   uint64
	frame []byte
}

type recordingSink struct {
	mu      sync.Mutex
	records []sinkRecord
}

func (s *recordingSink) HandleConnected(gen uint64) { s.record(sinkRecord{kind: "connected", gen: gen}) }
func (s *recordingSink) HandleDisconnected(gen uint64) {
	s.record(sinkRecord{kind: "disconnected", gen: gen})
}
func (s *recordingSink) HandleFrame(gen uint64, frame []byte) {
	s.record(sinkRecord{kind: "frame", gen: gen, frame: frame})
}

func (s *recordingSink) record(r sinkRecord) {
	s.mu.Lock()
	s.records = append(s.records, r)
	s.mu.Unlock()
}

func (s *recordingSink) all() []sinkRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.records)
}

// waitForRecord polls until the sink saw a record matching the predicate.
func waitForRecord(t *testing.T, s *recordingSink, match func(sinkRecord) bool) sinkRecord {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, r := range s.all() {
			if match(r) {
				return r
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for sink record; got %+v", s.all())
	return sinkRecord{}
}

func testConfig(dialers ...transport.Dialer) client.Config {
	return client.Config{
		Reconnection: true,
		MaxAttempts:  3,
		RetryDelay:   5 * time.Millisecond,
		DialTimeout:  500 * time.Millisecond,
		Transports:   dialers,
		Logger:       zap.NewNop(),
	}
}

func TestConnectionManager_FallsBackToNextTransport(t *testing.T) {
	broken := &fakeDialer{} // refuses every dial
	conn := newFakeConn()
	working := &fakeDialer{conns: []*fakeConn{conn}}
	sink := &recordingSink{}

	m := client.NewConnectionManager("http://test", testConfig(broken, working), sink)
	defer m.Close()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if broken.dialCount() != 1 {
		t.Errorf("preferred transport dialed %d times, want 1", broken.dialCount())
	}
	waitForRecord(t, sink, func(r sinkRecord) bool { return r.kind == "connected" && r.gen == 1 })
}

func TestConnectionManager_ConnectFailsWhenAllTransportsFail(t *testing.T) {
	sink := &recordingSink{}
	m := client.NewConnectionManager("http://test", testConfig(&fakeDialer{}, &fakeDialer{}), sink)
	defer m.Close()

	if err := m.Connect(context.Background()); err == nil {
		t.Fatal("Connect() should fail when no transport connects")
	}
	if len(sink.all()) != 0 {
		t.Errorf("no sink callbacks expected, got %+v", sink.all())
	}
}

func TestConnectionManager_ReconnectBumpsGeneration(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{first, second}}
	sink := &recordingSink{}

	m := client.NewConnectionManager("http://test", testConfig(dialer), sink)
	defer m.Close()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	first.Close()

	waitForRecord(t, sink, func(r sinkRecord) bool { return r.kind == "disconnected" && r.gen == 1 })
	waitForRecord(t, sink, func(r sinkRecord) bool { return r.kind == "connected" && r.gen == 2 })

	if got := m.Generation(); got != 2 {
		t.Errorf("Generation() = %d, want 2", got)
	}

	// Frames now flow from the new connection, tagged with its generation.
	second.deliver([]byte(`{"event":"userList","data":{"users":[]}}`))
	waitForRecord(t, sink, func(r sinkRecord) bool { return r.kind == "frame" && r.gen == 2 })
}

func TestConnectionManager_GivesUpAfterMaxAttempts(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}} // reconnects all refused
	sink := &recordingSink{}

	m := client.NewConnectionManager("http://test", testConfig(dialer), sink)
	defer m.Close()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	conn.Close()

	waitForRecord(t, sink, func(r sinkRecord) bool { return r.kind == "disconnected" })

	// 1 initial dial + MaxAttempts failed reconnects, then it stops.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && dialer.dialCount() < 4 {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	if got := dialer.dialCount(); got != 4 {
		t.Errorf("dial count = %d, want 4 (initial + 3 bounded attempts)", got)
	}
	for _, r := range sink.all() {
		if r.kind == "connected" && r.gen > 1 {
			t.Errorf("unexpected reconnect succeeded: %+v", r)
		}
	}
}

func TestConnectionManager_NoReconnectWhenDisabled(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn, newFakeConn()}}
	cfg := testConfig(dialer)
	cfg.Reconnection = false
	sink := &recordingSink{}

	m := client.NewConnectionManager("http://test", cfg, sink)
	defer m.Close()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	conn.Close()

	waitForRecord(t, sink, func(r sinkRecord) bool { return r.kind == "disconnected" })
	time.Sleep(50 * time.Millisecond)

	if got := dialer.dialCount(); got != 1 {
		t.Errorf("dial count = %d, want 1 (no reconnect)", got)
	}
}

func TestConnectionManager_CloseStopsAllCallbacks(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	sink := &recordingSink{}

	m := client.NewConnectionManager("http://test", testConfig(dialer), sink)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	m.Close()
	seen := len(sink.all())

	// A frame sitting in the transport after Close must never surface.
	conn.deliver([]byte(`{"event":"userList","data":{"users":["ghost"]}}`))
	time.Sleep(50 * time.Millisecond)

	if got := len(sink.all()); got != seen {
		t.Errorf("sink received %d callbacks after Close, want 0", got-seen)
	}
	if err := m.Send(protocol.Authenticate{Username: "alice"}); !errors.Is(err, client.ErrClosed) {
		t.Errorf("Send() after Close error = %v, want ErrClosed", err)
	}
}

func TestConnectionManager_SendBeforeConnect(t *testing.T) {
	m := client.NewConnectionManager("http://test", testConfig(&fakeDialer{}), &recordingSink{})
	defer m.Close()

	if err := m.Send(protocol.Authenticate{Username: "alice"}); !errors.Is(err, client.ErrNotConnected) {
		t.Errorf("Send() error = %v, want ErrNotConnected", err)
	}
}

func TestConnectionManager_ConnectTwice(t *testing.T) {
	dialer := &fakeDialer{conns: []*fakeConn{newFakeConn()}}
	m := client.NewConnectionManager("http://test", testConfig(dialer), &recordingSink{})
	defer m.Close()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := m.Connect(context.Background()); !errors.Is(err, client.ErrAlreadyConnected) {
		t.Errorf("second Connect() error = %v, want ErrAlreadyConnected", err)
	}
}
