package runtime

import (
	"bytes"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"tcp-chat/domain"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

// recordingConn is a net.Conn that records every write.
type recordingConn struct {
	mu       sync.Mutex
	addr     string
	written  bytes.Buffer
	writeErr error
	writes   int
}

func newRecordingConn(addr string) *recordingConn {
	return &recordingConn{addr: addr}
}

func (c *recordingConn) Read([]byte) (int, error) { return 0, net.ErrClosed }
func (c *recordingConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.writes++
	return c.written.Write(b)
}
func (c *recordingConn) Close() error                     { return nil }
func (c *recordingConn) LocalAddr() net.Addr              { return fakeAddr("127.0.0.1:12345") }
func (c *recordingConn) RemoteAddr() net.Addr             { return fakeAddr(c.addr) }
func (c *recordingConn) SetDeadline(time.Time) error      { return nil }
func (c *recordingConn) SetReadDeadline(time.Time) error  { return nil }
func (c *recordingConn) SetWriteDeadline(time.Time) error { return nil }

func (c *recordingConn) content() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written.String()
}

type fakeAddr string

func (a fakeAddr) Network() string { return "tcp" }
func (a fakeAddr) String() string  { return string(a) }

func newTestRegistry() *Registry {
	return NewRegistry(logs.GetLoggerFromLevel(slog.LevelDebug), 0)
}

func TestRegistry_Add_And_Remove(t *testing.T) {
	req := require.New(t)
	registry := newTestRegistry()
	conn := newRecordingConn("127.0.0.1:40001")

	// Given an empty registry
	req.Equal(0, registry.Len())

	// When a peer is added twice
	req.True(registry.Add(domain.NewPeer(conn)))
	req.False(registry.Add(domain.NewPeer(conn)))

	// Then it is registered only once
	req.Equal(1, registry.Len())

	// And it can only be removed once
	req.True(registry.Remove(conn))
	req.False(registry.Remove(conn))
	req.Equal(0, registry.Len())
}

func TestRegistry_BroadcastExcept_Skips_Sender(t *testing.T) {
	req := require.New(t)
	registry := newTestRegistry()
	a := newRecordingConn("127.0.0.1:40001")
	b := newRecordingConn("127.0.0.1:40002")
	c := newRecordingConn("127.0.0.1:40003")
	for _, conn := range []*recordingConn{a, b, c} {
		req.True(registry.Add(domain.NewPeer(conn)))
	}

	// When A broadcasts
	delivery := registry.BroadcastExcept(a, []byte("[127.0.0.1:40001] hi"))

	// Then B and C receive the payload and A does not
	req.Equal(2, delivery.Delivered)
	req.Equal(0, delivery.Failed)
	req.Empty(a.content())
	req.Equal("[127.0.0.1:40001] hi", b.content())
	req.Equal("[127.0.0.1:40001] hi", c.content())
}

func TestRegistry_BroadcastExcept_Single_Peer_Sends_Nothing(t *testing.T) {
	req := require.New(t)
	registry := newTestRegistry()
	a := newRecordingConn("127.0.0.1:40001")
	registry.Add(domain.NewPeer(a))

	delivery := registry.BroadcastExcept(a, []byte("alone"))

	req.Zero(delivery.Delivered)
	req.Zero(delivery.Failed)
	req.Empty(a.content())
}

func TestRegistry_BroadcastExcept_Continues_After_Failed_Peer(t *testing.T) {
	req := require.New(t)
	registry := newTestRegistry()
	sender := newRecordingConn("127.0.0.1:40001")
	broken := newRecordingConn("127.0.0.1:40002")
	broken.writeErr = fmt.Errorf("connection reset by peer")
	healthy := newRecordingConn("127.0.0.1:40003")
	for _, conn := range []*recordingConn{sender, broken, healthy} {
		registry.Add(domain.NewPeer(conn))
	}

	// When one recipient fails mid-broadcast
	delivery := registry.BroadcastExcept(sender, []byte("payload"))

	// Then the others still get the message
	req.Equal(1, delivery.Delivered)
	req.Equal(1, delivery.Failed)
	req.Equal("payload", healthy.content())

	// And the failing peer is left registered for its own handler to clean up
	req.Equal(3, registry.Len())
}

func TestRegistry_Concurrent_Mutations_And_Broadcasts(t *testing.T) {
	req := require.New(t)
	registry := newTestRegistry()
	sender := newRecordingConn("127.0.0.1:40000")
	registry.Add(domain.NewPeer(sender))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		conn := newRecordingConn(fmt.Sprintf("127.0.0.1:%d", 41000+i))
		go func() {
			defer wg.Done()
			registry.Add(domain.NewPeer(conn))
			registry.Remove(conn)
		}()
		go func() {
			defer wg.Done()
			registry.BroadcastExcept(sender, []byte("x"))
		}()
	}
	wg.Wait()

	req.Equal(1, registry.Len())
	req.Empty(sender.content())
}

func TestRegistry_Snapshot_Is_A_Copy(t *testing.T) {
	req := require.New(t)
	registry := newTestRegistry()
	a := newRecordingConn("127.0.0.1:40001")
	registry.Add(domain.NewPeer(a))

	snapshot := registry.Snapshot()
	registry.Remove(a)

	req.Len(snapshot, 1)
	req.Equal("127.0.0.1:40001", snapshot[0].Addr)
	req.Empty(registry.Snapshot())
}
