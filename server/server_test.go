package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"tcp-chat/domain"
	"tcp-chat/domain/event"
	"tcp-chat/mocks"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const waitFor = 2 * time.Second

type testServer struct {
	*Server
	addr   string
	served chan error
	cancel context.CancelFunc
}

func startServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return startServerOn(t, lis, opts...)
}

func startServerOn(t *testing.T, lis net.Listener, opts ...Option) *testServer {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	srv := NewServer(log, 1024, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, lis) }()

	ts := &testServer{Server: srv, addr: lis.Addr().String(), served: served, cancel: cancel}
	t.Cleanup(func() {
		cancel()
		_ = srv.Shutdown(time.Second)
	})
	return ts
}

func (ts *testServer) dial(t *testing.T) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", ts.addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (ts *testServer) waitForPeers(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return ts.Registry().Len() == n },
		waitFor, 5*time.Millisecond, "expected %d peers, got %d", n, ts.Registry().Len())
}

func readChunk(conn net.Conn, timeout time.Duration) (string, error) {
	buf := make([]byte, 2048)
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	n, err := conn.Read(buf)
	return string(buf[:n]), err
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func TestServer_Broadcast_Reaches_Others_But_Not_Sender(t *testing.T) {
	req := require.New(t)
	ts := startServer(t)

	// Given three connected clients
	a, b, c := ts.dial(t), ts.dial(t), ts.dial(t)
	ts.waitForPeers(t, 3)

	// When A sends a chunk
	_, err := a.Write([]byte("hello"))
	req.NoError(err)

	// Then B and C receive it prefixed with A's address
	expected := fmt.Sprintf("[%s] hello", a.LocalAddr().String())
	for _, conn := range []net.Conn{b, c} {
		got, err := readChunk(conn, waitFor)
		req.NoError(err)
		req.Equal(expected, got)
	}

	// And A never gets its own message back
	_, err = readChunk(a, 200*time.Millisecond)
	req.True(isTimeout(err), "unexpected read result: %v", err)
}

func TestServer_Single_Client_Gets_Nothing(t *testing.T) {
	req := require.New(t)
	ts := startServer(t)
	a := ts.dial(t)
	ts.waitForPeers(t, 1)

	_, err := a.Write([]byte("anyone?"))
	req.NoError(err)

	_, err = readChunk(a, 200*time.Millisecond)
	req.True(isTimeout(err))
	req.Eventually(func() bool { return ts.Stats().Snapshot().MessagesBroadcast == 1 }, waitFor, 5*time.Millisecond)
	req.Equal(uint64(0), ts.Stats().Snapshot().DeliveriesOK)
}

func TestServer_Bye_Removes_Client_And_Closes_Socket(t *testing.T) {
	req := require.New(t)
	ts := startServer(t)
	a, b := ts.dial(t), ts.dial(t)
	ts.waitForPeers(t, 2)

	// When A says BYE in any case
	_, err := a.Write([]byte("BYE"))
	req.NoError(err)

	// Then A is removed and its socket is closed by the server
	ts.waitForPeers(t, 1)
	_, err = readChunk(a, waitFor)
	req.ErrorIs(err, io.EOF)

	// And the disconnect word was never broadcast
	_, err = readChunk(b, 200*time.Millisecond)
	req.True(isTimeout(err))

	// And later broadcasts skip A
	_, err = b.Write([]byte("still here"))
	req.NoError(err)
	req.Eventually(func() bool { return ts.Stats().Snapshot().MessagesBroadcast == 1 }, waitFor, 5*time.Millisecond)
	snap := ts.Stats().Snapshot()
	req.Equal(uint64(0), snap.DeliveriesOK)
	req.Equal(uint64(0), snap.DeliveriesFailed)
}

func TestServer_Bye_Must_Be_Exact(t *testing.T) {
	req := require.New(t)
	ts := startServer(t)
	a, b := ts.dial(t), ts.dial(t)
	ts.waitForPeers(t, 2)

	// When A sends bye followed by a newline
	_, err := a.Write([]byte("bye\n"))
	req.NoError(err)

	// Then it is an ordinary message
	got, err := readChunk(b, waitFor)
	req.NoError(err)
	req.Equal(fmt.Sprintf("[%s] bye\n", a.LocalAddr().String()), got)
	req.Equal(2, ts.Registry().Len())
}

func TestServer_Client_Close_Removes_Peer(t *testing.T) {
	req := require.New(t)
	ts := startServer(t)
	a := ts.dial(t)
	ts.waitForPeers(t, 1)

	req.NoError(a.Close())

	ts.waitForPeers(t, 0)
	snap := ts.Stats().Snapshot()
	req.Equal(uint64(1), snap.PeersJoined)
	req.Equal(uint64(1), snap.PeersLeft)
	req.Equal(int64(0), snap.ActivePeers)
}

func TestServer_Sequential_Connect_Disconnect_Cycles(t *testing.T) {
	req := require.New(t)
	ts := startServer(t)
	stayer := ts.dial(t)
	ts.waitForPeers(t, 1)

	// When 20 clients come and go one after the other
	for i := 0; i < 20; i++ {
		conn, err := net.Dial("tcp", ts.addr)
		req.NoError(err)
		ts.waitForPeers(t, 2)
		_, err = conn.Write([]byte("bye"))
		req.NoError(err)
		ts.waitForPeers(t, 1)
		_ = conn.Close()
	}

	// Then the registry is back to its initial size
	req.Equal(1, ts.Registry().Len())
	req.Equal(stayer.LocalAddr().String(), ts.Registry().Snapshot()[0].Addr)
}

func TestServer_Parallel_Clients(t *testing.T) {
	req := require.New(t)
	seen := &seenFilter{}
	ts := startServer(t, WithContentFilter(seen))

	// When 50 clients connect, talk and leave concurrently
	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := net.Dial("tcp", ts.addr)
			if err != nil {
				errs <- err
				return
			}
			defer conn.Close()
			if _, err := conn.Write([]byte(fmt.Sprintf("client %d", i))); err != nil {
				errs <- err
				return
			}
			// bye goes out only once the first chunk has been consumed on its own
			if !seen.wait(fmt.Sprintf("client %d", i), waitFor) {
				errs <- fmt.Errorf("client %d: first chunk never broadcast alone", i)
				return
			}
			if _, err := conn.Write([]byte("bye")); err != nil {
				errs <- err
				return
			}
			// the server closes the socket, other clients' messages may arrive first
			for {
				if _, err := readChunk(conn, waitFor); err != nil {
					if !errors.Is(err, io.EOF) {
						errs <- fmt.Errorf("client %d: expected EOF after bye: %w", i, err)
					}
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		req.NoError(err)
	}

	// Then every one of them has been registered and removed exactly once
	ts.waitForPeers(t, 0)
	req.Eventually(func() bool { return ts.Stats().Snapshot().PeersLeft == 50 }, waitFor, 5*time.Millisecond)
	req.Equal(uint64(50), ts.Stats().Snapshot().PeersJoined)
}

func TestServer_Shutdown_Closes_Peers(t *testing.T) {
	req := require.New(t)
	ts := startServer(t)
	a, b := ts.dial(t), ts.dial(t)
	ts.waitForPeers(t, 2)

	// When the server shuts down
	req.NoError(ts.Shutdown(waitFor))

	// Then every client sees its connection closed
	for _, conn := range []net.Conn{a, b} {
		_, err := readChunk(conn, waitFor)
		req.Error(err)
		req.False(isTimeout(err))
	}
	req.Equal(0, ts.Registry().Len())

	// And Serve returns without error
	select {
	case err := <-ts.served:
		req.NoError(err)
	case <-time.After(waitFor):
		req.Fail("Serve did not return")
	}

	// And a second shutdown is a no-op
	req.NoError(ts.Shutdown(waitFor))
}

func TestServer_Context_Cancel_Stops_Serve(t *testing.T) {
	req := require.New(t)
	ts := startServer(t)

	ts.cancel()

	select {
	case err := <-ts.served:
		req.NoError(err)
	case <-time.After(waitFor):
		req.Fail("Serve did not return")
	}
	_, err := net.DialTimeout("tcp", ts.addr, 200*time.Millisecond)
	req.Error(err)
}

func TestServer_Publishes_Events(t *testing.T) {
	req := require.New(t)
	events := make(chan event.DomainEvent, 10)
	ts := startServer(t, WithEvents(events))
	a, b := ts.dial(t), ts.dial(t)
	ts.waitForPeers(t, 2)

	_, err := a.Write([]byte("ping"))
	req.NoError(err)
	_, err = readChunk(b, waitFor)
	req.NoError(err)
	req.NoError(a.Close())
	ts.waitForPeers(t, 1)

	var joined, left int
	var leftAddr string
	var broadcast *event.MessageBroadcast
	req.Eventually(func() bool {
		for {
			select {
			case evt := <-events:
				switch e := evt.(type) {
				case event.PeerJoined:
					joined++
				case event.PeerLeft:
					left++
					leftAddr = e.Addr
				case event.MessageBroadcast:
					broadcast = &e
				}
			default:
				return joined == 2 && left == 1 && broadcast != nil
			}
		}
	}, waitFor, 10*time.Millisecond)

	req.Equal(a.LocalAddr().String(), leftAddr)
	req.Equal("ping", string(broadcast.Content))
	req.Equal(a.LocalAddr().String(), broadcast.Sender)
	req.Equal(1, broadcast.Delivered)
}

func TestServer_Drops_Events_When_Channel_Full(t *testing.T) {
	req := require.New(t)
	events := make(chan event.DomainEvent)
	ts := startServer(t, WithEvents(events))

	// Given nobody reads the event channel
	ts.dial(t)
	ts.waitForPeers(t, 1)

	// Then the join event is dropped instead of blocking the accept loop
	ts.dial(t)
	ts.waitForPeers(t, 2)
	req.Eventually(func() bool { return ts.Stats().Snapshot().EventsDropped == 2 }, waitFor, 5*time.Millisecond)
}

func TestServer_Content_Filter(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	filter := mocks.NewMockContentFilter(ctrl)
	filter.EXPECT().Filter([]byte("darn it")).Return([]byte("**** it")).Times(1)

	ts := startServer(t, WithContentFilter(filter))
	a, b := ts.dial(t), ts.dial(t)
	ts.waitForPeers(t, 2)

	_, err := a.Write([]byte("darn it"))
	req.NoError(err)

	got, err := readChunk(b, waitFor)
	req.NoError(err)
	req.Equal(fmt.Sprintf("[%s] **** it", a.LocalAddr().String()), got)
}

func TestServer_Idle_Timeout_Drops_Silent_Peer(t *testing.T) {
	req := require.New(t)
	ts := startServer(t, WithIdleTimeout(50*time.Millisecond))
	a := ts.dial(t)
	ts.waitForPeers(t, 1)

	// When the peer stays silent past the idle timeout
	ts.waitForPeers(t, 0)

	// Then its connection is closed by the server
	_, err := readChunk(a, waitFor)
	req.Error(err)
	req.False(isTimeout(err))
}

// seenFilter records every chunk it is asked to filter.
type seenFilter struct {
	chunks sync.Map
}

func (f *seenFilter) Filter(payload []byte) []byte {
	f.chunks.Store(string(payload), struct{}{})
	return payload
}

func (f *seenFilter) wait(chunk string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, ok := f.chunks.Load(chunk); ok {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

// flakyListener fails its first Accept calls with err.
type flakyListener struct {
	net.Listener
	failures atomic.Int32
	err      error
}

func (l *flakyListener) Accept() (net.Conn, error) {
	if l.failures.Add(-1) >= 0 {
		return nil, l.err
	}
	return l.Listener.Accept()
}

func TestServer_Retries_Temporary_Accept_Errors(t *testing.T) {
	for _, errno := range []syscall.Errno{syscall.EMFILE, syscall.ENFILE, syscall.ECONNABORTED} {
		t.Run(errno.Error(), func(t *testing.T) {
			req := require.New(t)
			lis, err := net.Listen("tcp", "127.0.0.1:0")
			req.NoError(err)

			// Given a listener whose first two accepts fail with a temporary error
			flaky := &flakyListener{Listener: lis, err: &net.OpError{
				Op: "accept", Net: "tcp", Err: os.NewSyscallError("accept4", errno),
			}}
			flaky.failures.Store(2)
			ts := startServerOn(t, flaky)

			// When a client connects afterwards
			ts.dial(t)

			// Then the accept loop is still running and registers it
			ts.waitForPeers(t, 1)
			select {
			case err := <-ts.served:
				req.Failf("Serve returned", "%v", err)
			default:
			}
		})
	}
}

func TestServer_Returns_Fatal_Accept_Error(t *testing.T) {
	req := require.New(t)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	req.NoError(err)

	boom := errors.New("listen socket broken")
	flaky := &flakyListener{Listener: lis, err: boom}
	flaky.failures.Store(1)
	ts := startServerOn(t, flaky)

	select {
	case err := <-ts.served:
		req.ErrorIs(err, boom)
	case <-time.After(waitFor):
		req.Fail("Serve did not return")
	}
}

func TestNextDelay(t *testing.T) {
	req := require.New(t)
	req.Equal(minAcceptDelay, nextDelay(0))
	req.Equal(2*minAcceptDelay, nextDelay(minAcceptDelay))
	req.Equal(maxAcceptDelay, nextDelay(maxAcceptDelay))
}

func TestServer_OnServing_Called_Before_Accepting(t *testing.T) {
	req := require.New(t)
	serving := make(chan struct{})

	ts := startServer(t, WithOnServing(func() { close(serving) }))

	select {
	case <-serving:
	case <-time.After(waitFor):
		req.Fail("OnServing was not called")
	}
	ts.dial(t)
	ts.waitForPeers(t, 1)
}

func TestServer_Handle_Cleans_Up_Only_When_Remove_Succeeds(t *testing.T) {
	for _, removed := range []bool{true, false} {
		t.Run(fmt.Sprintf("removed=%t", removed), func(t *testing.T) {
			req := require.New(t)
			ctrl := gomock.NewController(t)
			registry := mocks.NewMockIRegistry(ctrl)
			events := make(chan event.DomainEvent, 4)
			srv := NewServer(logs.GetLoggerFromLevel(slog.LevelDebug), 64,
				WithRegistry(registry), WithEvents(events))

			local, remote := net.Pipe()
			t.Cleanup(func() { _ = local.Close() })
			peer := domain.NewPeer(local)

			// Given the registry reports whether it actually removed the peer
			registry.EXPECT().Remove(local).Return(removed).Times(1)

			// When the peer hangs up
			req.NoError(remote.Close())
			srv.wg.Add(1)
			srv.handle(peer)

			// Then the connection, stats and event follow the registry's answer
			_, err := local.Read(make([]byte, 1))
			if removed {
				req.ErrorIs(err, io.ErrClosedPipe)
				req.Equal(uint64(1), srv.Stats().Snapshot().PeersLeft)
				req.Len(events, 1)
				left, ok := (<-events).(event.PeerLeft)
				req.True(ok)
				req.Equal(peer.ID, left.PeerID)
				return
			}
			req.ErrorIs(err, io.EOF)
			req.Equal(uint64(0), srv.Stats().Snapshot().PeersLeft)
			req.Empty(events)
		})
	}
}
