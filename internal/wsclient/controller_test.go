package wsclient

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testServer is a websocket endpoint that records inbound frames and lets
// tests kill or reject connections.
type testServer struct {
	srv      *httptest.Server
	frames   chan []byte
	conns    chan *websocket.Conn
	closeAll chan int // close code to send to new connections, 0 = accept

	mu     sync.Mutex
	reject int
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		frames: make(chan []byte, 64),
		conns:  make(chan *websocket.Conn, 8),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.mu.Lock()
		reject := ts.reject
		ts.mu.Unlock()
		if reject != 0 {
			msg := websocket.FormatCloseMessage(reject, "rejected")
			conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			conn.Close()
			return
		}
		ts.conns <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			ts.frames <- data
		}
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) url() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func (ts *testServer) rejectWith(code int) {
	ts.mu.Lock()
	ts.reject = code
	ts.mu.Unlock()
}

func waitStatus(t *testing.T, c *Controller, want Status) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-c.Statuses():
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %s", want)
		}
	}
}

func waitFrame(t *testing.T, ch <-chan []byte) map[string]interface{} {
	t.Helper()
	select {
	case data := <-ch:
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &m))
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func TestQueueDropsOldestWhileDisconnected(t *testing.T) {
	// Unreachable endpoint with a huge backoff: the controller stays
	// disconnected and everything sent piles into the queue.
	c := New("ws://127.0.0.1:1/ws", "",
		WithBackoff([]time.Duration{time.Hour}),
		WithQueueCapacity(3))
	defer c.Close()
	waitStatus(t, c, StatusDisconnected)

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Send(map[string]interface{}{"type": "move", "data": map[string]int{"n": i}}))
	}
	assert.Equal(t, 3, c.QueueLen())
}

func TestFlushQueueInOrderOnConnect(t *testing.T) {
	ts := newTestServer(t)

	c := New(ts.url(), "", WithBackoff([]time.Duration{10 * time.Millisecond}))
	defer c.Close()
	require.NoError(t, c.Send(map[string]string{"type": "first"}))
	require.NoError(t, c.Send(map[string]string{"type": "second"}))
	waitStatus(t, c, StatusConnected)

	assert.Equal(t, "first", waitFrame(t, ts.frames)["type"])
	assert.Equal(t, "second", waitFrame(t, ts.frames)["type"])
}

func TestSearchingIntentReplayedOnReconnect(t *testing.T) {
	ts := newTestServer(t)
	c := New(ts.url(), "", WithBackoff([]time.Duration{10 * time.Millisecond}))
	defer c.Close()
	waitStatus(t, c, StatusConnected)
	conn := <-ts.conns

	c.SetIntent(Intent{Kind: IntentSearching, Wager: 250, PlayerIDs: []int{7}})
	// Kill the connection server-side; the controller must come back and
	// re-issue the same find_match.
	conn.Close()
	waitStatus(t, c, StatusConnected)

	frame := waitFrame(t, ts.frames)
	require.Equal(t, "find_match", frame["type"])
	data := frame["data"].(map[string]interface{})
	assert.Equal(t, float64(250), data["wager"])
}

func TestInSessionIntentSynthesizesEndAndSyncs(t *testing.T) {
	ts := newTestServer(t)
	c := New(ts.url(), "", WithBackoff([]time.Duration{10 * time.Millisecond}))
	defer c.Close()
	waitStatus(t, c, StatusConnected)
	conn := <-ts.conns

	c.SetIntent(Intent{Kind: IntentInSession, SessionID: "session_abc"})
	conn.Close()
	waitStatus(t, c, StatusConnected)

	// Local consumer sees a synthesized end for the stale stream.
	local := waitFrame(t, c.Messages())
	assert.Equal(t, "session_ended", local["type"])
	assert.Equal(t, "disconnect", local["reason"])
	assert.Equal(t, true, local["synthetic"])

	// The server gets asked for the authoritative state.
	frame := waitFrame(t, ts.frames)
	require.Equal(t, "sync_session", frame["type"])
	data := frame["data"].(map[string]interface{})
	assert.Equal(t, "session_abc", data["session_id"])
}

func TestAuthCloseIsTerminal(t *testing.T) {
	ts := newTestServer(t)
	ts.rejectWith(4401)

	c := New(ts.url(), "bad-token", WithBackoff([]time.Duration{10 * time.Millisecond}))
	waitStatus(t, c, StatusAuthRejected)

	// The actor is gone: sends fail and the queue reads empty.
	assert.ErrorIs(t, c.Send(map[string]string{"type": "move"}), ErrClosed)
	assert.Equal(t, 0, c.QueueLen())
}

func TestCloseCancelsPendingReconnect(t *testing.T) {
	c := New("ws://127.0.0.1:1/ws", "", WithBackoff([]time.Duration{time.Hour}))
	waitStatus(t, c, StatusDisconnected)
	c.Close()
	waitStatus(t, c, StatusClosed)
	assert.ErrorIs(t, c.Send(map[string]string{"type": "move"}), ErrClosed)
}

// hammerClosed drives Send and QueueLen against a controller whose actor has
// exited. Every call must return promptly; the mailbox buffer must never
// swallow a call or leave it waiting for a reply that will not come.
func hammerClosed(t *testing.T, c *Controller) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			assert.ErrorIs(t, c.Send(map[string]string{"type": "move"}), ErrClosed)
			assert.Equal(t, 0, c.QueueLen())
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Send or QueueLen hung after the actor exited")
	}
}

func TestCommandsAfterAuthCloseReturnPromptly(t *testing.T) {
	ts := newTestServer(t)
	ts.rejectWith(4401)

	c := New(ts.url(), "bad-token", WithBackoff([]time.Duration{10 * time.Millisecond}))
	waitStatus(t, c, StatusAuthRejected)
	hammerClosed(t, c)
}

func TestCommandsAfterCloseReturnPromptly(t *testing.T) {
	c := New("ws://127.0.0.1:1/ws", "", WithBackoff([]time.Duration{time.Hour}))
	waitStatus(t, c, StatusDisconnected)
	c.Close()
	waitStatus(t, c, StatusClosed)
	hammerClosed(t, c)
}

// flakyConn passes the websocket handshake, then fails the first frame write
// and kills the link so the read loop notices.
type flakyConn struct {
	net.Conn
	mu     sync.Mutex
	writes int
	dead   bool
}

func (f *flakyConn) Write(p []byte) (int, error) {
	f.mu.Lock()
	f.writes++
	kill := f.writes > 1 && !f.dead
	if kill {
		f.dead = true
	}
	dead := f.dead
	f.mu.Unlock()
	if kill {
		f.Conn.Close()
	}
	if dead {
		return 0, io.ErrClosedPipe
	}
	return f.Conn.Write(p)
}

func TestFailedFlushKeepsUnsentMessages(t *testing.T) {
	ts := newTestServer(t)

	// Attempt 1 never connects, attempt 2 connects but dies on the first
	// frame, attempt 3 is healthy. Everything queued during the outage must
	// arrive on the healthy connection, in order.
	var mu sync.Mutex
	attempts := 0
	dialer := &websocket.Dialer{
		NetDial: func(network, addr string) (net.Conn, error) {
			mu.Lock()
			attempts++
			n := attempts
			mu.Unlock()
			switch n {
			case 1:
				return nil, errors.New("connection refused")
			case 2:
				conn, err := net.Dial(network, addr)
				if err != nil {
					return nil, err
				}
				return &flakyConn{Conn: conn}, nil
			default:
				return net.Dial(network, addr)
			}
		},
	}

	c := New(ts.url(), "",
		WithBackoff([]time.Duration{200 * time.Millisecond}),
		WithDialer(dialer))
	defer c.Close()
	waitStatus(t, c, StatusDisconnected)

	require.NoError(t, c.Send(map[string]string{"type": "m0"}))
	require.NoError(t, c.Send(map[string]string{"type": "m1"}))
	require.NoError(t, c.Send(map[string]string{"type": "m2"}))

	assert.Equal(t, "m0", waitFrame(t, ts.frames)["type"])
	assert.Equal(t, "m1", waitFrame(t, ts.frames)["type"])
	assert.Equal(t, "m2", waitFrame(t, ts.frames)["type"])
}
