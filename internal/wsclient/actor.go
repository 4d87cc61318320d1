package wsclient

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// inbound carries one reader result tagged with the connection generation so
// the actor can ignore frames from a connection it already replaced.
type inbound struct {
	gen  int
	data []byte
	err  error
}

// run is the actor. It is the only goroutine that touches the conn, the
// pending queue, the intent and the backoff position.
func (c *Controller) run(token string) {
	var (
		conn    *websocket.Conn
		gen     int
		pending [][]byte
		intent  Intent
		attempt int
	)

	reads := make(chan inbound, 64)
	var retryAt <-chan time.Time

	dial := func() {
		c.status(StatusConnecting)
		next, err := c.dialOnce(token)
		if err != nil {
			delay := c.backoff[min(attempt, len(c.backoff)-1)]
			attempt++
			c.logf("dial failed (attempt %d): %v; retrying in %v", attempt, err, delay)
			c.status(StatusDisconnected)
			retryAt = time.After(delay)
			return
		}
		conn = next
		gen++
		attempt = 0
		retryAt = nil
		c.status(StatusConnected)
		c.logf("connected to %s", c.url)
		go c.readLoop(conn, gen, reads)

		// Flush queued messages in order, then replay the last-known intent.
		// A mid-flush write error keeps the unsent tail queued for the next
		// reconnect; only what actually went out is released.
		flushed := 0
		for _, data := range pending {
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logf("flush failed: %v", err)
				break
			}
			flushed++
		}
		pending = pending[flushed:]
		c.replayIntent(conn, intent)
	}

	dial()

	for {
		select {
		case <-retryAt:
			retryAt = nil
			dial()

		case in := <-reads:
			if in.gen != gen {
				continue // stale connection
			}
			if in.err == nil {
				c.deliver(in.data)
				continue
			}
			conn.Close()
			conn = nil
			if isAuthClose(in.err) {
				// The credential itself was rejected. Reconnecting with the
				// same token can only fail again.
				token = ""
				c.logf("authentication rejected: %v", in.err)
				c.status(StatusAuthRejected)
				close(c.done)
				return
			}
			delay := c.backoff[min(attempt, len(c.backoff)-1)]
			attempt++
			c.logf("connection lost: %v; reconnecting in %v", in.err, delay)
			c.status(StatusDisconnected)
			retryAt = time.After(delay)

		case cmd := <-c.cmds:
			switch cmd.kind {
			case cmdSend:
				sent := false
				if conn != nil {
					if err := conn.WriteMessage(websocket.TextMessage, cmd.data); err == nil {
						sent = true
					}
					// On a write failure the read loop surfaces the close;
					// the message falls through to the queue.
				}
				if !sent {
					if len(pending) >= c.queueCap {
						pending = pending[1:]
						c.logf("outbound queue full, dropped oldest message")
					}
					pending = append(pending, cmd.data)
				}
				if cmd.replyErr != nil {
					cmd.replyErr <- nil
				}

			case cmdSetIntent:
				intent = cmd.intent

			case cmdQueueLen:
				cmd.replyInt <- len(pending)

			case cmdClose:
				if conn != nil {
					msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
					conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
					conn.Close()
				}
				c.status(StatusClosed)
				close(c.done)
				return
			}
		}
	}
}

func (c *Controller) dialOnce(token string) (*websocket.Conn, error) {
	target := c.url
	if token != "" {
		u, err := url.Parse(c.url)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
		target = u.String()
	}
	conn, _, err := c.dialer.Dial(target, nil)
	return conn, err
}

func (c *Controller) readLoop(conn *websocket.Conn, gen int, out chan<- inbound) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			out <- inbound{gen: gen, err: err}
			return
		}
		out <- inbound{gen: gen, data: data}
	}
}

// replayIntent re-establishes what the player was doing before the drop.
func (c *Controller) replayIntent(conn *websocket.Conn, intent Intent) {
	switch intent.Kind {
	case IntentSearching:
		data, _ := json.Marshal(map[string]interface{}{
			"type": "find_match",
			"data": map[string]interface{}{
				"wager":      intent.Wager,
				"player_ids": intent.PlayerIDs,
			},
		})
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			c.logf("intent replay (searching) failed: %v", err)
		}

	case IntentInSession:
		// The local view is stale: tell the consumer the old stream ended,
		// then ask the server for the authoritative state.
		synthetic, _ := json.Marshal(map[string]interface{}{
			"type":       "session_ended",
			"reason":     "disconnect",
			"session_id": intent.SessionID,
			"synthetic":  true,
		})
		c.deliver(synthetic)

		data, _ := json.Marshal(map[string]interface{}{
			"type": "sync_session",
			"data": map[string]interface{}{"session_id": intent.SessionID},
		})
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			c.logf("intent replay (sync) failed: %v", err)
		}
	}
}

func (c *Controller) deliver(data []byte) {
	select {
	case c.messages <- data:
	default:
		c.logf("consumer is behind, dropped inbound frame")
	}
}

func (c *Controller) status(s Status) {
	select {
	case c.statuses <- s:
	default:
	}
}

func (c *Controller) logf(format string, args ...interface{}) {
	select {
	case c.logs <- fmt.Sprintf(format, args...):
	default:
	}
}

func isAuthClose(err error) bool {
	if ce, ok := err.(*websocket.CloseError); ok {
		return ce.Code >= 4400 && ce.Code < 4500
	}
	return false
}
