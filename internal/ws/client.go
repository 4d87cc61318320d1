package ws

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
	sendBufferSize = 64
)

// Client is one player's connection. The gateway owns the read pump, the
// write pump drains send.
type Client struct {
	conn     *websocket.Conn
	playerID int
	hub      *Hub
	gateway  *Gateway
	send     chan []byte
}

// writePump writes queued messages and pings to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed: connection is being replaced or cleaned up.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("[WS] Write error for player %d: %v", c.playerID, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("[WS] Ping error for player %d: %v", c.playerID, err)
				return
			}
		}
	}
}

// readPump reads client frames until the connection dies, then unregisters.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
		c.gateway.onDisconnect(c.playerID)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[WS] Read error for player %d: %v", c.playerID, err)
			}
			return
		}
		c.hub.notifyObservers("in", c.playerID, data)

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("bad_message", "message is not valid JSON")
			continue
		}
		c.gateway.handleMessage(c, &msg)
	}
}

func (c *Client) sendError(code, message string) {
	c.sendJSON(map[string]interface{}{
		"type":    TypeError,
		"code":    code,
		"message": message,
	})
}

func (c *Client) sendJSON(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("[WS] Error marshaling message for player %d: %v", c.playerID, err)
		return
	}
	select {
	case c.send <- data:
		c.hub.notifyObservers("out", c.playerID, data)
	default:
		log.Printf("[WS] Send buffer full for player %d, dropping message", c.playerID)
	}
}
