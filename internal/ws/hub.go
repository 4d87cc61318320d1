package ws

import (
	"encoding/json"
	"log"
	"sync"
)

// Frame is one mirrored wire frame handed to observers.
type Frame struct {
	Direction string // "in" or "out"
	PlayerID  int
	Payload   []byte
}

// Observer receives a copy of every frame through the hub. Delivery is
// non-blocking: a slow observer loses frames, never delays clients.
type Observer struct {
	C chan Frame
}

// Hub maintains the set of connected clients, one per player.
type Hub struct {
	clients    map[int]*Client // player id -> client
	register   chan *Client
	unregister chan *Client
	observers  []*Observer
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[int]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run processes register/unregister until the channels close. A second
// connection for the same player replaces the first.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if old, exists := h.clients[client.playerID]; exists && old != client {
				close(old.send)
			}
			h.clients[client.playerID] = client
			h.mu.Unlock()
			log.Printf("[WS] Player %d connected", client.playerID)

		case client := <-h.unregister:
			h.mu.Lock()
			if current, exists := h.clients[client.playerID]; exists && current == client {
				delete(h.clients, client.playerID)
				close(client.send)
			}
			h.mu.Unlock()
			log.Printf("[WS] Player %d disconnected", client.playerID)
		}
	}
}

// SendToPlayer delivers one message to the player's connection, dropping it
// when the client's buffer is full or the player is offline.
func (h *Hub) SendToPlayer(playerID int, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("[WS] Error marshaling message: %v", err)
		return
	}

	h.mu.RLock()
	client, exists := h.clients[playerID]
	h.mu.RUnlock()
	if !exists {
		log.Printf("[WS] SendToPlayer no client for player %d", playerID)
		return
	}

	select {
	case client.send <- data:
		h.notifyObservers("out", playerID, data)
	default:
		log.Printf("[WS] SendToPlayer dropped message for player %d (buffer full)", playerID)
	}
}

// Connected reports whether the player has a live connection.
func (h *Hub) Connected(playerID int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, exists := h.clients[playerID]
	return exists
}

// AddObserver registers a frame tap with the given buffer size.
func (h *Hub) AddObserver(buffer int) *Observer {
	obs := &Observer{C: make(chan Frame, buffer)}
	h.mu.Lock()
	h.observers = append(h.observers, obs)
	h.mu.Unlock()
	return obs
}

// RemoveObserver detaches the tap. The channel is left open because an
// in-flight notify may still hold a reference; it simply stops filling.
func (h *Hub) RemoveObserver(obs *Observer) {
	h.mu.Lock()
	for i, o := range h.observers {
		if o == obs {
			h.observers = append(h.observers[:i:i], h.observers[i+1:]...)
			break
		}
	}
	h.mu.Unlock()
}

func (h *Hub) notifyObservers(direction string, playerID int, payload []byte) {
	h.mu.RLock()
	observers := make([]*Observer, len(h.observers))
	copy(observers, h.observers)
	h.mu.RUnlock()

	for _, obs := range observers {
		select {
		case obs.C <- Frame{Direction: direction, PlayerID: playerID, Payload: payload}:
		default:
			// Observer is behind; drop rather than block delivery.
		}
	}
}
