package session

import (
	"context"
	"encoding/json"
	"log"
)

// EventsChannel is the Redis pubsub channel the realtime gateway subscribes
// to. Publishing through Redis lets any node deliver to its own clients.
const EventsChannel = "session_events"

// event types fanned out to clients
const (
	EventMatchFound    = "match_found"
	EventMoveApplied   = "move_applied"
	EventSessionSync   = "session_sync"
	EventSessionEnded  = "session_ended"
	EventOpponentLeft  = "opponent_left"
	EventSearchExpired = "search_expired"
)

// Event is one fanout message. Targets lists the player ids the gateway
// should deliver to; an empty list means every client of the session.
type Event struct {
	Type         string                 `json:"type"`
	SessionToken string                 `json:"session_id,omitempty"`
	DBSessionID  int                    `json:"db_session_id,omitempty"`
	Targets      []int                  `json:"targets,omitempty"`
	Data         map[string]interface{} `json:"data,omitempty"`
}

// PublishEvent fans ev out over Redis. Best effort: delivery failures are
// logged, never surfaced, because clients reconcile through sync_session.
func (m *Manager) PublishEvent(ev Event) {
	if m.rdb == nil {
		return
	}
	b, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[EVENTS] Failed to marshal %s event: %v", ev.Type, err)
		return
	}
	if n, err := m.rdb.Publish(context.Background(), EventsChannel, b).Result(); err != nil {
		log.Printf("[EVENTS] Failed to publish %s event: %v", ev.Type, err)
	} else if n == 0 {
		log.Printf("[EVENTS] No subscribers for %s event (session=%s)", ev.Type, ev.SessionToken)
	}
}
