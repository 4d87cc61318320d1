package ws

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/blitzwager/backend/internal/session"
)

// RedisSubscriber is the slice of the Redis client the subscriber needs.
type RedisSubscriber interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// runEventSubscriber consumes the session event fanout and delivers each
// event to this node's clients. Events published on any node reach every
// player wherever they are connected.
func (g *Gateway) runEventSubscriber(ctx context.Context, rdb RedisSubscriber) {
	pubsub := rdb.Subscribe(ctx, session.EventsChannel)
	defer pubsub.Close()
	ch := pubsub.Channel()

	log.Printf("[WS] %s subscriber started", session.EventsChannel)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev session.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("[WS] Invalid event payload: %v", err)
				continue
			}
			g.deliverEvent(ctx, ev)
		}
	}
}

// deliverEvent fans one event out to its targets, resolving the session's
// participants when the event is session-scoped.
func (g *Gateway) deliverEvent(ctx context.Context, ev session.Event) {
	targets := ev.Targets
	if len(targets) == 0 && ev.SessionToken != "" {
		sess, err := g.sessions.GetByToken(ctx, ev.SessionToken)
		if err != nil {
			log.Printf("[WS] Cannot resolve session %s for %s event: %v", ev.SessionToken, ev.Type, err)
			return
		}
		targets = []int{sess.WhitePlayerID, sess.BlackPlayerID}
	}
	if len(targets) == 0 {
		log.Printf("[WS] %s event has no targets, dropping", ev.Type)
		return
	}

	frame := make(map[string]interface{}, len(ev.Data)+3)
	for k, v := range ev.Data {
		frame[k] = v
	}
	frame["type"] = ev.Type
	if ev.SessionToken != "" {
		frame["session_id"] = ev.SessionToken
	}
	if ev.DBSessionID != 0 {
		frame["db_session_id"] = ev.DBSessionID
	}

	for _, playerID := range targets {
		g.hub.SendToPlayer(playerID, frame)
	}
}
