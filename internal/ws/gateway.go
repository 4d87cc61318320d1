package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/blitzwager/backend/internal/config"
	"github.com/blitzwager/backend/internal/matchmaking"
	"github.com/blitzwager/backend/internal/middleware"
	"github.com/blitzwager/backend/internal/rules"
	"github.com/blitzwager/backend/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Origin is enforced by the CORS layer in front
	},
}

// Gateway is the realtime entry point: it authenticates the upgrade, owns
// the hub, and routes inbound frames to the queue and session manager.
type Gateway struct {
	hub      *Hub
	cfg      *config.Config
	sessions *session.Manager
	queue    *matchmaking.Queue
}

func NewGateway(cfg *config.Config, sessions *session.Manager, queue *matchmaking.Queue) *Gateway {
	return &Gateway{
		hub:      NewHub(),
		cfg:      cfg,
		sessions: sessions,
		queue:    queue,
	}
}

// Hub exposes the client registry for the event subscriber and observers.
func (g *Gateway) Hub() *Hub {
	return g.hub
}

// Start runs the hub loop and the Redis event subscriber.
func (g *Gateway) Start(ctx context.Context, rdb RedisSubscriber) {
	go g.hub.Run()
	if rdb != nil {
		go g.runEventSubscriber(ctx, rdb)
	}
}

// HandleWS upgrades the connection and authenticates it. A bad credential
// closes with a 44xx code after the upgrade so the client can tell an auth
// rejection from a transport failure.
func (g *Gateway) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[WS] Upgrade failed: %v", err)
		return
	}

	tokenString := middleware.BearerToken(c)
	claims, err := middleware.ParseToken(g.cfg, tokenString)
	if err != nil {
		msg := websocket.FormatCloseMessage(CloseUnauthorized, "invalid or missing token")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		conn.Close()
		return
	}

	client := &Client{
		conn:     conn,
		playerID: claims.PlayerID,
		hub:      g.hub,
		gateway:  g,
		send:     make(chan []byte, sendBufferSize),
	}
	g.hub.register <- client
	go client.writePump()

	client.sendJSON(map[string]interface{}{
		"type":      TypeWelcome,
		"identity":  claims.IdentityID,
		"player_id": claims.PlayerID,
	})

	ctx := context.Background()
	g.sessions.MarkConnected(ctx, claims.PlayerID)
	if sess, ok := g.sessions.ActiveSessionForPlayer(ctx, claims.PlayerID); ok {
		if state, err := g.sessions.RequestSync(ctx, sess.ID, claims.PlayerID); err == nil {
			g.sendSync(client, state)
		}
	}

	client.readPump()
}

func (g *Gateway) onDisconnect(playerID int) {
	g.sessions.MarkDisconnected(context.Background(), playerID)
}

// handleMessage routes one inbound frame. Unknown types are preserved and
// logged, never fatal.
func (g *Gateway) handleMessage(c *Client, msg *Message) {
	ctx := context.Background()

	switch msg.Type {
	case TypeFindMatch:
		var payload FindMatchPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			c.sendError("bad_payload", "find_match payload is invalid")
			return
		}
		gameType := payload.GameType
		if gameType == "" {
			gameType = "chess"
		}
		result, err := g.queue.Join(ctx, c.playerID, gameType, payload.Wager)
		if err != nil {
			c.sendError(joinErrorCode(err), err.Error())
			return
		}
		if !result.Matched {
			c.sendJSON(map[string]interface{}{
				"type":           TypeSearching,
				"wager":          payload.Wager,
				"queue_position": result.QueuePosition,
			})
		}
		// On a match the queue published match_found to both players.

	case TypeCancelSearch:
		if _, err := g.queue.Cancel(ctx, c.playerID); err != nil {
			c.sendError("cancel_failed", err.Error())
			return
		}
		c.sendJSON(map[string]interface{}{"type": TypeSearchCancelled})

	case TypeMove:
		var payload MovePayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			c.sendError("bad_payload", "move payload is invalid")
			return
		}
		sess, ok := g.sessions.ActiveSessionForPlayer(ctx, c.playerID)
		if !ok {
			c.sendError("no_session", "no active session")
			return
		}
		if _, err := g.sessions.ApplyMove(ctx, sess.ID, c.playerID, payload.Move); err != nil {
			c.sendError(moveErrorCode(err), err.Error())
			return
		}
		// move_applied reaches both players through the event fanout.

	case TypeResign:
		var payload ResignPayload
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &payload); err != nil {
				c.sendError("bad_payload", "resign payload is invalid")
				return
			}
		}
		sess, err := g.resolveSession(ctx, c.playerID, payload.DBSessionID, payload.SessionID)
		if err != nil {
			c.sendError("no_session", err.Error())
			return
		}
		if _, err := g.sessions.Resign(ctx, sess.ID, c.playerID); err != nil {
			c.sendError("resign_failed", err.Error())
		}

	case TypeLeaveSession:
		sess, ok := g.sessions.ActiveSessionForPlayer(ctx, c.playerID)
		if !ok {
			c.sendError("no_session", "no active session")
			return
		}
		if _, err := g.sessions.Resign(ctx, sess.ID, c.playerID); err != nil {
			c.sendError("leave_failed", err.Error())
		}

	case TypeSyncSession:
		var payload SyncPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			c.sendError("bad_payload", "sync_session payload is invalid")
			return
		}
		sess, err := g.sessions.GetByToken(ctx, payload.SessionID)
		if err != nil {
			c.sendError("no_session", err.Error())
			return
		}
		state, err := g.sessions.RequestSync(ctx, sess.ID, c.playerID)
		if err != nil {
			c.sendError("sync_failed", err.Error())
			return
		}
		g.sendSync(c, state)

	default:
		// Tolerate newer clients: keep the connection, observers already saw
		// the raw frame.
		log.Printf("[WS] Unhandled message type %q from player %d", msg.Type, c.playerID)
	}
}

func (g *Gateway) sendSync(c *Client, state *session.SyncState) {
	c.sendJSON(map[string]interface{}{
		"type":          session.EventSessionSync,
		"session_id":    state.Token,
		"db_session_id": state.SessionID,
		"game_type":     state.GameType,
		"wager":         state.Wager,
		"position":      state.Position,
		"your_side":     state.YourSide,
		"move_count":    state.MoveCount,
		"status":        state.Status,
		"clock":         state.Clock,
		"end":           state.End,
	})
}

// resolveSession picks the session a frame refers to: explicit ids win,
// otherwise the player's active session.
func (g *Gateway) resolveSession(ctx context.Context, playerID, dbSessionID int, token string) (*session.Session, error) {
	if dbSessionID != 0 {
		return g.sessions.Get(ctx, dbSessionID)
	}
	if token != "" {
		return g.sessions.GetByToken(ctx, token)
	}
	if sess, ok := g.sessions.ActiveSessionForPlayer(ctx, playerID); ok {
		return sess, nil
	}
	return nil, session.ErrSessionNotFound
}

func joinErrorCode(err error) string {
	switch {
	case errors.Is(err, matchmaking.ErrInvalidWager):
		return "invalid_wager"
	case errors.Is(err, matchmaking.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, matchmaking.ErrAlreadyInSession):
		return "already_in_session"
	case errors.Is(err, matchmaking.ErrDifferentBucket):
		return "already_searching"
	}
	return "join_failed"
}

func moveErrorCode(err error) string {
	switch {
	case errors.Is(err, session.ErrNotYourTurn):
		return "not_your_turn"
	case errors.Is(err, session.ErrFlagFallen):
		return "flag_fallen"
	case errors.Is(err, session.ErrNotActive):
		return "not_active"
	case errors.Is(err, rules.ErrIllegalMove):
		return "illegal_move"
	}
	return "move_failed"
}
