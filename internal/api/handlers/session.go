package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/blitzwager/backend/internal/config"
	"github.com/blitzwager/backend/internal/ledger"
	"github.com/blitzwager/backend/internal/rules"
	"github.com/blitzwager/backend/internal/session"
	"github.com/blitzwager/backend/internal/settle"
)

// CreateSession creates a session directly, outside of matchmaking. Used by
// trusted callers arranging a pairing themselves (rematches, tournaments).
func CreateSession(cfg *config.Config, sessions *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			WhitePlayerID int     `json:"white_player_id"`
			BlackPlayerID int     `json:"black_player_id"`
			Wager         float64 `json:"wager"`
			GameType      string  `json:"game_type"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if req.WhitePlayerID == 0 || req.BlackPlayerID == 0 || req.WhitePlayerID == req.BlackPlayerID {
			c.JSON(http.StatusBadRequest, gin.H{"error": "two distinct players required"})
			return
		}
		if !cfg.ValidWager(req.Wager) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "wager is not an allowed tier"})
			return
		}
		if req.GameType == "" {
			req.GameType = "chess"
		}

		sess, err := sessions.CreateSession(c.Request.Context(), req.GameType, req.Wager, req.WhitePlayerID, req.BlackPlayerID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"db_session_id": sess.ID,
			"session_id":    sess.Token,
			"status":        sess.Status,
		})
	}
}

// GetSession returns the authoritative snapshot of a session.
func GetSession(sessions *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, ok := sessionParam(c)
		if !ok {
			return
		}
		playerID := c.GetInt("player_id")

		state, err := sessions.RequestSync(c.Request.Context(), sessionID, playerID)
		if err != nil {
			c.JSON(sessionStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, state)
	}
}

// ActivateSession locks both wagers into escrow and starts the session.
// Safe to retry: a repeat call reports already_locked.
func ActivateSession(sessions *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, ok := sessionParam(c)
		if !ok {
			return
		}

		result, err := sessions.Activate(c.Request.Context(), sessionID)
		if err != nil {
			var insufficient *ledger.InsufficientFundsError
			switch {
			case errors.As(err, &insufficient):
				c.JSON(http.StatusPaymentRequired, gin.H{
					"error":     "insufficient funds",
					"player_id": insufficient.PlayerID,
					"shortfall": insufficient.Shortfall(),
				})
			case errors.Is(err, settle.ErrNotLockable):
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			default:
				c.JSON(sessionStatus(err), gin.H{"error": err.Error()})
			}
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// SettleSession finishes a session and moves the money. Safe to retry: a
// repeat call reports already_settled with the recorded settlement id.
func SettleSession(engine *settle.Engine, sessions *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, ok := sessionParam(c)
		if !ok {
			return
		}

		var req struct {
			WinnerID *int   `json:"winner_id"`
			Reason   string `json:"reason"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if req.Reason == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "reason required"})
			return
		}

		result, err := engine.SettleSession(c.Request.Context(), sessionID, req.WinnerID, req.Reason)
		if err != nil {
			switch {
			case errors.Is(err, settle.ErrNotLocked):
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			default:
				c.JSON(sessionStatus(err), gin.H{"error": err.Error()})
			}
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// UpdateSessionState is the RPC form of in-session actions for callers that
// cannot hold a socket: apply a move, resign, or claim a time loss.
func UpdateSessionState(sessions *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, ok := sessionParam(c)
		if !ok {
			return
		}
		playerID := c.GetInt("player_id")

		var req struct {
			Action    string `json:"action"`
			Move      string `json:"move,omitempty"`
			LoserSide string `json:"loser_side,omitempty"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		ctx := c.Request.Context()
		switch req.Action {
		case "move":
			result, err := sessions.ApplyMove(ctx, sessionID, playerID, req.Move)
			if err != nil {
				c.JSON(sessionStatus(err), gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, result)

		case "resign":
			end, err := sessions.Resign(ctx, sessionID, playerID)
			if err != nil {
				c.JSON(sessionStatus(err), gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, end)

		case "time_loss":
			end, err := sessions.DeclareTimeLoss(ctx, sessionID, req.LoserSide)
			if err != nil {
				c.JSON(sessionStatus(err), gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, end)

		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported action"})
		}
	}
}

func sessionParam(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return 0, false
	}
	return id, true
}

func sessionStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, settle.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrNotParticipant):
		return http.StatusForbidden
	case errors.Is(err, session.ErrNotYourTurn),
		errors.Is(err, session.ErrNotActive),
		errors.Is(err, session.ErrFlagFallen),
		errors.Is(err, session.ErrFlagNotFallen):
		return http.StatusConflict
	case errors.Is(err, rules.ErrIllegalMove):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
