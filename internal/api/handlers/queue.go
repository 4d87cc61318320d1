package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/blitzwager/backend/internal/matchmaking"
)

// JoinQueue enters the caller into the matchmaking queue for a wager tier.
func JoinQueue(queue *matchmaking.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		playerID := c.GetInt("player_id")

		var req struct {
			Wager    float64 `json:"wager"`
			GameType string  `json:"game_type"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "wager required"})
			return
		}
		if req.GameType == "" {
			req.GameType = "chess"
		}

		result, err := queue.Join(c.Request.Context(), playerID, req.GameType, req.Wager)
		if err != nil {
			c.JSON(joinStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// CancelQueue withdraws the caller's queue entry.
func CancelQueue(queue *matchmaking.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		playerID := c.GetInt("player_id")
		result, err := queue.Cancel(c.Request.Context(), playerID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// QueueStatus reports the caller's queue standing.
func QueueStatus(queue *matchmaking.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		playerID := c.GetInt("player_id")
		result, err := queue.Status(c.Request.Context(), playerID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func joinStatus(err error) int {
	switch {
	case errors.Is(err, matchmaking.ErrInvalidWager):
		return http.StatusBadRequest
	case errors.Is(err, matchmaking.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, matchmaking.ErrAlreadyInSession),
		errors.Is(err, matchmaking.ErrDifferentBucket):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
