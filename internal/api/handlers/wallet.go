package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/blitzwager/backend/internal/ledger"
)

// Deposit applies an external balance-credit event to the caller's account.
// The payment provider integration lives outside this service; by the time
// this endpoint is called the money has already cleared.
func Deposit(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		playerID := c.GetInt("player_id")

		var req struct {
			Amount    float64 `json:"amount"`
			Reference string  `json:"reference"`
		}
		if err := c.BindJSON(&req); err != nil || req.Amount <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "positive amount required"})
			return
		}

		desc := "Deposit"
		if req.Reference != "" {
			desc = "Deposit ref " + req.Reference
		}
		balance, err := ledger.Credit(db, playerID, req.Amount, desc)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to credit account"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"balance": balance})
	}
}

// Balance returns the caller's spendable balance.
func Balance(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		playerID := c.GetInt("player_id")
		balance, err := ledger.PlayerBalance(db, playerID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load balance"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"balance": balance})
	}
}
