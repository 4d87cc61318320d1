package handlers

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/blitzwager/backend/internal/config"
	"github.com/blitzwager/backend/internal/middleware"
)

// IssueToken exchanges a vouched-for external identity for a session JWT,
// creating the core-local player row lazily. The platform's auth service is
// the only caller; the route sits behind the trusted network boundary.
func IssueToken(db *sqlx.DB, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			IdentityID  string `json:"identity_id"`
			DisplayName string `json:"display_name"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "identity_id required"})
			return
		}
		identityID := strings.TrimSpace(req.IdentityID)
		if identityID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "identity_id required"})
			return
		}

		var player struct {
			ID          int    `db:"id"`
			DisplayName string `db:"display_name"`
		}
		err := db.Get(&player, `SELECT id, display_name FROM players WHERE identity_id=$1`, identityID)
		if err != nil {
			if _, err2 := db.Exec(`INSERT INTO players (identity_id, display_name) VALUES ($1, $2) ON CONFLICT (identity_id) DO NOTHING`, identityID, req.DisplayName); err2 != nil {
				log.Printf("Failed to create player for identity %s: %v", identityID, err2)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
				return
			}
			if err = db.Get(&player, `SELECT id, display_name FROM players WHERE identity_id=$1`, identityID); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
				return
			}
		}

		signed, err := middleware.GenerateToken(cfg, player.ID, identityID)
		if err != nil {
			log.Printf("Failed to sign token: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token": signed,
			"player": gin.H{
				"id":           player.ID,
				"identity_id":  identityID,
				"display_name": player.DisplayName,
			},
		})
	}
}
