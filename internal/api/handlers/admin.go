package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/blitzwager/backend/internal/admin"
	"github.com/blitzwager/backend/internal/session"
)

// AdminAuthRequired validates operator credentials from request headers.
func AdminAuthRequired(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		login := c.GetHeader("X-Admin-Login")
		token := c.GetHeader("X-Admin-Token")
		if login == "" || token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "operator credentials required"})
			c.Abort()
			return
		}
		account, err := admin.Authenticate(db, login, token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid operator credentials"})
			c.Abort()
			return
		}
		c.Set("admin_login", account.Login)
		c.Next()
	}
}

// AbortSession force-finishes a session with both wagers refunded.
func AbortSession(db *sqlx.DB, sessions *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, ok := sessionParam(c)
		if !ok {
			return
		}
		login := c.GetString("admin_login")

		end, err := sessions.Abort(c.Request.Context(), sessionID)
		success := err == nil
		admin.LogAction(db, login, "abort_session", map[string]interface{}{
			"session_id": sessionID,
		}, success)
		if err != nil {
			c.JSON(sessionStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, end)
	}
}
