package api

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/blitzwager/backend/internal/api/handlers"
	"github.com/blitzwager/backend/internal/config"
	"github.com/blitzwager/backend/internal/matchmaking"
	"github.com/blitzwager/backend/internal/middleware"
	"github.com/blitzwager/backend/internal/session"
	"github.com/blitzwager/backend/internal/settle"
	"github.com/blitzwager/backend/internal/ws"
)

// SetupRoutes configures all API routes
func SetupRoutes(router *gin.Engine, db *sqlx.DB, cfg *config.Config, sessions *session.Manager, queue *matchmaking.Queue, engine *settle.Engine, gateway *ws.Gateway) {
	router.Use(middleware.CORSMiddleware(cfg))

	if cfg.Environment != "production" {
		router.Use(func(c *gin.Context) {
			c.Header("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
			c.Next()
		})
		log.Println("[DEV MODE] No-cache headers enabled for all routes")
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", handlers.HealthCheck)
		v1.POST("/auth/token", handlers.IssueToken(db, cfg))

		// Realtime gateway; performs its own token check at upgrade so it
		// can close with an auth-family code instead of an HTTP status.
		v1.GET("/ws", gateway.HandleWS)

		authed := v1.Group("")
		authed.Use(middleware.AuthRequired(cfg))
		{
			queueGroup := authed.Group("/queue")
			{
				queueGroup.POST("/join", handlers.JoinQueue(queue))
				queueGroup.POST("/cancel", handlers.CancelQueue(queue))
				queueGroup.GET("/status", handlers.QueueStatus(queue))
			}

			sessionGroup := authed.Group("/sessions")
			{
				sessionGroup.POST("", handlers.CreateSession(cfg, sessions))
				sessionGroup.GET("/:id", handlers.GetSession(sessions))
				sessionGroup.POST("/:id/activate", handlers.ActivateSession(sessions))
				sessionGroup.POST("/:id/settle", handlers.SettleSession(engine, sessions))
				sessionGroup.POST("/:id/state", handlers.UpdateSessionState(sessions))
			}

			wallet := authed.Group("/wallet")
			{
				wallet.POST("/deposit", handlers.Deposit(db))
				wallet.GET("/balance", handlers.Balance(db))
			}
		}

		adminGroup := v1.Group("/admin")
		adminGroup.Use(handlers.AdminAuthRequired(db))
		{
			adminGroup.POST("/sessions/:id/abort", handlers.AbortSession(db, sessions))
		}
	}
}
