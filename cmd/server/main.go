package main

import (
	"context"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/blitzwager/backend/internal/api"
	"github.com/blitzwager/backend/internal/config"
	"github.com/blitzwager/backend/internal/database"
	"github.com/blitzwager/backend/internal/matchmaking"
	"github.com/blitzwager/backend/internal/migrations"
	"github.com/blitzwager/backend/internal/redis"
	"github.com/blitzwager/backend/internal/rules"
	"github.com/blitzwager/backend/internal/session"
	"github.com/blitzwager/backend/internal/settle"
	"github.com/blitzwager/backend/internal/ws"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Run migrations on start if requested
	if os.Getenv("MIGRATE_ON_START") == "true" {
		log.Println("Running DB migrations on startup...")
		if err := migrations.RunMigrations(cfg.DatabaseURL); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
	}

	rdb, err := redis.Connect(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer rdb.Close()

	ctx := context.Background()

	engine := settle.NewEngine(db, cfg)
	sessions := session.NewManager(db, rdb, cfg, rules.NewTokenEngine(), engine)
	queue := matchmaking.NewQueue(db, rdb, cfg, sessions)
	gateway := ws.NewGateway(cfg, sessions, queue)

	// Background workers: clock/disconnect sweep and queue expiry.
	go sessions.StartDisconnectChecker(ctx)
	go queue.StartSweepWorker(ctx)

	// Hub loop plus the Redis event fanout subscriber.
	gateway.Start(ctx, rdb)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	api.SetupRoutes(router, db, cfg, sessions, queue, engine, gateway)

	port := cfg.Port
	if port == "" {
		port = "8080"
	}

	log.Printf("Starting BlitzWager server on port %s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
