package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/blitzwager/backend/internal/admin"
	"github.com/blitzwager/backend/internal/config"
	"github.com/blitzwager/backend/internal/database"
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

	login := os.Getenv("ADMIN_LOGIN")
	if login == "" {
		login = "operator"
		log.Printf("Using default admin login: %s", login)
	}

	adminToken := os.Getenv("ADMIN_TOKEN")
	if adminToken == "" {
		adminToken = "change-me-in-production"
		log.Printf("WARNING: Using default admin token. Set ADMIN_TOKEN env var in production!")
	}

	if err := admin.CreateAccount(db, login, "Operator", adminToken); err != nil {
		log.Fatalf("Failed to create admin account: %v", err)
	}

	log.Printf("Admin account created/updated successfully")
	log.Printf("  Login: %s", login)
	log.Printf("  Token: %s", adminToken)
}
