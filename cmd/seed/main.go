package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/driftline/backend/internal/auth"
	"github.com/driftline/backend/internal/database"
	"github.com/driftline/backend/internal/logger"
	"github.com/driftline/backend/internal/models"
	"github.com/driftline/backend/internal/seed"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using system environment variables")
	}

	if err := logger.Initialize("info", ""); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Close()

	command := "dev"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "dev":
		seedDev()
	case "test":
		seedTest()
	case "clean":
		cleanSeed()
	case "tokens":
		printTokens()
	default:
		fmt.Println("Usage: seed [dev|test|clean|tokens]")
		fmt.Println("  dev    - Seed development database with realistic data")
		fmt.Println("  test   - Seed test database with the fixed e2e cast")
		fmt.Println("  clean  - Remove all seed data (use with caution)")
		fmt.Println("  tokens - Print a login token for each seeded user")
		os.Exit(1)
	}
}

func connect() {
	if err := database.Initialize(); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := database.Migrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
}

func seedDev() {
	log.Println("Seeding development database...")
	connect()
	defer database.Close()

	if err := seed.NewSeeder(database.DB).SeedDev(); err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}
	log.Println("Development database seeded successfully")
}

func seedTest() {
	log.Println("Seeding test database...")
	connect()
	defer database.Close()

	if err := seed.NewSeeder(database.DB).SeedTest(); err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}
	log.Println("Test database seeded successfully")
}

func cleanSeed() {
	log.Println("Cleaning seed data...")
	connect()
	defer database.Close()

	if err := seed.NewSeeder(database.DB).Clean(); err != nil {
		log.Fatalf("Clean failed: %v", err)
	}
	log.Println("Seed data cleaned successfully")
}

// printTokens issues a 24h token per user so seeded accounts can be used
// against the WebSocket and REST surfaces directly.
func printTokens() {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}

	connect()
	defer database.Close()

	var users []models.User
	if err := database.DB.Order("username").Find(&users).Error; err != nil {
		log.Fatalf("Failed to load users: %v", err)
	}

	verifier := auth.NewVerifier([]byte(secret))
	for _, u := range users {
		token, err := verifier.IssueToken(u.ID, 24*time.Hour)
		if err != nil {
			log.Fatalf("Failed to issue token for %s: %v", u.Username, err)
		}
		fmt.Printf("%s\t%s\n", u.Username, token)
	}
}
