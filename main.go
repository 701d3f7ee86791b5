package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"math/rand"
	"os"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/PavloPoliakov/DonationRaffleBot/internal/config"
	"github.com/PavloPoliakov/DonationRaffleBot/internal/handlers"
	"github.com/PavloPoliakov/DonationRaffleBot/internal/repository"
	"github.com/PavloPoliakov/DonationRaffleBot/internal/service"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Configuration error: %v", err)
	}

	// Get database connection string
	dbConnStr := cfg.DatabaseURL
	if dbConnStr == "" {
		dbConnStr = "host=localhost port=5432 user=postgres password=123 dbname=rafflebot sslmode=disable"
		log.Println("⚠️  Using default database connection string")
	}

	// Connect to database
	db, err := sql.Open("postgres", dbConnStr)
	if err != nil {
		log.Fatalf("❌ Database connection error: %v", err)
	}
	defer db.Close()

	if err = db.Ping(); err != nil {
		log.Fatalf("❌ Cannot ping database: %v", err)
	}
	log.Println("✅ Connected to database")

	repo := repository.NewRepository(db)
	if err := repo.InitSchema(); err != nil {
		log.Fatalf("❌ Schema initialization error: %v", err)
	}

	// Initialize bot
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatalf("❌ Bot initialization error: %v", err)
	}
	bot.Debug = false
	log.Printf("✅ Bot authorized as @%s", bot.Self.UserName)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	raffle := service.New(repo, handlers.NewTelegramSender(bot), rng, service.Options{
		DefaultJarURL: cfg.JarURL,
		Phrases:       loadPhrases(cfg.PhrasesPath),
	})

	handler := handlers.NewBotHandler(bot, repo, raffle)

	if _, err := bot.Request(tgbotapi.NewSetMyCommands(handlers.Commands()...)); err != nil {
		log.Printf("⚠️  Could not register bot commands: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	raffle.StartScheduler(ctx)

	// Start receiving updates
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	u.AllowedUpdates = []string{"message"}

	updates := bot.GetUpdatesChan(u)

	log.Println("🚀 Bot is running...")

	for update := range updates {
		handler.HandleUpdate(update)
	}
}

// loadPhrases reads the optional flavor-phrase file, a JSON array of strings.
func loadPhrases(path string) []string {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("⚠️  Could not read phrases file: %v", err)
		return nil
	}
	var phrases []string
	if err := json.Unmarshal(data, &phrases); err != nil {
		log.Printf("⚠️  Could not parse phrases file: %v", err)
		return nil
	}
	return phrases
}
