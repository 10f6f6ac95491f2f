package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/djensenius/FluxHaus-Server-sub000/internal/config"
	"github.com/djensenius/FluxHaus-Server-sub000/internal/cryptobox"
	"github.com/djensenius/FluxHaus-Server-sub000/internal/devices"
	"github.com/djensenius/FluxHaus-Server-sub000/internal/httpapi"
	"github.com/djensenius/FluxHaus-Server-sub000/internal/orchestrator"
	"github.com/djensenius/FluxHaus-Server-sub000/internal/repository"
	"github.com/djensenius/FluxHaus-Server-sub000/internal/speech"
	"github.com/djensenius/FluxHaus-Server-sub000/internal/tools"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Conversation persistence is optional: without an encryption key there
	// is no way to store conversations, so the store stays nil and the
	// conversation endpoints answer 503.
	var store *repository.ConversationStore
	if cfg.ConversationEncryptionKey != "" {
		box, err := cryptobox.New(cfg.ConversationEncryptionKey)
		if err != nil {
			log.Fatalf("Invalid conversation encryption key: %v", err)
		}

		db, err := repository.NewPostgresDB(cfg.DatabaseURL())
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		if err := db.Migrate(); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}

		store = repository.NewConversationStore(db, box)
	} else {
		log.Println("CONVERSATION_ENCRYPTION_KEY not set, conversation persistence disabled")
	}

	// Initialize tool registry and executor
	registry := tools.NewRegistry()
	executor := tools.NewExecutor(0)

	caps := tools.Capabilities{
		Car:    devices.NewCarClient(cfg.CarServiceURL),
		Mopbot: devices.NewMopbotClient(cfg.MopbotServiceURL),
		Home:   devices.NewHomeClient(cfg.HomeServiceURL),
	}

	// Resolve the LLM provider up front so a missing credential fails the
	// boot instead of the first command.
	orch, err := orchestrator.New(cfg, registry, executor, caps)
	if err != nil {
		log.Fatalf("Failed to configure AI provider: %v", err)
	}

	speechClient := speech.NewClient(cfg.SpeechServiceURL)

	// Initialize HTTP API handler
	handler := httpapi.NewHandler(cfg, orch, store, speechClient)

	// Create router
	router := httpapi.NewRouter(handler, cfg)

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 180 * time.Second, // Longer than the command budget
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("FluxHaus server starting on port %s", cfg.Port)
		log.Printf("Using AI provider %s", cfg.AIProvider)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
