/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the capital-gains engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store
  3. Parse the tax profile
  4. Create API handler with dependencies
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port        HTTP server port (default: 8080)
  -db          SQLite database path (default: capgains.db)
               Use ":memory:" for an in-memory database
  -taxprofile  Path to a tax profile JSON file (default: built-in profile)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/capgains.db"

  # Run with a custom tax regime
  ./server -taxprofile="./profiles/regime.json"

SEE ALSO:
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meridian/capgains-engine/api"
	"github.com/meridian/capgains-engine/factory"
	"github.com/meridian/capgains-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "capgains.db", "SQLite database path")
	profilePath := flag.String("taxprofile", "", "Tax profile JSON file (empty for built-in)")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Tax profile
	profileJSON := factory.DefaultProfileJSON()
	if *profilePath != "" {
		raw, err := os.ReadFile(*profilePath)
		if err != nil {
			log.Fatalf("Failed to read tax profile: %v", err)
		}
		profileJSON = string(raw)
	}
	profile, err := factory.NewTaxProfileFactory().Parse(profileJSON)
	if err != nil {
		log.Fatalf("Failed to parse tax profile: %v", err)
	}

	// Create router
	handler := api.NewHandler(store, profile)
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		log.Printf("API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
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

	log.Println("Server stopped")
}
