package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lib/pq"

	"github.com/defoss123-ai/bot13/internal/config"
	"github.com/defoss123-ai/bot13/internal/db"
	"github.com/defoss123-ai/bot13/internal/engine"
	"github.com/defoss123-ai/bot13/internal/exchange"
	"github.com/defoss123-ai/bot13/internal/metrics"
	"github.com/defoss123-ai/bot13/internal/notifier"
	"github.com/defoss123-ai/bot13/internal/utils"
)

func main() {
	cfg := config.Load()
	utils.SetLogFile(cfg.LogFile)
	log.Println("Starting Flipbot")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.DBConnStr == "" {
		log.Fatal("DB_CONN_STR is required")
	}
	if err := runMigrations(ctx, cfg.DBConnStr); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	storage, err := db.New(cfg.DBConnStr, cfg.DBMaxOpen, cfg.DBMaxIdle)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer storage.Close()
	log.Println("Connected to Postgres")

	var ex exchange.Exchange
	if cfg.MexcAPIKey != "" && cfg.MexcAPISecret != "" {
		ex = exchange.NewMexcExchange(cfg.MexcAPIKey, cfg.MexcAPISecret)
	} else {
		log.Println("MEXC API keys not configured, using paper exchange")
		ex = exchange.NewPaperExchange()
	}

	var n notifier.Notifier
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		n = notifier.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID, cfg.NotificationRetries, cfg.NotificationDelay)
	} else {
		n = &notifier.Noop{}
	}

	if cfg.MetricsAddr != "" {
		go func() {
			log.Printf("Metrics listening on %s", cfg.MetricsAddr)
			if err := metrics.Serve(cfg.MetricsAddr); err != nil {
				log.Printf("Metrics server stopped: %v", err)
			}
		}()
	}

	eng := engine.New(storage, ex, n)
	eng.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received signal %v, shutting down...", sig)

	eng.Stop()
	cancel()
	log.Println("Shutdown complete")
}

// runMigrations creates the database if it doesn't exist and runs the
// schema.sql script.
func runMigrations(ctx context.Context, connStr string) error {
	log.Println("Running database migrations...")

	u, err := url.Parse(connStr)
	if err != nil {
		return fmt.Errorf("failed to parse connection string: %w", err)
	}

	dbName := strings.TrimPrefix(u.Path, "/")
	if dbName == "" {
		return fmt.Errorf("database name not found in connection string")
	}

	baseConnStr := fmt.Sprintf("postgres://%s:%s@%s/postgres%s",
		u.User.Username(),
		func() string {
			p, _ := u.User.Password()
			return p
		}(),
		u.Host,
		func() string {
			if u.RawQuery != "" {
				return "?" + u.RawQuery
			}
			return ""
		}())

	baseDB, err := sql.Open("postgres", baseConnStr)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer baseDB.Close()

	var exists bool
	err = baseDB.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", dbName).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check if database exists: %w", err)
	}
	if !exists {
		log.Printf("Creating database %s...", dbName)
		_, err = baseDB.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName)))
		if err != nil {
			return fmt.Errorf("failed to create database: %w", err)
		}
	}

	conn, err := sql.Open("postgres", connStr)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close()

	schemaSQL, err := os.ReadFile("scripts/schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema.sql: %w", err)
	}
	if _, err := conn.ExecContext(ctx, string(schemaSQL)); err != nil {
		return fmt.Errorf("failed to execute schema.sql: %w", err)
	}

	log.Println("Database migrations completed successfully")
	return nil
}
