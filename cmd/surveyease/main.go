// SurveyEase server: streams AI-led survey conversations over SSE and
// manages survey templates and hosts.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"database/sql"

	"github.com/redis/go-redis/v9"

	"github.com/surveyease/surveyease/pkg/api"
	"github.com/surveyease/surveyease/pkg/chatlog"
	"github.com/surveyease/surveyease/pkg/checkpoint"
	"github.com/surveyease/surveyease/pkg/config"
	"github.com/surveyease/surveyease/pkg/database"
	"github.com/surveyease/surveyease/pkg/llm"
	"github.com/surveyease/surveyease/pkg/services"
	"github.com/surveyease/surveyease/pkg/session"
	"github.com/surveyease/surveyease/pkg/template"
	"github.com/surveyease/surveyease/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// 1. Load environment and configuration
	env := getEnv("ENV", config.EnvLocal)
	config.LoadEnvFile(env)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting SurveyEase",
		"version", version.Full(),
		"env", cfg.Env,
		"addr", cfg.ServerAddr(),
		"template_store", cfg.TemplateStore)

	ctx := context.Background()

	// 2. Connect PostgreSQL (chat history and optional template storage)
	var db *sql.DB
	if getEnv("DATABASE_ENABLED", "true") == "true" {
		dbConfig, err := database.LoadConfigFromEnv()
		if err != nil {
			slog.Error("Failed to load database config", "error", err)
			os.Exit(1)
		}
		db, err = database.NewClient(ctx, dbConfig)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := db.Close(); err != nil {
				slog.Error("Error closing database", "error", err)
			}
		}()
		slog.Info("Connected to PostgreSQL database")
	} else if cfg.TemplateStore == "db" {
		slog.Error("TEMPLATE_STORE=db requires DATABASE_ENABLED=true")
		os.Exit(1)
	}

	// 3. Connect Redis and create the checkpoint store
	var redisClient redis.UniversalClient
	if cfg.RedisCluster {
		redisClient = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    cfg.RedisAddrs,
			Password: cfg.RedisPassword,
			PoolSize: cfg.RedisPoolSize,
		})
	} else {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddrs[0],
			Password: cfg.RedisPassword,
			PoolSize: cfg.RedisPoolSize,
		})
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			slog.Error("Error closing Redis client", "error", err)
		}
	}()
	checkpoints := checkpoint.NewStore(redisClient, cfg.RedisKeyPrefix, cfg.CheckpointTTL)

	// 4. Create LLM clients
	oracle, err := llm.NewChatClient(cfg)
	if err != nil {
		slog.Error("Failed to initialize chat model client", "error", err)
		os.Exit(1)
	}
	embedder, err := llm.NewEmbeddingClient(cfg)
	if err != nil {
		slog.Error("Failed to initialize embedding client", "error", err)
		os.Exit(1)
	}
	_ = embedder // reserved for transcript search; constructed to validate credentials
	slog.Info("Model clients initialized",
		"chat_model", cfg.FastLLM.Model, "embedding_model", cfg.Embedding.Model)

	// 5. Template and host stores
	var templates template.TemplateStore
	var hosts template.HostStore
	if cfg.TemplateStore == "db" {
		templates = template.NewSQLTemplateStore(db)
		hosts = template.NewSQLHostStore(db)
	} else {
		templates, err = template.NewFileTemplateStore(cfg.TemplateFile)
		if err != nil {
			slog.Error("Failed to load template file", "path", cfg.TemplateFile, "error", err)
			os.Exit(1)
		}
		hosts, err = template.NewFileHostStore(cfg.HostFile)
		if err != nil {
			slog.Error("Failed to load host file", "path", cfg.HostFile, "error", err)
			os.Exit(1)
		}
	}
	resolver := template.NewResolver(templates, hosts)

	// 6. Chat log writer and transcript service
	chatLogs, err := chatlog.NewWriter(cfg.ChatLogPath)
	if err != nil {
		slog.Error("Failed to prepare chat log directory", "path", cfg.ChatLogPath, "error", err)
		os.Exit(1)
	}

	var chats *services.ChatService
	var transcripts session.TranscriptSink
	if db != nil {
		chats = services.NewChatService(db)
		transcripts = chats
	}

	// 7. Session registry and HTTP server
	registry := session.NewRegistry(resolver, oracle, checkpoints, chatLogs, transcripts)
	httpServer := api.NewServer(registry, chats, templates, hosts, db)
	httpServer.SetCheckpointStore(checkpoints)

	errCh := make(chan error, 1)
	go func() {
		addr := cfg.ServerAddr()
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	// 8. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
