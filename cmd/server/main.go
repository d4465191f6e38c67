package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mindscribe/journal-backend/internal/api"
	"github.com/mindscribe/journal-backend/internal/config"
	"github.com/mindscribe/journal-backend/internal/core"
	"github.com/mindscribe/journal-backend/internal/history"
	"github.com/mindscribe/journal-backend/internal/llm"
	"github.com/mindscribe/journal-backend/internal/logger"
	"github.com/mindscribe/journal-backend/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("journal-backend", cfg.LogLevel)

	// Journal and user storage
	dbStore, err := store.NewSQLiteStore(cfg.DatabaseURL, cfg.EmbeddingDim)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer dbStore.Close()

	// Conversation history
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	historyStore := history.NewRedisStore(redisClient)

	// LLM provider
	var provider llm.Provider
	switch cfg.LLMProvider {
	case "openai":
		provider = llm.NewOpenAI(cfg.OpenAIAPIKey)
	default:
		provider, err = llm.NewGemini(context.Background(), cfg.GeminiAPIKey)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize gemini client")
		}
	}
	defer provider.Close()
	log.Info().Str("provider", cfg.LLMProvider).Msg("LLM provider initialized")

	// Query pipeline
	parser := core.NewIntentParser(provider)
	retriever := core.NewRetriever(dbStore, provider)
	synthesizer := core.NewSynthesizer(provider, historyStore, log, time.Now)
	session := core.NewSession(parser, retriever, synthesizer, historyStore, log, time.Now)

	// HTTP surface
	apiHandler := api.NewAPIHandler(session, dbStore, historyStore, cfg.JWTSecret, log)
	router := api.NewRouter(apiHandler)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // streamed LLM responses can take a while
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited gracefully")
}
