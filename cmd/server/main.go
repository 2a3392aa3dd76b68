package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CS3219-AY2526Sem1/cs3219-ay2526s1-project-g35-sub000/internal/api"
	"github.com/CS3219-AY2526Sem1/cs3219-ay2526s1-project-g35-sub000/internal/config"
	"github.com/CS3219-AY2526Sem1/cs3219-ay2526s1-project-g35-sub000/pkg/logger"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("Starting collab backend",
		"port", cfg.Port,
		"env", cfg.Env,
	)

	// Redis is optional: without it the queue engine serves from its local
	// fallback store and keeps probing the shared store on every request.
	redisClient := connectRedis(cfg.RedisURL)
	if redisClient != nil {
		defer redisClient.Close()
	}

	router := api.SetupRouter(cfg, redisClient)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Server listening", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", "error", err)
	}

	logger.Info("Server exited")
}

func connectRedis(redisURL string) *redis.Client {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("Invalid redis URL, matchmaking runs on the local queue only", "error", err)
		return nil
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		// Keep the client: the engine re-probes it on every request and
		// switches back as soon as redis recovers.
		logger.Warn("Redis unreachable at startup, using local queue until it recovers", "error", err)
	} else {
		logger.Info("Connected to redis", "url", redisURL)
	}

	return client
}
