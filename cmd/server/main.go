package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/12313awe/skalgpt/internal/api"
	"github.com/12313awe/skalgpt/internal/config"
	"github.com/12313awe/skalgpt/internal/core"
	"github.com/12313awe/skalgpt/internal/logger"
	"github.com/12313awe/skalgpt/internal/store"
)

func main() {
	config.LoadConfig()

	log := logger.New(config.AppConfig.LogFile, config.AppConfig.LogLevel)
	defer log.Sync()

	dbStore, err := store.NewSQLiteStore(config.AppConfig.DatabaseURL)
	if err != nil {
		log.Fatal("failed to initialize database", zap.Error(err))
	}
	defer dbStore.Close()

	ctx := context.Background()
	llmService, err := core.NewLLMService(ctx)
	if err != nil {
		log.Fatal("failed to initialize LLM service", zap.Error(err))
	}
	defer llmService.Close()

	retriever, err := core.NewChunkRetriever(dbStore, llmService, log.Named("retriever"))
	if err != nil {
		log.Fatal("failed to initialize retriever", zap.Error(err))
	}

	chatService := core.NewChatService(dbStore, retriever, llmService, llmService, log.Named("chat"))

	apiHandler := api.NewAPIHandler(chatService, dbStore, log.Named("api"))
	router := api.NewRouter(apiHandler)

	serverAddr := fmt.Sprintf(":%s", config.AppConfig.HTTPPort)

	srv := &http.Server{
		Addr:        serverAddr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// No write timeout: chat turns stream for as long as the model talks.
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		log.Info("starting server", zap.String("addr", serverAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited gracefully")
}
