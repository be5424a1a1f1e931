package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/komunitas/loyalty-server/internal/database"
	"github.com/komunitas/loyalty-server/internal/logging"
	"github.com/komunitas/loyalty-server/internal/server"
)

func main() {
	// Missing .env is fine; real deployments set the environment directly.
	godotenv.Load()

	logger := logging.Setup(os.Getenv("LOYALTY_LOG_LEVEL"))

	port := os.Getenv("LOYALTY_PORT")
	if port == "" {
		port = "8080"
	}

	dbPath := os.Getenv("LOYALTY_DB_PATH")
	if dbPath == "" {
		dbPath = "loyalty.db"
	}

	db, err := database.Open(dbPath)
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	cfg := server.Config{
		VerifierWebhookURL: os.Getenv("LOYALTY_VERIFIER_URL"),
		CallbackSecret:     os.Getenv("LOYALTY_CALLBACK_SECRET"),
		VAPIDPublicKey:     os.Getenv("LOYALTY_VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey:    os.Getenv("LOYALTY_VAPID_PRIVATE_KEY"),
	}
	if origins := os.Getenv("LOYALTY_ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = strings.Split(origins, ",")
	}
	if cfg.CallbackSecret == "" {
		logger.Warn("LOYALTY_CALLBACK_SECRET not set; verifier callbacks will not authenticate across restarts")
	}

	srv := server.New(db, cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.Sweeper().Start(ctx)
	defer srv.Sweeper().Stop()

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("server started", "port", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
