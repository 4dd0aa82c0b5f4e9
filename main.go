package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"safemap/config"
	"safemap/database"
	"safemap/repositories"
	"safemap/routes"
	"safemap/websocket"
	"safemap/workers"
)

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using environment")
	}

	cfg := config.Load()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	setupLogger(cfg)

	db, err := database.Connect(cfg.DatabaseURL, cfg.DatabaseName)
	if err != nil {
		logrus.Fatal("Failed to connect to database: ", err)
	}
	defer database.Disconnect()

	rdb := config.InitRedis(cfg)
	defer rdb.Close()

	hub := websocket.NewHub()
	go hub.Run()

	router, svcs, err := routes.SetupRoutes(cfg, db, rdb, hub)
	if err != nil {
		logrus.Fatal("Failed to initialize services: ", err)
	}

	cleanup := workers.StartCleanupWorker(repositories.NewEmergencyRepository(db), svcs.Emergency, cfg.Cleanup())

	server := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        router,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logrus.WithFields(logrus.Fields{
			"port":        cfg.Port,
			"environment": cfg.Environment,
		}).Info("SafeMap server starting")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatal("Failed to start server: ", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}

	// Sessions end first so their final records are written while the
	// dispatch pool and the hub are still there to carry them.
	if err := svcs.Emergency.Shutdown(ctx); err != nil {
		logrus.Errorf("Emergency sessions did not finish: %v", err)
	}
	svcs.DispatchPool.Stop()
	cleanup.Stop()
	hub.Shutdown()

	logrus.Info("Server shutdown complete")
}

func setupLogger(cfg *config.Config) {
	if cfg.Environment == "development" {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
			ForceColors:   true,
		})
		logrus.SetLevel(logrus.DebugLevel)
		return
	}
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)
}
