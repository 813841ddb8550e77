package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shrimpsizemoose/trekker/logger"

	"activity/internal/app"
	"activity/internal/config"
	"activity/internal/httpmiddleware"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to a TOML config file")
	flag.Parse()

	config.LoadDotEnv()
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	service, err := app.NewService(ctx, cfg)
	if err != nil {
		logger.Error.Fatalf("Failed to start: %v", err)
	}
	defer service.Close()

	// the in-memory queue is only visible to this process, so render here
	if cfg.QueueBackend == "memory" {
		go func() {
			if err := service.RunArtifacts(ctx); err != nil {
				logger.Error.Printf("artifact loop stopped: %v", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router(service),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info.Printf("Starting activity api on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error.Printf("Server forced shutdown: %v", err)
	}
	logger.Info.Println("Server exited")
}

func router(s *app.Service) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	corsCfg.AllowMethods = []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}
	corsCfg.MaxAge = 24 * time.Hour
	r.Use(cors.New(corsCfg))

	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(httpmiddleware.Metrics())
	r.Use(httpmiddleware.Middleware(s.Limiter()))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		healthy := s.DB.Healthy(c.Request.Context())
		status := http.StatusOK
		body := gin.H{"status": "ok", "db": healthy}
		if s.Redis != nil {
			redisHealthy := s.Redis.Healthy(c.Request.Context())
			body["redis"] = redisHealthy
			healthy = healthy && redisHealthy
		}
		if !healthy {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
		c.JSON(status, body)
	})

	if s.LocalFiles {
		r.Static(s.Config.ArtifactBaseURL, s.Config.ArtifactDir)
	}
	s.Handler().Register(r)
	return r
}
