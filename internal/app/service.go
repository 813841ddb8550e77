// Package app wires configuration into the repositories and services shared
// by the api and worker binaries.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/shrimpsizemoose/trekker/logger"

	"activity/internal/attendance"
	"activity/internal/auth"
	"activity/internal/cloudinary"
	"activity/internal/config"
	"activity/internal/credential"
	"activity/internal/faceclient"
	"activity/internal/handler"
	"activity/internal/httpmiddleware"
	"activity/internal/queue"
	"activity/internal/render"
	"activity/internal/roster"
	"activity/internal/sequence"
	"activity/internal/session"
	"activity/internal/store"
)

type Service struct {
	Config config.App
	DB     *store.DB
	// Redis is nil when neither the queue nor the rate limiter use it.
	Redis *store.Redis
	Queue queue.Queue

	Files render.Store
	// LocalFiles is set when Files writes to ArtifactDir and the api must
	// serve it.
	LocalFiles bool
	Renderer   *render.Renderer
	Face       *faceclient.Client
	Signer     *auth.Signer

	Students   *roster.Repository
	Records    *attendance.Repository
	Numbers    *sequence.Allocator
	Sessions   *session.Registry
	Attendance *attendance.Validator
	Issuer     *credential.Issuer
	Artifacts  *credential.ArtifactWorker
}

func NewService(ctx context.Context, cfg config.App) (*Service, error) {
	db, err := store.NewDBWithDriver(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	s := &Service{Config: cfg, DB: db}

	if cfg.QueueBackend != "memory" || cfg.RateLimitBackend == "redis" {
		s.Redis, err = store.NewRedis(cfg.RedisAddr)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		if !s.Redis.Healthy(ctx) {
			logger.Error.Printf("redis at %s not reachable yet", cfg.RedisAddr)
		}
	}
	if cfg.QueueBackend == "memory" {
		s.Queue = queue.NewInMemory(256)
	} else {
		s.Queue = queue.NewRedisQueue(s.Redis.Client, "")
	}

	if cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		client := cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		s.Files = render.NewCloudinaryStore(client)
		logger.Info.Printf("Cloudinary configured: %s", cfg.CloudinaryCloudName)
	} else {
		local, err := render.NewLocalStore(cfg.ArtifactDir, cfg.ArtifactBaseURL)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to init artifact dir: %w", err)
		}
		s.Files, s.LocalFiles = local, true
		logger.Info.Printf("Cloudinary not configured, storing images in %s", cfg.ArtifactDir)
	}
	s.Renderer = render.New(s.Files, cfg.PublicBaseURL)
	s.Face = faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)
	s.Signer = auth.NewSigner(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.AccessTTL, cfg.RefreshTTL)

	s.Students = roster.NewRepository(db)
	s.Records = attendance.NewRepository(db)
	s.Numbers = sequence.New(db)
	s.Sessions = session.NewRegistry(session.NewRepository(db), s.Numbers, s.Renderer, cfg.TokenRetries)
	s.Attendance = attendance.NewValidator(s.Records, s.Sessions, s.Students,
		attendance.WithLocation(cfg.Location()),
		attendance.WithFaceVerifier(s.Face),
	)
	s.Issuer, err = credential.NewIssuer(credential.NewRepository(db), s.Numbers, s.Students, s.Queue, cfg.CertPrefix, cfg.NumberRetries)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to init issuer: %w", err)
	}
	s.Artifacts = credential.NewArtifactWorker(s.Issuer, s.Renderer)
	return s, nil
}

// Handler builds the HTTP handler over the service.
func (s *Service) Handler() *handler.Handler {
	return handler.New(handler.Deps{
		Sessions:   s.Sessions,
		Attendance: s.Attendance,
		Devices:    s.Records,
		Issuer:     s.Issuer,
		Students:   s.Students,
		Signer:     s.Signer,
		Evidence:   s.Files,
	})
}

// Limiter returns the configured request limiter.
func (s *Service) Limiter() httpmiddleware.Limiter {
	if s.Config.RateLimitBackend == "redis" && s.Redis != nil {
		return httpmiddleware.NewRedisWindow(s.Redis.Client, s.Config.RateLimitPerMin)
	}
	return httpmiddleware.NewSimpleTokenBucket(s.Config.RateLimitPerMin, s.Config.RateLimitPerMin)
}

// RunArtifacts handles queued artifact jobs until ctx is done. Failed jobs
// are logged and dropped.
func (s *Service) RunArtifacts(ctx context.Context) error {
	messages, err := s.Queue.Consume(ctx)
	if err != nil {
		return fmt.Errorf("queue consume init failed: %w", err)
	}
	for msg := range messages {
		if err := s.Artifacts.Handle(ctx, msg); err != nil {
			logger.Error.Printf("job %s failed: %v", msg.Type, err)
		}
	}
	return nil
}

func (s *Service) Close() error {
	var errs []error
	if err := s.DB.Close(); err != nil {
		errs = append(errs, fmt.Errorf("db: %w", err))
	}
	if err := s.Redis.Close(); err != nil {
		errs = append(errs, fmt.Errorf("redis: %w", err))
	}
	return errors.Join(errs...)
}
