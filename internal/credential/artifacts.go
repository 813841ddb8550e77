package credential

import (
	"context"
	"fmt"

	"github.com/shrimpsizemoose/trekker/logger"

	"activity/internal/apperr"
	"activity/internal/metrics"
	"activity/internal/queue"
	"activity/internal/render"
)

// CertificateRenderer draws and discards certificate artifacts.
type CertificateRenderer interface {
	CertificateImage(ctx context.Context, number string) (render.Artifact, error)
	Discard(ctx context.Context, id string) error
}

// ArtifactWorker handles the jobs Issuer enqueues.
type ArtifactWorker struct {
	issuer   *Issuer
	renderer CertificateRenderer
}

// NewArtifactWorker creates a worker.
func NewArtifactWorker(issuer *Issuer, renderer CertificateRenderer) *ArtifactWorker {
	return &ArtifactWorker{issuer: issuer, renderer: renderer}
}

// Handle processes one message. Unknown job types are ignored.
func (w *ArtifactWorker) Handle(ctx context.Context, msg queue.Message) error {
	var err error
	switch msg.Type {
	case queue.TypeCertificateRender:
		var job RenderJob
		if err = msg.Decode(&job); err == nil {
			err = w.render(ctx, job.CertificateID)
		}
	case queue.TypeCertificateDiscard:
		var job DiscardJob
		if err = msg.Decode(&job); err == nil {
			err = w.renderer.Discard(ctx, job.ArtifactID)
		}
	default:
		logger.Debug.Printf("ignoring job type %q", msg.Type)
		return nil
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
		metrics.ArtifactFailuresTotal.WithLabelValues(msg.Type).Inc()
	}
	metrics.JobsTotal.WithLabelValues(msg.Type, outcome).Inc()
	return err
}

func (w *ArtifactWorker) render(ctx context.Context, id string) error {
	c, err := w.issuer.Get(ctx, id)
	if apperr.Is(err, apperr.ReasonCertificateNotFound) {
		logger.Debug.Printf("certificate %s deleted before rendering", id)
		return nil
	}
	if err != nil {
		return err
	}

	art, err := w.renderer.CertificateImage(ctx, c.Number)
	if err != nil {
		return fmt.Errorf("render %s: %w", c.Number, err)
	}
	if err := w.issuer.RecordArtifact(ctx, c.ID, art.URL, art.ID); err != nil {
		// deleted while rendering: drop what was just stored
		if apperr.Is(err, apperr.ReasonCertificateNotFound) {
			return w.renderer.Discard(ctx, art.ID)
		}
		return err
	}
	if c.ArtifactID != "" && c.ArtifactID != art.ID {
		if err := w.renderer.Discard(ctx, c.ArtifactID); err != nil {
			logger.Error.Printf("discard previous artifact %s: %v", c.ArtifactID, err)
		}
	}
	logger.Info.Printf("rendered certificate %s at %s", c.Number, art.URL)
	return nil
}
