// Package session owns QR attendance sessions: creation, the activation
// toggle, deletion and token lookups used at scan time.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shrimpsizemoose/trekker/logger"

	"activity/internal/apperr"
	"activity/internal/civil"
	"activity/internal/metrics"
	"activity/internal/render"
	"activity/internal/store"
)

// TokenSource hands out candidate session tokens.
type TokenSource interface {
	NewSessionToken() (string, error)
}

// ImageRenderer draws and discards the cached scan image.
type ImageRenderer interface {
	SessionImage(ctx context.Context, token string, payload []byte) (render.Artifact, error)
	Discard(ctx context.Context, id string) error
}

// CreateInput describes a new session.
type CreateInput struct {
	EventRef  string
	ValidFrom civil.Date
	ValidTo   civil.Date
	Metadata  Metadata
	CreatedBy string
}

// Payload is what the scannable image encodes.
type Payload struct {
	Token    string   `json:"token"`
	EventRef string   `json:"event_ref"`
	Metadata Metadata `json:"metadata,omitempty"`
}

// Registry coordinates session persistence, token allocation and images.
type Registry struct {
	repo    *Repository
	tokens  TokenSource
	images  ImageRenderer
	retries int
	now     func() time.Time
}

// NewRegistry creates a registry. images may be nil, in which case sessions
// carry no cached image.
func NewRegistry(repo *Repository, tokens TokenSource, images ImageRenderer, retries int) *Registry {
	if retries <= 0 {
		retries = 5
	}
	return &Registry{repo: repo, tokens: tokens, images: images, retries: retries, now: time.Now}
}

// CreateSession persists an active session under a fresh token and renders
// its scan image.
func (r *Registry) CreateSession(ctx context.Context, in CreateInput) (Session, error) {
	if in.EventRef == "" {
		return Session{}, apperr.Validation("event reference is required")
	}
	if in.ValidFrom.IsZero() {
		return Session{}, apperr.Validation("valid from date is required")
	}
	if !in.ValidTo.IsZero() && in.ValidTo.Before(in.ValidFrom) {
		return Session{}, apperr.Validation("valid to %s is before valid from %s", in.ValidTo, in.ValidFrom)
	}
	if in.Metadata == nil {
		in.Metadata = Metadata{}
	}

	s := Session{
		EventRef:  in.EventRef,
		ValidFrom: in.ValidFrom,
		ValidTo:   in.ValidTo,
		Active:    true,
		Metadata:  in.Metadata,
		CreatedBy: in.CreatedBy,
		CreatedAt: r.now().UTC(),
	}

	var lastErr error
	inserted := false
	for attempt := 0; attempt < r.retries; attempt++ {
		token, err := r.tokens.NewSessionToken()
		if err != nil {
			return Session{}, err
		}
		s.Token = token
		lastErr = r.repo.Insert(ctx, s)
		if lastErr == nil {
			inserted = true
			break
		}
		if !store.IsUniqueViolation(lastErr) {
			return Session{}, fmt.Errorf("failed to create session: %w", lastErr)
		}
		logger.Debug.Printf("session token collision on attempt %d, re-rolling", attempt+1)
	}
	if !inserted {
		return Session{}, apperr.AllocationExhausted("no unique session token", lastErr)
	}
	metrics.SessionsTotal.WithLabelValues("created").Inc()

	r.attachImage(ctx, &s)
	return s, nil
}

// RegenerateImage re-renders the cached image of an existing session.
func (r *Registry) RegenerateImage(ctx context.Context, token string) (Session, error) {
	s, err := r.repo.Get(ctx, token)
	if err != nil {
		return Session{}, err
	}
	old := s.ImageID
	r.attachImage(ctx, &s)
	if old != "" && old != s.ImageID {
		r.discard(ctx, old)
	}
	return s, nil
}

func (r *Registry) attachImage(ctx context.Context, s *Session) {
	if r.images == nil {
		return
	}
	payload, err := json.Marshal(Payload{Token: s.Token, EventRef: s.EventRef, Metadata: s.Metadata})
	if err != nil {
		logger.Error.Printf("encode payload for session %s: %v", s.Token, err)
		return
	}
	art, err := r.images.SessionImage(ctx, s.Token, payload)
	if err != nil {
		metrics.ArtifactFailuresTotal.WithLabelValues("session_render").Inc()
		logger.Error.Printf("render image for session %s: %v", s.Token, err)
		return
	}
	if err := r.repo.SetImage(ctx, s.Token, art.URL, art.ID); err != nil {
		logger.Error.Printf("store image for session %s: %v", s.Token, err)
		return
	}
	s.ImageURL, s.ImageID = art.URL, art.ID
}

// SetActive toggles whether the session accepts scans.
func (r *Registry) SetActive(ctx context.Context, token string, active bool) (Session, error) {
	if err := r.repo.SetActive(ctx, token, active); err != nil {
		return Session{}, err
	}
	action := "deactivated"
	if active {
		action = "activated"
	}
	metrics.SessionsTotal.WithLabelValues(action).Inc()
	return r.repo.Get(ctx, token)
}

// Delete removes the session and discards its cached image. Attendance
// recorded against the token is left alone.
func (r *Registry) Delete(ctx context.Context, token string) error {
	s, err := r.repo.Get(ctx, token)
	if err != nil {
		return err
	}
	if err := r.repo.Delete(ctx, token); err != nil {
		return err
	}
	metrics.SessionsTotal.WithLabelValues("deleted").Inc()
	r.discard(ctx, s.ImageID)
	return nil
}

func (r *Registry) discard(ctx context.Context, id string) {
	if r.images == nil || id == "" {
		return
	}
	if err := r.images.Discard(ctx, id); err != nil {
		metrics.ArtifactFailuresTotal.WithLabelValues("session_discard").Inc()
		logger.Error.Printf("discard session image %s: %v", id, err)
	}
}

// LookupActive returns the session only when it exists and is active.
// Inactive sessions are invisible to scanning whatever their date window.
func (r *Registry) LookupActive(ctx context.Context, token string) (Session, error) {
	if token == "" {
		return Session{}, apperr.ErrSessionInvalid
	}
	s, err := r.repo.Get(ctx, token)
	if apperr.Is(err, apperr.ReasonSessionNotFound) {
		return Session{}, apperr.ErrSessionInvalid
	}
	if err != nil {
		return Session{}, err
	}
	if !s.Active {
		return Session{}, apperr.ErrSessionInvalid
	}
	return s, nil
}

// Get returns a session for administrators, active or not.
func (r *Registry) Get(ctx context.Context, token string) (Session, error) {
	return r.repo.Get(ctx, token)
}

// List returns sessions matching f.
func (r *Registry) List(ctx context.Context, f Filter) ([]Session, error) {
	return r.repo.List(ctx, f)
}
