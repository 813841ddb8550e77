package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"activity/internal/civil"
	"activity/internal/config"
	"activity/internal/credential"
	"activity/internal/httpmiddleware"
	"activity/internal/roster"
)

func testConfig(t *testing.T) config.App {
	cfg := config.Defaults()
	cfg.DatabaseURL = ":memory:"
	cfg.QueueBackend = "memory"
	cfg.RateLimitBackend = "memory"
	cfg.ArtifactDir = t.TempDir()
	cfg.FaceSkip = true
	return cfg
}

func TestNewServiceWithoutRedis(t *testing.T) {
	s, err := NewService(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer s.Close()

	assert.Nil(t, s.Redis)
	assert.True(t, s.LocalFiles)
	assert.IsType(t, &httpmiddleware.SimpleTokenBucket{}, s.Limiter())
	assert.NotNil(t, s.Handler())
}

func TestNewServiceRejectsBadPrefix(t *testing.T) {
	cfg := testConfig(t)
	cfg.CertPrefix = "no spaces"
	_, err := NewService(context.Background(), cfg)
	assert.Error(t, err)
}

func TestRunArtifactsRendersIssuedCertificates(t *testing.T) {
	cfg := testConfig(t)
	s, err := NewService(context.Background(), cfg)
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.RunArtifacts(ctx) }()

	_, err = s.Students.Upsert(ctx, roster.Student{StudentID: "s-1", Name: "Ada"})
	require.NoError(t, err)
	cert, err := s.Issuer.Issue(ctx, credential.IssueRequest{
		StudentID: "s-1",
		Title:     "Robotics Club",
		Type:      credential.TypeParticipation,
		IssueDate: civil.MustParse("2024-03-10"),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := s.Issuer.Get(ctx, cert.ID)
		return err == nil && got.ArtifactURL != ""
	}, 5*time.Second, 20*time.Millisecond)

	got, err := s.Issuer.Get(ctx, cert.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(got.ArtifactURL, cert.Number+".png"))
	_, err = os.Stat(filepath.Join(cfg.ArtifactDir, "certificates", cert.Number+".png"))
	assert.NoError(t, err)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("artifact loop did not stop")
	}
}
