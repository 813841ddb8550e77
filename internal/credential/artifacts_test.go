package credential

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"activity/internal/queue"
	"activity/internal/render"
)

func setupWorker(t *testing.T) (*fixture, *ArtifactWorker, string) {
	t.Helper()
	f := setup(t)
	dir := t.TempDir()
	st, err := render.NewLocalStore(dir, "/artifacts")
	require.NoError(t, err)
	return f, NewArtifactWorker(f.issuer, render.New(st, "https://activity.example.edu")), dir
}

func TestWorkerRendersIssuedCertificate(t *testing.T) {
	f, w, dir := setupWorker(t)
	ctx := context.Background()

	c, err := f.issuer.Issue(ctx, basic("s-1"))
	require.NoError(t, err)
	require.Len(t, f.jobs.msgs, 1)

	require.NoError(t, w.Handle(ctx, f.jobs.msgs[0]))

	stored, err := f.issuer.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "/artifacts/certificates/CERT-2024-0001.png", stored.ArtifactURL)
	assert.Equal(t, "certificates/CERT-2024-0001.png", stored.ArtifactID)
	assert.FileExists(t, filepath.Join(dir, "certificates", "CERT-2024-0001.png"))

	// the discard job queued by Delete removes the file
	require.NoError(t, f.issuer.Delete(ctx, c.ID))
	require.Len(t, f.jobs.msgs, 2)
	require.NoError(t, w.Handle(ctx, f.jobs.msgs[1]))
	assert.NoFileExists(t, filepath.Join(dir, "certificates", "CERT-2024-0001.png"))
}

func TestWorkerSkipsDeletedCertificate(t *testing.T) {
	f, w, _ := setupWorker(t)
	ctx := context.Background()

	c, err := f.issuer.Issue(ctx, basic("s-1"))
	require.NoError(t, err)
	require.NoError(t, f.issuer.Delete(ctx, c.ID))

	assert.NoError(t, w.Handle(ctx, f.jobs.msgs[0]))
}

func TestWorkerIgnoresUnknownJobs(t *testing.T) {
	_, w, _ := setupWorker(t)
	assert.NoError(t, w.Handle(context.Background(), queue.Message{Type: "attendance.export"}))
}

func TestWorkerRejectsMalformedJob(t *testing.T) {
	_, w, _ := setupWorker(t)
	err := w.Handle(context.Background(), queue.Message{Type: queue.TypeCertificateRender, Body: []byte("not json")})
	assert.Error(t, err)
}
