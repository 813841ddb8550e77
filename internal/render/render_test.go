package render

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"activity/internal/cloudinary"
)

func TestQRCodeIsPNG(t *testing.T) {
	data, err := QRCode(`{"token":"abc"}`, 256)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 256, img.Bounds().Dx())

	_, err = QRCode("", 256)
	assert.Error(t, err)
}

func TestSessionImageLocalRoundTrip(t *testing.T) {
	dir := t.TempDir()
	st, err := NewLocalStore(dir, "/artifacts/")
	require.NoError(t, err)
	r := New(st, "https://activity.example.edu/")
	ctx := context.Background()

	art, err := r.SessionImage(ctx, "tok-1", []byte(`{"token":"tok-1"}`))
	require.NoError(t, err)
	assert.Equal(t, "/artifacts/qr/tok-1.png", art.URL)
	assert.Equal(t, "qr/tok-1.png", art.ID)
	assert.FileExists(t, filepath.Join(dir, "qr", "tok-1.png"))

	require.NoError(t, r.Discard(ctx, art.ID))
	_, err = os.Stat(filepath.Join(dir, "qr", "tok-1.png"))
	assert.True(t, os.IsNotExist(err))

	// discarding twice or discarding nothing is fine
	assert.NoError(t, r.Discard(ctx, art.ID))
	assert.NoError(t, r.Discard(ctx, ""))
}

func TestCertificateImageEncodesVerifyURL(t *testing.T) {
	st, err := NewLocalStore(t.TempDir(), "/artifacts")
	require.NoError(t, err)
	r := New(st, "https://activity.example.edu/")

	assert.Equal(t, "https://activity.example.edu/v1/verify/CERT-2024-0001", r.VerifyURL("CERT-2024-0001"))

	art, err := r.CertificateImage(context.Background(), "CERT-2024-0001")
	require.NoError(t, err)
	assert.Equal(t, "certificates/CERT-2024-0001.png", art.ID)

	f, err := os.Open(filepath.Join(st.Dir, "certificates", "CERT-2024-0001.png"))
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, cardWidth, img.Bounds().Dx())
	assert.Equal(t, cardHeight, img.Bounds().Dy())
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	st, err := NewLocalStore(t.TempDir(), "/a")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = st.Put(ctx, "../escape.png", []byte("x"))
	assert.Error(t, err)
	assert.Error(t, st.Remove(ctx, "qr/../../etc/passwd"))
}

func TestCloudinaryStore(t *testing.T) {
	var publicIDs []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		publicIDs = append(publicIDs, r.FormValue("public_id"))
		if r.URL.Path == "/v1_1/demo/image/destroy" {
			fmt.Fprint(w, `{"result":"ok"}`)
			return
		}
		fmt.Fprintf(w, `{"public_id":"activity/%s","secure_url":"https://cdn/%s.png"}`, r.FormValue("public_id"), r.FormValue("public_id"))
	}))
	defer srv.Close()

	client := cloudinary.New("demo", "key", "secret", "activity")
	client.BaseURL = srv.URL
	st := NewCloudinaryStore(client)
	ctx := context.Background()

	art, err := st.Put(ctx, "qr/tok-9.png", []byte("png"))
	require.NoError(t, err)
	assert.Equal(t, "activity/qr/tok-9", art.ID)
	assert.Equal(t, "https://cdn/qr/tok-9.png", art.URL)

	require.NoError(t, st.Remove(ctx, art.ID))
	assert.Equal(t, []string{"qr/tok-9", "activity/qr/tok-9"}, publicIDs)
}
