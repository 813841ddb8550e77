package cloudinary

import (
	"context"
	"crypto/sha1"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New("demo", "key", "secret", "activity")
	c.BaseURL = srv.URL
	c.now = func() time.Time { return time.Unix(1700000000, 0) }
	return c
}

func TestSignExcludesKeyAndFile(t *testing.T) {
	c := New("demo", "key", "secret", "")
	sig := c.sign(map[string]string{
		"timestamp": "1700000000",
		"public_id": "qr/abc",
		"api_key":   "key",
		"file":      "ignored",
	})
	want := fmt.Sprintf("%x", sha1.Sum([]byte("public_id=qr/abc&timestamp=1700000000secret")))
	assert.Equal(t, want, sig)
}

func TestUploadBytes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1_1/demo/image/upload", r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "activity", r.FormValue("folder"))
		assert.Equal(t, "qr/tok", r.FormValue("public_id"))
		assert.NotEmpty(t, r.FormValue("signature"))
		_, _, err := r.FormFile("file")
		assert.NoError(t, err)
		fmt.Fprint(w, `{"public_id":"activity/qr/tok","secure_url":"https://cdn/x.png","bytes":12}`)
	})

	res, err := c.UploadBytes(context.Background(), []byte("png-bytes"), "tok.png", "qr/tok")
	require.NoError(t, err)
	assert.Equal(t, "activity/qr/tok", res.PublicID)
	assert.Equal(t, "https://cdn/x.png", res.SecureURL)
}

func TestUploadBytesSurfacesHTTPErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"Invalid Signature"}}`, http.StatusUnauthorized)
	})

	_, err := c.UploadBytes(context.Background(), []byte("png"), "x.png", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestDestroy(t *testing.T) {
	results := []string{"ok", "not found", "error"}
	i := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1_1/demo/image/destroy", r.URL.Path)
		fmt.Fprintf(w, `{"result":%q}`, results[i])
		i++
	})

	ctx := context.Background()
	assert.NoError(t, c.Destroy(ctx, "activity/qr/a"))
	assert.NoError(t, c.Destroy(ctx, "activity/qr/b"))
	assert.Error(t, c.Destroy(ctx, "activity/qr/c"))
}
