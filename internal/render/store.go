package render

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"activity/internal/cloudinary"
)

// LocalStore writes artifacts below Dir and serves them from BaseURL.
type LocalStore struct {
	Dir     string
	BaseURL string
}

// NewLocalStore creates the directory if needed.
func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &LocalStore{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *LocalStore) resolve(key string) (string, error) {
	clean := path.Clean("/" + key)[1:]
	if clean == "" || clean != key {
		return "", fmt.Errorf("invalid artifact key %q", key)
	}
	return filepath.Join(s.Dir, filepath.FromSlash(clean)), nil
}

// Put writes data under key.
func (s *LocalStore) Put(_ context.Context, key string, data []byte) (Artifact, error) {
	p, err := s.resolve(key)
	if err != nil {
		return Artifact{}, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return Artifact{}, fmt.Errorf("create artifact dir: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return Artifact{}, fmt.Errorf("write artifact: %w", err)
	}
	return Artifact{URL: s.BaseURL + "/" + key, ID: key}, nil
}

// Remove deletes the file; a missing file is not an error.
func (s *LocalStore) Remove(_ context.Context, id string) error {
	p, err := s.resolve(id)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove artifact: %w", err)
	}
	return nil
}

// CloudinaryStore keeps artifacts on Cloudinary.
type CloudinaryStore struct {
	client *cloudinary.Client
}

func NewCloudinaryStore(client *cloudinary.Client) *CloudinaryStore {
	return &CloudinaryStore{client: client}
}

// Put uploads data using key without its extension as the public id.
func (s *CloudinaryStore) Put(ctx context.Context, key string, data []byte) (Artifact, error) {
	publicID := strings.TrimSuffix(key, path.Ext(key))
	res, err := s.client.UploadBytes(ctx, data, path.Base(key), publicID)
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{URL: res.SecureURL, ID: res.PublicID}, nil
}

func (s *CloudinaryStore) Remove(ctx context.Context, id string) error {
	return s.client.Destroy(ctx, id)
}
