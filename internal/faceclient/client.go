// Package faceclient talks to the face recognition service that backs
// biometric attendance scans.
package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// VerifyResult is the outcome of a 1:1 match of a captured image against an
// enrolled student.
type VerifyResult struct {
	StudentID  string  `json:"user_id"`
	Verified   bool    `json:"verified"`
	Similarity float64 `json:"similarity"`
	Threshold  float64 `json:"threshold"`
}

// Client calls the face recognition microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	// Skip short-circuits every call with a positive answer, for local runs
	// without the service.
	Skip bool
}

// New creates a client.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // face processing can take time
		},
	}
}

// Verify matches the image at imageURL against the enrolled face of studentID.
// A non-match is reported through VerifyResult.Verified, not as an error.
func (c *Client) Verify(ctx context.Context, studentID, imageURL string) (*VerifyResult, error) {
	if c.Skip {
		return &VerifyResult{StudentID: studentID, Verified: true, Similarity: 0.92, Threshold: 0.45}, nil
	}
	if studentID == "" || imageURL == "" {
		return nil, fmt.Errorf("student id and image url required")
	}

	var out VerifyResult
	if err := c.post(ctx, "/verify", map[string]string{"user_id": studentID, "image_url": imageURL}, &out); err != nil {
		return nil, err
	}
	if out.StudentID == "" {
		out.StudentID = studentID
	}
	return &out, nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
