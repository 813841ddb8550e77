// Package render produces scannable PNG images for sessions and certificates
// and keeps them in an artifact store. Stored images are caches; the database
// rows stay the source of truth.
package render

import (
	"context"
	"fmt"
	"strings"

	"github.com/skip2/go-qrcode"
)

// Artifact points at a stored image.
type Artifact struct {
	URL string
	ID  string
}

// Store keeps rendered files.
type Store interface {
	Put(ctx context.Context, key string, data []byte) (Artifact, error)
	Remove(ctx context.Context, id string) error
}

// Renderer draws QR codes and hands them to a Store.
type Renderer struct {
	store         Store
	size          int
	publicBaseURL string
}

// New creates a renderer. publicBaseURL is embedded in certificate images so a
// printed copy can be checked against the verification endpoint.
func New(store Store, publicBaseURL string) *Renderer {
	return &Renderer{store: store, size: 300, publicBaseURL: strings.TrimRight(publicBaseURL, "/")}
}

// QRCode encodes payload as a PNG of the given pixel size.
func QRCode(payload string, size int) ([]byte, error) {
	if payload == "" {
		return nil, fmt.Errorf("qr payload is empty")
	}
	return qrcode.Encode(payload, qrcode.Medium, size)
}

// SessionImage renders the scan payload of a session.
func (r *Renderer) SessionImage(ctx context.Context, token string, payload []byte) (Artifact, error) {
	png, err := QRCode(string(payload), r.size)
	if err != nil {
		return Artifact{}, fmt.Errorf("render session %s: %w", token, err)
	}
	return r.store.Put(ctx, "qr/"+token+".png", png)
}

// VerifyURL is the public verification address of a certificate number.
func (r *Renderer) VerifyURL(number string) string {
	return r.publicBaseURL + "/v1/verify/" + number
}

// CertificateImage renders the card carrying a certificate's verification code.
func (r *Renderer) CertificateImage(ctx context.Context, number string) (Artifact, error) {
	qr, err := QRCode(r.VerifyURL(number), r.size)
	if err != nil {
		return Artifact{}, fmt.Errorf("render certificate %s: %w", number, err)
	}
	card, err := certificateCard(qr)
	if err != nil {
		return Artifact{}, fmt.Errorf("render certificate %s: %w", number, err)
	}
	return r.store.Put(ctx, "certificates/"+number+".png", card)
}

// Discard removes a previously stored artifact. Empty ids are ignored.
func (r *Renderer) Discard(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	return r.store.Remove(ctx, id)
}
