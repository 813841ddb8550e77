package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

const (
	cardWidth  = 900
	cardHeight = 600
	bandHeight = 48
)

var bandColor = color.NRGBA{R: 0x1f, G: 0x3a, B: 0x5f, A: 0xff}

// certificateCard lays the verification code out on a printable card with a
// band along the top and bottom edges.
func certificateCard(qrPNG []byte) ([]byte, error) {
	qr, err := imaging.Decode(bytes.NewReader(qrPNG))
	if err != nil {
		return nil, fmt.Errorf("decode qr: %w", err)
	}
	card := imaging.New(cardWidth, cardHeight, color.White)
	band := imaging.New(cardWidth, bandHeight, bandColor)
	card = imaging.Paste(card, band, image.Pt(0, 0))
	card = imaging.Paste(card, band, image.Pt(0, cardHeight-bandHeight))

	qr = imaging.Fit(qr, cardHeight-4*bandHeight, cardHeight-4*bandHeight, imaging.NearestNeighbor)
	card = imaging.PasteCenter(card, qr)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, card, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode card: %w", err)
	}
	return buf.Bytes(), nil
}
