package handlers

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"

	"github.com/atelier-ai/atelier/internal/domain/entity"
)

// AttachmentInput is one base64-encoded image in a chat request.
type AttachmentInput struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

// decodeAttachments re-encodes incoming images to JPEG, or PNG when they
// carry alpha, capturing dimensions and size.
func decodeAttachments(inputs []AttachmentInput) ([]entity.Attachment, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	attachments := make([]entity.Attachment, 0, len(inputs))
	for i, input := range inputs {
		raw, err := base64.StdEncoding.DecodeString(input.Data)
		if err != nil {
			return nil, fmt.Errorf("attachment %d: invalid base64: %w", i, err)
		}
		img, _, err := image.Decode(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("attachment %d: unsupported image: %w", i, err)
		}

		bounds := img.Bounds()
		var buf bytes.Buffer
		mime := "image/jpeg"
		if hasAlpha(img) {
			mime = "image/png"
			if err := png.Encode(&buf, img); err != nil {
				return nil, fmt.Errorf("attachment %d: encode: %w", i, err)
			}
		} else {
			if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
				return nil, fmt.Errorf("attachment %d: encode: %w", i, err)
			}
		}

		attachments = append(attachments, entity.Attachment{
			Kind:      "image",
			MimeType:  mime,
			Data:      buf.Bytes(),
			Width:     bounds.Dx(),
			Height:    bounds.Dy(),
			SizeBytes: buf.Len(),
		})
	}
	return attachments, nil
}

// hasAlpha reports whether any pixel is not fully opaque. Large images are
// sampled on a grid to keep this cheap.
func hasAlpha(img image.Image) bool {
	bounds := img.Bounds()
	stepX := bounds.Dx()/64 + 1
	stepY := bounds.Dy()/64 + 1
	for y := bounds.Min.Y; y < bounds.Max.Y; y += stepY {
		for x := bounds.Min.X; x < bounds.Max.X; x += stepX {
			if _, _, _, a := img.At(x, y).RGBA(); a < 0xffff {
				return true
			}
		}
	}
	return false
}
