// Package media carries encoded images between the pipeline stages and the
// outer surfaces.
package media

import (
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/MeKo-Tech/idscan/internal/utils"
)

// Supported MIME types.
const (
	MIMEJPEG = "image/jpeg"
	MIMEPNG  = "image/png"
)

// EncodedImage is an image serialized in a known MIME type.
type EncodedImage struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"-"`
}

// Empty reports whether the image carries no data.
func (e EncodedImage) Empty() bool { return len(e.Data) == 0 }

// DataURI renders the image as a base64 data URI.
func (e EncodedImage) DataURI() string {
	if e.Empty() {
		return ""
	}
	return "data:" + e.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(e.Data)
}

// Extension returns the file extension matching the MIME type.
func (e EncodedImage) Extension() string {
	return ExtensionFor(e.MIMEType)
}

// Decode decodes the image bytes.
func (e EncodedImage) Decode() (image.Image, error) {
	return utils.DecodeImage(e.Data)
}

// ExtensionFor maps a MIME type to a file extension, defaulting to ".bin".
func ExtensionFor(mime string) string {
	switch mime {
	case MIMEJPEG:
		return ".jpg"
	case MIMEPNG:
		return ".png"
	default:
		return ".bin"
	}
}

// NormalizeMIME accepts short names ("jpeg", "jpg", "png") and full MIME types.
func NormalizeMIME(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "jpg", "jpeg", MIMEJPEG:
		return MIMEJPEG, nil
	case "png", MIMEPNG:
		return MIMEPNG, nil
	default:
		return "", fmt.Errorf("unsupported encoding %q", s)
	}
}

// ParseDataURI decodes a "data:<mime>;base64,<payload>" string. Bare base64
// payloads are accepted and typed as JPEG.
func ParseDataURI(s string) (EncodedImage, error) {
	mime := MIMEJPEG
	payload := s
	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		header, body, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(header, ";base64") {
			return EncodedImage{}, errors.New("malformed data URI")
		}
		mime = strings.TrimSuffix(header, ";base64")
		payload = body
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return EncodedImage{}, fmt.Errorf("decode base64: %w", err)
	}
	return EncodedImage{MIMEType: mime, Data: data}, nil
}
