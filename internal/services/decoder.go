package services

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Supported declared encodings
const (
	EncodingPNG  = "png"
	EncodingJPEG = "jpeg"
	EncodingGIF  = "gif"
	EncodingBMP  = "bmp"
	EncodingWebP = "webp"
)

// MaxImageBytes caps decoded uploads
const MaxImageBytes = 5 << 20

// MaxImageDimension caps either side of a decoded image in pixels
const MaxImageDimension = 4096

// DecodeError means the image bytes could not be turned into a raster
type DecodeError struct {
	Encoding string
	Err      error
}

func (e *DecodeError) Error() string {
	if e.Encoding != "" {
		return fmt.Sprintf("failed to decode %s image: %v", e.Encoding, e.Err)
	}
	return fmt.Sprintf("failed to decode image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

var errEmptyImage = errors.New("empty image")

// DecodeImage turns raw bytes into an image. encoding is the declared format
// ("png", "jpeg", "image/png", ...); an empty or unsupported encoding trusts
// the content. A supported declared format that disagrees with the content is
// rejected, as is an image wider or taller than MaxImageDimension.
func DecodeImage(data []byte, encoding string) (image.Image, error) {
	declared := NormalizeEncoding(encoding)
	if len(data) == 0 {
		return nil, &DecodeError{Encoding: declared, Err: errEmptyImage}
	}
	if len(data) > MaxImageBytes {
		return nil, &DecodeError{Encoding: declared, Err: fmt.Errorf("image exceeds %d bytes", MaxImageBytes)}
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Encoding: declared, Err: err}
	}
	if declared != "" && format != declared {
		return nil, &DecodeError{Encoding: declared, Err: fmt.Errorf("content is %s", format)}
	}
	if cfg.Width > MaxImageDimension || cfg.Height > MaxImageDimension {
		return nil, &DecodeError{Encoding: format, Err: fmt.Errorf("image is %dx%d, limit is %d per side", cfg.Width, cfg.Height, MaxImageDimension)}
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &DecodeError{Encoding: format, Err: err}
	}
	if img.Bounds().Empty() {
		return nil, &DecodeError{Encoding: format, Err: errEmptyImage}
	}
	return img, nil
}

// NormalizeEncoding maps file extensions and MIME types to one of the
// supported format names, or "" when the format is not supported
func NormalizeEncoding(encoding string) string {
	e := strings.ToLower(strings.TrimSpace(encoding))
	e = strings.TrimPrefix(e, "image/")
	e = strings.TrimPrefix(e, ".")
	if i := strings.IndexByte(e, ';'); i >= 0 {
		e = e[:i]
	}
	switch e {
	case "jpg", "jpeg", "pjpeg":
		return EncodingJPEG
	case "x-ms-bmp", "bmp":
		return EncodingBMP
	case "png", "x-png":
		return EncodingPNG
	case "gif", "webp":
		return e
	}
	return ""
}

// SniffEncoding guesses the format of data from its leading bytes. It
// returns "" when the content is not a recognised image.
func SniffEncoding(data []byte) string {
	ct := http.DetectContentType(data)
	if !strings.HasPrefix(ct, "image/") {
		return ""
	}
	return NormalizeEncoding(ct)
}

// ParseDataURL accepts "data:image/png;base64,...." or bare base64 and
// returns the decoded bytes and the declared encoding, if any
func ParseDataURL(s string) ([]byte, string, error) {
	s = strings.TrimSpace(s)
	encoding := ""
	payload := s
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 {
			return nil, "", &DecodeError{Err: errors.New("malformed data URL")}
		}
		meta := s[len("data:"):comma]
		payload = s[comma+1:]
		if !strings.HasSuffix(meta, ";base64") {
			return nil, "", &DecodeError{Err: errors.New("data URL is not base64 encoded")}
		}
		encoding = NormalizeEncoding(strings.TrimSuffix(meta, ";base64"))
	}

	payload = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, payload)

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, encoding, &DecodeError{Encoding: encoding, Err: fmt.Errorf("invalid base64: %w", err)}
		}
	}
	return data, encoding, nil
}
