package services

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.Set(1, 1, color.Black)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 20, 10))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeImage(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		encoding string
		wantErr  bool
	}{
		{"png declared", pngBytes(t, 30, 12), "png", false},
		{"png mime", pngBytes(t, 30, 12), "image/png", false},
		{"png undeclared", pngBytes(t, 30, 12), "", false},
		{"jpeg as jpg", jpegBytes(t), "jpg", false},
		{"png as x-png", pngBytes(t, 30, 12), "image/x-png", false},
		{"png as text", pngBytes(t, 30, 12), "text/plain", false},
		{"png as octet-stream", pngBytes(t, 30, 12), "application/octet-stream", false},
		{"declared mismatch", jpegBytes(t), "png", true},
		{"declared mismatch mime", jpegBytes(t), "image/png", true},
		{"too tall", thinPNG(t, 1, 3000000), "png", true},
		{"too wide", thinPNG(t, MaxImageDimension+1, 1), "", true},
		{"garbage", []byte("definitely not an image"), "png", true},
		{"empty", nil, "png", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := DecodeImage(tt.data, tt.encoding)
			if tt.wantErr {
				var decErr *DecodeError
				if !errors.As(err, &decErr) {
					t.Fatalf("err = %v, want DecodeError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeImage() error = %v", err)
			}
			if img.Bounds().Empty() {
				t.Fatal("empty image")
			}
		})
	}
}

func TestNormalizeEncoding(t *testing.T) {
	tests := map[string]string{
		"PNG":                      "png",
		".jpg":                     "jpeg",
		"image/jpeg":               "jpeg",
		"image/webp":               "webp",
		"image/png; charset=utf-8": "png",
		"application/octet-stream": "",
		"image/x-png":              "png",
		"text/plain":               "",
		"image/tiff":               "",
		"":                         "",
	}
	for in, want := range tests {
		if got := NormalizeEncoding(in); got != want {
			t.Errorf("NormalizeEncoding(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSniffEncoding(t *testing.T) {
	if got := SniffEncoding(pngBytes(t, 4, 4)); got != EncodingPNG {
		t.Fatalf("SniffEncoding(png) = %q", got)
	}
	if got := SniffEncoding(jpegBytes(t)); got != EncodingJPEG {
		t.Fatalf("SniffEncoding(jpeg) = %q", got)
	}
	if got := SniffEncoding([]byte("not an image")); got != "" {
		t.Fatalf("SniffEncoding(text) = %q", got)
	}
}

func TestParseDataURL(t *testing.T) {
	raw := pngBytes(t, 8, 8)
	b64 := base64.StdEncoding.EncodeToString(raw)

	data, enc, err := ParseDataURL("data:image/png;base64," + b64)
	if err != nil || enc != "png" || !bytes.Equal(data, raw) {
		t.Fatalf("data URL: enc=%q err=%v equal=%v", enc, err, bytes.Equal(data, raw))
	}

	data, enc, err = ParseDataURL(b64[:10] + "\n" + b64[10:])
	if err != nil || enc != "" || !bytes.Equal(data, raw) {
		t.Fatalf("bare base64: enc=%q err=%v", enc, err)
	}

	for _, bad := range []string{"data:image/png;base64", "data:image/png,abc", "%%%"} {
		if _, _, err := ParseDataURL(bad); err == nil {
			t.Errorf("ParseDataURL(%q) succeeded", bad)
		}
	}
}

// thinPNG encodes a blank w x h gray image; extreme aspect ratios compress
// to a few kilobytes
func thinPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	if buf.Len() > MaxImageBytes {
		t.Fatalf("encoded %d bytes, over the byte cap", buf.Len())
	}
	return buf.Bytes()
}
