//go:build windows

package tesseract

import (
	"context"
	"errors"

	"github.com/foxxcyber/solvcaptcha/internal/recognition"
)

var errUnavailable = errors.New("tesseract OCR is not available on Windows - run in Docker container")

// Engine is a stub for Windows builds
type Engine struct{}

// New always fails on Windows
func New(language string) (*Engine, error) {
	return nil, errUnavailable
}

func (e *Engine) Version() string { return "" }

func (e *Engine) Recognize(ctx context.Context, png []byte, cfg recognition.Config) (string, error) {
	return "", errUnavailable
}

func (e *Engine) Close() error {
	return nil
}
