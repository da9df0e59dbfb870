//go:build !windows

// Package tesseract binds the recognition sweep to Tesseract through gosseract.
package tesseract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"github.com/foxxcyber/solvcaptcha/internal/recognition"
)

// Engine runs one gosseract client per call, so it is safe for concurrent use
type Engine struct {
	language      string
	clientFactory func() *gosseract.Client

	mu          sync.Mutex
	configDir   string
	configFiles map[string]string
}

// New creates a Tesseract engine for language ("eng" when empty)
func New(language string) (*Engine, error) {
	if language == "" {
		language = "eng"
	}
	dir, err := os.MkdirTemp("", "solvcaptcha-tess-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create config dir: %w", err)
	}
	return &Engine{
		language:      language,
		clientFactory: gosseract.NewClient,
		configDir:     dir,
		configFiles:   make(map[string]string),
	}, nil
}

// Version returns the linked Tesseract version
func (e *Engine) Version() string {
	c := e.clientFactory()
	defer c.Close()
	return c.Version()
}

// Recognize implements recognition.OCR
func (e *Engine) Recognize(ctx context.Context, png []byte, cfg recognition.Config) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	client := e.clientFactory()
	defer client.Close()

	if err := client.SetLanguage(e.language); err != nil {
		return "", fmt.Errorf("failed to set OCR language: %w", err)
	}
	if cfg.InitOnly() {
		path, err := e.configFile(cfg)
		if err != nil {
			return "", err
		}
		if err := client.SetConfigFile(path); err != nil {
			return "", fmt.Errorf("failed to set config file: %w", err)
		}
	}
	if err := client.SetPageSegMode(gosseract.PageSegMode(cfg.PageSegMode)); err != nil {
		return "", fmt.Errorf("failed to set page segmentation mode: %w", err)
	}
	if cfg.Whitelist != "" {
		if err := client.SetWhitelist(cfg.Whitelist); err != nil {
			return "", fmt.Errorf("failed to set whitelist: %w", err)
		}
	}
	if err := client.SetImageFromBytes(png); err != nil {
		return "", fmt.Errorf("failed to set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("failed to extract text: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// configFile returns a Tesseract config file carrying the init-only
// parameters of cfg. Files are shared between calls with the same content.
func (e *Engine) configFile(cfg recognition.Config) (string, error) {
	var b strings.Builder
	if cfg.EngineMode != recognition.EngineDefault {
		fmt.Fprintf(&b, "tessedit_ocr_engine_mode %d\n", int(cfg.EngineMode))
	}
	if cfg.NoDictionaries {
		b.WriteString("load_system_dawg 0\n")
		b.WriteString("load_freq_dawg 0\n")
	}
	content := b.String()

	e.mu.Lock()
	defer e.mu.Unlock()

	if path, ok := e.configFiles[content]; ok {
		return path, nil
	}
	path := filepath.Join(e.configDir, fmt.Sprintf("sweep%d.cfg", len(e.configFiles)))
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	e.configFiles[content] = path
	return path, nil
}

// Close removes the generated config files
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.configFiles = make(map[string]string)
	return os.RemoveAll(e.configDir)
}
