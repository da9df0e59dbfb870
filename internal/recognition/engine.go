// Package recognition runs the local OCR sweep: every image variant is read
// under every configuration of a fixed catalogue, and the cleaned output is
// kept as a candidate when it passes the filter.
//
// The OCR engine itself is behind the OCR interface; the Tesseract binding
// lives in the tesseract subpackage.
package recognition

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"runtime"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"github.com/foxxcyber/solvcaptcha/internal/models"
)

// OCR reads the text of one PNG encoded image under one configuration
type OCR interface {
	Recognize(ctx context.Context, png []byte, cfg Config) (string, error)
}

// OCRInvocationError reports one failed (variant, configuration) call
type OCRInvocationError struct {
	Variant string
	Config  Config
	Err     error
}

func (e *OCRInvocationError) Error() string {
	return fmt.Sprintf("ocr on %s with %s failed: %v", e.Variant, e.Config, e.Err)
}

func (e *OCRInvocationError) Unwrap() error { return e.Err }

// Report is the outcome of one sweep
type Report struct {
	Candidates []models.Candidate
	// Failures holds the soft errors of skipped invocations
	Failures []error
	// Invocations counts the OCR calls that were made
	Invocations int
}

// Engine sweeps variants against Configs
type Engine struct {
	ocr     OCR
	configs []Config
	filter  Filter
	workers int
}

// Option customises an Engine
type Option func(*Engine)

// WithConfigs replaces the configuration catalogue
func WithConfigs(configs []Config) Option {
	return func(e *Engine) { e.configs = append([]Config(nil), configs...) }
}

// WithFilter replaces the candidate filter
func WithFilter(f Filter) Option {
	return func(e *Engine) { e.filter = f }
}

// WithWorkers bounds the number of concurrent OCR calls
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// NewEngine creates an Engine over ocr
func NewEngine(ocr OCR, opts ...Option) *Engine {
	e := &Engine{
		ocr:     ocr,
		configs: DefaultConfigs(),
		filter:  DefaultFilter(),
		workers: runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Configs returns the catalogue in use
func (e *Engine) Configs() []Config {
	return append([]Config(nil), e.configs...)
}

// Filter returns the candidate filter in use
func (e *Engine) Filter() Filter {
	return e.filter
}

type cell struct {
	text    string
	ok      bool
	err     error
	invoked bool
}

// Sweep reads every variant under every configuration. Candidates come back
// in variant-major, configuration-minor order whatever the scheduling.
// A failed call only drops its own cell; cancelling ctx stops new calls and
// returns what finished.
func (e *Engine) Sweep(ctx context.Context, variants []models.Variant) *Report {
	report := &Report{Candidates: []models.Candidate{}}
	if len(variants) == 0 || len(e.configs) == 0 {
		return report
	}

	encoded := make([][]byte, len(variants))
	encodeErr := make([]error, len(variants))
	for i, v := range variants {
		encoded[i], encodeErr[i] = encodePNG(v.Image)
	}

	grid := make([][]cell, len(variants))
	for i := range grid {
		grid[i] = make([]cell, len(e.configs))
	}

	g := new(errgroup.Group)
	g.SetLimit(e.workers)
	for vi := range variants {
		if encodeErr[vi] != nil {
			report.Failures = append(report.Failures, &OCRInvocationError{
				Variant: variants[vi].Name,
				Err:     encodeErr[vi],
			})
			continue
		}
		for ci := range e.configs {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				grid[vi][ci] = e.invoke(ctx, encoded[vi], e.configs[ci])
				return nil
			})
		}
	}
	g.Wait()

	for vi, row := range grid {
		for ci, c := range row {
			if !c.invoked {
				continue
			}
			report.Invocations++
			if c.err != nil {
				report.Failures = append(report.Failures, &OCRInvocationError{
					Variant: variants[vi].Name,
					Config:  e.configs[ci],
					Err:     c.err,
				})
				continue
			}
			if c.ok {
				report.Candidates = append(report.Candidates, models.Candidate{
					Source: models.LocalSource(variants[vi].Name),
					Text:   c.text,
				})
			}
		}
	}
	return report
}

func (e *Engine) invoke(ctx context.Context, png []byte, cfg Config) (c cell) {
	c.invoked = true
	defer func() {
		if r := recover(); r != nil {
			c.err = fmt.Errorf("panic: %v", r)
		}
	}()

	raw, err := e.ocr.Recognize(ctx, png, cfg)
	if err != nil {
		c.err = err
		return c
	}
	c.text, c.ok = e.filter.Accept(raw)
	return c
}

func encodePNG(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("nil image")
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode variant: %w", err)
	}
	return buf.Bytes(), nil
}
