// Package pipeline assembles the solve service from configuration: the
// OpenCV variant generator, the Tesseract sweep and the external solvers.
package pipeline

import (
	"context"
	"log"

	"github.com/foxxcyber/solvcaptcha/internal/config"
	"github.com/foxxcyber/solvcaptcha/internal/models"
	"github.com/foxxcyber/solvcaptcha/internal/preprocess"
	"github.com/foxxcyber/solvcaptcha/internal/recognition"
	"github.com/foxxcyber/solvcaptcha/internal/recognition/tesseract"
	"github.com/foxxcyber/solvcaptcha/internal/services"
	"github.com/foxxcyber/solvcaptcha/internal/solvers"
)

// Pipeline owns the solve service and the native resources behind it
type Pipeline struct {
	*services.SolveService
	ocr *tesseract.Engine
}

// offline stands in for the sweep when Tesseract cannot be loaded, so the
// external services still answer
type offline struct{}

func (offline) Sweep(ctx context.Context, variants []models.Variant) *recognition.Report {
	return &recognition.Report{}
}

// Build wires a Pipeline. events may be nil to discard diagnostics.
func Build(cfg *config.Config, events services.EventFunc) *Pipeline {
	p := &Pipeline{}

	filter := recognition.NewFilter(cfg.OCRDenylist, cfg.OCRMinDistinct)

	var recognizer services.Recognizer = offline{}
	ocr, err := tesseract.New(cfg.OCRLanguage)
	if err != nil {
		log.Printf("Warning: local OCR disabled: %v", err)
	} else {
		p.ocr = ocr
		recognizer = recognition.NewEngine(ocr,
			recognition.WithWorkers(cfg.OCRWorkers),
			recognition.WithFilter(filter),
		)
	}

	catalog := solvers.Catalog(cfg, solvers.NewHTTPClient(cfg.SolverHTTPTimeout))
	p.SolveService = services.NewSolveService(preprocess.New(), recognizer, catalog,
		services.WithPoller(solvers.Poller{Interval: cfg.PollInterval, MaxAttempts: cfg.MaxPollAttempts}),
		services.WithAnswerFilter(filter.Base()),
		services.WithEvents(events),
	)
	return p
}

// LocalOCR reports whether the Tesseract sweep is active
func (p *Pipeline) LocalOCR() bool {
	return p.ocr != nil
}

// Close releases the Tesseract resources
func (p *Pipeline) Close() error {
	if p.ocr == nil {
		return nil
	}
	return p.ocr.Close()
}
