package services

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/foxxcyber/solvcaptcha/internal/config"
	"github.com/foxxcyber/solvcaptcha/internal/consensus"
	"github.com/foxxcyber/solvcaptcha/internal/models"
	"github.com/foxxcyber/solvcaptcha/internal/recognition"
	"github.com/foxxcyber/solvcaptcha/internal/solvers"
)

// LocalBranch names the OCR sweep in events
const LocalBranch = "ocr"

// VariantGenerator derives preprocessed variants from a decoded image
type VariantGenerator interface {
	Variants(img image.Image) ([]models.Variant, []error)
}

// Recognizer runs the local OCR sweep
type Recognizer interface {
	Sweep(ctx context.Context, variants []models.Variant) *recognition.Report
}

// EventKind classifies a diagnostic event
type EventKind string

const (
	EventStarted    EventKind = "started"
	EventVariants   EventKind = "variants"
	EventCandidates EventKind = "candidates"
	EventFailed     EventKind = "failed"
	EventSkipped    EventKind = "skipped"
)

// Event is a diagnostic notice from one branch of a solve
type Event struct {
	Branch string
	Kind   EventKind
	Count  int
	Err    error
	// Elapsed is set on external answers
	Elapsed time.Duration
}

// EventFunc receives events. Calls are serialized by the SolveService.
type EventFunc func(Event)

// LogEvents writes events to the standard logger
func LogEvents(e Event) {
	switch e.Kind {
	case EventFailed:
		log.Printf("Warning: %s failed: %v", e.Branch, e.Err)
	case EventSkipped:
		if e.Err != nil {
			log.Printf("%s: skipped: %v", e.Branch, e.Err)
		} else {
			log.Printf("%s: skipped", e.Branch)
		}
	case EventVariants:
		log.Printf("%s: %d variants", e.Branch, e.Count)
	case EventCandidates:
		if e.Elapsed > 0 {
			log.Printf("%s: answered in %s", e.Branch, e.Elapsed.Round(time.Millisecond))
		} else {
			log.Printf("%s: %d candidates", e.Branch, e.Count)
		}
	default:
		log.Printf("%s: %s", e.Branch, e.Kind)
	}
}

// ErrAnswerRejected is reported when a service answer fails the candidate rules
var ErrAnswerRejected = errors.New("answer rejected by candidate filter")

// SolveRequest is one image plus the credentials to use for it
type SolveRequest struct {
	Image       []byte
	Encoding    string
	Credentials config.Credentials
}

// SolveService runs the full pipeline for one image
type SolveService struct {
	variants   VariantGenerator
	recognizer Recognizer
	solvers    []solvers.Solver
	poller     solvers.Poller
	consensus  *consensus.Engine
	answers    recognition.Filter

	eventMu sync.Mutex
	events  EventFunc
}

// SolveOption customises a SolveService
type SolveOption func(*SolveService)

// WithPoller sets the external polling schedule
func WithPoller(p solvers.Poller) SolveOption {
	return func(s *SolveService) { s.poller = p }
}

// WithEvents sets the diagnostic event sink
func WithEvents(fn EventFunc) SolveOption {
	return func(s *SolveService) { s.events = fn }
}

// WithAnswerFilter sets the rules applied to external answers
func WithAnswerFilter(f recognition.Filter) SolveOption {
	return func(s *SolveService) { s.answers = f }
}

// WithConsensus replaces the consensus engine
func WithConsensus(e *consensus.Engine) SolveOption {
	return func(s *SolveService) { s.consensus = e }
}

// NewSolveService creates the orchestrator. catalog lists the external
// solvers in merge order; a solver only runs when the request carries a
// credential for it.
func NewSolveService(variants VariantGenerator, recognizer Recognizer, catalog []solvers.Solver, opts ...SolveOption) *SolveService {
	s := &SolveService{
		variants:   variants,
		recognizer: recognizer,
		solvers:    append([]solvers.Solver(nil), catalog...),
		poller:     solvers.DefaultPoller(),
		consensus:  consensus.New(),
		answers:    recognition.DefaultFilter().Base(),
		events:     LogEvents,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Services lists the external services known to this instance, in order
func (s *SolveService) Services() []string {
	out := make([]string, len(s.solvers))
	for i, sv := range s.solvers {
		out[i] = sv.Service()
	}
	return out
}

// Solve decodes the image, runs the local sweep and every credentialed
// external service concurrently, then fuses all candidates. The only error
// it returns is a *DecodeError, together with the empty result.
func (s *SolveService) Solve(ctx context.Context, req SolveRequest) (*models.SolveResult, error) {
	img, err := DecodeImage(req.Image, req.Encoding)
	if err != nil {
		return models.EmptyResult(), err
	}

	local := []models.Candidate{}
	external := make([][]models.Candidate, len(s.solvers))

	var g errgroup.Group
	if s.variants != nil && s.recognizer != nil {
		g.Go(func() error {
			local = s.runLocal(ctx, img)
			return nil
		})
	}
	for i, sv := range s.solvers {
		credential, ok := req.Credentials.Get(sv.Service())
		if !ok {
			continue
		}
		g.Go(func() error {
			external[i] = s.runExternal(ctx, sv, req.Image, credential)
			return nil
		})
	}
	g.Wait()

	all := append([]models.Candidate(nil), local...)
	for _, cands := range external {
		all = append(all, cands...)
	}
	return s.consensus.Decide(all), nil
}

func (s *SolveService) runLocal(ctx context.Context, img image.Image) []models.Candidate {
	s.emit(Event{Branch: LocalBranch, Kind: EventStarted})

	variants, failures := s.variants.Variants(img)
	for _, err := range failures {
		s.emit(Event{Branch: LocalBranch, Kind: EventSkipped, Err: err})
	}
	s.emit(Event{Branch: LocalBranch, Kind: EventVariants, Count: len(variants)})

	report := s.recognizer.Sweep(ctx, variants)
	if n := len(report.Failures); n > 0 {
		s.emit(Event{Branch: LocalBranch, Kind: EventSkipped, Count: n, Err: report.Failures[0]})
	}
	s.emit(Event{Branch: LocalBranch, Kind: EventCandidates, Count: len(report.Candidates)})
	return report.Candidates
}

func (s *SolveService) runExternal(ctx context.Context, sv solvers.Solver, image []byte, credential string) []models.Candidate {
	branch := sv.Service()
	s.emit(Event{Branch: branch, Kind: EventStarted})

	started := time.Now()
	out := s.poller.Solve(ctx, sv, image, credential)
	if out.Status != solvers.StatusReady {
		s.emit(Event{Branch: branch, Kind: EventFailed, Err: out.Err})
		return nil
	}

	text, ok := s.answers.Accept(out.Text)
	if !ok {
		s.emit(Event{Branch: branch, Kind: EventFailed, Err: fmt.Errorf("%w: %q", ErrAnswerRejected, out.Text)})
		return nil
	}
	s.emit(Event{Branch: branch, Kind: EventCandidates, Count: 1, Elapsed: time.Since(started)})
	return []models.Candidate{{Source: branch, Text: text}}
}

func (s *SolveService) emit(e Event) {
	if s.events == nil {
		return
	}
	s.eventMu.Lock()
	defer s.eventMu.Unlock()
	s.events(e)
}
