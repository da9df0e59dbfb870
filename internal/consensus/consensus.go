// Package consensus fuses candidate answers from every recognizer into one
// ranked result.
//
// External services outrank local OCR: agreement between two or more services
// wins outright, a single service answer is taken as is (and boosted when the
// local sweep agrees), and only when no service answered does the most
// frequent OCR reading win.
package consensus

import (
	"strings"

	"github.com/foxxcyber/solvcaptcha/internal/models"
)

const (
	externalAgreementBase = 70
	externalAgreementStep = 10
	externalAgreementMax  = 95

	singleExternalConfidence = 75
	corroboratedConfidence   = 85
	maxCorroboratingSources  = 2

	localBase       = 30
	localStep       = 15
	localMax        = 70
	maxLocalSources = 3
)

// Engine selects the best candidate. The zero value is ready to use.
type Engine struct {
	// IsExternal classifies a candidate source. Defaults to any source
	// without the OCR_ prefix.
	IsExternal func(source string) bool
}

// New returns an Engine with the default source classification
func New() *Engine {
	return &Engine{}
}

func (e *Engine) external(source string) bool {
	if e != nil && e.IsExternal != nil {
		return e.IsExternal(source)
	}
	return !strings.HasPrefix(source, models.LocalSourcePrefix)
}

// Decide runs the consensus rules over candidates. Identical input always
// yields an identical result; the input slice is not modified.
func (e *Engine) Decide(candidates []models.Candidate) *models.SolveResult {
	result := models.EmptyResult()
	result.Candidates = append(result.Candidates, candidates...)
	if len(candidates) == 0 {
		return result
	}

	var external, local []models.Candidate
	for _, c := range candidates {
		if e.external(c.Source) {
			external = append(external, c)
		} else {
			local = append(local, c)
		}
	}
	result.Tally = e.tally(candidates)

	// 1. Agreement between external services
	if len(external) >= 2 {
		text, count := mostFrequent(external)
		if count >= 2 {
			result.BestText = &text
			result.Confidence = min(externalAgreementMax, externalAgreementBase+externalAgreementStep*count)
			result.Sources = sourcesFor(external, text, 0)
			return result
		}
	}

	// 2. A single external answer, corroborated by OCR if possible
	if len(external) >= 1 {
		first := external[0]
		text := first.Text
		result.BestText = &text
		result.Confidence = singleExternalConfidence
		result.Sources = []string{first.Source}
		if agreeing := sourcesFor(local, text, maxCorroboratingSources); len(agreeing) > 0 {
			result.Confidence = corroboratedConfidence
			result.Sources = append(result.Sources, agreeing...)
		}
		return result
	}

	// 3. Local OCR only
	if len(local) >= 1 {
		text, count := mostFrequent(local)
		result.BestText = &text
		result.Confidence = min(localMax, localBase+localStep*count)
		result.Sources = sourcesFor(local, text, maxLocalSources)
		return result
	}

	return result
}

// tally counts every text over the full candidate list in first-seen order
func (e *Engine) tally(candidates []models.Candidate) []models.TextCount {
	index := make(map[string]int)
	var rows []models.TextCount
	for _, c := range candidates {
		i, ok := index[c.Text]
		if !ok {
			i = len(rows)
			index[c.Text] = i
			rows = append(rows, models.TextCount{Text: c.Text})
		}
		rows[i].Count++
		if e.external(c.Source) {
			rows[i].External++
		} else {
			rows[i].Local++
		}
	}
	return rows
}

// mostFrequent returns the most common text; ties go to the text seen first
func mostFrequent(candidates []models.Candidate) (string, int) {
	counts := make(map[string]int)
	var order []string
	for _, c := range candidates {
		if _, ok := counts[c.Text]; !ok {
			order = append(order, c.Text)
		}
		counts[c.Text]++
	}
	var best string
	bestCount := 0
	for _, text := range order {
		if counts[text] > bestCount {
			best, bestCount = text, counts[text]
		}
	}
	return best, bestCount
}

// sourcesFor lists the sources proposing text, capped at limit when limit > 0
func sourcesFor(candidates []models.Candidate, text string, limit int) []string {
	var out []string
	for _, c := range candidates {
		if c.Text != text {
			continue
		}
		out = append(out, c.Source)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
