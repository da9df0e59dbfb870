package models

import (
	"image"
	"time"
)

// LocalSourcePrefix marks candidates produced by the local OCR sweep
const LocalSourcePrefix = "OCR_"

// Variant is one preprocessed rendition of the input image
type Variant struct {
	Name  string
	Image image.Image
}

// Candidate is a text proposed by one recognizer
type Candidate struct {
	Source string `json:"source"`
	Text   string `json:"text"`
}

// LocalSource returns the candidate source tag for an OCR result on a variant
func LocalSource(variantName string) string {
	return LocalSourcePrefix + variantName
}

// TextCount is one row of the consensus frequency table
type TextCount struct {
	Text     string `json:"text"`
	Count    int    `json:"count"`
	External int    `json:"external"`
	Local    int    `json:"local"`
}

// SolveResult is the fused answer for one image
type SolveResult struct {
	BestText   *string     `json:"best_text"`
	Confidence int         `json:"confidence"`
	Sources    []string    `json:"sources"`
	Candidates []Candidate `json:"candidates"`
	Tally      []TextCount `json:"tally,omitempty"`
}

// EmptyResult is the "no answer" result
func EmptyResult() *SolveResult {
	return &SolveResult{
		Sources:    []string{},
		Candidates: []Candidate{},
	}
}

// Solved reports whether a best text was selected
func (r *SolveResult) Solved() bool {
	return r != nil && r.BestText != nil
}

// Text returns the best text or an empty string
func (r *SolveResult) Text() string {
	if !r.Solved() {
		return ""
	}
	return *r.BestText
}

// SolveStatus represents the outcome of a stored solve
type SolveStatus string

const (
	SolveStatusSolved   SolveStatus = "solved"
	SolveStatusUnsolved SolveStatus = "unsolved"
	SolveStatusFailed   SolveStatus = "failed"
)

// Solve is a persisted solve request
type Solve struct {
	ID           int         `json:"id"`
	UserID       int         `json:"user_id"`
	Status       SolveStatus `json:"status"`
	BestText     *string     `json:"best_text,omitempty"`
	Confidence   int         `json:"confidence"`
	Sources      []string    `json:"sources"`
	S3Key        *string     `json:"-"`
	ContentType  *string     `json:"content_type,omitempty"`
	ErrorMessage *string     `json:"error_message,omitempty"`
	DurationMS   int64       `json:"duration_ms"`
	CreatedAt    time.Time   `json:"created_at"`
	ExpiresAt    time.Time   `json:"expires_at"`
}

// StatusFor classifies a finished solve
func StatusFor(result *SolveResult, errMsg *string) SolveStatus {
	switch {
	case errMsg != nil:
		return SolveStatusFailed
	case result.Solved():
		return SolveStatusSolved
	default:
		return SolveStatusUnsolved
	}
}

// SolveListParams filters a solve listing. A nil UserID lists every user.
type SolveListParams struct {
	UserID *int
	Status *SolveStatus
	Limit  int
	Offset int
}

// SolveWithCandidates includes all candidates that fed the consensus
type SolveWithCandidates struct {
	Solve
	Candidates []Candidate `json:"candidates"`
	ImageURL   *string     `json:"image_url,omitempty"`
}

// CreateSolveRequest is used to persist a finished solve
type CreateSolveRequest struct {
	UserID       int
	Result       *SolveResult
	S3Key        *string
	ContentType  string
	ErrorMessage *string
	Duration     time.Duration
	Retention    time.Duration
}

// SolveImageRequest is the JSON body accepted by the solve endpoint
type SolveImageRequest struct {
	Image string `json:"image"`
}

// SolveResponse is returned by the solve endpoint
type SolveResponse struct {
	SolveID int `json:"solve_id,omitempty"`
	*SolveResult
}

// SolveStats summarises stored solves
type SolveStats struct {
	TotalUsers    int     `json:"total_users"`
	TotalSolves   int     `json:"total_solves"`
	SolvedCount   int     `json:"solved_count"`
	UnsolvedCount int     `json:"unsolved_count"`
	FailedCount   int     `json:"failed_count"`
	AvgConfidence float64 `json:"avg_confidence"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
	SolvesLast24h int     `json:"solves_last_24h"`
}
