// Package solvers talks to remote CAPTCHA solving services.
//
// Every service is reached through the same asynchronous contract: Submit
// uploads the image and returns a TaskHandle, Poll asks for the task state.
// Service specific envelopes are normalized to a three-way Outcome before
// they leave this package.
package solvers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/foxxcyber/solvcaptcha/internal/config"
)

// Status is the state of a submitted task
type Status int

const (
	StatusPending Status = iota
	StatusProcessing
	StatusReady
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusProcessing:
		return "processing"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// TaskHandle identifies a submitted task. It is owned by the Solver that
// created it and is scoped to the credential it was submitted with.
type TaskHandle struct {
	ID       string
	Service  string
	Status   Status
	Attempts int

	credential string
}

// Outcome is the normalized answer of a poll: Ready with text, Pending, or
// Failed with a reason.
type Outcome struct {
	Status Status
	Text   string
	Err    error
}

func Ready(text string) Outcome { return Outcome{Status: StatusReady, Text: text} }
func Pending() Outcome          { return Outcome{Status: StatusPending} }
func Failed(err error) Outcome  { return Outcome{Status: StatusFailed, Err: err} }

// Done reports whether the outcome ends polling
func (o Outcome) Done() bool {
	return o.Status == StatusReady || o.Status == StatusFailed
}

// Solver is the submit/poll capability shared by every service
type Solver interface {
	Service() string
	Submit(ctx context.Context, image []byte, credential string) (*TaskHandle, error)
	Poll(ctx context.Context, task *TaskHandle) Outcome
}

// ErrTimeout is returned when a task does not resolve within the attempt budget
var ErrTimeout = errors.New("timed out waiting for solution")

// SubmissionError reports a failed or rejected submission
type SubmissionError struct {
	Service string
	Reason  string
	Err     error
}

func (e *SubmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: submission failed: %v", e.Service, e.Err)
	}
	return fmt.Sprintf("%s: submission rejected: %s", e.Service, e.Reason)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// PollError reports a transport or decoding failure while polling
type PollError struct {
	Service string
	TaskID  string
	Err     error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("%s: poll of task %s failed: %v", e.Service, e.TaskID, e.Err)
}

func (e *PollError) Unwrap() error { return e.Err }

// ServiceError is an explicit failure reported by the remote service
type ServiceError struct {
	Service     string
	Code        string
	Description string
}

func (e *ServiceError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Service, e.Code, e.Description)
	}
	return fmt.Sprintf("%s: %s", e.Service, e.Code)
}

// NewHTTPClient returns the client used for every service call
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
	}
}

// ForService builds the Solver for a service identifier
func ForService(service, baseURL string, httpClient *http.Client) (Solver, error) {
	switch service {
	case config.ServiceTwoCaptcha:
		return NewTwoCaptcha(baseURL, httpClient), nil
	case config.ServiceAntiCaptcha:
		return NewAntiCaptcha(baseURL, httpClient), nil
	case config.ServiceCapMonster:
		return NewCapMonster(baseURL, httpClient), nil
	}
	return nil, &config.ConfigurationError{Service: service, Reason: "unknown service"}
}

// Catalog builds one Solver per supported service, in merge order
func Catalog(cfg *config.Config, httpClient *http.Client) []Solver {
	out := make([]Solver, 0, len(config.Services))
	for _, service := range config.Services {
		s, err := ForService(service, cfg.BaseURL(service), httpClient)
		if err != nil {
			continue
		}
		out = append(out, s)
	}
	return out
}
