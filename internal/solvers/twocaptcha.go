package solvers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/foxxcyber/solvcaptcha/internal/config"
)

const (
	twoCaptchaOKPrefix = "OK|"
	twoCaptchaNotReady = "CAPCHA_NOT_READY"
)

// TwoCaptcha speaks the in.php/res.php token protocol
type TwoCaptcha struct {
	baseURL    string
	httpClient *http.Client
}

// NewTwoCaptcha creates a 2captcha client
func NewTwoCaptcha(baseURL string, httpClient *http.Client) *TwoCaptcha {
	if httpClient == nil {
		httpClient = NewHTTPClient(0)
	}
	return &TwoCaptcha{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (s *TwoCaptcha) Service() string { return config.ServiceTwoCaptcha }

// Submit uploads the image as base64 and returns the captcha id
func (s *TwoCaptcha) Submit(ctx context.Context, image []byte, credential string) (*TaskHandle, error) {
	data := url.Values{}
	data.Set("key", credential)
	data.Set("method", "base64")
	data.Set("body", base64.StdEncoding.EncodeToString(image))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/in.php", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, &SubmissionError{Service: s.Service(), Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := s.do(req)
	if err != nil {
		return nil, &SubmissionError{Service: s.Service(), Err: err}
	}

	id, ok := tokenValue(body)
	if !ok {
		return nil, &SubmissionError{Service: s.Service(), Reason: body}
	}

	return &TaskHandle{
		ID:         id,
		Service:    s.Service(),
		Status:     StatusProcessing,
		credential: credential,
	}, nil
}

// Poll asks res.php for the answer
func (s *TwoCaptcha) Poll(ctx context.Context, task *TaskHandle) Outcome {
	query := url.Values{}
	query.Set("key", task.credential)
	query.Set("action", "get")
	query.Set("id", task.ID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/res.php?"+query.Encode(), nil)
	if err != nil {
		return Failed(&PollError{Service: s.Service(), TaskID: task.ID, Err: err})
	}

	body, err := s.do(req)
	if err != nil {
		return Failed(&PollError{Service: s.Service(), TaskID: task.ID, Err: err})
	}

	if body == twoCaptchaNotReady {
		return Pending()
	}
	if text, ok := tokenValue(body); ok {
		return Ready(text)
	}
	return Failed(&ServiceError{Service: s.Service(), Code: body})
}

func (s *TwoCaptcha) do(req *http.Request) (string, error) {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to reach service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return "", errors.New("empty response")
	}
	return text, nil
}

// tokenValue extracts the value of an "OK|value" reply
func tokenValue(body string) (string, bool) {
	if !strings.HasPrefix(body, twoCaptchaOKPrefix) {
		return "", false
	}
	parts := strings.SplitN(body, "|", 3)
	if len(parts) < 2 || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
