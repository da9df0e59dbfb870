package solvers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/foxxcyber/solvcaptcha/internal/config"
)

const (
	imageToTextTask  = "ImageToTextTask"
	taskStatusReady  = "ready"
	taskStatusActive = "processing"
)

// TaskAPI speaks the JSON createTask/getTaskResult protocol shared by
// AntiCaptcha and CapMonster.
type TaskAPI struct {
	service    string
	baseURL    string
	httpClient *http.Client
}

// NewAntiCaptcha creates an AntiCaptcha client
func NewAntiCaptcha(baseURL string, httpClient *http.Client) *TaskAPI {
	return newTaskAPI(config.ServiceAntiCaptcha, baseURL, httpClient)
}

// NewCapMonster creates a CapMonster client
func NewCapMonster(baseURL string, httpClient *http.Client) *TaskAPI {
	return newTaskAPI(config.ServiceCapMonster, baseURL, httpClient)
}

func newTaskAPI(service, baseURL string, httpClient *http.Client) *TaskAPI {
	if httpClient == nil {
		httpClient = NewHTTPClient(0)
	}
	return &TaskAPI{
		service:    service,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (s *TaskAPI) Service() string { return s.service }

type createTaskRequest struct {
	ClientKey string    `json:"clientKey"`
	Task      imageTask `json:"task"`
}

type imageTask struct {
	Type string `json:"type"`
	Body string `json:"body"`
}

type taskResultRequest struct {
	ClientKey string      `json:"clientKey"`
	TaskID    json.Number `json:"taskId"`
}

// taskEnvelope covers both createTask and getTaskResult replies
type taskEnvelope struct {
	ErrorID          int         `json:"errorId"`
	ErrorCode        string      `json:"errorCode"`
	ErrorDescription string      `json:"errorDescription"`
	TaskID           json.Number `json:"taskId"`
	Status           string      `json:"status"`
	Solution         struct {
		Text string `json:"text"`
	} `json:"solution"`
}

// Submit creates an ImageToTextTask
func (s *TaskAPI) Submit(ctx context.Context, image []byte, credential string) (*TaskHandle, error) {
	payload := createTaskRequest{
		ClientKey: credential,
		Task: imageTask{
			Type: imageToTextTask,
			Body: base64.StdEncoding.EncodeToString(image),
		},
	}

	var env taskEnvelope
	if err := s.post(ctx, "/createTask", payload, &env); err != nil {
		return nil, &SubmissionError{Service: s.service, Err: err}
	}
	if env.ErrorID != 0 {
		return nil, &SubmissionError{Service: s.service, Reason: describe(env)}
	}
	if env.TaskID.String() == "" {
		return nil, &SubmissionError{Service: s.service, Reason: "missing task id"}
	}

	return &TaskHandle{
		ID:         env.TaskID.String(),
		Service:    s.service,
		Status:     StatusProcessing,
		credential: credential,
	}, nil
}

// Poll fetches the task result
func (s *TaskAPI) Poll(ctx context.Context, task *TaskHandle) Outcome {
	payload := taskResultRequest{
		ClientKey: task.credential,
		TaskID:    json.Number(task.ID),
	}

	var env taskEnvelope
	if err := s.post(ctx, "/getTaskResult", payload, &env); err != nil {
		return Failed(&PollError{Service: s.service, TaskID: task.ID, Err: err})
	}
	if env.ErrorID != 0 {
		return Failed(&ServiceError{Service: s.service, Code: env.ErrorCode, Description: env.ErrorDescription})
	}

	switch env.Status {
	case taskStatusReady:
		if env.Solution.Text == "" {
			return Failed(&ServiceError{Service: s.service, Code: "EMPTY_SOLUTION"})
		}
		return Ready(env.Solution.Text)
	case taskStatusActive:
		return Pending()
	case "":
		return Failed(&ServiceError{Service: s.service, Code: "MISSING_STATUS"})
	}
	return Failed(&ServiceError{Service: s.service, Code: "UNKNOWN_STATUS", Description: env.Status})
}

func (s *TaskAPI) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach service: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func describe(env taskEnvelope) string {
	if env.ErrorDescription != "" {
		return fmt.Sprintf("%s: %s", env.ErrorCode, env.ErrorDescription)
	}
	if env.ErrorCode != "" {
		return env.ErrorCode
	}
	return fmt.Sprintf("error %d", env.ErrorID)
}
