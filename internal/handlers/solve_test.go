package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/foxxcyber/solvcaptcha/internal/config"
	"github.com/foxxcyber/solvcaptcha/internal/database"
	"github.com/foxxcyber/solvcaptcha/internal/models"
	"github.com/foxxcyber/solvcaptcha/internal/services"
)

type fakeSolveStore struct {
	created []*models.CreateSolveRequest
	gotUser *int
	solve   *models.SolveWithCandidates
}

func (f *fakeSolveStore) CreateSolve(ctx context.Context, req *models.CreateSolveRequest) (*models.Solve, error) {
	f.created = append(f.created, req)
	return &models.Solve{ID: 41 + len(f.created)}, nil
}

func (f *fakeSolveStore) GetSolve(ctx context.Context, id int, userID *int) (*models.SolveWithCandidates, error) {
	f.gotUser = userID
	if f.solve == nil || f.solve.ID != id {
		return nil, database.ErrSolveNotFound
	}
	return f.solve, nil
}

func (f *fakeSolveStore) ListSolves(ctx context.Context, params *models.SolveListParams) ([]*models.Solve, int, error) {
	f.gotUser = params.UserID
	return []*models.Solve{}, 0, nil
}

type fakeSolver struct {
	got services.SolveRequest
	err error
}

func (f *fakeSolver) Solve(ctx context.Context, req services.SolveRequest) (*models.SolveResult, error) {
	f.got = req
	if f.err != nil {
		return models.EmptyResult(), f.err
	}
	text := "x7Kp"
	return &models.SolveResult{
		BestText:   &text,
		Confidence: 85,
		Sources:    []string{"OCR_Gray"},
		Candidates: []models.Candidate{{Source: "OCR_Gray", Text: text}},
	}, nil
}

type staticCredentials struct{}

func (staticCredentials) Resolve(ctx context.Context) (config.Credentials, error) {
	return config.NewCredentials(map[string]string{config.ServiceTwoCaptcha: "k"})
}

func newSolveApp(store *fakeSolveStore, solver *fakeSolver, role models.Role) *fiber.App {
	h := NewSolveHandler(store, nil, solver, staticCredentials{}, &config.Config{SolveRetention: time.Hour})
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", 5)
		c.Locals("user_role", role)
		return c.Next()
	})
	app.Post("/api/solve", h.Solve)
	app.Get("/api/solves", h.ListSolves)
	app.Get("/api/solves/:id", h.GetSolve)
	app.Get("/api/solves/:id/image", h.GetSolveImage)
	return app
}

func pngData(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 20, 8))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func decodeBody(t *testing.T, r io.Reader) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func TestSolveMultipart(t *testing.T) {
	store, solver := &fakeSolveStore{}, &fakeSolver{}
	app := newSolveApp(store, solver, models.RoleUser)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="image"; filename="c.png"`)
	hdr.Set("Content-Type", "image/png")
	part, err := w.CreatePart(hdr)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(pngData(t))
	w.Close()

	req := httptest.NewRequest("POST", "/api/solve", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	body := decodeBody(t, resp.Body)
	data := body["data"].(map[string]interface{})
	if data["best_text"] != "x7Kp" || data["solve_id"] != float64(42) {
		t.Fatalf("data = %v", data)
	}
	if solver.got.Encoding != "png" || solver.got.Credentials.Len() != 1 {
		t.Fatalf("solver request = %+v", solver.got)
	}
	if len(store.created) != 1 || store.created[0].UserID != 5 || store.created[0].S3Key != nil {
		t.Fatalf("stored = %+v", store.created)
	}
}

func TestSolveJSONDataURL(t *testing.T) {
	store, solver := &fakeSolveStore{}, &fakeSolver{}
	app := newSolveApp(store, solver, models.RoleUser)

	payload := `{"image":"data:image/png;base64,` + base64.StdEncoding.EncodeToString(pngData(t)) + `"}`
	req := httptest.NewRequest("POST", "/api/solve", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !bytes.Equal(solver.got.Image, pngData(t)) {
		t.Fatal("solver did not receive the decoded payload")
	}
}

func TestSolveRejectsBadInput(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		solverErr error
		want      int
	}{
		{"missing image", `{}`, nil, fiber.StatusBadRequest},
		{"bad base64", `{"image":"data:image/png;base64,@@@"}`, nil, fiber.StatusUnprocessableEntity},
		{"undecodable", `{"image":"bm90IGFuIGltYWdl"}`, &services.DecodeError{Err: io.ErrUnexpectedEOF}, fiber.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeSolveStore{}
			app := newSolveApp(store, &fakeSolver{err: tt.solverErr}, models.RoleUser)

			req := httptest.NewRequest("POST", "/api/solve", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if tt.want == fiber.StatusUnprocessableEntity {
				body := decodeBody(t, resp.Body)
				result, ok := body["result"].(map[string]interface{})
				if !ok || result["best_text"] != nil || result["confidence"] != float64(0) {
					t.Fatalf("want empty result, got %v", body)
				}
			}
			if len(store.created) != 0 {
				t.Fatal("failed input was recorded")
			}
		})
	}
}

func TestSolveLookupScopedToOwner(t *testing.T) {
	store := &fakeSolveStore{solve: &models.SolveWithCandidates{Solve: models.Solve{ID: 3, UserID: 5}}}

	app := newSolveApp(store, &fakeSolver{}, models.RoleUser)
	resp, err := app.Test(httptest.NewRequest("GET", "/api/solves/3", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK || store.gotUser == nil || *store.gotUser != 5 {
		t.Fatalf("status = %d, owner filter = %v", resp.StatusCode, store.gotUser)
	}

	resp, _ = app.Test(httptest.NewRequest("GET", "/api/solves/9", nil))
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("missing solve status = %d", resp.StatusCode)
	}
	resp, _ = app.Test(httptest.NewRequest("GET", "/api/solves/abc", nil))
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("bad id status = %d", resp.StatusCode)
	}
	resp, _ = app.Test(httptest.NewRequest("GET", "/api/solves/3/image", nil))
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("image without storage status = %d", resp.StatusCode)
	}

	admin := newSolveApp(store, &fakeSolver{}, models.RoleAdmin)
	resp, _ = admin.Test(httptest.NewRequest("GET", "/api/solves", nil))
	if resp.StatusCode != fiber.StatusOK || store.gotUser != nil {
		t.Fatalf("admin listing should be unscoped, filter = %v", store.gotUser)
	}
}
