package handlers

import (
	"context"
	"errors"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/foxxcyber/solvcaptcha/internal/config"
	"github.com/foxxcyber/solvcaptcha/internal/database"
	"github.com/foxxcyber/solvcaptcha/internal/middleware"
	"github.com/foxxcyber/solvcaptcha/internal/models"
	"github.com/foxxcyber/solvcaptcha/internal/services"
)

// SolveStore persists solve history
type SolveStore interface {
	CreateSolve(ctx context.Context, req *models.CreateSolveRequest) (*models.Solve, error)
	GetSolve(ctx context.Context, id int, userID *int) (*models.SolveWithCandidates, error)
	ListSolves(ctx context.Context, params *models.SolveListParams) ([]*models.Solve, int, error)
}

// Solver runs the recognition pipeline for one image
type Solver interface {
	Solve(ctx context.Context, req services.SolveRequest) (*models.SolveResult, error)
}

// CredentialResolver yields the credentials for one solve
type CredentialResolver interface {
	Resolve(ctx context.Context) (config.Credentials, error)
}

// SolveHandler handles the solve endpoint and solve history
type SolveHandler struct {
	solves      SolveStore
	storage     *services.StorageService
	solver      Solver
	credentials CredentialResolver
	retention   time.Duration
}

// NewSolveHandler creates a solve handler. storage may be nil when object
// storage is disabled.
func NewSolveHandler(solves SolveStore, storage *services.StorageService, solver Solver, credentials CredentialResolver, cfg *config.Config) *SolveHandler {
	return &SolveHandler{
		solves:      solves,
		storage:     storage,
		solver:      solver,
		credentials: credentials,
		retention:   cfg.SolveRetention,
	}
}

const presignExpiry = 15 * time.Minute

// readImage extracts the image from a multipart "image" field or a JSON
// body carrying a data URL or bare base64
func readImage(c *fiber.Ctx) ([]byte, string, error) {
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		file, err := c.FormFile("image")
		if err != nil {
			return nil, "", fiber.NewError(fiber.StatusBadRequest, "image file is required")
		}
		if file.Size > services.MaxImageBytes {
			return nil, "", fiber.NewError(fiber.StatusRequestEntityTooLarge, "image too large")
		}
		src, err := file.Open()
		if err != nil {
			return nil, "", fiber.NewError(fiber.StatusBadRequest, "failed to read image")
		}
		defer src.Close()

		data, err := io.ReadAll(io.LimitReader(src, services.MaxImageBytes+1))
		if err != nil {
			return nil, "", fiber.NewError(fiber.StatusBadRequest, "failed to read image")
		}
		return data, file.Header.Get(fiber.HeaderContentType), nil
	}

	var req models.SolveImageRequest
	if err := c.BodyParser(&req); err != nil || req.Image == "" {
		return nil, "", fiber.NewError(fiber.StatusBadRequest, "image is required")
	}
	return services.ParseDataURL(req.Image)
}

// Solve handles POST /api/solve
func (h *SolveHandler) Solve(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	if userID == 0 {
		return Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	data, encoding, err := readImage(c)
	var decErr *services.DecodeError
	switch {
	case errors.As(err, &decErr):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":  decErr.Error(),
			"result": models.EmptyResult(),
		})
	case err != nil:
		return respondError(c, err)
	}
	if encoding = services.NormalizeEncoding(encoding); encoding == "" {
		encoding = services.SniffEncoding(data)
	}

	creds, err := h.credentials.Resolve(c.UserContext())
	if err != nil {
		log.Printf("Warning: %v", err)
		return Error(c, fiber.StatusInternalServerError, "solver credentials are misconfigured")
	}

	start := time.Now()
	result, err := h.solver.Solve(c.UserContext(), services.SolveRequest{
		Image:       data,
		Encoding:    encoding,
		Credentials: creds,
	})
	if errors.As(err, &decErr) {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":  decErr.Error(),
			"result": result,
		})
	}
	if err != nil {
		log.Printf("Warning: solve failed for user %d: %v", userID, err)
		return Error(c, fiber.StatusInternalServerError, "solve failed")
	}

	record := &models.CreateSolveRequest{
		UserID:      userID,
		Result:      result,
		ContentType: encoding,
		Duration:    time.Since(start),
		Retention:   h.retention,
	}
	if h.storage != nil {
		archived, err := h.storage.ArchiveImage(c.UserContext(), userID, data, encoding)
		if err != nil {
			log.Printf("Warning: failed to archive captcha for user %d: %v", userID, err)
		} else {
			record.S3Key = &archived.Key
		}
	}

	resp := models.SolveResponse{SolveResult: result}
	solve, err := h.solves.CreateSolve(c.UserContext(), record)
	if err != nil {
		log.Printf("Warning: failed to record solve for user %d: %v", userID, err)
		if record.S3Key != nil {
			if delErr := h.storage.DeleteImages(c.UserContext(), []string{*record.S3Key}); delErr != nil {
				log.Printf("Warning: failed to clean up %s: %v", *record.S3Key, delErr)
			}
		}
	} else {
		resp.SolveID = solve.ID
	}

	return Success(c, resp)
}

// ownerFilter restricts lookups to the caller unless they are an admin
func ownerFilter(c *fiber.Ctx) *int {
	if middleware.GetUserRole(c) == models.RoleAdmin {
		return nil
	}
	id := middleware.GetUserID(c)
	return &id
}

// ListSolves handles GET /api/solves
func (h *SolveHandler) ListSolves(c *fiber.Ctx) error {
	limit, offset := pagination(c)
	params := &models.SolveListParams{
		UserID: ownerFilter(c),
		Limit:  limit,
		Offset: offset,
	}
	if status := c.Query("status"); status != "" {
		s := models.SolveStatus(status)
		params.Status = &s
	}

	solves, total, err := h.solves.ListSolves(c.UserContext(), params)
	if err != nil {
		return Error(c, fiber.StatusInternalServerError, "failed to list solves")
	}
	return SuccessWithMeta(c, solves, total, limit, offset)
}

// GetSolve handles GET /api/solves/:id
func (h *SolveHandler) GetSolve(c *fiber.Ctx) error {
	solve, err := h.lookup(c)
	if err != nil {
		return respondError(c, err)
	}
	return Success(c, solve)
}

// GetSolveImage handles GET /api/solves/:id/image
func (h *SolveHandler) GetSolveImage(c *fiber.Ctx) error {
	if h.storage == nil {
		return Error(c, fiber.StatusNotFound, "image archive is disabled")
	}
	solve, err := h.lookup(c)
	if err != nil {
		return respondError(c, err)
	}
	if solve.S3Key == nil {
		return Error(c, fiber.StatusNotFound, "no archived image for this solve")
	}

	url, err := h.storage.GetPresignedURL(c.UserContext(), *solve.S3Key, presignExpiry)
	if err != nil {
		return Error(c, fiber.StatusInternalServerError, "failed to generate image URL")
	}
	return Success(c, fiber.Map{
		"url":        url,
		"expires_in": int(presignExpiry.Seconds()),
	})
}

func (h *SolveHandler) lookup(c *fiber.Ctx) (*models.SolveWithCandidates, error) {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "invalid solve id")
	}
	solve, err := h.solves.GetSolve(c.UserContext(), id, ownerFilter(c))
	if err != nil {
		if errors.Is(err, database.ErrSolveNotFound) {
			return nil, fiber.NewError(fiber.StatusNotFound, "solve not found")
		}
		return nil, fiber.NewError(fiber.StatusInternalServerError, "failed to get solve")
	}
	return solve, nil
}
