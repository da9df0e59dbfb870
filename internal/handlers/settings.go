package handlers

import (
	"errors"
	"log"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/foxxcyber/solvcaptcha/internal/config"
	"github.com/foxxcyber/solvcaptcha/internal/database"
	"github.com/foxxcyber/solvcaptcha/internal/services"
)

// SettingsHandler manages the stored external solver credentials
type SettingsHandler struct {
	db          *database.DB
	credentials *services.CredentialService
}

// NewSettingsHandler creates a new SettingsHandler instance
func NewSettingsHandler(db *database.DB, credentials *services.CredentialService) *SettingsHandler {
	return &SettingsHandler{
		db:          db,
		credentials: credentials,
	}
}

// SolverStatus is the masked view of one service's credential
type SolverStatus struct {
	Service    string `json:"service"`
	Configured bool   `json:"configured"`
	Key        string `json:"key,omitempty"`
}

// UpdateSolversRequest replaces stored keys; an empty value clears one
type UpdateSolversRequest struct {
	Credentials map[string]string `json:"credentials"`
}

// solverUpdate splits a validated request into keys to store and services
// whose stored key should be cleared
type solverUpdate struct {
	set   map[string]string
	clear []string
}

func parseSolverUpdate(raw map[string]string) (*solverUpdate, error) {
	if len(raw) == 0 {
		return nil, &config.ConfigurationError{Reason: "no credentials supplied"}
	}
	valid, err := config.NewCredentials(raw)
	if err != nil {
		return nil, err
	}
	update := &solverUpdate{set: make(map[string]string)}
	for service, key := range raw {
		if strings.TrimSpace(key) == "" {
			update.clear = append(update.clear, service)
			continue
		}
		update.set[service], _ = valid.Get(service)
	}
	sort.Strings(update.clear)
	return update, nil
}

func solverStatuses(creds config.Credentials) []SolverStatus {
	masked := creds.Masked()
	out := make([]SolverStatus, 0, len(config.Services))
	for _, service := range config.Services {
		key, ok := masked[service]
		out = append(out, SolverStatus{Service: service, Configured: ok, Key: key})
	}
	return out
}

// GetSolvers returns the effective credentials, masked, and the stored settings
func (h *SettingsHandler) GetSolvers(c *fiber.Ctx) error {
	creds, err := h.credentials.Resolve(c.Context())
	if err != nil {
		return Error(c, fiber.StatusInternalServerError, err.Error())
	}

	settings, err := h.db.GetSettingsByCategory(c.Context(), database.SolverCategory)
	if err != nil {
		return Error(c, fiber.StatusInternalServerError, "failed to get settings")
	}

	return Success(c, fiber.Map{
		"services": solverStatuses(creds),
		"settings": settings,
	})
}

// UpdateSolvers stores or clears service credentials
func (h *SettingsHandler) UpdateSolvers(c *fiber.Ctx) error {
	var req UpdateSolversRequest
	if err := c.BodyParser(&req); err != nil {
		return Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	update, err := parseSolverUpdate(req.Credentials)
	if err != nil {
		var cfgErr *config.ConfigurationError
		if errors.As(err, &cfgErr) {
			return Error(c, fiber.StatusBadRequest, cfgErr.Error())
		}
		return Error(c, fiber.StatusBadRequest, "invalid credentials")
	}

	key := h.credentials.EncryptionKey()
	for service, apiKey := range update.set {
		if err := h.db.SetSolverCredential(c.Context(), service, apiKey, key); err != nil {
			log.Printf("Warning: failed to store %s credential: %v", service, err)
			return Error(c, fiber.StatusInternalServerError, "failed to store credentials")
		}
	}
	for _, service := range update.clear {
		if err := h.db.DeleteSolverCredential(c.Context(), service); err != nil && !errors.Is(err, database.ErrSettingNotFound) {
			return Error(c, fiber.StatusInternalServerError, "failed to clear credentials")
		}
	}

	return h.GetSolvers(c)
}
