package handlers

import (
	"errors"
	"log"
	"net/mail"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/foxxcyber/solvcaptcha/internal/database"
	"github.com/foxxcyber/solvcaptcha/internal/middleware"
	"github.com/foxxcyber/solvcaptcha/internal/models"
)

const minPasswordLength = 8

// validateRegistration normalises req in place and returns a client-facing
// message when it is unacceptable
func validateRegistration(req *models.RegisterRequest) string {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	addr, err := mail.ParseAddress(req.Email)
	if err != nil || addr.Address != req.Email || !strings.Contains(req.Email[strings.LastIndexByte(req.Email, '@'):], ".") {
		return "invalid email format"
	}
	if len(req.Password) < minPasswordLength {
		return "password must be at least 8 characters"
	}
	if req.Username != nil {
		name := strings.TrimSpace(*req.Username)
		if len(name) < 3 || len(name) > 50 {
			return "username must be between 3 and 50 characters"
		}
		req.Username = &name
	}
	return ""
}

// Register creates an account and returns a token for it
func (h *Handler) Register(c *fiber.Ctx) error {
	var req models.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if msg := validateRegistration(&req); msg != "" {
		return Error(c, fiber.StatusBadRequest, msg)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return Error(c, fiber.StatusInternalServerError, "failed to process password")
	}

	user, err := h.db.CreateUser(c.Context(), req.Email, string(hash), req.Username)
	switch {
	case errors.Is(err, database.ErrEmailExists):
		return Error(c, fiber.StatusConflict, "email already registered")
	case errors.Is(err, database.ErrUsernameExists):
		return Error(c, fiber.StatusConflict, "username already taken")
	case err != nil:
		log.Printf("Warning: failed to create user %s: %v", req.Email, err)
		return Error(c, fiber.StatusInternalServerError, "failed to create user")
	}

	return h.respondWithToken(c, fiber.StatusCreated, user)
}

// Login exchanges email and password for a token
func (h *Handler) Login(c *fiber.Ctx) error {
	var req models.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Email == "" || req.Password == "" {
		return Error(c, fiber.StatusBadRequest, "email and password are required")
	}

	user, err := h.db.GetUserByEmail(c.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return Error(c, fiber.StatusUnauthorized, "invalid credentials")
		}
		return Error(c, fiber.StatusInternalServerError, "authentication failed")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return Error(c, fiber.StatusUnauthorized, "invalid credentials")
	}

	if err := h.db.UpdateUserLastLogin(c.Context(), user.ID); err != nil {
		log.Printf("Warning: failed to update last login for user %d: %v", user.ID, err)
	}

	return h.respondWithToken(c, fiber.StatusOK, user)
}

// GetCurrentUser returns the authenticated user and their solve stats
func (h *Handler) GetCurrentUser(c *fiber.Ctx) error {
	user, err := h.db.GetUserByID(c.Context(), middleware.GetUserID(c))
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return Error(c, fiber.StatusNotFound, "user not found")
		}
		return Error(c, fiber.StatusInternalServerError, "failed to get user")
	}

	stats, err := h.db.GetUserStats(c.Context(), user.ID)
	if err != nil {
		log.Printf("Warning: failed to get stats for user %d: %v", user.ID, err)
	}

	return Success(c, fiber.Map{
		"user":  user,
		"stats": stats,
	})
}

// RefreshToken issues a fresh token carrying the user's current role
func (h *Handler) RefreshToken(c *fiber.Ctx) error {
	user, err := h.db.GetUserByID(c.Context(), middleware.GetUserID(c))
	if err != nil {
		return Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	return h.respondWithToken(c, fiber.StatusOK, user)
}

// ChangePassword replaces the caller's password after checking the current one
func (h *Handler) ChangePassword(c *fiber.Ctx) error {
	var req models.ChangePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if len(req.NewPassword) < minPasswordLength {
		return Error(c, fiber.StatusBadRequest, "password must be at least 8 characters")
	}

	user, err := h.db.GetUserByID(c.Context(), middleware.GetUserID(c))
	if err != nil {
		return Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)); err != nil {
		return Error(c, fiber.StatusUnauthorized, "current password is incorrect")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return Error(c, fiber.StatusInternalServerError, "failed to process password")
	}
	if err := h.db.UpdateUserPassword(c.Context(), user.ID, string(hash)); err != nil {
		return Error(c, fiber.StatusInternalServerError, "failed to update password")
	}

	return c.JSON(fiber.Map{
		"message": "password updated",
	})
}

func (h *Handler) respondWithToken(c *fiber.Ctx, status int, user *models.User) error {
	token, err := signToken(h.cfg.JWTSecret, h.cfg.JWTExpiry, user, time.Now())
	if err != nil {
		return Error(c, fiber.StatusInternalServerError, "failed to generate token")
	}
	return c.Status(status).JSON(models.AuthResponse{
		Token: token,
		User:  user,
	})
}

// signToken creates an HS256 token for user
func signToken(secret string, expiry time.Duration, user *models.User, now time.Time) (string, error) {
	claims := &middleware.JWTClaims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   user.Email,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
