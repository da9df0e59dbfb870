package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/foxxcyber/solvcaptcha/internal/config"
	"github.com/foxxcyber/solvcaptcha/internal/models"
)

func signToken(t *testing.T, secret string, role models.Role, method jwt.SigningMethod, expiry time.Duration) string {
	t.Helper()
	claims := &JWTClaims{
		UserID: 7,
		Email:  "u@example.com",
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
		},
	}
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return token
}

func newApp(cfg *config.Config, perMinute int) *fiber.App {
	app := fiber.New()
	app.Get("/me", AuthRequired(cfg), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"id": GetUserID(c), "role": GetUserRole(c)})
	})
	app.Get("/admin", AuthRequired(cfg), AdminRequired(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	app.Post("/solve", AuthRequired(cfg), SolveLimiter(perMinute), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func TestAuthRequired(t *testing.T) {
	cfg := &config.Config{JWTSecret: "test-secret"}
	app := newApp(cfg, 0)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"missing header", "/me", "", fiber.StatusUnauthorized},
		{"wrong scheme", "/me", "Basic abc", fiber.StatusUnauthorized},
		{"garbage token", "/me", "Bearer abc", fiber.StatusUnauthorized},
		{"wrong secret", "/me", "Bearer " + signToken(t, "other", models.RoleUser, jwt.SigningMethodHS256, time.Hour), fiber.StatusUnauthorized},
		{"expired", "/me", "Bearer " + signToken(t, "test-secret", models.RoleUser, jwt.SigningMethodHS256, -time.Hour), fiber.StatusUnauthorized},
		{"valid", "/me", "Bearer " + signToken(t, "test-secret", models.RoleUser, jwt.SigningMethodHS256, time.Hour), fiber.StatusOK},
		{"user on admin route", "/admin", "Bearer " + signToken(t, "test-secret", models.RoleUser, jwt.SigningMethodHS256, time.Hour), fiber.StatusForbidden},
		{"admin on admin route", "/admin", "Bearer " + signToken(t, "test-secret", models.RoleAdmin, jwt.SigningMethodHS512, time.Hour), fiber.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestSolveLimiter(t *testing.T) {
	cfg := &config.Config{JWTSecret: "test-secret"}
	app := newApp(cfg, 2)
	token := "Bearer " + signToken(t, "test-secret", models.RoleUser, jwt.SigningMethodHS256, time.Hour)

	want := []int{fiber.StatusOK, fiber.StatusOK, fiber.StatusTooManyRequests}
	for i, status := range want {
		req := httptest.NewRequest("POST", "/solve", nil)
		req.Header.Set("Authorization", token)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test() error = %v", err)
		}
		if resp.StatusCode != status {
			t.Fatalf("request %d: status = %d, want %d", i+1, resp.StatusCode, status)
		}
	}
}
