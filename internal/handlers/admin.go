package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/foxxcyber/solvcaptcha/internal/database"
	"github.com/foxxcyber/solvcaptcha/internal/middleware"
	"github.com/foxxcyber/solvcaptcha/internal/models"
)

// AdminListUsers returns a paginated list of all users
func (h *Handler) AdminListUsers(c *fiber.Ctx) error {
	limit, offset := pagination(c)

	users, total, err := h.db.ListUsers(c.Context(), limit, offset)
	if err != nil {
		return Error(c, fiber.StatusInternalServerError, "failed to list users")
	}

	return SuccessWithMeta(c, users, total, limit, offset)
}

// AdminUpdateUser changes a user's username or role
func (h *Handler) AdminUpdateUser(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return Error(c, fiber.StatusBadRequest, "invalid user id")
	}

	var req models.AdminUpdateUserRequest
	if err := c.BodyParser(&req); err != nil {
		return Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Role != nil && *req.Role != models.RoleUser && *req.Role != models.RoleAdmin {
		return Error(c, fiber.StatusBadRequest, "invalid role")
	}
	if req.Role != nil && *req.Role != models.RoleAdmin && id == middleware.GetUserID(c) {
		return Error(c, fiber.StatusBadRequest, "cannot remove your own admin role")
	}

	user, err := h.db.AdminUpdateUser(c.Context(), id, &req)
	switch {
	case errors.Is(err, database.ErrUserNotFound):
		return Error(c, fiber.StatusNotFound, "user not found")
	case errors.Is(err, database.ErrUsernameExists):
		return Error(c, fiber.StatusConflict, "username already taken")
	case err != nil:
		return Error(c, fiber.StatusInternalServerError, "failed to update user")
	}

	return Success(c, user)
}

// AdminDeleteUser deletes a user and, through the foreign key, their solves
func (h *Handler) AdminDeleteUser(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return Error(c, fiber.StatusBadRequest, "invalid user id")
	}
	if id == middleware.GetUserID(c) {
		return Error(c, fiber.StatusBadRequest, "cannot delete your own account")
	}

	if err := h.db.DeleteUser(c.Context(), id); err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return Error(c, fiber.StatusNotFound, "user not found")
		}
		return Error(c, fiber.StatusInternalServerError, "failed to delete user")
	}

	return c.JSON(fiber.Map{
		"message": "user deleted successfully",
	})
}

// AdminGetStats returns system-wide solve statistics
func (h *Handler) AdminGetStats(c *fiber.Ctx) error {
	stats, err := h.db.GetSolveStats(c.Context())
	if err != nil {
		return Error(c, fiber.StatusInternalServerError, "failed to get stats")
	}

	return Success(c, stats)
}
