package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/voltgrid/csms/internal/domain"
	"github.com/voltgrid/csms/internal/ports"
)

type UserHandler struct {
	users ports.UserRepository
	log   *zap.Logger
}

func NewUserHandler(users ports.UserRepository, log *zap.Logger) *UserHandler {
	return &UserHandler{users: users, log: log}
}

func (h *UserHandler) List(c *fiber.Ctx) error {
	users, err := h.users.FindAll(c.Context())
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to list users")
	}
	return c.JSON(fiber.Map{"users": users, "count": len(users)})
}

type CreateUserRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (h *UserHandler) Create(c *fiber.Ctx) error {
	var req CreateUserRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.Email == "" || req.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Email and password are required"})
	}

	role := domain.UserRole(req.Role)
	switch role {
	case domain.UserRoleAdmin, domain.UserRoleOperator, domain.UserRoleViewer:
	case "":
		role = domain.UserRoleViewer
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid role"})
	}

	existing, err := h.users.FindByEmail(c.Context(), req.Email)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to check user")
	}
	if existing != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Email already registered"})
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to hash password")
	}

	user := &domain.User{
		ID:           uuid.New().String(),
		Email:        req.Email,
		Name:         req.Name,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
	}
	if err := h.users.Save(c.Context(), user); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to save user")
	}
	return c.Status(fiber.StatusCreated).JSON(user)
}
