package http

import (
	"strconv"

	"firestore-driver/internal/auth/usecase"
	apperrors "firestore-driver/internal/shared/errors"

	"github.com/gofiber/fiber/v2"
)

// AuthHTTPHandler handles HTTP requests for authentication
type AuthHTTPHandler struct {
	usecase usecase.AuthUsecaseInterface
}

// NewAuthHTTPHandler creates a new authentication HTTP handler
func NewAuthHTTPHandler(uc usecase.AuthUsecaseInterface) *AuthHTTPHandler {
	return &AuthHTTPHandler{usecase: uc}
}

// signInResponse mirrors the identity toolkit sign-in payload
type signInResponse struct {
	IDToken     string `json:"idToken"`
	LocalID     string `json:"localId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	ExpiresIn   string `json:"expiresIn"`
}

// SetupAuthRoutes mounts the public sign-in routes
func (h *AuthHTTPHandler) SetupAuthRoutes(router fiber.Router) {
	router.Post("/signUp", h.SignUp)
	router.Post("/signIn", h.SignIn)
}

// SignUp handles account registration
func (h *AuthHTTPHandler) SignUp(c *fiber.Ctx) error {
	var req usecase.SignUpRequest
	if err := c.BodyParser(&req); err != nil {
		return WriteError(c, apperrors.NewInvalidArgumentError("invalid request body").WithCause(err))
	}
	user, token, err := h.usecase.SignUp(c.UserContext(), req)
	if err != nil {
		return WriteError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(signInResponse{
		IDToken:     token,
		LocalID:     user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		ExpiresIn:   h.expiresIn(),
	})
}

// SignIn handles password sign-in
func (h *AuthHTTPHandler) SignIn(c *fiber.Ctx) error {
	var req usecase.SignInRequest
	if err := c.BodyParser(&req); err != nil {
		return WriteError(c, apperrors.NewInvalidArgumentError("invalid request body").WithCause(err))
	}
	user, token, err := h.usecase.SignIn(c.UserContext(), req)
	if err != nil {
		return WriteError(c, err)
	}
	return c.JSON(signInResponse{
		IDToken:     token,
		LocalID:     user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		ExpiresIn:   h.expiresIn(),
	})
}

func (h *AuthHTTPHandler) expiresIn() string {
	return strconv.FormatInt(int64(h.usecase.TokenTTL().Seconds()), 10)
}

// WriteError renders err in the {"error":{code,message,status}} envelope
func WriteError(c *fiber.Ctx, err error) error {
	appErr := apperrors.AsAppError(err)
	return c.Status(appErr.HTTPCode).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    appErr.HTTPCode,
			"message": appErr.Message,
			"status":  appErr.Status,
		},
	})
}
