package http

import (
	"strings"

	"firestore-driver/internal/auth/usecase"
	"firestore-driver/internal/shared/contextkeys"
	apperrors "firestore-driver/internal/shared/errors"
	"firestore-driver/internal/shared/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

// AuthMiddleware provides authentication middleware for Fiber
type AuthMiddleware struct {
	usecase usecase.AuthUsecaseInterface
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(uc usecase.AuthUsecaseInterface) *AuthMiddleware {
	return &AuthMiddleware{usecase: uc}
}

// RequestID middleware
func (m *AuthMiddleware) RequestID() fiber.Handler {
	return requestid.New(requestid.Config{
		Header:     fiber.HeaderXRequestID,
		ContextKey: string(contextkeys.RequestIDKey),
	})
}

// Authenticate resolves the caller. Requests without a token continue as
// anonymous so security rules decide; a token that fails validation is
// rejected with UNAUTHENTICATED.
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		if rid, ok := c.Locals(string(contextkeys.RequestIDKey)).(string); ok && rid != "" {
			ctx = utils.WithRequestID(ctx, rid)
		}

		token := extractToken(c)
		if token == "" {
			c.SetUserContext(ctx)
			return c.Next()
		}

		claims, err := m.usecase.ValidateToken(ctx, token)
		if err != nil {
			return WriteError(c, err)
		}

		c.Locals(string(contextkeys.UserIDKey), claims.UserID)
		c.Locals(string(contextkeys.UserEmailKey), claims.Email)
		c.SetUserContext(utils.WithUser(ctx, claims.UserID, claims.Email))
		return c.Next()
	}
}

// Protect rejects anonymous callers. It must run after Authenticate.
func (m *AuthMiddleware) Protect() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := GetUserID(c); !ok {
			return WriteError(c, apperrors.NewUnauthenticatedError("authentication required"))
		}
		return c.Next()
	}
}

// extractToken reads the bearer token from the Authorization header, or the
// token query parameter for websocket upgrades that cannot set headers
func extractToken(c *fiber.Ctx) string {
	if authHeader := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return c.Query("token")
}

// GetUserID helper function to get user ID from context
func GetUserID(c *fiber.Ctx) (string, bool) {
	userID, ok := c.Locals(string(contextkeys.UserIDKey)).(string)
	return userID, ok && userID != ""
}

// GetUserEmail helper function to get user email from context
func GetUserEmail(c *fiber.Ctx) (string, bool) {
	email, ok := c.Locals(string(contextkeys.UserEmailKey)).(string)
	return email, ok && email != ""
}
