package usecase

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"firestore-driver/internal/auth/domain/model"
	"firestore-driver/internal/auth/domain/repository"
	apperrors "firestore-driver/internal/shared/errors"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Password validation constants
const (
	minPasswordLength = 8
	maxPasswordLength = 72 // bcrypt ignores anything longer
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// AuthUsecaseInterface defines the contract for authentication use cases.
type AuthUsecaseInterface interface {
	SignUp(ctx context.Context, req SignUpRequest) (*model.User, string, error)
	SignIn(ctx context.Context, req SignInRequest) (*model.User, string, error)
	ValidateToken(ctx context.Context, tokenString string) (*repository.Claims, error)
	MintToken(ctx context.Context, userID, email string) (string, error)
	TokenTTL() time.Duration
}

// SignUpRequest represents the registration request
type SignUpRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName,omitempty"`
}

// SignInRequest represents the password sign-in request
type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthUsecase implements the authentication logic.
type AuthUsecase struct {
	repo     repository.UserRepository
	tokenSvc repository.TokenService
	now      func() time.Time
}

// NewAuthUsecase creates a new instance of AuthUsecase.
func NewAuthUsecase(repo repository.UserRepository, tokenSvc repository.TokenService) *AuthUsecase {
	return &AuthUsecase{
		repo:     repo,
		tokenSvc: tokenSvc,
		now:      time.Now,
	}
}

func validateCredentials(email, password string) error {
	ve := apperrors.NewValidationErrors()
	if email == "" {
		ve.Add("email", "is required", email)
	} else if !emailRegex.MatchString(email) {
		ve.Add("email", "is not a valid address", email)
	}
	if len(password) < minPasswordLength {
		ve.Add("password", fmt.Sprintf("must be at least %d characters", minPasswordLength), nil)
	} else if len(password) > maxPasswordLength {
		ve.Add("password", fmt.Sprintf("must be at most %d characters", maxPasswordLength), nil)
	}
	if appErr := ve.ToAppError(apperrors.CodeInvalidArgument); appErr != nil {
		return appErr.WithComponent("auth")
	}
	return nil
}

// SignUp creates an account and returns it with a fresh ID token
func (uc *AuthUsecase) SignUp(ctx context.Context, req SignUpRequest) (*model.User, string, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if err := validateCredentials(email, req.Password); err != nil {
		return nil, "", err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", apperrors.NewInternalError("failed to hash password").WithCause(err).WithComponent("auth")
	}

	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: string(hashedPassword),
		DisplayName:  strings.TrimSpace(req.DisplayName),
		CreatedAt:    uc.now().UTC().Truncate(time.Millisecond),
	}
	if err := uc.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, model.ErrUserExists) {
			return nil, "", apperrors.NewInvalidArgumentError("email is already registered").
				WithStatus(apperrors.StatusAlreadyExists, 409).WithComponent("auth")
		}
		return nil, "", apperrors.NewBackendUnavailableError("failed to create user").WithCause(err).WithComponent("auth")
	}

	token, err := uc.tokenSvc.GenerateToken(ctx, user.ID, user.Email)
	if err != nil {
		return nil, "", apperrors.NewInternalError("failed to generate token").WithCause(err).WithComponent("auth")
	}

	user.PasswordHash = ""
	return user, token, nil
}

// SignIn checks a password and returns the account with a fresh ID token
func (uc *AuthUsecase) SignIn(ctx context.Context, req SignInRequest) (*model.User, string, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return nil, "", apperrors.NewInvalidArgumentError("email and password are required").WithComponent("auth")
	}

	user, err := uc.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return nil, "", invalidCredentials()
		}
		return nil, "", apperrors.NewBackendUnavailableError("failed to look up user").WithCause(err).WithComponent("auth")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, "", invalidCredentials()
	}

	token, err := uc.tokenSvc.GenerateToken(ctx, user.ID, user.Email)
	if err != nil {
		return nil, "", apperrors.NewInternalError("failed to generate token").WithCause(err).WithComponent("auth")
	}

	user.PasswordHash = ""
	return user, token, nil
}

func invalidCredentials() error {
	return apperrors.NewUnauthenticatedError(model.ErrInvalidCredentials.Error()).
		WithCause(model.ErrInvalidCredentials).WithComponent("auth")
}

// ValidateToken validates a JWT string
func (uc *AuthUsecase) ValidateToken(ctx context.Context, tokenString string) (*repository.Claims, error) {
	claims, err := uc.tokenSvc.ValidateToken(ctx, tokenString)
	if err != nil {
		return nil, apperrors.NewUnauthenticatedError("invalid ID token").WithCause(err).WithComponent("auth")
	}
	return claims, nil
}

// MintToken issues a token for uid without a stored account. Used by test
// harnesses and the token command to act as an arbitrary principal.
func (uc *AuthUsecase) MintToken(ctx context.Context, userID, email string) (string, error) {
	if userID == "" {
		return "", apperrors.NewInvalidArgumentError("uid is required").WithComponent("auth")
	}
	return uc.tokenSvc.GenerateToken(ctx, userID, email)
}

// TokenTTL is how long minted tokens stay valid
func (uc *AuthUsecase) TokenTTL() time.Duration {
	return uc.tokenSvc.TTL()
}

// Ensure AuthUsecase implements AuthUsecaseInterface
var _ AuthUsecaseInterface = (*AuthUsecase)(nil)
