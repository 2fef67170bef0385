package security_test

import (
	"context"
	"testing"
	"time"

	"firestore-driver/internal/auth/adapter/security"
	"firestore-driver/internal/auth/config"
	"firestore-driver/internal/auth/domain/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type JWTTestSuite struct {
	suite.Suite
	config  *config.Config
	service *security.JWTokenService
}

func (suite *JWTTestSuite) SetupTest() {
	suite.config = &config.Config{
		JWTSecretKey:   "test-secret-key-32-characters-long-12345",
		JWTIssuer:      "test-issuer",
		AccessTokenTTL: 15 * time.Minute,
	}

	service, err := security.NewJWTokenService(suite.config)
	require.NoError(suite.T(), err)
	suite.service = service
}

func (suite *JWTTestSuite) TestNewJWTokenService_ValidationErrors() {
	testCases := []struct {
		name         string
		modifyConfig func(*config.Config)
		expectedErr  string
	}{
		{"empty secret key", func(cfg *config.Config) { cfg.JWTSecretKey = "" }, "jwt secret key cannot be empty"},
		{"empty issuer", func(cfg *config.Config) { cfg.JWTIssuer = "" }, "jwt issuer cannot be empty"},
		{"zero TTL", func(cfg *config.Config) { cfg.AccessTokenTTL = 0 }, "jwt access token TTL must be positive"},
		{"negative TTL", func(cfg *config.Config) { cfg.AccessTokenTTL = -time.Minute }, "jwt access token TTL must be positive"},
	}

	for _, tc := range testCases {
		suite.Run(tc.name, func() {
			cfg := *suite.config
			tc.modifyConfig(&cfg)

			service, err := security.NewJWTokenService(&cfg)

			assert.Error(suite.T(), err)
			assert.Nil(suite.T(), service)
			assert.Contains(suite.T(), err.Error(), tc.expectedErr)
		})
	}
}

func (suite *JWTTestSuite) TestGenerateToken_Claims() {
	tokenString, err := suite.service.GenerateToken(context.Background(), "user-123", "test@example.com")
	require.NoError(suite.T(), err)

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte(suite.config.JWTSecretKey), nil
	})
	require.NoError(suite.T(), err)
	assert.True(suite.T(), token.Valid)

	claims, ok := token.Claims.(jwt.MapClaims)
	require.True(suite.T(), ok)
	assert.Equal(suite.T(), "user-123", claims["uid"])
	assert.Equal(suite.T(), "user-123", claims["sub"])
	assert.Equal(suite.T(), "test@example.com", claims["email"])
	assert.Equal(suite.T(), suite.config.JWTIssuer, claims["iss"])
}

func (suite *JWTTestSuite) TestGenerateToken_EmptyUserID() {
	_, err := suite.service.GenerateToken(context.Background(), "", "test@example.com")
	assert.Error(suite.T(), err)
}

func (suite *JWTTestSuite) TestValidateToken_Success() {
	ctx := context.Background()
	tokenString, err := suite.service.GenerateToken(ctx, "user-123", "test@example.com")
	require.NoError(suite.T(), err)

	claims, err := suite.service.ValidateToken(ctx, tokenString)

	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "user-123", claims.UserID)
	assert.Equal(suite.T(), "test@example.com", claims.Email)
	assert.Equal(suite.T(), suite.config.JWTIssuer, claims.Issuer)
	assert.Equal(suite.T(), 15*time.Minute, suite.service.TTL())
}

func (suite *JWTTestSuite) TestValidateToken_InvalidSignature() {
	ctx := context.Background()
	differentConfig := *suite.config
	differentConfig.JWTSecretKey = "different-secret-key-32-chars-long"
	differentService, err := security.NewJWTokenService(&differentConfig)
	require.NoError(suite.T(), err)

	tokenString, err := differentService.GenerateToken(ctx, "user-123", "test@example.com")
	require.NoError(suite.T(), err)

	claims, err := suite.service.ValidateToken(ctx, tokenString)

	assert.Nil(suite.T(), claims)
	assert.Equal(suite.T(), security.ErrTokenSignatureInvalid, err)
}

func (suite *JWTTestSuite) TestValidateToken_ExpiredToken() {
	past := time.Now().Add(-time.Hour)
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, &repository.Claims{
		UserID: "user-123",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    suite.config.JWTIssuer,
			IssuedAt:  jwt.NewNumericDate(past),
			ExpiresAt: jwt.NewNumericDate(past.Add(time.Minute)),
		},
	})
	tokenString, err := expired.SignedString([]byte(suite.config.JWTSecretKey))
	require.NoError(suite.T(), err)

	claims, err := suite.service.ValidateToken(context.Background(), tokenString)

	assert.Nil(suite.T(), claims)
	assert.Equal(suite.T(), security.ErrTokenExpired, err)
}

func (suite *JWTTestSuite) TestValidateToken_WrongIssuer() {
	other := *suite.config
	other.JWTIssuer = "someone-else"
	otherService, err := security.NewJWTokenService(&other)
	require.NoError(suite.T(), err)

	tokenString, err := otherService.GenerateToken(context.Background(), "user-123", "")
	require.NoError(suite.T(), err)

	_, err = suite.service.ValidateToken(context.Background(), tokenString)
	assert.Equal(suite.T(), security.ErrTokenInvalid, err)
}

func (suite *JWTTestSuite) TestValidateToken_MalformedTokens() {
	testCases := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"invalid format", "invalid.token.format"},
		{"malformed jwt", "header.payload"},
		{"random string", "not-a-jwt-token"},
		{"incomplete jwt", "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9"},
	}

	for _, tc := range testCases {
		suite.Run(tc.name, func() {
			claims, err := suite.service.ValidateToken(context.Background(), tc.token)
			assert.Error(suite.T(), err)
			assert.Nil(suite.T(), claims)
		})
	}
}

func TestJWTTestSuite(t *testing.T) {
	suite.Run(t, new(JWTTestSuite))
}
