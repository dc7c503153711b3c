// Package auth issues and validates tokens for both portals, hashes
// passwords and decides what each role may do.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/aethra/domus/internal/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Token types
const (
	TokenAccess  = "access"
	TokenRefresh = "refresh"
)

// MinPasswordLength is enforced on every password set through the API
const MinPasswordLength = 8

// Claims carried by both access and refresh tokens
type Claims struct {
	SubjectID string `json:"sub_id"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Subject is the account a token pair is issued for
type Subject struct {
	ID    string
	Email string
	Role  string
}

// TokenPair represents access and refresh tokens
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	TokenType    string    `json:"token_type"`
}

// JWTService handles JWT operations
type JWTService struct {
	secretKey          []byte
	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
	issuer             string
	now                func() time.Time
}

// NewJWTService creates a JWT service. Without a configured secret a random
// one is generated, so tokens do not survive a restart.
func NewJWTService(cfg config.AuthConfig) *JWTService {
	secret := cfg.JWTSecret
	if secret == "" {
		secret = GenerateSecret()
	}

	access := cfg.AccessExpiry
	if access <= 0 {
		access = 24 * time.Hour
	}
	refresh := cfg.RefreshExpiry
	if refresh <= 0 {
		refresh = 7 * 24 * time.Hour
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = "domus"
	}

	return &JWTService{
		secretKey:          []byte(secret),
		accessTokenExpiry:  access,
		refreshTokenExpiry: refresh,
		issuer:             issuer,
		now:                time.Now,
	}
}

func (s *JWTService) sign(sub Subject, tokenType string, now, expiresAt time.Time) (string, error) {
	claims := &Claims{
		SubjectID: sub.ID,
		Email:     sub.Email,
		Role:      sub.Role,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Subject:   sub.ID,
			ID:        uuid.New().String(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
}

// GenerateTokenPair generates access and refresh tokens
func (s *JWTService) GenerateTokenPair(sub Subject) (*TokenPair, error) {
	now := s.now()
	accessExpiresAt := now.Add(s.accessTokenExpiry)

	access, err := s.sign(sub, TokenAccess, now, accessExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}
	refresh, err := s.sign(sub, TokenRefresh, now, now.Add(s.refreshTokenExpiry))
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    accessExpiresAt,
		TokenType:    "Bearer",
	}, nil
}

// ValidateToken validates a JWT token and returns the claims
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.SubjectID == "" {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// ValidateAccessToken rejects refresh tokens presented as bearer tokens
func (s *JWTService) ValidateAccessToken(tokenString string) (*Claims, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TokenAccess {
		return nil, fmt.Errorf("invalid token: not an access token")
	}
	return claims, nil
}

// ValidateRefreshToken accepts only refresh tokens
func (s *JWTService) ValidateRefreshToken(tokenString string) (*Claims, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh token: %w", err)
	}
	if claims.TokenType != TokenRefresh {
		return nil, fmt.Errorf("invalid refresh token: wrong token type")
	}
	return claims, nil
}

// GenerateSecret returns a random 32-byte secret, base64 encoded
func GenerateSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "domus-" + uuid.New().String()
	}
	return base64.StdEncoding.EncodeToString(b)
}

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword verifies a password against a bcrypt hash
func CheckPassword(password, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
