package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "tradegate/internal/errors"
)

// JWTManager issues and verifies short-lived bearer tokens carrying a role.
// Dashboards exchange their API key once for a token instead of sending the
// raw key on every request.
type JWTManager struct {
	secretKey []byte
	duration  time.Duration
}

// Claims is the JWT payload for a gateway session.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// NewJWTManager creates a new JWT manager.
func NewJWTManager(secretKey string, duration time.Duration) *JWTManager {
	if duration == 0 {
		duration = time.Hour
	}
	return &JWTManager{
		secretKey: []byte(secretKey),
		duration:  duration,
	}
}

// GenerateToken issues a signed token for the given role.
func (m *JWTManager) GenerateToken(role Role) (string, time.Time, error) {
	expiresAt := time.Now().Add(m.duration)
	claims := &Claims{
		Role: role.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "tradegate",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// VerifyToken parses and validates a token, returning the embedded role.
func (m *JWTManager) VerifyToken(tokenString string) (Role, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return RoleViewer, apperrors.NewAppError(apperrors.ErrCodeTokenExpired, "token expired", err)
		}
		return RoleViewer, apperrors.NewAppError(apperrors.ErrCodeInvalidKey, "invalid token", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return RoleViewer, apperrors.ErrInvalidKey
	}
	return ParseRole(claims.Role)
}
