package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"webpay-gateway-api/models"
)

const AccessTokenDuration = 15 * time.Minute

var (
	ErrTokenExpired = errors.New("token expired")
	ErrInvalidToken = errors.New("invalid token")
	ErrNoSecret     = errors.New("jwt secret not configured")
)

// JWTService issues and validates the HS256 tokens that guard the
// status, refund and capture endpoints.
type JWTService struct {
	secretKey []byte
	issuer    string
	now       func() time.Time
}

type Claims struct {
	Role      string `json:"role"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

func NewJWTService(secretKey, issuer string) *JWTService {
	return &JWTService{
		secretKey: []byte(secretKey),
		issuer:    issuer,
		now:       time.Now,
	}
}

// Enabled reports whether a secret is configured. Without one no token can
// be issued or accepted.
func (j *JWTService) Enabled() bool {
	return j != nil && len(j.secretKey) > 0
}

// GenerateToken signs an access token for an operator.
func (j *JWTService) GenerateToken(operator models.Operator, duration time.Duration) (*models.TokenResponse, error) {
	if !j.Enabled() {
		return nil, ErrNoSecret
	}
	if duration <= 0 {
		duration = AccessTokenDuration
	}

	now := j.now()
	expiresAt := now.Add(duration)
	claims := Claims{
		Role:      operator.Role,
		TokenType: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operator.Subject,
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secretKey)
	if err != nil {
		return nil, fmt.Errorf("error signing token: %w", err)
	}

	return &models.TokenResponse{Token: signed, ExpiresAt: expiresAt}, nil
}

// ValidateToken checks signature, issuer and expiry and returns the operator.
func (j *JWTService) ValidateToken(tokenString string) (*models.Operator, error) {
	if !j.Enabled() {
		return nil, ErrNoSecret
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secretKey, nil
	}, jwt.WithIssuer(j.issuer), jwt.WithTimeFunc(j.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.TokenType != "access" || claims.Role != models.RoleOperator {
		return nil, ErrInvalidToken
	}

	return &models.Operator{
		Subject: claims.Subject,
		Role:    claims.Role,
	}, nil
}
