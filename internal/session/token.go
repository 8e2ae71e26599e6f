package session

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	domain "formgate/pkg/domain"
	dErrors "formgate/pkg/domain-errors"
)

// TokenClaims is what a session token carries. The form variant rides along
// so support tooling can tell tokens apart without a store lookup.
type TokenClaims struct {
	SessionID   string `json:"session_id"`
	FormVariant string `json:"form_variant"`
	jwt.RegisteredClaims
}

// TokenService signs and validates the bearer tokens that tie requests to an
// applicant session. HS256 with a shared signing key.
type TokenService struct {
	signingKey []byte
	issuer     string
	audience   string
	ttl        time.Duration
}

func NewTokenService(signingKey, issuer, audience string, ttl time.Duration) *TokenService {
	return &TokenService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
		ttl:        ttl,
	}
}

// Generate issues a signed token for the session.
func (s *TokenService) Generate(sessionID domain.SessionID, variant domain.FormVariant) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, TokenClaims{
		SessionID:   sessionID.String(),
		FormVariant: variant.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			ID:        uuid.NewString(),
		},
	})

	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// ValidateSessionToken checks signature and expiry and returns the session
// the token names. Satisfies middleware.SessionTokenValidator.
func (s *TokenService) ValidateSessionToken(tokenString string) (domain.SessionID, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.SessionID{}, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return domain.SessionID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	if !parsed.Valid {
		return domain.SessionID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*TokenClaims)
	if !ok {
		return domain.SessionID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}

	sessionID, err := domain.ParseSessionID(claims.SessionID)
	if err != nil {
		return domain.SessionID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	return sessionID, nil
}
