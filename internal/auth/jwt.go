package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned for tokens that fail signature or shape checks.
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpiredToken is returned for well-formed tokens past their expiry.
	ErrExpiredToken = errors.New("token expired")
)

// Role describes which surface a credential belongs to.
type Role string

const (
	RoleConsumer Role = "consumer"
	RoleStaff    Role = "staff"
	RoleVenue    Role = "venue"
)

// Claims is the JWT payload carried by every bearer credential.
// SessionID identifies a staff scanning session; for consumer and
// venue credentials it may be empty.
type Claims struct {
	Role      Role   `json:"role"`
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the validated caller identity handlers work with.
type Identity struct {
	Subject   string
	Role      Role
	SessionID string
}

// ScannerSession returns the identifier used for scan auditing and the
// scan-velocity guard. Falls back to the subject when no session id was
// minted into the credential.
func (i *Identity) ScannerSession() string {
	if i.SessionID != "" {
		return i.SessionID
	}
	return i.Subject
}

// Service signs and validates HS256 bearer credentials.
type Service struct {
	secret   []byte
	tokenTTL time.Duration
}

// NewService creates an auth service with the given signing secret and TTL.
func NewService(secret string, tokenTTL time.Duration) *Service {
	return &Service{secret: []byte(secret), tokenTTL: tokenTTL}
}

// Issue mints a signed credential for the given subject.
func (s *Service) Issue(subject string, role Role, sessionID string) (string, error) {
	now := time.Now()
	claims := Claims{
		Role:      role,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Validate parses and verifies a credential, returning the caller identity.
func (s *Service) Validate(tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return &Identity{
		Subject:   claims.Subject,
		Role:      claims.Role,
		SessionID: claims.SessionID,
	}, nil
}
