// Package identity is the boundary adapter to the platform's session
// provider: it verifies signed identity tokens and exposes the caller's
// participant identity to handlers. Authorization policy beyond the
// teacher/student role claim lives elsewhere.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"classroom/pkg/types"
)

var (
	ErrMissingToken = errors.New("missing identity token")
	ErrInvalidToken = errors.New("invalid identity token")
)

// Verifier validates HMAC-signed identity tokens carrying the participant's
// id (sub), display name and classroom role.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates a token, returning the participant it names.
func (v *Verifier) Verify(token string) (types.Participant, error) {
	if token == "" {
		return types.Participant{}, ErrMissingToken
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return types.Participant{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return types.Participant{}, ErrInvalidToken
	}
	p := types.Participant{}
	if sub, ok := claims["sub"].(string); ok {
		p.ID = sub
	}
	if name, ok := claims["name"].(string); ok {
		p.Name = name
	}
	if role, ok := claims["role"].(string); ok {
		p.Role = role
	}
	if !types.IsValidUserID(p.ID) {
		return types.Participant{}, fmt.Errorf("%w: %s", types.ErrInvalidUserID, p.ID)
	}
	if !types.IsValidRole(p.Role) {
		return types.Participant{}, types.ErrInvalidRole
	}
	if p.Name == "" {
		p.Name = p.ID
	}
	return p, nil
}

// Issue signs an identity token for the participant. Used by tooling and the
// test suites; in production the platform's session provider issues tokens.
func (v *Verifier) Issue(p types.Participant, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":  p.ID,
		"name": p.Name,
		"role": p.Role,
		"exp":  time.Now().Add(ttl).Unix(),
		"iat":  time.Now().Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
