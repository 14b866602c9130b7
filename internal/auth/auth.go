package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleStaff   Role = "staff"
	RoleAdmin   Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleStaff, RoleAdmin:
		return true
	}
	return false
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrNoActor      = errors.New("no authenticated actor")
)

// Actor is whoever performs an operation. For doctors and patients ID is the
// doctor or patient record ID.
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
}

// IsStaff reports whether the actor acts on behalf of the clinic.
func (a Actor) IsStaff() bool {
	return a.Role == RoleStaff || a.Role == RoleAdmin
}

// System is the actor used by background workers.
var System = Actor{ID: uuid.Nil, Role: RoleAdmin}

type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

type TokenManager struct {
	secret     []byte
	expiration time.Duration
	now        func() time.Time
}

func NewTokenManager(secret string, expiration time.Duration) *TokenManager {
	return &TokenManager{
		secret:     []byte(secret),
		expiration: expiration,
		now:        time.Now,
	}
}

func (m *TokenManager) Issue(actor Actor) (string, error) {
	if !actor.Role.Valid() {
		return "", fmt.Errorf("unknown role %q", actor.Role)
	}
	now := m.now()
	claims := Claims{
		Role: actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiration)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

func (m *TokenManager) Parse(token string) (Actor, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now))
	if err != nil {
		return Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Actor{}, fmt.Errorf("%w: subject is not a UUID", ErrInvalidToken)
	}
	if !claims.Role.Valid() {
		return Actor{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}

	return Actor{ID: id, Role: claims.Role}, nil
}

type contextKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, a)
}

func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(contextKey{}).(Actor)
	return a, ok
}
