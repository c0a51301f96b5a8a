// Package identity resolves the caller of a request to an account and role.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hackgods/consult-scheduling/internal/apperr"
	"github.com/hackgods/consult-scheduling/internal/model"
)

// Caller is the authenticated principal of a request.
type Caller struct {
	AccountID uuid.UUID
	Role      model.Role
}

func (c Caller) Is(role model.Role) bool {
	return c.Role == role
}

// Resolver turns a request into a Caller, or an Unauthenticated error.
type Resolver interface {
	Resolve(r *http.Request) (Caller, error)
}

type contextKey struct{}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

func FromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(contextKey{}).(Caller)
	return c, ok
}

// Claims is the bearer token payload: sub carries the account ID.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTResolver validates HMAC-signed bearer tokens.
type JWTResolver struct {
	secret []byte
	now    func() time.Time
}

func NewJWTResolver(secret string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret), now: time.Now}
}

func (j *JWTResolver) Resolve(r *http.Request) (Caller, error) {
	const op = "identity.Resolve"

	auth := r.Header.Get("Authorization")
	if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
		return Caller{}, apperr.New(apperr.ErrUnauthenticated, op, "missing bearer token")
	}
	return j.Parse(strings.TrimPrefix(auth, "Bearer "))
}

// Parse validates a raw token.
func (j *JWTResolver) Parse(raw string) (Caller, error) {
	const op = "identity.Parse"

	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return j.secret, nil
	}, jwt.WithTimeFunc(j.now))
	if err != nil || !token.Valid {
		return Caller{}, apperr.Wrap(apperr.ErrUnauthenticated, op, "invalid token", err)
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Caller{}, apperr.Wrap(apperr.ErrUnauthenticated, op, "subject is not an account id", err)
	}

	role := model.Role(claims.Role)
	switch role {
	case model.RolePatient, model.RoleDoctor, model.RoleAdmin, model.RoleUnassigned:
	default:
		return Caller{}, apperr.New(apperr.ErrUnauthenticated, op, fmt.Sprintf("unknown role %q", claims.Role))
	}
	return Caller{AccountID: id, Role: role}, nil
}

// Issue signs a token for c valid for ttl. Used by local tooling.
func (j *JWTResolver) Issue(c Caller, ttl time.Duration) (string, error) {
	if c.AccountID == uuid.Nil {
		return "", errors.New("identity: account id required")
	}
	now := j.now()
	claims := Claims{
		Role: string(c.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.AccountID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}
