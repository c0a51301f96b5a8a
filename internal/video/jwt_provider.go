package video

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// JWTProvider is a self-contained provider: session IDs are random and join
// tokens are HS256 JWTs signed with the API secret, verifiable by a media
// server sharing that secret.
type JWTProvider struct {
	apiKey string
	secret []byte
	now    func() time.Time
}

type tokenClaims struct {
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	Data      string `json:"data,omitempty"`
	jwt.RegisteredClaims
}

func NewJWTProvider(apiKey, secret string) (*JWTProvider, error) {
	if secret == "" {
		return nil, errors.New("video: api secret required")
	}
	return &JWTProvider{apiKey: apiKey, secret: []byte(secret), now: time.Now}, nil
}

func (p *JWTProvider) CreateSession(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "sess_" + uuid.NewString(), nil
}

func (p *JWTProvider) GenerateToken(ctx context.Context, sessionID string, opts TokenOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if sessionID == "" {
		return "", errors.New("video: session id required")
	}

	now := p.now()
	claims := tokenClaims{
		SessionID: sessionID,
		Role:      opts.Role,
		Data:      opts.Data,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.apiKey,
			Subject:   sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(opts.ExpireAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
}
