// Package video is the adapter to the external video-conferencing provider.
package video

import (
	"context"
	"time"
)

// TokenOptions parametrize a join token.
type TokenOptions struct {
	Role     string
	ExpireAt time.Time
	// Data is opaque to the provider and echoed to other participants.
	Data string
}

// Provider creates sessions and join tokens.
type Provider interface {
	CreateSession(ctx context.Context) (string, error)
	GenerateToken(ctx context.Context, sessionID string, opts TokenOptions) (string, error)
}

// SessionReleaser is implemented by providers that can discard a session
// that will never be used.
type SessionReleaser interface {
	ReleaseSession(ctx context.Context, sessionID string) error
}

const RolePublisher = "publisher"
