package video

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/consult-scheduling/internal/apperr"
	"github.com/hackgods/consult-scheduling/internal/metrics"
)

const attempts = 2

// Retrying bounds every provider call by a timeout and retries a failed
// call once. Failures surface as ExternalService errors.
type Retrying struct {
	next    Provider
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger
}

var (
	_ Provider        = (*Retrying)(nil)
	_ SessionReleaser = (*Retrying)(nil)
)

func WithRetry(next Provider, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Retrying {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrying{next: next, timeout: timeout, metrics: m, logger: logger}
}

func (r *Retrying) CreateSession(ctx context.Context) (string, error) {
	var id string
	err := r.do(ctx, "create_session", func(ctx context.Context) error {
		var err error
		id, err = r.next.CreateSession(ctx)
		return err
	})
	return id, err
}

func (r *Retrying) GenerateToken(ctx context.Context, sessionID string, opts TokenOptions) (string, error) {
	var token string
	err := r.do(ctx, "generate_token", func(ctx context.Context) error {
		var err error
		token, err = r.next.GenerateToken(ctx, sessionID, opts)
		return err
	})
	return token, err
}

// ReleaseSession is a single bounded attempt; providers without release
// support are a no-op.
func (r *Retrying) ReleaseSession(ctx context.Context, sessionID string) error {
	releaser, ok := r.next.(SessionReleaser)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	err := releaser.ReleaseSession(ctx, sessionID)
	r.metrics.ObserveVideoCall("release_session", time.Since(start), err)
	if err != nil {
		return apperr.External("video.ReleaseSession", err)
	}
	return nil
}

func (r *Retrying) do(ctx context.Context, op string, call func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
		start := time.Now()
		err = call(attemptCtx)
		cancel()
		r.metrics.ObserveVideoCall(op, time.Since(start), err)

		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		r.logger.Warn("video provider call failed",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	return apperr.External("video."+op, err)
}
