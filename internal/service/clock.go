package service

import (
	"context"
	"time"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

type actionTimeKey struct{}

// WithActionTime pins the time observed by every step of one action.
func WithActionTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, actionTimeKey{}, t.UTC())
}

// ContextClock reads the action time from the context and falls back to
// the wall clock when none was pinned.
type ContextClock struct {
	Fallback func() time.Time
}

func (c ContextClock) Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(actionTimeKey{}).(time.Time); ok {
		return t
	}
	if c.Fallback != nil {
		return c.Fallback().UTC()
	}
	return time.Now().UTC()
}

var _ domain.Clock = ContextClock{}
