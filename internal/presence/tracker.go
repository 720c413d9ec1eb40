package presence

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Mirror publishes local transitions to a shared store so other nodes can
// answer IsOnline for users connected elsewhere.
type Mirror interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
}

const mirrorTimeout = 500 * time.Millisecond

// Tracker is the local Registry plus an optional Mirror. Mirror failures are
// logged and never affect local state.
type Tracker struct {
	*Registry
	mirror Mirror
	log    *zap.Logger
}

func NewTracker(reg *Registry, mirror Mirror, log *zap.Logger) *Tracker {
	if reg == nil {
		reg = NewRegistry()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{Registry: reg, mirror: mirror, log: log}
}

// IsOnline is true when the user is connected here or, failing that, when
// the mirror says so.
func (t *Tracker) IsOnline(userID string) bool {
	if t.Registry.IsOnline(userID) {
		return true
	}
	if t.mirror == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	ok, err := t.mirror.IsOnline(ctx, userID)
	if err != nil {
		t.log.Debug("presence mirror lookup failed", zap.String("user_id", userID), zap.Error(err))
		return false
	}
	return ok
}

func (t *Tracker) MarkOnline(ctx context.Context, userID string) {
	if t.mirror == nil {
		return
	}
	if err := t.mirror.SetOnline(ctx, userID); err != nil {
		t.log.Warn("presence mirror set online", zap.String("user_id", userID), zap.Error(err))
	}
}

func (t *Tracker) MarkOffline(ctx context.Context, userID string) {
	if t.mirror == nil {
		return
	}
	if err := t.mirror.SetOffline(ctx, userID); err != nil {
		t.log.Warn("presence mirror set offline", zap.String("user_id", userID), zap.Error(err))
	}
}
