package provider

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	coreredis "github.com/Digital-Creators-Team/slot-progressives/db/redis"
	apperrors "github.com/Digital-Creators-Team/slot-progressives/errors"
	"github.com/Digital-Creators-Team/slot-progressives/logging"
	"github.com/coder/quartz"
	"github.com/rs/zerolog"
)

const disabledHashKey = "disabled"

// DisableReason is one active condition keeping the machine out of play.
type DisableReason struct {
	Key     string    `json:"key"`
	Message string    `json:"message"`
	Since   time.Time `json:"since"`
}

// DisableProvider implements providers.SystemDisabler. Reasons are kept in memory and mirrored to
// a Redis hash when a client is given, so operator tooling can read them.
type DisableProvider struct {
	mu      sync.RWMutex
	reasons map[string]DisableReason
	redis   *coreredis.Client
	hashKey string
	clock   quartz.Clock
	logger  zerolog.Logger
}

// NewDisableProvider creates a disabler. redisClient may be nil.
func NewDisableProvider(redisClient *coreredis.Client, keyPrefix string, clock quartz.Clock, logger zerolog.Logger) *DisableProvider {
	return &DisableProvider{
		reasons: make(map[string]DisableReason),
		redis:   redisClient,
		hashKey: keyPrefix + disabledHashKey,
		clock:   clock,
		logger:  logging.WithComponent(logger, "disable_provider"),
	}
}

// Disable records a reason. Raising the same key again keeps the original time.
func (p *DisableProvider) Disable(ctx context.Context, key, message string) error {
	p.mu.Lock()
	reason, exists := p.reasons[key]
	if !exists {
		reason = DisableReason{Key: key, Since: p.clock.Now().UTC()}
	}
	reason.Message = message
	p.reasons[key] = reason
	p.mu.Unlock()

	if !exists {
		p.logger.Warn().Str("key", key).Str("message", message).Msg("System disabled")
	}
	return p.mirror(ctx, reason)
}

// Enable clears a reason. Unknown keys are ignored.
func (p *DisableProvider) Enable(ctx context.Context, key string) error {
	p.mu.Lock()
	_, exists := p.reasons[key]
	delete(p.reasons, key)
	remaining := len(p.reasons)
	p.mu.Unlock()

	if !exists {
		return nil
	}
	p.logger.Info().Str("key", key).Int("remaining", remaining).Msg("Disable reason cleared")
	if p.redis == nil {
		return nil
	}
	if err := p.redis.HDel(ctx, p.hashKey, key); err != nil {
		return apperrors.Wrap(err, apperrors.ErrRedisError, "failed to clear disable reason")
	}
	return nil
}

// Disabled reports whether any reason is active.
func (p *DisableProvider) Disabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.reasons) > 0
}

// Reasons lists active reasons, oldest first.
func (p *DisableProvider) Reasons() []DisableReason {
	p.mu.RLock()
	out := make([]DisableReason, 0, len(p.reasons))
	for _, r := range p.reasons {
		out = append(out, r)
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Since.Equal(out[j].Since) {
			return out[i].Since.Before(out[j].Since)
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func (p *DisableProvider) mirror(ctx context.Context, reason DisableReason) error {
	if p.redis == nil {
		return nil
	}
	data, err := json.Marshal(reason)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrInternalServerError, "failed to marshal disable reason")
	}
	if err := p.redis.HSetMulti(ctx, []coreredis.HashWrite{{Key: p.hashKey, Field: reason.Key, Value: data}}); err != nil {
		return apperrors.Wrap(err, apperrors.ErrRedisError, "failed to store disable reason")
	}
	return nil
}
