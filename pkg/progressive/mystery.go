package progressive

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
	"sync"

	apperrors "github.com/Digital-Creators-Team/slot-progressives/errors"
	"github.com/Digital-Creators-Team/slot-progressives/logging"
	"github.com/Digital-Creators-Team/slot-progressives/persistence"
	"github.com/rs/zerolog"
)

const (
	mysteryBlockName = "ProgressiveMysteryProvider"
	mysteryValuesKey = "magicNumbers"
)

// MysteryProvider generates and stores the random trigger amount of mystery levels.
type MysteryProvider struct {
	mu     sync.Mutex
	block  *persistence.Block
	random io.Reader
	logger zerolog.Logger
}

// MysteryOption customizes a MysteryProvider.
type MysteryOption func(*MysteryProvider)

// WithRandomSource replaces crypto/rand, for tests.
func WithRandomSource(r io.Reader) MysteryOption {
	return func(m *MysteryProvider) { m.random = r }
}

// NewMysteryProvider creates a mystery provider over its own critical block.
func NewMysteryProvider(ctx context.Context, storage persistence.Storage, logger zerolog.Logger, opts ...MysteryOption) (*MysteryProvider, error) {
	block, err := storage.GetOrCreateBlock(ctx, mysteryBlockName, persistence.Critical)
	if err != nil {
		return nil, err
	}
	m := &MysteryProvider{
		block:  block,
		random: rand.Reader,
		logger: logging.WithComponent(logger, "mystery_provider"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// MysteryKey is the persistence key of a level's magic number: its assignment key when
// attached to a pool, otherwise pack|denoms|bet option|level id.
func MysteryKey(level *ProgressiveLevel) string {
	if level.AssignedProgressiveID.Key != "" {
		return level.AssignedProgressiveID.String()
	}
	denoms := make([]string, len(level.Denominations))
	for i, d := range level.Denominations {
		denoms[i] = strconv.FormatInt(d, 10)
	}
	return fmt.Sprintf("%s|%s|%s|%d", level.PackName, strings.Join(denoms, ","), level.BetOption, level.LevelID)
}

// SharedMysteryKey is the persistence key of a shared pool's magic number.
func SharedMysteryKey(id string) string {
	return AssignableProgressiveID{Type: AssignAssociativeSap, Key: id}.String()
}

// GenerateMagicNumber draws a trigger uniformly from [CurrentValue, MaximumValue] and stores it.
// When the pool is already at or above its ceiling the trigger is MaximumValue. A pool without
// a ceiling triggers at CurrentValue.
func (m *MysteryProvider) GenerateMagicNumber(ctx context.Context, key string, v PoolValue) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	trigger := v.MaximumValue
	if v.MaximumValue <= 0 {
		trigger = v.CurrentValue
	} else if span := v.MaximumValue - v.CurrentValue; span > 0 {
		n, err := rand.Int(m.random, big.NewInt(span+1))
		if err != nil {
			return 0, apperrors.Wrap(err, apperrors.ErrProgressiveIntegrity, "failed to draw mystery trigger")
		}
		trigger = v.CurrentValue + n.Int64()
	}

	numbers, err := m.load(ctx)
	if err != nil {
		return 0, err
	}
	numbers[key] = trigger
	if err := m.save(ctx, numbers); err != nil {
		return 0, err
	}

	m.logger.Debug().Str("key", key).Int64("current", v.CurrentValue).Int64("trigger", trigger).Msg("Mystery trigger generated")
	return trigger, nil
}

// TryGetMagicNumber returns the stored trigger, if any.
func (m *MysteryProvider) TryGetMagicNumber(ctx context.Context, key string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	numbers, err := m.load(ctx)
	if err != nil {
		return 0, false, err
	}
	n, ok := numbers[key]
	return n, ok, nil
}

// GetMagicNumber returns the stored trigger. A missing trigger is an integrity fault.
func (m *MysteryProvider) GetMagicNumber(ctx context.Context, key string) (int64, error) {
	n, ok, err := m.TryGetMagicNumber(ctx, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		m.logger.Error().Str("key", key).Msg("Mystery trigger missing at claim time")
		return 0, apperrors.Newf(apperrors.ErrMissingMagicNumber, "no mystery trigger stored for %s", key)
	}
	return n, nil
}

// CheckMysteryJackpot reports whether current has reached the stored trigger.
func (m *MysteryProvider) CheckMysteryJackpot(ctx context.Context, key string, current int64) (bool, error) {
	n, ok, err := m.TryGetMagicNumber(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	return current >= n, nil
}

// RemoveMagicNumber forgets the trigger stored under key.
func (m *MysteryProvider) RemoveMagicNumber(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	numbers, err := m.load(ctx)
	if err != nil {
		return err
	}
	if _, ok := numbers[key]; !ok {
		return nil
	}
	delete(numbers, key)
	return m.save(ctx, numbers)
}

func (m *MysteryProvider) load(ctx context.Context) (map[string]int64, error) {
	numbers, err := persistence.GetOrCreateValue[map[string]int64](ctx, m.block, mysteryValuesKey)
	if err != nil {
		return nil, err
	}
	if numbers == nil {
		numbers = make(map[string]int64)
	}
	return numbers, nil
}

func (m *MysteryProvider) save(ctx context.Context, numbers map[string]int64) error {
	tx := m.block.Transaction()
	if err := tx.SetValue(mysteryValuesKey, numbers); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
