package progressive

import (
	"context"
	"errors"
	"testing"

	apperrors "github.com/Digital-Creators-Team/slot-progressives/errors"
	"github.com/Digital-Creators-Team/slot-progressives/game"
	"github.com/Digital-Creators-Team/slot-progressives/persistence"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLevels(t *testing.T, backend *persistence.MemoryBackend, policy PoolCreationPolicy, manifest *game.Manifest) *LevelProvider {
	t.Helper()
	p, err := NewLevelProvider(context.Background(), persistence.NewStore(backend, zerolog.Nop()), policy, zerolog.Nop())
	require.NoError(t, err)
	if manifest != nil {
		require.NoError(t, p.LoadProgressiveLevels(context.Background(), manifest))
	}
	return p
}

func TestLoadProgressiveLevels(t *testing.T) {
	p := newLevels(t, persistence.NewMemoryBackend(), "", testManifest())

	levels := p.GetProgressiveLevels()
	require.Len(t, levels, 4)

	type shape struct {
		device int
		name   string
		denom  int64
	}
	got := lo.Map(levels, func(l ProgressiveLevel, _ int) shape {
		return shape{l.DeviceID, l.LevelName, l.Denominations[0]}
	})
	assert.Equal(t, []shape{
		{1, "Grand", 1000},
		{2, "Major", 1000},
		{3, "Grand", 5000},
		{4, "Major", 5000},
	}, got)

	major := levels[1]
	assert.Equal(t, TriggerMystery, major.TriggerControl)
	assert.Equal(t, "40L", major.BetOption)
	assert.Equal(t, StateInit, major.CurrentState)
	assert.True(t, major.CanEdit)
	assert.Equal(t, int64(100_000), major.CurrentValue)
	assert.Equal(t, "0.5", major.IncrementRate.String())
}

func TestLoadProgressiveLevelsPolicies(t *testing.T) {
	manifest := testManifest()
	manifest.Games[0].WagerCategories = []game.WagerCategory{{Credits: 80}, {Credits: 40}, {Credits: 80}}

	tests := []struct {
		name    string
		policy  PoolCreationPolicy
		mutate  func(*game.Manifest)
		count   int
		wagers  []int
		options []string
	}{
		{name: "default", policy: PoolCreationDefault, count: 4, wagers: []int{0}, options: []string{"40L"}},
		{name: "wager based all", policy: PoolCreationWagerBasedAll, count: 8, wagers: []int{40, 80}, options: []string{""}},
		{name: "wager based max", policy: PoolCreationWagerBasedMax, count: 4, wagers: []int{80}, options: []string{""}},
		{
			name:   "pack shared by all denominations",
			policy: PoolCreationWagerBasedAll,
			mutate: func(m *game.Manifest) { m.Packs[0].CreationType = game.PackCreationAll },
			count:  2, wagers: []int{0}, options: []string{""},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := *manifest
			m.Packs = append([]game.ProgressivePack(nil), manifest.Packs...)
			if tt.mutate != nil {
				tt.mutate(&m)
			}

			levels := newLevels(t, persistence.NewMemoryBackend(), tt.policy, &m).GetProgressiveLevels()
			assert.Len(t, levels, tt.count)
			assert.ElementsMatch(t, tt.wagers, lo.Uniq(lo.Map(levels, func(l ProgressiveLevel, _ int) int { return l.WagerCredits })))
			assert.ElementsMatch(t, tt.options, lo.Uniq(lo.Map(levels, func(l ProgressiveLevel, _ int) string { return l.BetOption })))
			ids := lo.Map(levels, func(l ProgressiveLevel, _ int) int { return l.DeviceID })
			assert.Len(t, lo.Uniq(ids), len(ids), "device ids are unique")
		})
	}
}

func TestLoadProgressiveLevelsAllDenominations(t *testing.T) {
	manifest := testManifest()
	manifest.Packs[0].CreationType = game.PackCreationAll

	p := newLevels(t, persistence.NewMemoryBackend(), "", manifest)
	levels := p.GetProgressiveLevelsForGame(7, 5000, "classic")
	require.Len(t, levels, 2)
	assert.Equal(t, []int64{1000, 5000}, levels[0].Denominations)
	assert.Len(t, p.GetProgressiveLevelsForGame(7, 1000, ""), 2)
}

func TestLoadProgressiveLevelsStableAcrossRestart(t *testing.T) {
	ctx := context.Background()
	backend := persistence.NewMemoryBackend()

	first := newLevels(t, backend, "", testManifest())
	_, err := first.UpdateProgressiveLevels(ctx, []int{3}, func(l *ProgressiveLevel) error {
		l.CurrentValue = 1_234_567
		l.Residual = 42
		l.CurrentState = StateReady
		return nil
	})
	require.NoError(t, err)

	manifest := testManifest()
	manifest.Packs[0].Levels[0].ResetValue = 900_000
	manifest.Packs[0].Levels[0].IncrementRate = 2

	second := newLevels(t, backend, "", manifest)
	levels := second.GetProgressiveLevels()
	require.Len(t, levels, 4)

	grand, err := second.GetProgressiveLevel(3)
	require.NoError(t, err)
	assert.Equal(t, "Grand", grand.LevelName)
	assert.Equal(t, int64(5000), grand.Denominations[0])
	assert.Equal(t, int64(1_234_567), grand.CurrentValue, "accumulated value survives")
	assert.Equal(t, int64(42), grand.Residual)
	assert.Equal(t, StateReady, grand.CurrentState)
	assert.Equal(t, int64(900_000), grand.ResetValue, "editable level takes the new configuration")
	assert.Equal(t, "2", grand.IncrementRate.String())
}

func TestLoadProgressiveLevelsKeepsLockedConfiguration(t *testing.T) {
	ctx := context.Background()
	backend := persistence.NewMemoryBackend()

	first := newLevels(t, backend, "", testManifest())
	_, err := first.UpdateProgressiveLevels(ctx, []int{1}, func(l *ProgressiveLevel) error {
		return StandardCalculator{}.Increment(l, 1000, 0)
	})
	require.NoError(t, err)

	manifest := testManifest()
	manifest.Packs[0].Levels[0].ResetValue = 900_000

	second := newLevels(t, backend, "", manifest)
	grand, err := second.GetProgressiveLevel(1)
	require.NoError(t, err)
	assert.False(t, grand.CanEdit)
	assert.Equal(t, int64(1_000_000), grand.ResetValue, "locked level keeps its configuration")
	assert.Equal(t, int64(1_000_010), grand.CurrentValue)

	other, err := second.GetProgressiveLevel(3)
	require.NoError(t, err)
	assert.Equal(t, int64(900_000), other.ResetValue)
}

func TestLoadProgressiveLevelsRetainsRemovedGames(t *testing.T) {
	backend := persistence.NewMemoryBackend()
	newLevels(t, backend, "", testManifest())

	manifest := testManifest()
	manifest.Games = nil
	p := newLevels(t, backend, "", manifest)
	assert.Len(t, p.GetProgressiveLevels(), 4)

	p = newLevels(t, backend, "", testManifest())
	assert.Len(t, p.GetProgressiveLevels(), 4, "no duplicates after the game returns")
}

func TestLoadProgressiveLevelsRejectsBadManifest(t *testing.T) {
	manifest := testManifest()
	manifest.Games[0].ProgressivePacks = []string{"missing"}
	p := newLevels(t, persistence.NewMemoryBackend(), "", nil)
	err := p.LoadProgressiveLevels(context.Background(), manifest)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrProgressiveIntegrity))

	manifest = testManifest()
	manifest.Packs[0].Levels[1].TriggerControl = "sometimes"
	err = p.LoadProgressiveLevels(context.Background(), manifest)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrProgressiveIntegrity))
	assert.Empty(t, p.GetProgressiveLevels())
}

func TestGetProgressiveLevelsForGame(t *testing.T) {
	p := newLevels(t, persistence.NewMemoryBackend(), "", testManifest())

	ids := func(levels []ProgressiveLevel) []int {
		return lo.Map(levels, func(l ProgressiveLevel, _ int) int { return l.DeviceID })
	}
	assert.Equal(t, []int{3, 4}, ids(p.GetProgressiveLevelsForGame(7, 5000, "")))
	assert.Equal(t, []int{1, 2}, ids(p.GetProgressiveLevelsForGame(7, 1000, "classic")))
	assert.Empty(t, p.GetProgressiveLevelsForGame(7, 1000, "other"))
	assert.Empty(t, p.GetProgressiveLevelsForGame(8, 1000, ""))

	_, err := p.GetProgressiveLevel(99)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrLevelNotFound))
}

func TestUpdateProgressiveLevels(t *testing.T) {
	ctx := context.Background()
	p := newLevels(t, persistence.NewMemoryBackend(), "", testManifest())

	updated, err := p.UpdateProgressiveLevels(ctx, []int{4, 2, 4}, func(l *ProgressiveLevel) error {
		l.CurrentState = StateReady
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{4, 2}, lo.Map(updated, func(l ProgressiveLevel, _ int) int { return l.DeviceID }))

	level, err := p.GetProgressiveLevel(2)
	require.NoError(t, err)
	assert.Equal(t, StateReady, level.CurrentState)

	updated, err = p.UpdateProgressiveLevels(ctx, nil, func(*ProgressiveLevel) error { return nil })
	require.NoError(t, err)
	assert.Nil(t, updated)
}

func TestUpdateProgressiveLevelsFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	backend := persistence.NewMemoryBackend()
	p := newLevels(t, backend, "", testManifest())
	before := p.GetProgressiveLevels()

	boom := errors.New("boom")
	calls := 0
	_, err := p.UpdateProgressiveLevels(ctx, []int{1, 2}, func(l *ProgressiveLevel) error {
		calls++
		if l.DeviceID == 2 {
			return boom
		}
		l.CurrentValue = 1
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
	assert.Equal(t, before, p.GetProgressiveLevels())

	_, err = p.UpdateProgressiveLevels(ctx, []int{1, 99}, func(*ProgressiveLevel) error { return nil })
	assert.True(t, apperrors.HasCode(err, apperrors.ErrLevelNotFound))

	_, err = p.UpdateProgressiveLevels(ctx, []int{1}, func(l *ProgressiveLevel) error {
		l.BetOption = "80L"
		return nil
	})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrProgressiveIntegrity))

	_, err = p.UpdateProgressiveLevels(ctx, []int{1}, func(l *ProgressiveLevel) error {
		l.Residual = Divisor
		return nil
	})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrProgressiveIntegrity))

	assert.Equal(t, before, p.GetProgressiveLevels())

	reloaded, err := newLevels(t, backend, "", nil).GetProgressiveLevel(1)
	require.NoError(t, err)
	assert.Equal(t, "Grand", reloaded.LevelName)
	assert.Equal(t, "40L", reloaded.BetOption, "nothing was persisted")
	assert.Equal(t, int64(1_000_000), reloaded.CurrentValue)
}

func TestUpdateProgressiveLevelsJoinsScope(t *testing.T) {
	backend := persistence.NewMemoryBackend()
	store := persistence.NewStore(backend, zerolog.Nop())
	p, err := NewLevelProvider(context.Background(), store, "", zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, p.LoadProgressiveLevels(context.Background(), testManifest()))

	ctx, scope := store.ScopedTransaction(context.Background())
	_, err = p.UpdateProgressiveLevels(ctx, []int{1}, func(l *ProgressiveLevel) error {
		l.CurrentValue = 7
		return nil
	})
	require.NoError(t, err)
	scope.Close()

	reloaded := newLevels(t, backend, "", nil)
	level, err := reloaded.GetProgressiveLevel(1)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), level.CurrentValue, "discarded scope never reached the backend")
}
