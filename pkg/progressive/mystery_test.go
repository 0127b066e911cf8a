package progressive

import (
	"context"
	"testing"

	apperrors "github.com/Digital-Creators-Team/slot-progressives/errors"
	"github.com/Digital-Creators-Team/slot-progressives/persistence"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMystery(t *testing.T, store *persistence.Store, opts ...MysteryOption) *MysteryProvider {
	t.Helper()
	m, err := NewMysteryProvider(context.Background(), store, zerolog.Nop(), opts...)
	require.NoError(t, err)
	return m
}

func TestGenerateMagicNumberRange(t *testing.T) {
	ctx := context.Background()
	m := newMystery(t, persistence.NewStore(persistence.NewMemoryBackend(), zerolog.Nop()))

	v := PoolValue{CurrentValue: 100_000, MaximumValue: 101_000}
	for range 200 {
		n, err := m.GenerateMagicNumber(ctx, "k", v)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, v.CurrentValue)
		assert.LessOrEqual(t, n, v.MaximumValue)

		stored, err := m.GetMagicNumber(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, n, stored)
	}
}

func TestGenerateMagicNumberAtCeiling(t *testing.T) {
	ctx := context.Background()
	m := newMystery(t, persistence.NewStore(persistence.NewMemoryBackend(), zerolog.Nop()))

	n, err := m.GenerateMagicNumber(ctx, "flat", PoolValue{CurrentValue: 5000, MaximumValue: 5000})
	require.NoError(t, err)
	assert.Equal(t, int64(5000), n)

	n, err = m.GenerateMagicNumber(ctx, "above", PoolValue{CurrentValue: 6000, MaximumValue: 5000})
	require.NoError(t, err)
	assert.Equal(t, int64(5000), n)
}

func TestGenerateMagicNumberWithoutCeiling(t *testing.T) {
	ctx := context.Background()
	m := newMystery(t, persistence.NewStore(persistence.NewMemoryBackend(), zerolog.Nop()))

	n, err := m.GenerateMagicNumber(ctx, "open", PoolValue{CurrentValue: 100_000})
	require.NoError(t, err)
	assert.Equal(t, int64(100_000), n)

	hit, err := m.CheckMysteryJackpot(ctx, "open", 99_999)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestGenerateMagicNumberWithRandomSource(t *testing.T) {
	ctx := context.Background()
	m := newMystery(t, persistence.NewStore(persistence.NewMemoryBackend(), zerolog.Nop()), WithRandomSource(zeroRandom{}))

	n, err := m.GenerateMagicNumber(ctx, "k", PoolValue{CurrentValue: 1234, MaximumValue: 99_999})
	require.NoError(t, err)
	assert.Equal(t, int64(1234), n)

	hit, err := m.CheckMysteryJackpot(ctx, "k", 1233)
	require.NoError(t, err)
	assert.False(t, hit)

	hit, err = m.CheckMysteryJackpot(ctx, "k", 1234)
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestMissingMagicNumber(t *testing.T) {
	ctx := context.Background()
	m := newMystery(t, persistence.NewStore(persistence.NewMemoryBackend(), zerolog.Nop()))

	_, err := m.GetMagicNumber(ctx, "nope")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrMissingMagicNumber))
	assert.True(t, apperrors.IsFatal(err))

	hit, err := m.CheckMysteryJackpot(ctx, "nope", 1<<40)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, m.RemoveMagicNumber(ctx, "nope"))
}

func TestMagicNumberSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	backend := persistence.NewMemoryBackend()

	first := newMystery(t, persistence.NewStore(backend, zerolog.Nop()))
	n, err := first.GenerateMagicNumber(ctx, "k", PoolValue{CurrentValue: 10, MaximumValue: 10_000})
	require.NoError(t, err)

	second := newMystery(t, persistence.NewStore(backend, zerolog.Nop()))
	stored, err := second.GetMagicNumber(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, n, stored)

	require.NoError(t, second.RemoveMagicNumber(ctx, "k"))
	_, ok, err := second.TryGetMagicNumber(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMagicNumberDiscardedWithScope(t *testing.T) {
	store := persistence.NewStore(persistence.NewMemoryBackend(), zerolog.Nop())
	m := newMystery(t, store)

	ctx, scope := store.ScopedTransaction(context.Background())
	_, err := m.GenerateMagicNumber(ctx, "k", PoolValue{CurrentValue: 10, MaximumValue: 20})
	require.NoError(t, err)

	_, ok, err := m.TryGetMagicNumber(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok, "visible inside the scope")

	scope.Close()

	_, ok, err = m.TryGetMagicNumber(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok, "discarded with the scope")
}

func TestMysteryKey(t *testing.T) {
	level := &ProgressiveLevel{PackName: "classic", Denominations: []int64{1000, 5000}, BetOption: "40L", LevelID: 1}
	assert.Equal(t, "classic|1000,5000|40L|1", MysteryKey(level))

	level.AssignedProgressiveID = AssignableProgressiveID{Type: AssignAssociativeSap, Key: "pool-1"}
	assert.Equal(t, "associative_sap:pool-1", MysteryKey(level))
	assert.Equal(t, MysteryKey(level), SharedMysteryKey("pool-1"))
}
