package progressive

import (
	"testing"

	apperrors "github.com/Digital-Creators-Team/slot-progressives/errors"
	"github.com/Digital-Creators-Team/slot-progressives/events"
	"github.com/Digital-Creators-Team/slot-progressives/game"
	"github.com/Digital-Creators-Team/slot-progressives/persistence"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func level(t *testing.T, h *harness, deviceID int) ProgressiveLevel {
	t.Helper()
	l, err := h.levels.GetProgressiveLevel(deviceID)
	require.NoError(t, err)
	return l
}

func deviceIDs(levels []ProgressiveLevel) []int {
	return lo.Map(levels, func(l ProgressiveLevel, _ int) int { return l.DeviceID })
}

func TestActivateProgressiveLevels(t *testing.T) {
	h := newHarness(t, testManifest(), withMystery(WithRandomSource(zeroRandom{})))

	activated, err := h.game.ActivateProgressiveLevels(h.ctx, 7, 1000, "40L")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, deviceIDs(activated))
	for _, l := range activated {
		assert.Equal(t, StateActive, l.CurrentState)
	}

	trigger, err := h.mystery.GetMagicNumber(h.ctx, MysteryKey(&activated[1]))
	require.NoError(t, err)
	assert.Equal(t, int64(100_000), trigger, "mystery level gets a trigger on activation")
	assert.Equal(t, 1, h.runtime.refreshes)

	activated, err = h.game.ActivateProgressiveLevels(h.ctx, 7, 5000, "40L")
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, deviceIDs(activated))
	assert.Equal(t, StateReady, level(t, h, 1).CurrentState, "previous session is deactivated")

	deactivated := eventsOf[LevelsDeactivatedEvent](h.events)
	require.Len(t, deactivated, 1)
	assert.Equal(t, []int{1, 2}, deactivated[0].DeviceIDs)
	assert.Len(t, eventsOf[LevelsActivatedEvent](h.events), 2)

	active, err := h.game.GetActiveProgressiveLevels()
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, deviceIDs(active))

	activated, err = h.game.ActivateProgressiveLevels(h.ctx, 7, 1000, "80L")
	require.NoError(t, err)
	assert.Empty(t, activated, "no level plays that bet option")

	require.NoError(t, h.game.DeactivateProgressiveLevels(h.ctx))
	active, err = h.game.GetActiveProgressiveLevels()
	require.NoError(t, err)
	assert.Empty(t, active)
	require.NoError(t, h.game.DeactivateProgressiveLevels(h.ctx))
}

func TestIncrementRequiresActiveGame(t *testing.T) {
	h := newHarness(t, testManifest())

	err := h.game.IncrementProgressiveLevel(h.ctx, 1000, 0)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrConflict))
	err = h.game.SetProgressiveWagerAmounts(map[int]int64{1: 10})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrConflict))
	_, err = h.game.TriggerProgressiveLevel(h.ctx, "classic", []int{0})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrConflict))

	hits, err := h.game.CheckMysteryJackpot(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestIncrementProgressiveLevel(t *testing.T) {
	h := newHarness(t, testManifest())
	_, err := h.game.ActivateProgressiveLevels(h.ctx, 7, 1000, "40L")
	require.NoError(t, err)

	require.NoError(t, h.game.IncrementProgressiveLevel(h.ctx, 40_000, 0))
	assert.Equal(t, int64(1_000_400), level(t, h, 1).CurrentValue)
	assert.Equal(t, int64(100_200), level(t, h, 2).CurrentValue)
	assert.Equal(t, int64(1_000_000), level(t, h, 3).CurrentValue, "inactive levels are untouched")

	require.NoError(t, h.game.SetProgressiveWagerAmounts(map[int]int64{1: 100_000}))
	require.NoError(t, h.game.IncrementProgressiveLevel(h.ctx, 40_000, 0))
	assert.Equal(t, int64(1_001_400), level(t, h, 1).CurrentValue, "pre-declared wager replaces the round wager")
	assert.Equal(t, int64(100_400), level(t, h, 2).CurrentValue)

	require.NoError(t, h.game.IncrementProgressiveLevel(h.ctx, 40_000, 0))
	assert.Equal(t, int64(1_001_800), level(t, h, 1).CurrentValue, "pre-declared wager applies once")

	require.NoError(t, h.game.IncrementProgressiveLevelPack(h.ctx, "other", 40_000, 0))
	assert.Equal(t, int64(1_001_800), level(t, h, 1).CurrentValue)

	err = h.game.SetProgressiveWagerAmounts(map[int]int64{3: 1})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrLevelNotFound))
	err = h.game.SetProgressiveWagerAmounts(map[int]int64{1: -1})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidRequest))
	err = h.game.IncrementProgressiveLevel(h.ctx, -1, 0)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrInvalidRequest))

	assert.False(t, level(t, h, 1).CanEdit, "contributions lock standalone levels")
}

func TestStandaloneWinFlow(t *testing.T) {
	h := newHarness(t, testManifest())
	_, err := h.game.ActivateProgressiveLevels(h.ctx, 7, 1000, "40L")
	require.NoError(t, err)
	require.NoError(t, h.game.IncrementProgressiveLevel(h.ctx, 140_000, 0))
	require.Equal(t, int64(1_001_400), level(t, h, 1).CurrentValue)

	wins, err := h.game.TriggerProgressiveLevel(h.ctx, "classic", []int{0})
	require.NoError(t, err)
	require.Len(t, wins, 1)
	txID := wins[0]
	assert.Equal(t, []map[int]int64{{0: txID}}, h.runtime.wins)

	hits := eventsOf[ProgressiveHitEvent](h.events)
	require.Len(t, hits, 1)
	assert.False(t, hits[0].IsRecovery)
	assert.Equal(t, int64(1_001_400), hits[0].Transaction.ValueAtHit)
	assert.Equal(t, int64(1000), hits[0].Transaction.Denomination)

	// the standalone pool claims synchronously
	pending := h.game.PendingTransactions()
	require.Len(t, pending, 1)
	assert.Equal(t, TransactionPending, pending[0].State)
	assert.Equal(t, int64(1_001_000), pending[0].WinAmount)
	assert.Equal(t, PayCreditMeter, pending[0].PayMethod)
	grand := level(t, h, 1)
	assert.Equal(t, StateCommitted, grand.CurrentState)
	assert.Equal(t, int64(1_000_400), grand.CurrentValue, "sub-cent remainder carries into the next pool")

	require.NoError(t, h.game.SetProgressiveWin(h.ctx, txID, 1_001_000, PayCreditMeter), "same amount is a no-op")
	err = h.game.SetProgressiveWin(h.ctx, txID, 5, PayCreditMeter)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrClaimSequence))
	err = h.game.SetProgressiveWin(h.ctx, 999, 5, PayCreditMeter)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrTransactionNotFound))

	err = h.game.IncrementProgressiveLevel(h.ctx, 40_000, 0)
	require.NoError(t, err)

	failed, err := h.game.CommitProgressiveWin(h.ctx, []int64{txID, 999})
	require.NoError(t, err)
	assert.Equal(t, []int64{999}, failed)

	assert.Empty(t, h.game.PendingTransactions())
	assert.Equal(t, StateActive, level(t, h, 1).CurrentState)

	require.Len(t, h.history.records, 1)
	record := h.history.records[0]
	assert.Equal(t, txID, record.TransactionID)
	assert.Equal(t, int64(1_001_000), record.Amount)
	assert.Equal(t, "credit_meter", record.PayMethod)
	assert.Equal(t, "Grand", record.LevelName)

	committed := eventsOf[ProgressiveCommittedEvent](h.events)
	require.Len(t, committed, 1)
	assert.Equal(t, TransactionCommitted, committed[0].Transaction.State)

	failed, err = h.game.CommitProgressiveWin(h.ctx, []int64{txID})
	require.NoError(t, err)
	assert.Equal(t, []int64{txID}, failed, "committed transactions are pruned")
}

func TestCommitBeforeWinIsSet(t *testing.T) {
	h := newHarness(t, testManifest())
	addLinked(t, h, LinkedProgressiveLevel{LevelName: "Super", Amount: 2_000_000})
	_, err := h.config.AssignLevelsToGame(h.ctx, []LevelAssignment{
		{DeviceID: 1, Assigned: AssignableProgressiveID{Type: AssignLinked, Key: "Super"}},
	})
	require.NoError(t, err)
	_, err = h.game.ActivateProgressiveLevels(h.ctx, 7, 1000, "40L")
	require.NoError(t, err)

	wins, err := h.game.TriggerProgressiveLevel(h.ctx, "classic", []int{0})
	require.NoError(t, err)

	failed, err := h.game.CommitProgressiveWin(h.ctx, []int64{wins[0]})
	require.NoError(t, err)
	assert.Equal(t, []int64{wins[0]}, failed, "a hit without a win amount cannot be committed")
	assert.Equal(t, StateHit, level(t, h, 1).CurrentState)
}

func TestMysteryWinFlow(t *testing.T) {
	h := newHarness(t, testManifest(), withMystery(WithRandomSource(zeroRandom{})))
	_, err := h.game.ActivateProgressiveLevels(h.ctx, 7, 1000, "40L")
	require.NoError(t, err)
	require.NoError(t, h.game.IncrementProgressiveLevel(h.ctx, 80_000, 0))

	hits, err := h.game.CheckMysteryJackpot(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]int{"classic": {1}}, hits)

	wins, err := h.game.TriggerProgressiveLevel(h.ctx, "classic", hits["classic"])
	require.NoError(t, err)

	pending := h.game.PendingTransactions()
	require.Len(t, pending, 1)
	assert.Equal(t, wins[1], pending[0].TransactionID)
	assert.Equal(t, int64(100_000), pending[0].WinAmount, "pays the trigger")

	major := level(t, h, 2)
	assert.Equal(t, int64(100_400), major.CurrentValue)
	trigger, err := h.mystery.GetMagicNumber(h.ctx, MysteryKey(&major))
	require.NoError(t, err)
	assert.Equal(t, int64(100_400), trigger, "trigger regenerated after the claim")

	hits, err = h.game.CheckMysteryJackpot(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, hits, "levels with a win in progress are not reported")

	_, err = h.game.CommitProgressiveWin(h.ctx, []int64{wins[1]})
	require.NoError(t, err)
	assert.Equal(t, StateActive, level(t, h, 2).CurrentState)
}

func TestTriggerUnknownLevel(t *testing.T) {
	h := newHarness(t, testManifest())
	_, err := h.game.ActivateProgressiveLevels(h.ctx, 7, 1000, "40L")
	require.NoError(t, err)

	_, err = h.game.TriggerProgressiveLevel(h.ctx, "classic", []int{0, 5})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrLevelNotFound))
	assert.Empty(t, h.game.PendingTransactions(), "nothing opened when any level is unknown")
	assert.Equal(t, StateActive, level(t, h, 1).CurrentState)
}

func TestSharedWinFlow(t *testing.T) {
	h := newHarness(t, testManifest())
	shared, err := h.shared.AddSharedSapLevel(h.ctx, SharedSapLevel{
		ID:   uuid.NewString(),
		Name: "Bank Grand",
		PoolValue: PoolValue{
			InitialValue:  3_000_000,
			ResetValue:    3_000_000,
			IncrementRate: sapLevel(0, 0, 0, 2).IncrementRate,
		},
	})
	require.NoError(t, err)

	assigned := AssignableProgressiveID{Type: AssignAssociativeSap, Key: shared.ID}
	updated, err := h.config.AssignLevelsToGame(h.ctx, []LevelAssignment{
		{DeviceID: 1, Assigned: assigned},
		{DeviceID: 3, Assigned: assigned},
	})
	require.NoError(t, err)
	require.Len(t, updated, 2)
	assert.Equal(t, int64(3_000_000), updated[0].CurrentValue)
	assert.Equal(t, StateReady, updated[0].CurrentState)

	_, err = h.game.ActivateProgressiveLevels(h.ctx, 7, 1000, "40L")
	require.NoError(t, err)
	require.NoError(t, h.game.IncrementProgressiveLevel(h.ctx, 40_000, 0))

	pool, err := h.shared.ViewSharedSapLevel(shared.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3_000_800), pool.CurrentValue, "funded at the pool's rate")
	assert.Equal(t, int64(3_000_800), level(t, h, 1).CurrentValue)
	assert.Equal(t, int64(100_200), level(t, h, 2).CurrentValue)

	wins, err := h.game.TriggerProgressiveLevel(h.ctx, "classic", []int{0})
	require.NoError(t, err)

	awarded := eventsOf[SharedSapAwardedEvent](h.events)
	require.Len(t, awarded, 1)
	assert.Equal(t, int64(3_000_000), awarded[0].Amount)
	assert.Equal(t, int64(3_000_800), level(t, h, 1).CurrentValue, "level follows the pool after the claim")

	failed, err := h.game.CommitProgressiveWin(h.ctx, []int64{wins[0]})
	require.NoError(t, err)
	assert.Empty(t, failed)
	require.Len(t, h.history.records, 1)
	assert.Equal(t, int64(3_000_000), h.history.records[0].Amount)
}

func TestSharedPoolFundedOncePerWager(t *testing.T) {
	manifest := testManifest()
	manifest.Packs = append(manifest.Packs, game.ProgressivePack{
		ID:   2,
		Name: "bonus",
		Levels: []game.LevelDefinition{{
			LevelID: 0, Name: "Bonus", StartValue: 10_000, ResetValue: 10_000, IncrementRate: 1,
		}},
	})
	manifest.Games[0].ProgressivePacks = []string{"classic", "bonus"}

	h := newHarness(t, manifest)
	shared, err := h.shared.AddSharedSapLevel(h.ctx, sharedPool("Bank", 500_000, 500_000, 0))
	require.NoError(t, err)

	bonus := h.levels.GetProgressiveLevelsForGame(7, 1000, "bonus")
	require.Len(t, bonus, 1)

	assigned := AssignableProgressiveID{Type: AssignAssociativeSap, Key: shared.ID}
	_, err = h.config.AssignLevelsToGame(h.ctx, []LevelAssignment{
		{DeviceID: 1, Assigned: assigned},
		{DeviceID: bonus[0].DeviceID, Assigned: assigned},
	})
	require.NoError(t, err)

	_, err = h.game.ActivateProgressiveLevels(h.ctx, 7, 1000, "40L")
	require.NoError(t, err)
	require.NoError(t, h.game.IncrementProgressiveLevel(h.ctx, 10_000, 0))

	pool, err := h.shared.ViewSharedSapLevel(shared.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500_100), pool.CurrentValue)
	assert.Equal(t, int64(500_100), level(t, h, 1).CurrentValue)
	assert.Equal(t, int64(500_100), level(t, h, bonus[0].DeviceID).CurrentValue)
}

func TestLinkedWinFlow(t *testing.T) {
	h := newHarness(t, testManifest())
	addLinked(t, h, LinkedProgressiveLevel{LevelName: "Super", ProtocolName: "sas", Amount: 2_000_000})
	_, err := h.config.AssignLevelsToGame(h.ctx, []LevelAssignment{
		{DeviceID: 1, Assigned: AssignableProgressiveID{Type: AssignLinked, Key: "Super"}},
	})
	require.NoError(t, err)

	_, err = h.game.ActivateProgressiveLevels(h.ctx, 7, 1000, "40L")
	require.NoError(t, err)
	assert.Equal(t, int64(2_000_000), level(t, h, 1).CurrentValue)

	require.NoError(t, h.game.IncrementProgressiveLevel(h.ctx, 40_000, 0))
	assert.Equal(t, int64(2_000_000), level(t, h, 1).CurrentValue, "linked value only comes from the host")

	require.NoError(t, h.linked.UpdateLinkedProgressiveLevels(h.ctx, []LinkedLevelUpdate{{LevelName: "Super", Amount: 2_500_000}}))
	assert.Equal(t, int64(2_500_000), level(t, h, 1).CurrentValue)

	wins, err := h.game.TriggerProgressiveLevel(h.ctx, "classic", []int{0})
	require.NoError(t, err)
	txID := wins[0]

	super := linkedState(t, h, "Super")
	assert.Equal(t, ClaimHit, super.ClaimStatus.Status)
	assert.Equal(t, txID, super.ClaimStatus.TransactionID)
	assert.Equal(t, StateHit, level(t, h, 1).CurrentState)
	require.Len(t, h.game.PendingTransactions(), 1)
	assert.Equal(t, TransactionHit, h.game.PendingTransactions()[0].State)

	require.NoError(t, h.linked.ClaimAndAwardLinkedProgressiveLevel(h.ctx, "Super", AwardRecordedAmount, PayHandpay))
	pending := h.game.PendingTransactions()
	require.Len(t, pending, 1)
	assert.Equal(t, TransactionPending, pending[0].State)
	assert.Equal(t, int64(2_500_000), pending[0].WinAmount)
	assert.Equal(t, PayHandpay, pending[0].PayMethod)

	failed, err := h.game.CommitProgressiveWin(h.ctx, []int64{txID})
	require.NoError(t, err)
	assert.Empty(t, failed)

	assert.Equal(t, ClaimNone, linkedState(t, h, "Super").ClaimStatus.Status, "linked claim reset after commit")
	assert.Equal(t, StateActive, level(t, h, 1).CurrentState)
	require.Len(t, h.history.records, 1)
	assert.Equal(t, "handpay", h.history.records[0].PayMethod)
}

// restartedProviders is a second set of providers built over the backend of a harness.
type restartedProviders struct {
	game   *ProgressiveGameProvider
	levels *LevelProvider
	sap    *SapProvider
	shared *SharedSapProvider
	linked *LinkedProgressiveProvider
	events *recorder
}

// restart rebuilds every provider over the storage of h, as after a process restart.
func restart(t *testing.T, h *harness) *restartedProviders {
	t.Helper()

	store := persistence.NewStore(h.backend, zerolog.Nop())
	bus := events.NewBus(zerolog.Nop())
	r := &restartedProviders{events: record(bus)}

	mystery, err := NewMysteryProvider(h.ctx, store, zerolog.Nop())
	require.NoError(t, err)
	r.levels, err = NewLevelProvider(h.ctx, store, "", zerolog.Nop())
	require.NoError(t, err)
	r.linked, err = NewLinkedProgressiveProvider(h.ctx, store, bus, h.clock, LinkedOptions{}, zerolog.Nop())
	require.NoError(t, err)
	r.shared, err = NewSharedSapProvider(h.ctx, store, bus, mystery, zerolog.Nop())
	require.NoError(t, err)
	r.sap, err = NewSapProvider(h.ctx, store, bus, r.levels, mystery, zerolog.Nop())
	require.NoError(t, err)
	r.game, err = NewProgressiveGameProvider(h.ctx, GameProviderDeps{
		Storage: store,
		Bus:     bus,
		Clock:   h.clock,
		Levels:  r.levels,
		Sap:     r.sap,
		Shared:  r.shared,
		Linked:  r.linked,
		Mystery: mystery,
		History: &fakeHistory{},
	}, zerolog.Nop())
	require.NoError(t, err)

	t.Cleanup(func() {
		r.game.Dispose()
		r.linked.Dispose()
		r.shared.Dispose()
		r.sap.Dispose()
	})
	return r
}

func TestRecoverReplaysUnclaimedHits(t *testing.T) {
	h := newHarness(t, testManifest())
	addLinked(t, h, LinkedProgressiveLevel{LevelName: "Super", Amount: 2_000_000})
	_, err := h.config.AssignLevelsToGame(h.ctx, []LevelAssignment{
		{DeviceID: 1, Assigned: AssignableProgressiveID{Type: AssignLinked, Key: "Super"}},
	})
	require.NoError(t, err)
	_, err = h.game.ActivateProgressiveLevels(h.ctx, 7, 1000, "40L")
	require.NoError(t, err)

	wins, err := h.game.TriggerProgressiveLevel(h.ctx, "classic", []int{0})
	require.NoError(t, err)

	r := restart(t, h)
	restarted, rec, linked := r.game, r.events, r.linked

	pending := restarted.PendingTransactions()
	require.Len(t, pending, 1)
	assert.Equal(t, wins[0], pending[0].TransactionID)

	require.NoError(t, restarted.Recover(h.ctx))

	replayed := eventsOf[ProgressiveHitEvent](rec)
	require.Len(t, replayed, 1)
	assert.True(t, replayed[0].IsRecovery)
	assert.Empty(t, eventsOf[ProgressiveLockupEvent](rec), "replayed hit on an already hit linked level is ignored")
	assert.Empty(t, eventsOf[LinkedHitEvent](rec))

	require.NoError(t, linked.ClaimAndAwardLinkedProgressiveLevel(h.ctx, "Super", AwardRecordedAmount, PayCreditMeter))
	failed, err := restarted.CommitProgressiveWin(h.ctx, []int64{wins[0]})
	require.NoError(t, err)
	assert.Empty(t, failed)

	next, err := restarted.ActivateProgressiveLevels(h.ctx, 7, 1000, "40L")
	require.NoError(t, err)
	require.NotEmpty(t, next)
	more, err := restarted.TriggerProgressiveLevel(h.ctx, "classic", []int{1})
	require.NoError(t, err)
	assert.Greater(t, more[1], wins[0], "transaction ids keep increasing across restarts")
}

func TestRecoverPaysRecordedStandaloneAward(t *testing.T) {
	h := newHarness(t, testManifest())
	_, err := h.game.ActivateProgressiveLevels(h.ctx, 7, 1000, "40L")
	require.NoError(t, err)
	require.NoError(t, h.game.IncrementProgressiveLevel(h.ctx, 140_000, 0))

	// the pool claims but the process stops before the win reaches the transaction
	h.game.Dispose()
	wins, err := h.game.TriggerProgressiveLevel(h.ctx, "classic", []int{0})
	require.NoError(t, err)
	txID := wins[0]
	awarded := eventsOf[SapAwardedEvent](h.events)
	require.Len(t, awarded, 1)
	require.Equal(t, int64(1_001_000), awarded[0].Amount)
	require.Equal(t, int64(1_000_400), level(t, h, 1).CurrentValue)

	r := restart(t, h)
	pending := r.game.PendingTransactions()
	require.Len(t, pending, 1)
	require.Equal(t, TransactionHit, pending[0].State)

	require.NoError(t, r.game.Recover(h.ctx))

	replayed := eventsOf[SapAwardedEvent](r.events)
	require.Len(t, replayed, 1)
	assert.Equal(t, SapAwardedEvent{DeviceID: 1, TransactionID: txID, Amount: 1_001_000, PayMethod: PayCreditMeter}, replayed[0])

	pending = r.game.PendingTransactions()
	require.Len(t, pending, 1)
	assert.Equal(t, TransactionPending, pending[0].State)
	assert.Equal(t, int64(1_001_000), pending[0].WinAmount, "the recorded award is paid")

	grand, err := r.levels.GetProgressiveLevel(1)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_400), grand.CurrentValue, "the pool is not claimed twice")
	assert.Empty(t, eventsOf[ProgressiveLockupEvent](r.events))

	failed, err := r.game.CommitProgressiveWin(h.ctx, []int64{txID})
	require.NoError(t, err)
	assert.Empty(t, failed)
	_, ok, err := r.sap.awards.lookup(h.ctx, txID)
	require.NoError(t, err)
	assert.False(t, ok, "committed awards are dropped")
}

func TestRecoverPaysRecordedSharedAward(t *testing.T) {
	h := newHarness(t, testManifest())
	shared, err := h.shared.AddSharedSapLevel(h.ctx, sharedPool("Bank", 3_000_000, 3_000_000, 0))
	require.NoError(t, err)
	_, err = h.config.AssignLevelsToGame(h.ctx, []LevelAssignment{
		{DeviceID: 1, Assigned: AssignableProgressiveID{Type: AssignAssociativeSap, Key: shared.ID}},
	})
	require.NoError(t, err)
	_, err = h.game.ActivateProgressiveLevels(h.ctx, 7, 1000, "40L")
	require.NoError(t, err)
	require.NoError(t, h.game.IncrementProgressiveLevel(h.ctx, 40_000, 0))

	h.game.Dispose()
	wins, err := h.game.TriggerProgressiveLevel(h.ctx, "classic", []int{0})
	require.NoError(t, err)
	txID := wins[0]
	awarded := eventsOf[SharedSapAwardedEvent](h.events)
	require.Len(t, awarded, 1)
	require.Equal(t, int64(3_000_000), awarded[0].Amount)

	r := restart(t, h)
	pool, err := r.shared.ViewSharedSapLevel(shared.ID)
	require.NoError(t, err)
	require.Equal(t, int64(3_000_400), pool.CurrentValue)

	require.NoError(t, r.game.Recover(h.ctx))

	replayed := eventsOf[SharedSapAwardedEvent](r.events)
	require.Len(t, replayed, 1)
	assert.Equal(t, int64(3_000_000), replayed[0].Amount)

	pending := r.game.PendingTransactions()
	require.Len(t, pending, 1)
	assert.Equal(t, int64(3_000_000), pending[0].WinAmount)

	pool, err = r.shared.ViewSharedSapLevel(shared.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3_000_400), pool.CurrentValue, "the pool is not claimed twice")

	failed, err := r.game.CommitProgressiveWin(h.ctx, []int64{txID})
	require.NoError(t, err)
	assert.Empty(t, failed)
	_, ok, err := r.shared.awards.lookup(h.ctx, txID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFailedWagerRestoresSharedPool(t *testing.T) {
	h := newHarness(t, testManifest())
	shared, err := h.shared.AddSharedSapLevel(h.ctx, sharedPool("Bank", 500_000, 500_000, 0))
	require.NoError(t, err)
	_, err = h.config.AssignLevelsToGame(h.ctx, []LevelAssignment{
		{DeviceID: 1, Assigned: AssignableProgressiveID{Type: AssignAssociativeSap, Key: shared.ID}},
	})
	require.NoError(t, err)
	_, err = h.game.ActivateProgressiveLevels(h.ctx, 7, 1000, "40L")
	require.NoError(t, err)

	// Major is funded after the shared pool and fails, discarding the whole wager
	_, err = h.levels.UpdateProgressiveLevels(h.ctx, []int{2}, func(l *ProgressiveLevel) error {
		l.FundingType = FundingType(42)
		return nil
	})
	require.NoError(t, err)

	err = h.game.IncrementProgressiveLevel(h.ctx, 10_000, 0)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrNotSupported))

	pool, err := h.shared.ViewSharedSapLevel(shared.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500_000), pool.CurrentValue)
	assert.True(t, pool.CanEdit, "the discarded contribution did not lock the pool")
	assert.Equal(t, int64(500_000), level(t, h, 1).CurrentValue)
}

func TestRetriggerReusesOpenTransaction(t *testing.T) {
	h := newHarness(t, testManifest())
	addLinked(t, h, LinkedProgressiveLevel{LevelName: "Super", Amount: 2_000_000})
	_, err := h.config.AssignLevelsToGame(h.ctx, []LevelAssignment{
		{DeviceID: 1, Assigned: AssignableProgressiveID{Type: AssignLinked, Key: "Super"}},
	})
	require.NoError(t, err)
	_, err = h.game.ActivateProgressiveLevels(h.ctx, 7, 1000, "40L")
	require.NoError(t, err)

	first, err := h.game.TriggerProgressiveLevel(h.ctx, "classic", []int{0})
	require.NoError(t, err)
	second, err := h.game.TriggerProgressiveLevel(h.ctx, "classic", []int{0})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, h.game.PendingTransactions(), 1)
	hits := eventsOf[ProgressiveHitEvent](h.events)
	require.Len(t, hits, 2)
	assert.True(t, hits[1].IsRecovery)
	assert.Empty(t, eventsOf[ProgressiveLockupEvent](h.events))
}

func TestSelectTiers(t *testing.T) {
	tier := func(id, credits int) ProgressiveLevel {
		return ProgressiveLevel{DeviceID: id, PackName: "classic", LevelID: 0, WagerCredits: credits}
	}
	levels := []ProgressiveLevel{tier(1, 40), tier(2, 80), tier(3, 160), {DeviceID: 4, PackName: "classic", LevelID: 1}}

	tests := []struct {
		name  string
		wager int64
		want  []int
	}{
		{"below every tier picks the lowest", 10_000, []int{1, 4}},
		{"exact tier", 80_000, []int{2, 4}},
		{"between tiers picks the highest reached", 120_000, []int{2, 4}},
		{"above every tier", 500_000, []int{3, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, deviceIDs(selectTiers(levels, tt.wager, 1000)))
		})
	}
}
