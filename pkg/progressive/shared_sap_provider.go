package progressive

import (
	"context"
	"sort"
	"sync"

	apperrors "github.com/Digital-Creators-Team/slot-progressives/errors"
	"github.com/Digital-Creators-Team/slot-progressives/events"
	"github.com/Digital-Creators-Team/slot-progressives/logging"
	"github.com/Digital-Creators-Team/slot-progressives/persistence"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const (
	sharedBlockName = "SharedSapProvider"
	sharedValuesKey = "levels"
)

// SharedSapProvider owns the GUID keyed index of shared pools.
type SharedSapProvider struct {
	// mu guards levels. Hits hold it across their whole storage scope.
	mu      sync.Mutex
	storage persistence.Storage
	block   *persistence.Block
	awards  *awardLedger
	bus     *events.Bus
	mystery *MysteryProvider
	levels  map[string]SharedSapLevel
	logger  zerolog.Logger
}

// sharedThresholdChange collects flag transitions to publish once the lock is released.
type sharedThresholdChange struct {
	raised  []SharedSapLevel
	cleared []SharedSapLevel
}

func (c *sharedThresholdChange) publish(bus *events.Bus) {
	if len(c.raised) > 0 {
		bus.Publish(MinimumThresholdErrorEvent{Levels: c.raised})
	}
	if len(c.cleared) > 0 {
		bus.Publish(MinimumThresholdClearedEvent{Levels: c.cleared})
	}
}

// NewSharedSapProvider loads the persisted shared pools and subscribes to hit and commit events.
func NewSharedSapProvider(ctx context.Context, storage persistence.Storage, bus *events.Bus, mystery *MysteryProvider, logger zerolog.Logger) (*SharedSapProvider, error) {
	block, err := storage.GetOrCreateBlock(ctx, sharedBlockName, persistence.Critical)
	if err != nil {
		return nil, err
	}
	persisted, err := persistence.GetOrCreateValue[map[string]SharedSapLevel](ctx, block, sharedValuesKey)
	if err != nil {
		return nil, err
	}
	if persisted == nil {
		persisted = make(map[string]SharedSapLevel)
	}
	awards, err := newAwardLedger(ctx, storage, sharedBlockName)
	if err != nil {
		return nil, err
	}

	s := &SharedSapProvider{
		storage: storage,
		block:   block,
		awards:  awards,
		bus:     bus,
		mystery: mystery,
		levels:  persisted,
		logger:  logging.WithComponent(logger, "shared_sap_provider"),
	}
	events.Subscribe(bus, s, s.onHit)
	events.Subscribe(bus, s, s.onCommitted)
	return s, nil
}

// AddSharedSapLevel registers a new shared pool. An empty ID gets a fresh GUID.
func (s *SharedSapProvider) AddSharedSapLevel(ctx context.Context, level SharedSapLevel) (SharedSapLevel, error) {
	if level.ID == "" {
		level.ID = uuid.NewString()
	} else if _, err := uuid.Parse(level.ID); err != nil {
		return SharedSapLevel{}, apperrors.Wrap(err, apperrors.ErrInvalidAssignment, "shared pool id must be a GUID")
	}
	if err := validatePool(&level.PoolValue, level.TriggerControl); err != nil {
		return SharedSapLevel{}, err
	}
	if level.CurrentValue == 0 {
		level.CurrentValue = level.InitialValue
	}
	level.CanEdit = true

	var change sharedThresholdChange

	s.mu.Lock()
	if _, exists := s.levels[level.ID]; exists {
		s.mu.Unlock()
		return SharedSapLevel{}, apperrors.Newf(apperrors.ErrInvalidAssignment, "shared pool %s already exists", level.ID)
	}
	level.CurrentErrorStatus = 0
	updateThreshold(&level, &change)

	levels := lo.Assign(s.levels, map[string]SharedSapLevel{level.ID: level})
	if err := s.save(ctx, levels); err != nil {
		s.mu.Unlock()
		return SharedSapLevel{}, err
	}
	s.levels = levels
	s.mu.Unlock()

	if level.TriggerControl == TriggerMystery {
		if _, err := s.mystery.GenerateMagicNumber(ctx, SharedMysteryKey(level.ID), level.PoolValue); err != nil {
			return SharedSapLevel{}, err
		}
	}

	s.logger.Info().Str("shared_id", level.ID).Str("name", level.Name).Msg("Shared pool added")
	s.bus.Publish(SharedSapLevelsAddedEvent{Levels: []SharedSapLevel{level}})
	change.publish(s.bus)
	return level, nil
}

// UpdateSharedSapLevel replaces a shared pool's configuration. Once contributions have
// started only CurrentValue and the error flags may change.
func (s *SharedSapProvider) UpdateSharedSapLevel(ctx context.Context, update SharedSapLevel) (SharedSapLevel, error) {
	var change sharedThresholdChange

	s.mu.Lock()
	existing, ok := s.levels[update.ID]
	if !ok {
		s.mu.Unlock()
		return SharedSapLevel{}, apperrors.Newf(apperrors.ErrLevelNotFound, "shared pool %s not found", update.ID)
	}

	next := existing
	if existing.CanEdit {
		if err := validatePool(&update.PoolValue, update.TriggerControl); err != nil {
			s.mu.Unlock()
			return SharedSapLevel{}, err
		}
		next = update
		next.CanEdit = true
		next.AutoGenerated = existing.AutoGenerated
		next.OverflowTotal = existing.OverflowTotal
		next.HiddenTotal = existing.HiddenTotal
	} else {
		next.CurrentValue = update.CurrentValue
		next.CurrentErrorStatus = update.CurrentErrorStatus
	}
	updateThreshold(&next, &change)

	levels := lo.Assign(s.levels, map[string]SharedSapLevel{next.ID: next})
	if err := s.save(ctx, levels); err != nil {
		s.mu.Unlock()
		return SharedSapLevel{}, err
	}
	s.levels = levels
	s.mu.Unlock()

	s.bus.Publish(SharedSapLevelsUpdatedEvent{Levels: []SharedSapLevel{next}})
	change.publish(s.bus)
	return next, nil
}

// RemoveSharedSapLevel deletes a shared pool and its mystery trigger.
func (s *SharedSapProvider) RemoveSharedSapLevel(ctx context.Context, id string) error {
	s.mu.Lock()
	if _, ok := s.levels[id]; !ok {
		s.mu.Unlock()
		return apperrors.Newf(apperrors.ErrLevelNotFound, "shared pool %s not found", id)
	}
	levels := lo.OmitByKeys(s.levels, []string{id})
	if err := s.save(ctx, levels); err != nil {
		s.mu.Unlock()
		return err
	}
	s.levels = levels
	s.mu.Unlock()

	if err := s.mystery.RemoveMagicNumber(ctx, SharedMysteryKey(id)); err != nil {
		return err
	}
	s.bus.Publish(SharedSapLevelsRemovedEvent{IDs: []string{id}})
	return nil
}

// ViewSharedSapLevels returns every shared pool ordered by name.
func (s *SharedSapProvider) ViewSharedSapLevels() []SharedSapLevel {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := lo.Values(s.levels)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ViewSharedSapLevel returns one shared pool.
func (s *SharedSapProvider) ViewSharedSapLevel(id string) (SharedSapLevel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	level, ok := s.levels[id]
	if !ok {
		return SharedSapLevel{}, apperrors.Newf(apperrors.ErrLevelNotFound, "shared pool %s not found", id)
	}
	return level, nil
}

// Increment contributes to a shared pool and returns its new state.
func (s *SharedSapProvider) Increment(ctx context.Context, id string, wager, ante int64) (SharedSapLevel, error) {
	var change sharedThresholdChange

	s.mu.Lock()
	level, ok := s.levels[id]
	if !ok {
		s.mu.Unlock()
		return SharedSapLevel{}, apperrors.Newf(apperrors.ErrLevelNotFound, "shared pool %s not found", id)
	}
	calc, err := CalculatorFor(level.FundingType)
	if err == nil {
		err = calc.Increment(&level, wager, ante)
	}
	if err != nil {
		s.mu.Unlock()
		return SharedSapLevel{}, err
	}
	updateThreshold(&level, &change)

	levels := lo.Assign(s.levels, map[string]SharedSapLevel{id: level})
	if err := s.save(ctx, levels); err != nil {
		s.mu.Unlock()
		return SharedSapLevel{}, err
	}
	s.levels = levels
	s.mu.Unlock()

	change.publish(s.bus)
	return level, nil
}

// ProcessHit claims a shared pool, regenerates its mystery trigger and persists it.
func (s *SharedSapProvider) ProcessHit(ctx context.Context, id string) (int64, error) {
	var change sharedThresholdChange

	s.mu.Lock()
	levels, amount, err := s.claim(ctx, id, &change)
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}
	s.levels = levels
	s.mu.Unlock()

	change.publish(s.bus)
	return amount, nil
}

// claim writes the claimed pool into ctx and returns the next index without installing it.
// Expects s.mu to be held.
func (s *SharedSapProvider) claim(ctx context.Context, id string, change *sharedThresholdChange) (map[string]SharedSapLevel, int64, error) {
	level, ok := s.levels[id]
	if !ok {
		return nil, 0, apperrors.Newf(apperrors.ErrInvalidAssignment, "hit on unknown shared pool %s", id)
	}
	calc, err := CalculatorFor(level.FundingType)
	if err != nil {
		return nil, 0, err
	}

	var amount int64
	if level.TriggerControl == TriggerMystery {
		key := SharedMysteryKey(id)
		magic, err := s.mystery.GetMagicNumber(ctx, key)
		if err != nil {
			return nil, 0, err
		}
		amount = calc.MysteryClaim(&level, level.ResetValue, magic)
		if _, err := s.mystery.GenerateMagicNumber(ctx, key, level.PoolValue); err != nil {
			return nil, 0, err
		}
	} else {
		amount = calc.Claim(&level, level.ResetValue)
	}
	updateThreshold(&level, change)

	levels := lo.Assign(s.levels, map[string]SharedSapLevel{id: level})
	if err := s.save(ctx, levels); err != nil {
		return nil, 0, err
	}
	return levels, amount, nil
}

// Reset restarts a shared pool at its reset value.
func (s *SharedSapProvider) Reset(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	level, ok := s.levels[id]
	if !ok {
		return apperrors.Newf(apperrors.ErrLevelNotFound, "shared pool %s not found", id)
	}
	calc, err := CalculatorFor(level.FundingType)
	if err != nil {
		return err
	}
	calc.Reset(&level, level.ResetValue)

	levels := lo.Assign(s.levels, map[string]SharedSapLevel{id: level})
	if err := s.save(ctx, levels); err != nil {
		return err
	}
	s.levels = levels
	return nil
}

// Dispose revokes the bus subscriptions.
func (s *SharedSapProvider) Dispose() {
	s.bus.UnsubscribeAll(s)
}

func (s *SharedSapProvider) onHit(evt ProgressiveHitEvent) {
	if evt.Level.AssignedProgressiveID.Type != AssignAssociativeSap {
		return
	}
	id := evt.Level.AssignedProgressiveID.Key
	logger := logging.WithTransaction(s.logger.With().Str("shared_id", id).Logger(), evt.Transaction.TransactionID)

	var change sharedThresholdChange
	award, replayed, err := s.claimOnce(id, evt.Transaction.TransactionID, &change)
	if err != nil {
		logger.Error().Err(err).Msg("Shared progressive hit failed")
		s.bus.Publish(ProgressiveLockupEvent{Source: "shared_sap_provider", Key: id, Message: err.Error()})
		return
	}

	if replayed {
		logger.Warn().Int64("amount", award.Amount).Msg("Shared progressive already claimed, replaying award")
	} else {
		logger.Info().Int64("amount", award.Amount).Bool("recovery", evt.IsRecovery).Msg("Shared progressive claimed")
	}
	change.publish(s.bus)
	s.bus.Publish(SharedSapAwardedEvent{
		SharedID:      id,
		TransactionID: evt.Transaction.TransactionID,
		Amount:        award.Amount,
		PayMethod:     award.PayMethod,
	})
}

// claimOnce claims the pool for txID unless an award was already recorded for it. The pool
// index is only replaced once the scope has completed.
func (s *SharedSapProvider) claimOnce(id string, txID int64, change *sharedThresholdChange) (awardRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, scope := s.storage.ScopedTransaction(context.Background())
	defer scope.Close()

	if award, ok, err := s.awards.lookup(ctx, txID); err != nil || ok {
		return award, ok, err
	}

	levels, amount, err := s.claim(ctx, id, change)
	if err != nil {
		return awardRecord{}, false, err
	}
	award := awardRecord{Amount: amount, PayMethod: PayCreditMeter}
	if err := s.awards.record(ctx, txID, award); err != nil {
		return awardRecord{}, false, err
	}
	if err := scope.Complete(ctx); err != nil {
		return awardRecord{}, false, err
	}
	s.levels = levels
	return award, false, nil
}

func (s *SharedSapProvider) onCommitted(evt ProgressiveCommittedEvent) {
	if evt.Transaction.AssignedProgressiveID.Type != AssignAssociativeSap {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.awards.remove(context.Background(), evt.Transaction.TransactionID); err != nil {
		logger := logging.WithTransaction(s.logger, evt.Transaction.TransactionID)
		logger.Warn().Err(err).Msg("Failed to drop committed shared award")
	}
}

// restore reloads shared pools from storage after the scope that funded them was discarded.
func (s *SharedSapProvider) restore(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	persisted, err := persistence.GetOrCreateValue[map[string]SharedSapLevel](ctx, s.block, sharedValuesKey)
	if err != nil {
		s.logger.Error().Err(err).Strs("shared_ids", ids).Msg("Failed to reload shared pools")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	levels := lo.Assign(s.levels)
	for _, id := range ids {
		if l, ok := persisted[id]; ok {
			levels[id] = l
		}
	}
	s.levels = levels
}

func (s *SharedSapProvider) save(ctx context.Context, levels map[string]SharedSapLevel) error {
	tx := s.block.Transaction()
	if err := tx.SetValue(sharedValuesKey, levels); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// updateThreshold recomputes MinimumThresholdNotReached and records the transition.
func updateThreshold(level *SharedSapLevel, change *sharedThresholdChange) {
	below := level.InitialValue < level.ResetValue || level.CurrentValue < level.ResetValue
	was := level.CurrentErrorStatus.Has(ErrorMinimumThresholdNotReached)
	level.CurrentErrorStatus = level.CurrentErrorStatus.With(ErrorMinimumThresholdNotReached, below)
	switch {
	case below && !was:
		change.raised = append(change.raised, *level)
	case !below && was:
		change.cleared = append(change.cleared, *level)
	}
}

func validatePool(v *PoolValue, trigger TriggerControl) error {
	if v.ResetValue < 0 || v.InitialValue < 0 || v.MaximumValue < 0 {
		return apperrors.New(apperrors.ErrInvalidAssignment, "pool values must not be negative")
	}
	if trigger == TriggerMystery && v.MaximumValue == 0 {
		return apperrors.New(apperrors.ErrInvalidAssignment, "mystery pools need a maximum value")
	}
	if v.MaximumValue > 0 && (v.ResetValue > v.MaximumValue || v.InitialValue > v.MaximumValue) {
		return apperrors.New(apperrors.ErrInvalidAssignment, "pool values exceed the maximum")
	}
	if v.IncrementRate.IsNegative() || v.HiddenIncrementRate.IsNegative() {
		return apperrors.New(apperrors.ErrInvalidAssignment, "increment rates must not be negative")
	}
	return nil
}
