package progressive

import (
	"context"
	"sync"

	apperrors "github.com/Digital-Creators-Team/slot-progressives/errors"
	"github.com/Digital-Creators-Team/slot-progressives/events"
	"github.com/Digital-Creators-Team/slot-progressives/logging"
	"github.com/Digital-Creators-Team/slot-progressives/persistence"
	"github.com/rs/zerolog"
)

const sapBlockName = "SapProvider"

// SapProvider resolves standalone levels. Values live in the level provider; the provider
// itself only keeps the awards not yet committed.
type SapProvider struct {
	// mu serializes hits and is taken before the storage scope is opened.
	mu      sync.Mutex
	storage persistence.Storage
	awards  *awardLedger
	bus     *events.Bus
	levels  *LevelProvider
	mystery *MysteryProvider
	logger  zerolog.Logger
}

// NewSapProvider creates the standalone pool and subscribes it to hit and commit events.
func NewSapProvider(ctx context.Context, storage persistence.Storage, bus *events.Bus, levels *LevelProvider, mystery *MysteryProvider, logger zerolog.Logger) (*SapProvider, error) {
	awards, err := newAwardLedger(ctx, storage, sapBlockName)
	if err != nil {
		return nil, err
	}
	s := &SapProvider{
		storage: storage,
		awards:  awards,
		bus:     bus,
		levels:  levels,
		mystery: mystery,
		logger:  logging.WithComponent(logger, "sap_provider"),
	}
	events.Subscribe(bus, s, s.onHit)
	events.Subscribe(bus, s, s.onCommitted)
	return s, nil
}

// Increment applies a wager contribution to level in place.
func (s *SapProvider) Increment(level *ProgressiveLevel, wager, ante int64) error {
	calc, err := CalculatorFor(level.FundingType)
	if err != nil {
		return err
	}
	return calc.Increment(level, wager, ante)
}

// ProcessHit claims the level with deviceID, regenerates its mystery trigger when needed and
// persists it. It returns the amount won.
func (s *SapProvider) ProcessHit(ctx context.Context, deviceID int) (int64, error) {
	var amount int64
	_, err := s.levels.UpdateProgressiveLevels(ctx, []int{deviceID}, func(level *ProgressiveLevel) error {
		calc, err := CalculatorFor(level.FundingType)
		if err != nil {
			return err
		}
		if level.TriggerControl != TriggerMystery {
			amount = calc.Claim(level, level.ResetValue)
			return nil
		}

		key := MysteryKey(level)
		magic, err := s.mystery.GetMagicNumber(ctx, key)
		if err != nil {
			return err
		}
		amount = calc.MysteryClaim(level, level.ResetValue, magic)
		_, err = s.mystery.GenerateMagicNumber(ctx, key, level.PoolValue)
		return err
	})
	if err != nil {
		return 0, err
	}
	return amount, nil
}

// Reset restarts the level with deviceID at its reset value and persists it.
func (s *SapProvider) Reset(ctx context.Context, deviceID int) error {
	_, err := s.levels.UpdateProgressiveLevels(ctx, []int{deviceID}, func(level *ProgressiveLevel) error {
		calc, err := CalculatorFor(level.FundingType)
		if err != nil {
			return err
		}
		calc.Reset(level, level.ResetValue)
		return nil
	})
	return err
}

// Dispose revokes the bus subscriptions.
func (s *SapProvider) Dispose() {
	s.bus.UnsubscribeAll(s)
}

func (s *SapProvider) onHit(evt ProgressiveHitEvent) {
	if !standalone(evt.Level.AssignedProgressiveID.Type) {
		return
	}

	logger := logging.WithTransaction(logging.WithLevel(s.logger, evt.Level.DeviceID, evt.Level.LevelID), evt.Transaction.TransactionID)

	award, replayed, err := s.claim(evt)
	if err != nil {
		s.lockup(logger, evt, err)
		return
	}

	if replayed {
		logger.Warn().Int64("amount", award.Amount).Msg("Standalone progressive already claimed, replaying award")
	} else {
		logger.Info().Int64("amount", award.Amount).Bool("recovery", evt.IsRecovery).Msg("Standalone progressive claimed")
	}
	s.bus.Publish(SapAwardedEvent{
		DeviceID:      evt.Level.DeviceID,
		TransactionID: evt.Transaction.TransactionID,
		Amount:        award.Amount,
		PayMethod:     award.PayMethod,
	})
}

// claim pays a hit once. A transaction that already has an award gets it back unchanged and
// the pool is left alone.
func (s *SapProvider) claim(evt ProgressiveHitEvent) (awardRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, scope := s.storage.ScopedTransaction(context.Background())
	defer scope.Close()

	txID := evt.Transaction.TransactionID
	if award, ok, err := s.awards.lookup(ctx, txID); err != nil || ok {
		return award, ok, err
	}

	amount, err := s.ProcessHit(ctx, evt.Level.DeviceID)
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
	return award, false, nil
}

func (s *SapProvider) onCommitted(evt ProgressiveCommittedEvent) {
	if !standalone(evt.Transaction.AssignedProgressiveID.Type) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.awards.remove(context.Background(), evt.Transaction.TransactionID); err != nil {
		logger := logging.WithTransaction(s.logger, evt.Transaction.TransactionID)
		logger.Warn().Err(err).Msg("Failed to drop committed standalone award")
	}
}

func standalone(kind AssignableProgressiveType) bool {
	return kind == AssignNone || kind == AssignCustomSap
}

func (s *SapProvider) lockup(logger zerolog.Logger, evt ProgressiveHitEvent, err error) {
	logger.Error().Err(err).Int("code", apperrors.GetCode(err)).Msg("Standalone progressive hit failed")
	s.bus.Publish(ProgressiveLockupEvent{
		Source:  "sap_provider",
		Key:     MysteryKey(&evt.Level),
		Message: err.Error(),
	})
}
