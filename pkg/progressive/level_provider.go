package progressive

import (
	"context"
	"fmt"
	"sort"
	"sync"

	apperrors "github.com/Digital-Creators-Team/slot-progressives/errors"
	"github.com/Digital-Creators-Team/slot-progressives/game"
	"github.com/Digital-Creators-Team/slot-progressives/logging"
	"github.com/Digital-Creators-Team/slot-progressives/persistence"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

const (
	levelBlockName     = "ProgressiveLevelProvider"
	levelValuesKey     = "levels"
	levelNextDeviceKey = "nextDeviceId"
)

// PoolCreationPolicy decides how many pools a wager-tiered game gets.
type PoolCreationPolicy string

const (
	PoolCreationDefault       PoolCreationPolicy = "default"
	PoolCreationWagerBasedAll PoolCreationPolicy = "wager_based_all"
	PoolCreationWagerBasedMax PoolCreationPolicy = "wager_based_max"
)

// LevelProvider owns the catalog of progressive levels and its persistence.
type LevelProvider struct {
	mu           sync.RWMutex
	block        *persistence.Block
	policy       PoolCreationPolicy
	levels       map[string]ProgressiveLevel // by identity key
	byDevice     map[int]string
	nextDeviceID int
	logger       zerolog.Logger
}

// NewLevelProvider loads the persisted catalog.
func NewLevelProvider(ctx context.Context, storage persistence.Storage, policy PoolCreationPolicy, logger zerolog.Logger) (*LevelProvider, error) {
	block, err := storage.GetOrCreateBlock(ctx, levelBlockName, persistence.Critical)
	if err != nil {
		return nil, err
	}
	if policy == "" {
		policy = PoolCreationDefault
	}

	p := &LevelProvider{
		block:    block,
		policy:   policy,
		levels:   make(map[string]ProgressiveLevel),
		byDevice: make(map[int]string),
		logger:   logging.WithComponent(logger, "level_provider"),
	}

	persisted, err := persistence.GetOrCreateValue[map[string]ProgressiveLevel](ctx, block, levelValuesKey)
	if err != nil {
		return nil, err
	}
	next, err := persistence.GetOrCreateValue[int](ctx, block, levelNextDeviceKey)
	if err != nil {
		return nil, err
	}
	p.nextDeviceID = max(next, 1)

	for key, level := range persisted {
		if other, dup := p.byDevice[level.DeviceID]; dup {
			return nil, apperrors.Newf(apperrors.ErrProgressiveIntegrity,
				"device id %d shared by %s and %s", level.DeviceID, other, key)
		}
		p.levels[key] = level
		p.byDevice[level.DeviceID] = key
		p.nextDeviceID = max(p.nextDeviceID, level.DeviceID+1)
	}

	p.logger.Info().Int("levels", len(p.levels)).Msg("Progressive levels restored")
	return p, nil
}

// LoadProgressiveLevels materializes every level the manifest describes and merges
// them with persisted records. Records no longer in the manifest are retained.
func (p *LevelProvider) LoadProgressiveLevels(ctx context.Context, manifest *game.Manifest) error {
	built, err := p.buildLevels(manifest)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	levels := lo.Assign(p.levels)
	byDevice := lo.Assign(p.byDevice)
	next := p.nextDeviceID
	created := 0

	for _, level := range built {
		key := level.identityKey()
		if existing, ok := levels[key]; ok {
			levels[key] = mergePersisted(level, existing)
			continue
		}
		level.DeviceID = next
		next++
		levels[key] = level
		byDevice[level.DeviceID] = key
		created++
	}

	if err := p.save(ctx, levels, next); err != nil {
		return err
	}
	p.levels = levels
	p.byDevice = byDevice
	p.nextDeviceID = next

	p.logger.Info().
		Int("levels", len(built)).
		Int("created", created).
		Str("policy", string(p.policy)).
		Msg("Progressive levels loaded from manifest")
	return nil
}

// GetProgressiveLevels returns snapshots of every level ordered by device id.
func (p *LevelProvider) GetProgressiveLevels() []ProgressiveLevel {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.snapshot(func(ProgressiveLevel) bool { return true })
}

// GetProgressiveLevelsForGame returns the levels a game plays at denom. An empty
// packName matches every pack.
func (p *LevelProvider) GetProgressiveLevelsForGame(gameID int, denom int64, packName string) []ProgressiveLevel {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.snapshot(func(l ProgressiveLevel) bool {
		return l.GameID == gameID &&
			l.HasDenomination(denom) &&
			(packName == "" || l.PackName == packName)
	})
}

// GetProgressiveLevel returns the level with deviceID.
func (p *LevelProvider) GetProgressiveLevel(deviceID int) (ProgressiveLevel, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	key, ok := p.byDevice[deviceID]
	if !ok {
		return ProgressiveLevel{}, apperrors.Newf(apperrors.ErrLevelNotFound, "progressive level %d not found", deviceID)
	}
	return p.levels[key].Clone(), nil
}

// UpdateProgressiveLevels is the single mutation entry point: fn edits the live record of
// each device id under the provider lock. Nothing is stored when fn fails. Pass the caller's
// scoped context so the write joins its transaction. It returns the updated snapshots.
func (p *LevelProvider) UpdateProgressiveLevels(ctx context.Context, deviceIDs []int, fn func(*ProgressiveLevel) error) ([]ProgressiveLevel, error) {
	if len(deviceIDs) == 0 {
		return nil, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	levels := lo.Assign(p.levels)
	updated := make([]ProgressiveLevel, 0, len(deviceIDs))
	for _, id := range lo.Uniq(deviceIDs) {
		key, ok := p.byDevice[id]
		if !ok {
			return nil, apperrors.Newf(apperrors.ErrLevelNotFound, "progressive level %d not found", id)
		}
		level := levels[key].Clone()
		if err := fn(&level); err != nil {
			return nil, err
		}
		if level.DeviceID != id || level.identityKey() != key {
			return nil, apperrors.Newf(apperrors.ErrProgressiveIntegrity, "level %d identity changed during update", id)
		}
		if level.Residual < 0 || level.Residual >= Divisor {
			return nil, apperrors.Newf(apperrors.ErrProgressiveIntegrity,
				"level %d residual %d out of range", id, level.Residual)
		}
		levels[key] = level
		updated = append(updated, level.Clone())
	}

	if err := p.save(ctx, levels, p.nextDeviceID); err != nil {
		return nil, err
	}
	p.levels = levels
	return updated, nil
}

func (p *LevelProvider) snapshot(keep func(ProgressiveLevel) bool) []ProgressiveLevel {
	out := make([]ProgressiveLevel, 0, len(p.levels))
	for _, l := range p.levels {
		if keep(l) {
			out = append(out, l.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

func (p *LevelProvider) save(ctx context.Context, levels map[string]ProgressiveLevel, next int) error {
	tx := p.block.Transaction()
	if err := tx.SetValue(levelValuesKey, levels); err != nil {
		return err
	}
	if err := tx.SetValue(levelNextDeviceKey, next); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// buildLevels expands games x packs x denominations x bet options or wager tiers.
func (p *LevelProvider) buildLevels(manifest *game.Manifest) ([]ProgressiveLevel, error) {
	var out []ProgressiveLevel
	for _, g := range manifest.Games {
		for _, packName := range g.ProgressivePacks {
			pack, ok := manifest.Pack(packName)
			if !ok {
				return nil, apperrors.Newf(apperrors.ErrProgressiveIntegrity,
					"game %d references unknown pack %s", g.GameID, packName)
			}
			for _, v := range p.variants(g, pack) {
				for _, def := range pack.Levels {
					level, err := newLevel(g, pack, def, v)
					if err != nil {
						return nil, err
					}
					out = append(out, level)
				}
			}
		}
	}
	return out, nil
}

// variant is one pool instance shape: which denominations, bet option and wager tier it covers.
type variant struct {
	denoms    []int64
	betOption string
	wager     int
}

func (p *LevelProvider) variants(g game.Detail, pack game.ProgressivePack) []variant {
	if pack.CreationType == game.PackCreationAll {
		return []variant{{denoms: g.Denominations}}
	}

	tiers := lo.Uniq(lo.Map(g.WagerCategories, func(c game.WagerCategory, _ int) int { return c.Credits }))
	sort.Ints(tiers)

	var out []variant
	switch {
	case p.policy == PoolCreationWagerBasedAll && len(tiers) > 0:
		for _, d := range g.Denominations {
			for _, w := range tiers {
				out = append(out, variant{denoms: []int64{d}, wager: w})
			}
		}
	case p.policy == PoolCreationWagerBasedMax && len(tiers) > 0:
		for _, d := range g.Denominations {
			out = append(out, variant{denoms: []int64{d}, wager: tiers[len(tiers)-1]})
		}
	default:
		options := lo.Map(g.BetOptions, func(b game.BetOption, _ int) string { return b.Name })
		if len(options) == 0 {
			options = []string{""}
		}
		for _, d := range g.Denominations {
			for _, o := range options {
				out = append(out, variant{denoms: []int64{d}, betOption: o})
			}
		}
	}
	return out
}

func newLevel(g game.Detail, pack game.ProgressivePack, def game.LevelDefinition, v variant) (ProgressiveLevel, error) {
	levelType, err := ParseLevelType(def.LevelType)
	if err != nil {
		return ProgressiveLevel{}, wrapDefinition(err, pack, def)
	}
	funding, err := ParseFundingType(def.FundingType)
	if err != nil {
		return ProgressiveLevel{}, wrapDefinition(err, pack, def)
	}
	trigger, err := ParseTriggerControl(def.TriggerControl)
	if err != nil {
		return ProgressiveLevel{}, wrapDefinition(err, pack, def)
	}

	return ProgressiveLevel{
		LevelID:        def.LevelID,
		LevelName:      def.Name,
		PackName:       pack.Name,
		PackID:         pack.ID,
		GameID:         g.GameID,
		Denominations:  append([]int64(nil), v.denoms...),
		BetOption:      v.betOption,
		WagerCredits:   v.wager,
		CreationType:   pack.CreationType,
		LevelType:      levelType,
		FundingType:    funding,
		TriggerControl: trigger,
		PoolValue: PoolValue{
			CurrentValue:        def.StartValue,
			InitialValue:        def.StartValue,
			ResetValue:          def.ResetValue,
			MaximumValue:        def.MaximumValue,
			IncrementRate:       decimal.NewFromFloat(def.IncrementRate),
			HiddenIncrementRate: decimal.NewFromFloat(def.HiddenIncrementRate),
		},
		CurrentState: StateInit,
		CanEdit:      true,
	}, nil
}

func wrapDefinition(err error, pack game.ProgressivePack, def game.LevelDefinition) error {
	return apperrors.Wrap(err, apperrors.ErrProgressiveIntegrity,
		fmt.Sprintf("pack %s level %d has an invalid definition", pack.Name, def.LevelID))
}

// mergePersisted keeps the accumulated values and runtime state of a persisted level.
// Configuration comes from the manifest unless the level is locked.
func mergePersisted(fresh, persisted ProgressiveLevel) ProgressiveLevel {
	merged := fresh
	if !persisted.CanEdit {
		merged = persisted.Clone()
	}

	merged.DeviceID = persisted.DeviceID
	merged.CurrentValue = persisted.CurrentValue
	merged.Residual = persisted.Residual
	merged.Overflow = persisted.Overflow
	merged.OverflowTotal = persisted.OverflowTotal
	merged.HiddenValue = persisted.HiddenValue
	merged.HiddenTotal = persisted.HiddenTotal
	merged.AssignedProgressiveID = persisted.AssignedProgressiveID
	merged.CurrentState = persisted.CurrentState
	merged.Errors = persisted.Errors
	merged.CanEdit = persisted.CanEdit
	return merged
}
