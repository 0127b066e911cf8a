package progressive

import (
	"context"
	"fmt"
	"sort"
	"sync"

	apperrors "github.com/Digital-Creators-Team/slot-progressives/errors"
	"github.com/Digital-Creators-Team/slot-progressives/events"
	"github.com/Digital-Creators-Team/slot-progressives/logging"
	"github.com/Digital-Creators-Team/slot-progressives/persistence"
	"github.com/Digital-Creators-Team/slot-progressives/pkg/providers"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// LevelAssignment attaches a level to a pool.
type LevelAssignment struct {
	DeviceID int                     `json:"deviceId" binding:"required"`
	Assigned AssignableProgressiveID `json:"assigned"`
}

// Fault is an operator-facing condition that disables play until cleared.
type Fault struct {
	Key     string `json:"key"`
	Message string `json:"message"`
}

// ConfigurationService assigns levels to pools, validates them and turns fault events into
// operator messages and disable signals.
type ConfigurationService struct {
	mu       sync.Mutex
	storage  persistence.Storage
	bus      *events.Bus
	levels   *LevelProvider
	shared   *SharedSapProvider
	linked   *LinkedProgressiveProvider
	disabler providers.SystemDisabler
	faults   map[string]string
	logger   zerolog.Logger
}

// NewConfigurationService subscribes the fault aggregation to the pool events.
func NewConfigurationService(storage persistence.Storage, bus *events.Bus, levels *LevelProvider, shared *SharedSapProvider, linked *LinkedProgressiveProvider, disabler providers.SystemDisabler, logger zerolog.Logger) *ConfigurationService {
	c := &ConfigurationService{
		storage:  storage,
		bus:      bus,
		levels:   levels,
		shared:   shared,
		linked:   linked,
		disabler: disabler,
		faults:   make(map[string]string),
		logger:   logging.WithComponent(logger, "progressive_configuration"),
	}

	events.Subscribe(bus, c, func(e MinimumThresholdErrorEvent) {
		c.applyShared(e.Levels, true)
	})
	events.Subscribe(bus, c, func(e MinimumThresholdClearedEvent) {
		c.applyShared(e.Levels, false)
	})
	events.Subscribe(bus, c, func(e LinkedDisconnectedEvent) {
		c.applyLinked(e.Levels, "disconnected", "lost its host link", true)
	})
	events.Subscribe(bus, c, func(e LinkedConnectedEvent) {
		c.applyLinked(e.Levels, "disconnected", "", false)
	})
	events.Subscribe(bus, c, func(e LinkedExpiredEvent) {
		c.applyLinked(e.Levels, "update_timeout", "has not been updated by its host", true)
	})
	events.Subscribe(bus, c, func(e LinkedRefreshedEvent) {
		c.applyLinked(e.Levels, "update_timeout", "", false)
	})
	events.Subscribe(bus, c, func(e LinkedCommitTimeoutEvent) {
		c.applyLinked(e.Levels, "commit_timeout", "hit was not claimed by its host", true)
	})
	events.Subscribe(bus, c, func(e LinkedCommitTimeoutClearedEvent) {
		c.applyLinked(e.Levels, "commit_timeout", "", false)
	})
	events.Subscribe(bus, c, func(e LinkedResetEvent) {
		c.apply(map[string]string{linkedFaultKey(e.LevelName, "commit_timeout"): ""}, nil)
	})
	events.Subscribe(bus, c, func(e ProgressiveLockupEvent) {
		c.apply(map[string]string{
			fmt.Sprintf("lockup:%s:%s", e.Source, e.Key): "Progressive lockup: " + e.Message,
		}, nil)
	})
	events.Subscribe(bus, c, func(e SharedSapLevelsRemovedEvent) {
		c.apply(nil, lo.Map(e.IDs, func(id string, _ int) string { return sharedFaultKey(id) }))
	})
	events.Subscribe(bus, c, func(e LinkedLevelsRemovedEvent) {
		var keys []string
		for _, name := range e.LevelNames {
			for _, kind := range []string{"disconnected", "update_timeout", "commit_timeout"} {
				keys = append(keys, linkedFaultKey(name, kind))
			}
		}
		c.apply(nil, keys)
	})
	events.Subscribe(bus, c, func(LinkedLevelsUpdatedEvent) {
		if _, err := c.ValidateLevels(context.Background()); err != nil {
			c.logger.Error().Err(err).Msg("Level validation after linked update failed")
		}
	})
	return c
}

// AssignLevelsToGame attaches levels to pools. Every assignment is checked before any is
// applied, and all of them are persisted together.
func (c *ConfigurationService) AssignLevelsToGame(ctx context.Context, assignments []LevelAssignment) ([]ProgressiveLevel, error) {
	byDevice := make(map[int]AssignableProgressiveID, len(assignments))
	for _, a := range assignments {
		level, err := c.levels.GetProgressiveLevel(a.DeviceID)
		if err != nil {
			return nil, err
		}
		if err := c.checkAssignment(level, a.Assigned); err != nil {
			return nil, err
		}
		byDevice[a.DeviceID] = a.Assigned
	}

	scoped, scope := c.storage.ScopedTransaction(ctx)
	defer scope.Close()

	ids := lo.Map(assignments, func(a LevelAssignment, _ int) int { return a.DeviceID })
	updated, err := c.levels.UpdateProgressiveLevels(scoped, ids, func(level *ProgressiveLevel) error {
		if inFlight(level.CurrentState) {
			return apperrors.Newf(apperrors.ErrInvalidAssignment, "level %d has a win in progress", level.DeviceID)
		}
		assigned := byDevice[level.DeviceID]
		level.AssignedProgressiveID = assigned
		switch assigned.Type {
		case AssignLinked:
			linked, err := c.linked.ViewLinkedProgressiveLevel(assigned.Key)
			if err != nil {
				return err
			}
			level.CurrentValue = linked.Amount
		case AssignAssociativeSap:
			shared, err := c.shared.ViewSharedSapLevel(assigned.Key)
			if err != nil {
				return err
			}
			level.CurrentValue = shared.CurrentValue
			level.ResetValue = shared.ResetValue
			level.MaximumValue = shared.MaximumValue
		}
		if level.CurrentState == StateInit {
			level.CurrentState = StateReady
		}
		return nil
	})
	if err == nil {
		err = scope.Complete(scoped)
	}
	if err != nil {
		return nil, err
	}

	for _, l := range updated {
		log := logging.WithLevel(c.logger, l.DeviceID, l.LevelID)
		log.Info().
			Str("assigned", l.AssignedProgressiveID.String()).
			Msg("Progressive level assigned")
	}
	if _, err := c.ValidateLevels(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

func (c *ConfigurationService) checkAssignment(level ProgressiveLevel, a AssignableProgressiveID) error {
	switch a.Type {
	case AssignNone:
		if a.Key != "" {
			return apperrors.New(apperrors.ErrInvalidAssignment, "an unassigned level cannot carry a key")
		}
	case AssignCustomSap:
		if a.Key == "" {
			return apperrors.New(apperrors.ErrInvalidAssignment, "custom standalone assignment needs a key")
		}
	case AssignAssociativeSap:
		if _, err := c.shared.ViewSharedSapLevel(a.Key); err != nil {
			return apperrors.Wrap(err, apperrors.ErrInvalidAssignment, "invalid shared pool assignment "+a.Key)
		}
	case AssignLinked:
		if _, err := c.linked.ViewLinkedProgressiveLevel(a.Key); err != nil {
			return apperrors.Wrap(err, apperrors.ErrInvalidAssignment, "invalid linked assignment "+a.Key)
		}
	default:
		return apperrors.Newf(apperrors.ErrInvalidAssignment, "unknown assignment type %s", a.Type)
	}
	if level.LevelType == LevelTypeLP && a.Type != AssignLinked && a.Type != AssignNone {
		return apperrors.Newf(apperrors.ErrInvalidAssignment, "linked level %d can only be assigned to a linked pool", level.DeviceID)
	}
	return nil
}

// LockProgressiveLevels freezes the configuration of levels.
func (c *ConfigurationService) LockProgressiveLevels(ctx context.Context, deviceIDs []int) error {
	_, err := c.levels.UpdateProgressiveLevels(ctx, deviceIDs, func(level *ProgressiveLevel) error {
		level.CanEdit = false
		return nil
	})
	return err
}

// ViewProgressiveLevels returns every level.
func (c *ConfigurationService) ViewProgressiveLevels() []ProgressiveLevel {
	return c.levels.GetProgressiveLevels()
}

// ViewSharedSapLevels returns every shared pool.
func (c *ConfigurationService) ViewSharedSapLevels() []SharedSapLevel {
	return c.shared.ViewSharedSapLevels()
}

// ViewLinkedProgressiveLevels returns every linked level.
func (c *ConfigurationService) ViewLinkedProgressiveLevels() []LinkedProgressiveLevel {
	return c.linked.ViewLinkedProgressiveLevels()
}

// ValidateLevels recomputes the minimum threshold and linked amount flags of every assigned
// or standalone level, persists the changes and returns the levels left with errors.
func (c *ConfigurationService) ValidateLevels(ctx context.Context) ([]ProgressiveLevel, error) {
	var faulty []ProgressiveLevel
	changed := make(map[int]ErrorFlags)
	raise := make(map[string]string)
	var clearKeys []string

	for _, level := range c.levels.GetProgressiveLevels() {
		below := false
		badAmount := false

		switch level.AssignedProgressiveID.Type {
		case AssignLinked:
			linked, err := c.linked.ViewLinkedProgressiveLevel(level.AssignedProgressiveID.Key)
			if err != nil {
				return nil, apperrors.Wrap(err, apperrors.ErrInvalidAssignment, "level assigned to a missing linked level")
			}
			badAmount = linked.Amount <= 0 || linked.Amount < level.ResetValue
		case AssignAssociativeSap:
			shared, err := c.shared.ViewSharedSapLevel(level.AssignedProgressiveID.Key)
			if err != nil {
				return nil, apperrors.Wrap(err, apperrors.ErrInvalidAssignment, "level assigned to a missing shared pool")
			}
			below = shared.CurrentErrorStatus.Has(ErrorMinimumThresholdNotReached)
		default:
			if level.LevelType == LevelTypeSap {
				below = level.InitialValue < level.ResetValue || level.CurrentValue < level.ResetValue
			}
		}

		errs := level.Errors.
			With(ErrorMinimumThresholdNotReached, below).
			With(ErrorLinkedAmount, badAmount)
		if errs != level.Errors {
			changed[level.DeviceID] = errs
		}
		if errs != 0 {
			level.Errors = errs
			faulty = append(faulty, level)
		}

		thresholdKey := levelFaultKey(level.DeviceID, "minimum_threshold")
		amountKey := levelFaultKey(level.DeviceID, "linked_amount")
		if below {
			raise[thresholdKey] = fmt.Sprintf("Progressive %s (%s) is below its minimum threshold", level.LevelName, level.PackName)
		} else {
			clearKeys = append(clearKeys, thresholdKey)
		}
		if badAmount {
			raise[amountKey] = fmt.Sprintf("Progressive %s (%s) reports an invalid linked amount", level.LevelName, level.PackName)
		} else {
			clearKeys = append(clearKeys, amountKey)
		}
	}

	_, err := c.levels.UpdateProgressiveLevels(ctx, lo.Keys(changed), func(level *ProgressiveLevel) error {
		level.Errors = changed[level.DeviceID]
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.apply(raise, clearKeys)
	return faulty, nil
}

// ActiveFaults returns the raised faults ordered by key.
func (c *ConfigurationService) ActiveFaults() []Fault {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Fault, 0, len(c.faults))
	for k, m := range c.faults {
		out = append(out, Fault{Key: k, Message: m})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// ClearFault lets an operator acknowledge a fault, such as a lockup, that never clears itself.
func (c *ConfigurationService) ClearFault(key string) error {
	c.mu.Lock()
	_, ok := c.faults[key]
	c.mu.Unlock()
	if !ok {
		return apperrors.Newf(apperrors.ErrNotFound, "fault %s is not active", key)
	}
	c.apply(nil, []string{key})
	return nil
}

// Dispose revokes the bus subscriptions.
func (c *ConfigurationService) Dispose() {
	c.bus.UnsubscribeAll(c)
}

func (c *ConfigurationService) applyShared(levels []SharedSapLevel, raised bool) {
	raise := make(map[string]string)
	var clearKeys []string
	for _, l := range levels {
		if raised {
			raise[sharedFaultKey(l.ID)] = fmt.Sprintf("Shared progressive %s is below its minimum threshold", l.Name)
		} else {
			clearKeys = append(clearKeys, sharedFaultKey(l.ID))
		}
	}
	c.apply(raise, clearKeys)
}

func (c *ConfigurationService) applyLinked(levels []LinkedProgressiveLevel, kind, message string, raised bool) {
	raise := make(map[string]string)
	var clearKeys []string
	for _, l := range levels {
		key := linkedFaultKey(l.LevelName, kind)
		if raised {
			raise[key] = fmt.Sprintf("Linked progressive %s %s", l.LevelName, message)
		} else {
			clearKeys = append(clearKeys, key)
		}
	}
	c.apply(raise, clearKeys)
}

// apply records fault transitions and forwards them to the disabler outside the lock.
// An empty message in raise means clear.
func (c *ConfigurationService) apply(raise map[string]string, clearKeys []string) {
	var disable []Fault
	var enable []string

	c.mu.Lock()
	for key, msg := range raise {
		if msg == "" {
			clearKeys = append(clearKeys, key)
			continue
		}
		if existing, ok := c.faults[key]; ok && existing == msg {
			continue
		}
		c.faults[key] = msg
		disable = append(disable, Fault{Key: key, Message: msg})
	}
	for _, key := range clearKeys {
		if _, ok := c.faults[key]; !ok {
			continue
		}
		delete(c.faults, key)
		enable = append(enable, key)
	}
	c.mu.Unlock()

	if c.disabler == nil {
		return
	}
	ctx := context.Background()
	for _, f := range disable {
		c.logger.Warn().Str("fault", f.Key).Msg(f.Message)
		if err := c.disabler.Disable(ctx, f.Key, f.Message); err != nil {
			c.logger.Error().Err(err).Str("fault", f.Key).Msg("Failed to raise fault")
		}
	}
	for _, key := range enable {
		c.logger.Info().Str("fault", key).Msg("Fault cleared")
		if err := c.disabler.Enable(ctx, key); err != nil {
			c.logger.Error().Err(err).Str("fault", key).Msg("Failed to clear fault")
		}
	}
}

func levelFaultKey(deviceID int, kind string) string {
	return fmt.Sprintf("level:%d:%s", deviceID, kind)
}

func sharedFaultKey(id string) string {
	return "shared:" + id + ":minimum_threshold"
}

func linkedFaultKey(name, kind string) string {
	return "linked:" + name + ":" + kind
}
