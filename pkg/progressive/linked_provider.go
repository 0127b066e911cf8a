package progressive

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "github.com/Digital-Creators-Team/slot-progressives/errors"
	"github.com/Digital-Creators-Team/slot-progressives/events"
	"github.com/Digital-Creators-Team/slot-progressives/logging"
	"github.com/Digital-Creators-Team/slot-progressives/persistence"
	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const (
	linkedBlockName = "LinkedProgressiveProvider"
	linkedValuesKey = "levels"

	// AwardRecordedAmount tells AwardLinkedProgressiveLevel to pay the WinAmount recorded at hit time.
	AwardRecordedAmount int64 = -1

	defaultMonitorInterval = 250 * time.Millisecond
	defaultClaimTimeout    = 30 * time.Second
)

// LinkedLevelUpdate is one value push from the host.
type LinkedLevelUpdate struct {
	LevelName  string    `json:"levelName" mapstructure:"level_name"`
	Amount     int64     `json:"amount" mapstructure:"amount"`
	Expiration time.Time `json:"expiration" mapstructure:"expiration"`
}

// LinkedOptions tunes the fault monitor.
type LinkedOptions struct {
	MonitorInterval time.Duration
	ClaimTimeout    time.Duration
}

// LinkedProgressiveProvider mirrors pools owned by an external host. It runs the claim
// state machine and watches for stale host updates and unclaimed hits.
type LinkedProgressiveProvider struct {
	mu      sync.Mutex
	storage persistence.Storage
	block   *persistence.Block
	bus     *events.Bus
	clock   quartz.Clock
	opts    LinkedOptions
	levels  map[string]LinkedProgressiveLevel
	cancel  context.CancelFunc
	monitor quartz.Waiter
	logger  zerolog.Logger
}

// NewLinkedProgressiveProvider restores the persisted linked levels and subscribes to hit events.
// The monitor is not running until Start.
func NewLinkedProgressiveProvider(ctx context.Context, storage persistence.Storage, bus *events.Bus, clock quartz.Clock, opts LinkedOptions, logger zerolog.Logger) (*LinkedProgressiveProvider, error) {
	block, err := storage.GetOrCreateBlock(ctx, linkedBlockName, persistence.Critical)
	if err != nil {
		return nil, err
	}
	persisted, err := persistence.GetOrCreateValue[map[string]LinkedProgressiveLevel](ctx, block, linkedValuesKey)
	if err != nil {
		return nil, err
	}
	if persisted == nil {
		persisted = make(map[string]LinkedProgressiveLevel)
	}
	if opts.MonitorInterval <= 0 {
		opts.MonitorInterval = defaultMonitorInterval
	}
	if opts.ClaimTimeout <= 0 {
		opts.ClaimTimeout = defaultClaimTimeout
	}

	p := &LinkedProgressiveProvider{
		storage: storage,
		block:   block,
		bus:     bus,
		clock:   clock,
		opts:    opts,
		levels:  persisted,
		logger:  logging.WithComponent(logger, "linked_progressive_provider"),
	}
	events.Subscribe(bus, p, p.onHit)
	return p, nil
}

// Start runs the fault monitor until Stop or ctx is done.
func (p *LinkedProgressiveProvider) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.monitor = p.clock.TickerFunc(ctx, p.opts.MonitorInterval, func() error {
		p.checkExpirations()
		return nil
	}, "linked", "monitor")

	p.logger.Info().Dur("interval", p.opts.MonitorInterval).Msg("Linked fault monitor started")
}

// Stop halts the fault monitor and waits for an in-flight tick to finish.
func (p *LinkedProgressiveProvider) Stop() {
	p.mu.Lock()
	cancel, monitor := p.cancel, p.monitor
	p.cancel, p.monitor = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	_ = monitor.Wait()
}

// Dispose stops the monitor and revokes the bus subscriptions.
func (p *LinkedProgressiveProvider) Dispose() {
	p.Stop()
	p.bus.UnsubscribeAll(p)
}

// AddLinkedProgressiveLevels registers levels announced by the host. Names must be unique.
func (p *LinkedProgressiveProvider) AddLinkedProgressiveLevels(ctx context.Context, added []LinkedProgressiveLevel) error {
	if len(added) == 0 {
		return nil
	}

	p.mu.Lock()
	levels := lo.Assign(p.levels)
	for _, l := range added {
		if l.LevelName == "" {
			p.mu.Unlock()
			return apperrors.New(apperrors.ErrInvalidAssignment, "linked level name is required")
		}
		if _, exists := levels[l.LevelName]; exists {
			p.mu.Unlock()
			return apperrors.Newf(apperrors.ErrInvalidAssignment, "linked level %s already exists", l.LevelName)
		}
		l.ClaimStatus = LinkedProgressiveClaimStatus{}
		levels[l.LevelName] = l
	}
	if err := p.save(ctx, levels); err != nil {
		p.mu.Unlock()
		return err
	}
	p.levels = levels
	p.mu.Unlock()

	p.bus.Publish(LinkedLevelsAddedEvent{Levels: sortLinked(added)})
	return nil
}

// UpdateLinkedProgressiveLevels applies host value pushes. Unknown names are an integrity error.
func (p *LinkedProgressiveProvider) UpdateLinkedProgressiveLevels(ctx context.Context, updates []LinkedLevelUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	p.mu.Lock()
	levels := lo.Assign(p.levels)
	changed := make([]LinkedProgressiveLevel, 0, len(updates))
	for _, u := range updates {
		level, ok := levels[u.LevelName]
		if !ok {
			p.mu.Unlock()
			return apperrors.Newf(apperrors.ErrLevelNotFound, "linked level %s not found", u.LevelName)
		}
		level.Amount = u.Amount
		level.Expiration = u.Expiration
		levels[u.LevelName] = level
		changed = append(changed, level)
	}
	if err := p.save(ctx, levels); err != nil {
		p.mu.Unlock()
		return err
	}
	p.levels = levels
	p.mu.Unlock()

	p.bus.Publish(LinkedLevelsUpdatedEvent{Levels: sortLinked(changed)})
	return nil
}

// RemoveLinkedProgressiveLevels forgets levels. A level with an outstanding claim cannot be removed.
func (p *LinkedProgressiveProvider) RemoveLinkedProgressiveLevels(ctx context.Context, names []string) error {
	p.mu.Lock()
	for _, name := range names {
		level, ok := p.levels[name]
		if !ok {
			p.mu.Unlock()
			return apperrors.Newf(apperrors.ErrLevelNotFound, "linked level %s not found", name)
		}
		if level.ClaimStatus.Status != ClaimNone {
			p.mu.Unlock()
			return apperrors.Newf(apperrors.ErrClaimSequence, "linked level %s has an outstanding claim", name)
		}
	}
	levels := lo.OmitByKeys(p.levels, names)
	if err := p.save(ctx, levels); err != nil {
		p.mu.Unlock()
		return err
	}
	p.levels = levels
	p.mu.Unlock()

	p.bus.Publish(LinkedLevelsRemovedEvent{LevelNames: names})
	return nil
}

// ViewLinkedProgressiveLevels returns every linked level ordered by name.
func (p *LinkedProgressiveProvider) ViewLinkedProgressiveLevels() []LinkedProgressiveLevel {
	p.mu.Lock()
	defer p.mu.Unlock()

	return sortLinked(lo.Values(p.levels))
}

// ViewLinkedProgressiveLevel returns one linked level.
func (p *LinkedProgressiveProvider) ViewLinkedProgressiveLevel(name string) (LinkedProgressiveLevel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	level, ok := p.levels[name]
	if !ok {
		return LinkedProgressiveLevel{}, apperrors.Newf(apperrors.ErrLevelNotFound, "linked level %s not found", name)
	}
	return level, nil
}

// ProcessHit records a local hit on a linked level: None -> Hit. During recovery a repeated
// hit, or a hit on a level already past Hit, is ignored.
func (p *LinkedProgressiveProvider) ProcessHit(ctx context.Context, name string, tx JackpotTransaction, recovering bool) error {
	p.mu.Lock()
	level, ok := p.levels[name]
	if !ok {
		p.mu.Unlock()
		return apperrors.Newf(apperrors.ErrInvalidAssignment, "hit on unknown linked level %s", name)
	}

	if level.ClaimStatus.Status != ClaimNone {
		p.mu.Unlock()
		if recovering {
			return nil
		}
		return apperrors.New(apperrors.ErrClaimSequence, "attempt to process hit on a level with existing claim")
	}

	now := p.clock.Now()
	level.ClaimStatus = LinkedProgressiveClaimStatus{
		Status:        ClaimHit,
		TransactionID: tx.TransactionID,
		WinAmount:     level.Amount,
		HitTime:       now,
		ExpiredTime:   now.Add(p.opts.ClaimTimeout),
	}
	if err := p.put(ctx, level); err != nil {
		p.mu.Unlock()
		return err
	}
	p.mu.Unlock()

	p.bus.Publish(LinkedHitEvent{LevelName: name, TransactionID: tx.TransactionID, Amount: level.Amount})
	return nil
}

// ClaimLinkedProgressiveLevel acknowledges a hit: Hit -> Claimed.
func (p *LinkedProgressiveProvider) ClaimLinkedProgressiveLevel(ctx context.Context, name string) error {
	p.mu.Lock()
	level, err := p.claim(ctx, name)
	p.mu.Unlock()
	if err != nil {
		return err
	}

	p.bus.Publish(LinkedClaimedEvent{LevelName: name, TransactionID: level.ClaimStatus.TransactionID})
	return nil
}

// AwardLinkedProgressiveLevel pays a claimed level: Claimed -> Awarded. AwardRecordedAmount
// pays the WinAmount recorded at hit time.
func (p *LinkedProgressiveProvider) AwardLinkedProgressiveLevel(ctx context.Context, name string, amount int64, method PayMethod) error {
	p.mu.Lock()
	level, err := p.award(ctx, name, amount)
	p.mu.Unlock()
	if err != nil {
		return err
	}

	p.publishAward(level, method)
	return nil
}

// ClaimAndAwardLinkedProgressiveLevel claims and awards in one storage transaction.
func (p *LinkedProgressiveProvider) ClaimAndAwardLinkedProgressiveLevel(ctx context.Context, name string, amount int64, method PayMethod) error {
	p.mu.Lock()
	scoped, scope := p.storage.ScopedTransaction(ctx)
	claimed, err := p.claim(scoped, name)
	var awarded LinkedProgressiveLevel
	if err == nil {
		awarded, err = p.award(scoped, name, amount)
	}
	if err == nil {
		err = scope.Complete(scoped)
	}
	scope.Close()
	if err != nil {
		// the in-memory view must match what was discarded
		p.restore(ctx, name)
		p.mu.Unlock()
		return err
	}
	p.mu.Unlock()

	p.bus.Publish(LinkedClaimedEvent{LevelName: name, TransactionID: claimed.ClaimStatus.TransactionID})
	p.publishAward(awarded, method)
	return nil
}

// Reset returns an awarded level to None after the win is committed.
func (p *LinkedProgressiveProvider) Reset(ctx context.Context, name string) error {
	p.mu.Lock()
	level, ok := p.levels[name]
	if !ok {
		p.mu.Unlock()
		return apperrors.Newf(apperrors.ErrLevelNotFound, "linked level %s not found", name)
	}
	if level.ClaimStatus.Status != ClaimAwarded {
		p.mu.Unlock()
		return apperrors.Newf(apperrors.ErrClaimSequence, "attempt to reset linked level %s in state %s", name, level.ClaimStatus.Status)
	}
	txID := level.ClaimStatus.TransactionID
	level.ClaimStatus = LinkedProgressiveClaimStatus{}
	level.CurrentErrorStatus = level.CurrentErrorStatus.With(ErrorCommitTimeout, false)
	if err := p.put(ctx, level); err != nil {
		p.mu.Unlock()
		return err
	}
	p.mu.Unlock()

	p.bus.Publish(LinkedResetEvent{LevelName: name, TransactionID: txID})
	return nil
}

// ClaimLinkedProgressiveLevelAsync runs ClaimLinkedProgressiveLevel on a goroutine.
func (p *LinkedProgressiveProvider) ClaimLinkedProgressiveLevelAsync(ctx context.Context, name string) <-chan error {
	return async(func() error { return p.ClaimLinkedProgressiveLevel(ctx, name) })
}

// AwardLinkedProgressiveLevelAsync runs AwardLinkedProgressiveLevel on a goroutine.
func (p *LinkedProgressiveProvider) AwardLinkedProgressiveLevelAsync(ctx context.Context, name string, amount int64, method PayMethod) <-chan error {
	return async(func() error { return p.AwardLinkedProgressiveLevel(ctx, name, amount, method) })
}

// ClaimAndAwardLinkedProgressiveLevelAsync runs ClaimAndAwardLinkedProgressiveLevel on a goroutine.
func (p *LinkedProgressiveProvider) ClaimAndAwardLinkedProgressiveLevelAsync(ctx context.Context, name string, amount int64, method PayMethod) <-chan error {
	return async(func() error { return p.ClaimAndAwardLinkedProgressiveLevel(ctx, name, amount, method) })
}

// UpdateLinkedProgressiveLevelsAsync runs UpdateLinkedProgressiveLevels on a goroutine.
func (p *LinkedProgressiveProvider) UpdateLinkedProgressiveLevelsAsync(ctx context.Context, updates []LinkedLevelUpdate) <-chan error {
	return async(func() error { return p.UpdateLinkedProgressiveLevels(ctx, updates) })
}

// ReportLinkDown flags every level of protocol as disconnected.
func (p *LinkedProgressiveProvider) ReportLinkDown(ctx context.Context, protocol string) error {
	return p.setDisconnected(ctx, func(l LinkedProgressiveLevel) bool { return l.ProtocolName == protocol }, true)
}

// ReportLinkUp clears the disconnected flag of every level of protocol.
func (p *LinkedProgressiveProvider) ReportLinkUp(ctx context.Context, protocol string) error {
	return p.setDisconnected(ctx, func(l LinkedProgressiveLevel) bool { return l.ProtocolName == protocol }, false)
}

// ReportLinkDownByGroup flags every level of a progressive group as disconnected.
func (p *LinkedProgressiveProvider) ReportLinkDownByGroup(ctx context.Context, groupID int) error {
	return p.setDisconnected(ctx, func(l LinkedProgressiveLevel) bool { return l.ProgressiveGroupID == groupID }, true)
}

// ReportLinkUpByGroup clears the disconnected flag of every level of a progressive group.
func (p *LinkedProgressiveProvider) ReportLinkUpByGroup(ctx context.Context, groupID int) error {
	return p.setDisconnected(ctx, func(l LinkedProgressiveLevel) bool { return l.ProgressiveGroupID == groupID }, false)
}

func (p *LinkedProgressiveProvider) setDisconnected(ctx context.Context, match func(LinkedProgressiveLevel) bool, down bool) error {
	p.mu.Lock()
	levels := lo.Assign(p.levels)
	var changed []LinkedProgressiveLevel
	for name, l := range levels {
		if !match(l) || l.CurrentErrorStatus.Has(ErrorDisconnected) == down {
			continue
		}
		l.CurrentErrorStatus = l.CurrentErrorStatus.With(ErrorDisconnected, down)
		levels[name] = l
		changed = append(changed, l)
	}
	if len(changed) == 0 {
		p.mu.Unlock()
		return nil
	}
	if err := p.save(ctx, levels); err != nil {
		p.mu.Unlock()
		return err
	}
	p.levels = levels
	p.mu.Unlock()

	changed = sortLinked(changed)
	if down {
		p.logger.Warn().Int("levels", len(changed)).Msg("Linked host disconnected")
		p.bus.Publish(LinkedDisconnectedEvent{Levels: changed})
	} else {
		p.logger.Info().Int("levels", len(changed)).Msg("Linked host reconnected")
		p.bus.Publish(LinkedConnectedEvent{Levels: changed})
	}
	return nil
}

// checkExpirations is one monitor tick. Only levels whose flags changed are reported.
func (p *LinkedProgressiveProvider) checkExpirations() {
	var expired, refreshed, timedOut, cleared []LinkedProgressiveLevel

	p.mu.Lock()
	now := p.clock.Now()
	levels := lo.Assign(p.levels)
	for name, l := range levels {
		before := l.CurrentErrorStatus

		stale := !l.Expiration.IsZero() && now.After(l.Expiration)
		unclaimed := l.ClaimStatus.Status == ClaimHit && now.After(l.ClaimStatus.ExpiredTime)
		l.CurrentErrorStatus = before.
			With(ErrorUpdateTimeout, stale).
			With(ErrorCommitTimeout, unclaimed)
		if l.CurrentErrorStatus == before {
			continue
		}
		levels[name] = l

		switch wasStale := before.Has(ErrorUpdateTimeout); {
		case stale && !wasStale:
			expired = append(expired, l)
		case !stale && wasStale:
			refreshed = append(refreshed, l)
		}
		switch wasUnclaimed := before.Has(ErrorCommitTimeout); {
		case unclaimed && !wasUnclaimed:
			timedOut = append(timedOut, l)
		case !unclaimed && wasUnclaimed:
			cleared = append(cleared, l)
		}
	}

	if len(expired)+len(refreshed)+len(timedOut)+len(cleared) == 0 {
		p.mu.Unlock()
		return
	}
	// fault flags are runtime state: a failed write keeps them in memory and the next
	// tick recomputes them anyway
	if err := p.save(context.Background(), levels); err != nil {
		p.logger.Error().Err(err).Msg("Failed to persist linked fault flags")
	}
	p.levels = levels
	p.mu.Unlock()

	if len(expired) > 0 {
		p.logger.Warn().Strs("levels", linkedNames(expired)).Msg("Linked level updates expired")
		p.bus.Publish(LinkedExpiredEvent{Levels: sortLinked(expired)})
	}
	if len(refreshed) > 0 {
		p.logger.Info().Strs("levels", linkedNames(refreshed)).Msg("Linked level updates refreshed")
		p.bus.Publish(LinkedRefreshedEvent{Levels: sortLinked(refreshed)})
	}
	if len(timedOut) > 0 {
		p.logger.Warn().Strs("levels", linkedNames(timedOut)).Msg("Linked claim timed out")
		p.bus.Publish(LinkedCommitTimeoutEvent{Levels: sortLinked(timedOut)})
	}
	if len(cleared) > 0 {
		p.logger.Info().Strs("levels", linkedNames(cleared)).Msg("Linked claim timeout cleared")
		p.bus.Publish(LinkedCommitTimeoutClearedEvent{Levels: sortLinked(cleared)})
	}
}

func (p *LinkedProgressiveProvider) onHit(evt ProgressiveHitEvent) {
	if evt.Level.AssignedProgressiveID.Type != AssignLinked {
		return
	}
	name := evt.Level.AssignedProgressiveID.Key
	logger := logging.WithTransaction(p.logger.With().Str("level_name", name).Logger(), evt.Transaction.TransactionID)

	if err := p.ProcessHit(context.Background(), name, evt.Transaction, evt.IsRecovery); err != nil {
		logger.Error().Err(err).Int("code", apperrors.GetCode(err)).Msg("Linked progressive hit failed")
		p.bus.Publish(ProgressiveLockupEvent{Source: "linked_progressive_provider", Key: name, Message: err.Error()})
		return
	}
	logger.Info().Bool("recovery", evt.IsRecovery).Msg("Linked progressive hit recorded")
}

// claim and award expect p.mu to be held.
func (p *LinkedProgressiveProvider) claim(ctx context.Context, name string) (LinkedProgressiveLevel, error) {
	level, ok := p.levels[name]
	if !ok {
		return LinkedProgressiveLevel{}, apperrors.Newf(apperrors.ErrLevelNotFound, "linked level %s not found", name)
	}
	if level.ClaimStatus.Status != ClaimHit {
		return LinkedProgressiveLevel{}, apperrors.New(apperrors.ErrClaimSequence, "unable to award a level without a hit")
	}
	level.ClaimStatus.Status = ClaimClaimed
	if err := p.put(ctx, level); err != nil {
		return LinkedProgressiveLevel{}, err
	}
	return level, nil
}

func (p *LinkedProgressiveProvider) award(ctx context.Context, name string, amount int64) (LinkedProgressiveLevel, error) {
	level, ok := p.levels[name]
	if !ok {
		return LinkedProgressiveLevel{}, apperrors.Newf(apperrors.ErrLevelNotFound, "linked level %s not found", name)
	}
	if level.ClaimStatus.Status != ClaimClaimed {
		return LinkedProgressiveLevel{}, apperrors.New(apperrors.ErrClaimSequence, "attempt to award an unclaimed level")
	}
	if amount != AwardRecordedAmount {
		if amount < 0 {
			return LinkedProgressiveLevel{}, apperrors.Newf(apperrors.ErrClaimSequence, "invalid award amount %d", amount)
		}
		level.ClaimStatus.WinAmount = amount
	}
	level.ClaimStatus.Status = ClaimAwarded
	if err := p.put(ctx, level); err != nil {
		return LinkedProgressiveLevel{}, err
	}
	return level, nil
}

// restore reloads one level from storage after a discarded scope. Expects p.mu to be held.
func (p *LinkedProgressiveProvider) restore(ctx context.Context, name string) {
	persisted, err := persistence.GetOrCreateValue[map[string]LinkedProgressiveLevel](ctx, p.block, linkedValuesKey)
	if err != nil {
		p.logger.Error().Err(err).Str("level_name", name).Msg("Failed to reload linked level")
		return
	}
	levels := lo.Assign(p.levels)
	if l, ok := persisted[name]; ok {
		levels[name] = l
	}
	p.levels = levels
}

func (p *LinkedProgressiveProvider) publishAward(level LinkedProgressiveLevel, method PayMethod) {
	p.logger.Info().
		Str("level_name", level.LevelName).
		Int64("transaction_id", level.ClaimStatus.TransactionID).
		Int64("amount", level.ClaimStatus.WinAmount).
		Msg("Linked progressive awarded")
	p.bus.Publish(LinkedAwardedEvent{
		LevelName:     level.LevelName,
		TransactionID: level.ClaimStatus.TransactionID,
		Amount:        level.ClaimStatus.WinAmount,
		PayMethod:     method,
	})
}

// put stores one level. Expects p.mu to be held.
func (p *LinkedProgressiveProvider) put(ctx context.Context, level LinkedProgressiveLevel) error {
	levels := lo.Assign(p.levels, map[string]LinkedProgressiveLevel{level.LevelName: level})
	if err := p.save(ctx, levels); err != nil {
		return err
	}
	p.levels = levels
	return nil
}

func (p *LinkedProgressiveProvider) save(ctx context.Context, levels map[string]LinkedProgressiveLevel) error {
	tx := p.block.Transaction()
	if err := tx.SetValue(linkedValuesKey, levels); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func sortLinked(levels []LinkedProgressiveLevel) []LinkedProgressiveLevel {
	out := append([]LinkedProgressiveLevel(nil), levels...)
	sort.Slice(out, func(i, j int) bool { return out[i].LevelName < out[j].LevelName })
	return out
}

func linkedNames(levels []LinkedProgressiveLevel) []string {
	return lo.Map(levels, func(l LinkedProgressiveLevel, _ int) string { return l.LevelName })
}

// async runs fn on a goroutine and delivers its result on a buffered channel.
func async(fn func() error) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()
	return done
}
