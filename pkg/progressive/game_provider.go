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
	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const (
	gameBlockName          = "ProgressiveGameProvider"
	gameTransactionsKey    = "transactions"
	gameNextTransactionKey = "nextTransactionId"
)

// GameProviderDeps are the collaborators of the orchestrator.
type GameProviderDeps struct {
	Storage persistence.Storage
	Bus     *events.Bus
	Clock   quartz.Clock
	Levels  *LevelProvider
	Sap     *SapProvider
	Shared  *SharedSapProvider
	Linked  *LinkedProgressiveProvider
	Mystery *MysteryProvider
	Runtime providers.GameRuntime
	History providers.GameHistory
}

// session is the running game the active levels belong to.
type session struct {
	gameID    int
	denom     int64
	betOption string
	deviceIDs []int
	lastWager int64
}

// ProgressiveGameProvider drives the progressive side of a game session: activation,
// wager fan-out and the trigger -> award -> commit flow of jackpot transactions.
type ProgressiveGameProvider struct {
	mu            sync.Mutex
	deps          GameProviderDeps
	block         *persistence.Block
	active        *session
	pendingWagers map[int]int64
	transactions  map[int64]JackpotTransaction
	nextTxID      int64
	logger        zerolog.Logger
}

// NewProgressiveGameProvider restores in-flight transactions and subscribes to award events.
// Call Recover once every pool is wired to replay unfinished hits.
func NewProgressiveGameProvider(ctx context.Context, deps GameProviderDeps, logger zerolog.Logger) (*ProgressiveGameProvider, error) {
	block, err := deps.Storage.GetOrCreateBlock(ctx, gameBlockName, persistence.Critical)
	if err != nil {
		return nil, err
	}
	txs, err := persistence.GetOrCreateValue[map[int64]JackpotTransaction](ctx, block, gameTransactionsKey)
	if err != nil {
		return nil, err
	}
	if txs == nil {
		txs = make(map[int64]JackpotTransaction)
	}
	next, err := persistence.GetOrCreateValue[int64](ctx, block, gameNextTransactionKey)
	if err != nil {
		return nil, err
	}
	for id := range txs {
		next = max(next, id+1)
	}

	g := &ProgressiveGameProvider{
		deps:          deps,
		block:         block,
		pendingWagers: make(map[int]int64),
		transactions:  txs,
		nextTxID:      max(next, 1),
		logger:        logging.WithComponent(logger, "progressive_game_provider"),
	}

	events.Subscribe(deps.Bus, g, g.onSapAwarded)
	events.Subscribe(deps.Bus, g, g.onSharedAwarded)
	events.Subscribe(deps.Bus, g, g.onLinkedAwarded)
	events.Subscribe(deps.Bus, g, g.onLinkedUpdated)
	return g, nil
}

// ActivateProgressiveLevels makes the levels of a game/denom/bet option active. Levels are
// eligible when they are standalone or assigned to a pool.
func (g *ProgressiveGameProvider) ActivateProgressiveLevels(ctx context.Context, gameID int, denom int64, betOption string) ([]ProgressiveLevel, error) {
	g.mu.Lock()

	var deactivated *LevelsDeactivatedEvent
	if g.active != nil {
		evt, err := g.deactivate(ctx)
		if err != nil {
			g.mu.Unlock()
			return nil, err
		}
		deactivated = evt
	}

	candidates := lo.Filter(g.deps.Levels.GetProgressiveLevelsForGame(gameID, denom, ""), func(l ProgressiveLevel, _ int) bool {
		return (l.BetOption == "" || l.BetOption == betOption) &&
			(l.LevelType == LevelTypeSap || l.AssignedProgressiveID.IsAssigned())
	})

	scoped, scope := g.deps.Storage.ScopedTransaction(ctx)
	defer scope.Close()

	ids := lo.Map(candidates, func(l ProgressiveLevel, _ int) int { return l.DeviceID })
	activated, err := g.deps.Levels.UpdateProgressiveLevels(scoped, ids, func(level *ProgressiveLevel) error {
		if err := g.seed(level); err != nil {
			return err
		}
		if err := g.ensureMagicNumber(scoped, level); err != nil {
			return err
		}
		if !inFlight(level.CurrentState) {
			level.CurrentState = StateActive
		}
		return nil
	})
	if err == nil {
		err = scope.Complete(scoped)
	}
	if err != nil {
		g.mu.Unlock()
		return nil, err
	}

	g.active = &session{
		gameID:    gameID,
		denom:     denom,
		betOption: betOption,
		deviceIDs: ids,
	}
	clear(g.pendingWagers)
	g.mu.Unlock()

	g.logger.Info().
		Int("game_id", gameID).
		Int64("denom", denom).
		Str("bet_option", betOption).
		Int("levels", len(activated)).
		Msg("Progressive levels activated")

	if deactivated != nil {
		g.deps.Bus.Publish(*deactivated)
	}
	g.deps.Bus.Publish(LevelsActivatedEvent{GameID: gameID, Levels: activated})
	g.notifyValues(ctx)
	return activated, nil
}

// DeactivateProgressiveLevels ends the session. Levels with an unfinished win keep their state.
func (g *ProgressiveGameProvider) DeactivateProgressiveLevels(ctx context.Context) error {
	g.mu.Lock()
	evt, err := g.deactivate(ctx)
	g.mu.Unlock()
	if err != nil {
		return err
	}
	if evt != nil {
		g.deps.Bus.Publish(*evt)
	}
	return nil
}

// deactivate expects g.mu to be held.
func (g *ProgressiveGameProvider) deactivate(ctx context.Context) (*LevelsDeactivatedEvent, error) {
	if g.active == nil {
		return nil, nil
	}

	_, err := g.deps.Levels.UpdateProgressiveLevels(ctx, g.active.deviceIDs, func(level *ProgressiveLevel) error {
		if !inFlight(level.CurrentState) {
			level.CurrentState = StateReady
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	evt := &LevelsDeactivatedEvent{GameID: g.active.gameID, DeviceIDs: g.active.deviceIDs}
	g.active = nil
	clear(g.pendingWagers)

	g.logger.Info().Int("game_id", evt.GameID).Msg("Progressive levels deactivated")
	return evt, nil
}

// GetActiveProgressiveLevels returns snapshots of the active levels.
func (g *ProgressiveGameProvider) GetActiveProgressiveLevels() ([]ProgressiveLevel, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active == nil {
		return nil, nil
	}
	return g.activeLevels()
}

// SetProgressiveWagerAmounts pre-declares per level wagers, keyed by device id. They replace
// the round wager on the next increment for those levels only.
func (g *ProgressiveGameProvider) SetProgressiveWagerAmounts(wagers map[int]int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active == nil {
		return apperrors.New(apperrors.ErrConflict, "no progressive game is active")
	}
	for deviceID, wager := range wagers {
		if !lo.Contains(g.active.deviceIDs, deviceID) {
			return apperrors.Newf(apperrors.ErrLevelNotFound, "progressive level %d is not active", deviceID)
		}
		if wager < 0 {
			return apperrors.Newf(apperrors.ErrInvalidRequest, "negative wager %d for level %d", wager, deviceID)
		}
		g.pendingWagers[deviceID] = wager
	}
	return nil
}

// IncrementProgressiveLevel contributes a wager to every active level.
func (g *ProgressiveGameProvider) IncrementProgressiveLevel(ctx context.Context, wager, ante int64) error {
	return g.IncrementProgressiveLevelPack(ctx, "", wager, ante)
}

// IncrementProgressiveLevelPack contributes a wager to the active levels of one pack. Linked
// levels are skipped: their value only comes from the host. A shared pool is funded once per
// call however many levels point at it.
func (g *ProgressiveGameProvider) IncrementProgressiveLevelPack(ctx context.Context, packName string, wager, ante int64) error {
	if wager < 0 || ante < 0 {
		return apperrors.Newf(apperrors.ErrInvalidRequest, "negative wager %d or ante %d", wager, ante)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active == nil {
		return apperrors.New(apperrors.ErrConflict, "no progressive game is active")
	}
	levels, err := g.activeLevels()
	if err != nil {
		return err
	}
	levels = lo.Filter(levels, func(l ProgressiveLevel, _ int) bool {
		return packName == "" || l.PackName == packName
	})
	levels = selectTiers(levels, wager, g.active.denom)

	scoped, scope := g.deps.Storage.ScopedTransaction(ctx)
	defer scope.Close()

	funded := make(map[string]SharedSapLevel)
	ids := lo.Map(levels, func(l ProgressiveLevel, _ int) int { return l.DeviceID })
	_, err = g.deps.Levels.UpdateProgressiveLevels(scoped, ids, func(level *ProgressiveLevel) error {
		w := wager
		if pending, ok := g.pendingWagers[level.DeviceID]; ok {
			w = pending
		}

		switch {
		case level.AssignedProgressiveID.Type == AssignLinked || level.LevelType == LevelTypeLP:
			return nil
		case level.FundingType == FundingBulkOnly:
			// funded by the host in bulk, never per wager
			return nil
		case level.AssignedProgressiveID.Type == AssignAssociativeSap:
			id := level.AssignedProgressiveID.Key
			shared, ok := funded[id]
			if !ok {
				var err error
				if shared, err = g.deps.Shared.Increment(scoped, id, w, ante); err != nil {
					return err
				}
				funded[id] = shared
			}
			level.CurrentValue = shared.CurrentValue
			return nil
		default:
			return g.deps.Sap.Increment(level, w, ante)
		}
	})
	if err == nil {
		err = scope.Complete(scoped)
	}
	if err != nil {
		g.deps.Shared.restore(ctx, lo.Keys(funded))
		return err
	}

	for _, id := range ids {
		delete(g.pendingWagers, id)
	}
	g.active.lastWager = wager

	g.logger.Debug().Str("pack_name", packName).Int64("wager", wager).Int64("ante", ante).Int("levels", len(ids)).Msg("Progressive wager applied")
	return nil
}

// CheckMysteryJackpot reports the active mystery levels whose value reached their trigger,
// as pack name -> level ids. Linked levels are triggered by the host and never reported.
func (g *ProgressiveGameProvider) CheckMysteryJackpot(ctx context.Context) (map[string][]int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active == nil {
		return nil, nil
	}
	levels, err := g.activeLevels()
	if err != nil {
		return nil, err
	}
	levels = selectTiers(levels, g.active.lastWager, g.active.denom)

	hits := make(map[string][]int)
	for _, level := range levels {
		if level.TriggerControl != TriggerMystery || level.AssignedProgressiveID.Type == AssignLinked || inFlight(level.CurrentState) {
			continue
		}
		key := MysteryKey(&level)
		current := level.CurrentValue
		if level.AssignedProgressiveID.Type == AssignAssociativeSap {
			shared, err := g.deps.Shared.ViewSharedSapLevel(level.AssignedProgressiveID.Key)
			if err != nil {
				return nil, err
			}
			key = SharedMysteryKey(shared.ID)
			current = shared.CurrentValue
		}
		hit, err := g.deps.Mystery.CheckMysteryJackpot(ctx, key, current)
		if err != nil {
			return nil, err
		}
		if hit {
			hits[level.PackName] = append(hits[level.PackName], level.LevelID)
		}
	}
	return hits, nil
}

// TriggerProgressiveLevel opens a jackpot transaction for each winning level of pack and asks
// the owning pools to claim. It returns level id -> transaction id. All transactions of a call
// are committed together or not at all.
func (g *ProgressiveGameProvider) TriggerProgressiveLevel(ctx context.Context, packName string, levelIDs []int) (map[int]int64, error) {
	g.mu.Lock()

	if g.active == nil {
		g.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrConflict, "no progressive game is active")
	}
	levels, err := g.activeLevels()
	if err != nil {
		g.mu.Unlock()
		return nil, err
	}
	levels = selectTiers(lo.Filter(levels, func(l ProgressiveLevel, _ int) bool {
		return l.PackName == packName
	}), g.active.lastWager, g.active.denom)

	scoped, scope := g.deps.Storage.ScopedTransaction(ctx)
	defer scope.Close()

	txs := lo.Assign(g.transactions)
	next := g.nextTxID
	wins := make(map[int]int64, len(levelIDs))
	hitTxs := make(map[int]JackpotTransaction, len(levelIDs))
	replayed := make(map[int]bool)

	for _, levelID := range lo.Uniq(levelIDs) {
		level, ok := lo.Find(levels, func(l ProgressiveLevel) bool { return l.LevelID == levelID })
		if !ok {
			g.mu.Unlock()
			return nil, apperrors.Newf(apperrors.ErrLevelNotFound, "level %d of pack %s is not active", levelID, packName)
		}

		tx, reused := g.openTransaction(txs, level.DeviceID)
		if !reused {
			tx = JackpotTransaction{
				TransactionID:         next,
				DeviceID:              level.DeviceID,
				LevelID:               level.LevelID,
				LevelName:             level.LevelName,
				PackName:              level.PackName,
				GameID:                level.GameID,
				Denomination:          g.active.denom,
				AssignedProgressiveID: level.AssignedProgressiveID,
				TriggerControl:        level.TriggerControl,
				State:                 TransactionHit,
				ValueAtHit:            level.CurrentValue,
				ResetValue:            level.ResetValue,
				HiddenValue:           level.HiddenValue,
				Overflow:              level.Overflow,
				HitTime:               g.deps.Clock.Now(),
			}
			next++
			txs[tx.TransactionID] = tx
		}
		wins[levelID] = tx.TransactionID

		// a transaction past Hit was already claimed and must not be claimed twice
		if tx.State == TransactionHit {
			hitTxs[level.DeviceID] = tx
			replayed[level.DeviceID] = reused
		}
	}

	updated, err := g.deps.Levels.UpdateProgressiveLevels(scoped, lo.Keys(hitTxs), func(level *ProgressiveLevel) error {
		level.CurrentState = StateHit
		return nil
	})
	if err == nil {
		err = g.saveTransactions(scoped, txs, next)
	}
	if err == nil {
		err = scope.Complete(scoped)
	}
	if err != nil {
		g.mu.Unlock()
		return nil, err
	}

	sort.Slice(updated, func(i, j int) bool { return updated[i].DeviceID < updated[j].DeviceID })
	hits := lo.Map(updated, func(level ProgressiveLevel, _ int) ProgressiveHitEvent {
		return ProgressiveHitEvent{
			Level:       level,
			Transaction: hitTxs[level.DeviceID],
			IsRecovery:  replayed[level.DeviceID],
		}
	})
	g.transactions = txs
	g.nextTxID = next
	g.mu.Unlock()

	for _, hit := range hits {
		log := logging.WithTransaction(g.logger, hit.Transaction.TransactionID)
		log.Info().
			Str("pack_name", packName).
			Int("level_id", hit.Level.LevelID).
			Int64("value_at_hit", hit.Transaction.ValueAtHit).
			Msg("Progressive level triggered")
		g.deps.Bus.Publish(hit)
	}

	if g.deps.Runtime != nil && g.deps.Runtime.Connected() {
		if err := g.deps.Runtime.JackpotWinNotification(ctx, packName, wins); err != nil {
			g.logger.Warn().Err(err).Msg("Failed to notify game runtime of progressive win")
		}
	}
	return wins, nil
}

// SetProgressiveWin records the payout of a claimed transaction: Hit -> Pending.
// Setting the same amount again is a no-op.
func (g *ProgressiveGameProvider) SetProgressiveWin(ctx context.Context, txID int64, amount int64, method PayMethod) error {
	g.mu.Lock()

	tx, ok := g.transactions[txID]
	if !ok {
		g.mu.Unlock()
		return apperrors.Newf(apperrors.ErrTransactionNotFound, "jackpot transaction %d not found", txID)
	}
	switch {
	case tx.State == TransactionPending && tx.WinAmount == amount:
		g.mu.Unlock()
		return nil
	case tx.State != TransactionHit:
		g.mu.Unlock()
		return apperrors.Newf(apperrors.ErrClaimSequence, "jackpot transaction %d is %s", txID, tx.State)
	}

	tx.WinAmount = amount
	tx.PayMethod = method
	tx.State = TransactionPending

	scoped, scope := g.deps.Storage.ScopedTransaction(ctx)
	defer scope.Close()

	txs := lo.Assign(g.transactions, map[int64]JackpotTransaction{txID: tx})
	_, err := g.deps.Levels.UpdateProgressiveLevels(scoped, []int{tx.DeviceID}, func(level *ProgressiveLevel) error {
		level.CurrentState = StateCommitted
		return nil
	})
	if err == nil {
		err = g.saveTransactions(scoped, txs, g.nextTxID)
	}
	if err == nil {
		err = scope.Complete(scoped)
	}
	if err != nil {
		g.mu.Unlock()
		return err
	}
	g.transactions = txs
	g.mu.Unlock()

	log := logging.WithTransaction(g.logger, txID)
	log.Info().Int64("amount", amount).Str("pay_method", method.String()).Msg("Progressive win set")
	g.notifyValues(ctx)
	return nil
}

// CommitProgressiveWin finalizes paid transactions. It returns the ids that could not be
// committed because they are unknown or not pending.
func (g *ProgressiveGameProvider) CommitProgressiveWin(ctx context.Context, txIDs []int64) ([]int64, error) {
	g.mu.Lock()

	var failed []int64
	txs := lo.Assign(g.transactions)
	committed := make([]JackpotTransaction, 0, len(txIDs))
	now := g.deps.Clock.Now()

	for _, id := range lo.Uniq(txIDs) {
		tx, ok := txs[id]
		if !ok || tx.State != TransactionPending {
			failed = append(failed, id)
			continue
		}
		tx.State = TransactionCommitted
		tx.PaidAmount = tx.WinAmount
		tx.PaidTime = now
		txs[id] = tx
		committed = append(committed, tx)
	}

	if len(committed) == 0 {
		g.mu.Unlock()
		return failed, nil
	}

	scoped, scope := g.deps.Storage.ScopedTransaction(ctx)
	defer scope.Close()

	deviceIDs := lo.Map(committed, func(tx JackpotTransaction, _ int) int { return tx.DeviceID })
	_, err := g.deps.Levels.UpdateProgressiveLevels(scoped, deviceIDs, func(level *ProgressiveLevel) error {
		level.CurrentState = StatePending
		return nil
	})
	if err == nil {
		err = g.saveTransactions(scoped, txs, g.nextTxID)
	}
	if err == nil {
		err = scope.Complete(scoped)
	}
	if err != nil {
		g.mu.Unlock()
		return nil, err
	}
	g.transactions = txs
	g.mu.Unlock()

	if err := g.finishCommitted(ctx, committed); err != nil {
		return failed, err
	}
	g.notifyValues(ctx)
	return failed, nil
}

// finishCommitted runs the after-commit steps of committed transactions: linked reset, the
// history record and pruning. It is safe to run again for the same transactions.
func (g *ProgressiveGameProvider) finishCommitted(ctx context.Context, committed []JackpotTransaction) error {
	for _, tx := range committed {
		logger := logging.WithTransaction(g.logger, tx.TransactionID)

		if tx.AssignedProgressiveID.Type == AssignLinked {
			name := tx.AssignedProgressiveID.Key
			linked, err := g.deps.Linked.ViewLinkedProgressiveLevel(name)
			if err != nil {
				return err
			}
			if linked.ClaimStatus.Status == ClaimAwarded && linked.ClaimStatus.TransactionID == tx.TransactionID {
				if err := g.deps.Linked.Reset(ctx, name); err != nil {
					logger.Error().Err(err).Str("level_name", name).Msg("Failed to reset linked level")
					g.deps.Bus.Publish(ProgressiveLockupEvent{Source: "progressive_game_provider", Key: name, Message: err.Error()})
					return err
				}
			}
		}

		if g.deps.History != nil {
			info := &providers.JackpotInfo{
				TransactionID: tx.TransactionID,
				DeviceID:      tx.DeviceID,
				LevelID:       tx.LevelID,
				LevelName:     tx.LevelName,
				PackName:      tx.PackName,
				GameID:        tx.GameID,
				Denomination:  tx.Denomination,
				Amount:        tx.PaidAmount,
				PayMethod:     tx.PayMethod.String(),
				HitTime:       tx.HitTime,
				PaidTime:      tx.PaidTime,
			}
			if err := g.deps.History.AppendJackpotInfo(ctx, info); err != nil {
				logger.Error().Err(err).Msg("Failed to append jackpot info to game history")
			}
		}
	}

	g.mu.Lock()
	scoped, scope := g.deps.Storage.ScopedTransaction(ctx)
	defer scope.Close()

	deviceIDs := lo.Map(committed, func(tx JackpotTransaction, _ int) int { return tx.DeviceID })
	_, err := g.deps.Levels.UpdateProgressiveLevels(scoped, deviceIDs, func(level *ProgressiveLevel) error {
		if level.CurrentState != StatePending {
			return nil
		}
		level.CurrentState = StateReady
		if g.active != nil && lo.Contains(g.active.deviceIDs, level.DeviceID) {
			level.CurrentState = StateActive
		}
		return nil
	})
	ids := lo.Map(committed, func(tx JackpotTransaction, _ int) int64 { return tx.TransactionID })
	txs := lo.OmitByKeys(g.transactions, ids)
	if err == nil {
		err = g.saveTransactions(scoped, txs, g.nextTxID)
	}
	if err == nil {
		err = scope.Complete(scoped)
	}
	if err != nil {
		g.mu.Unlock()
		return err
	}
	g.transactions = txs
	g.mu.Unlock()

	for _, tx := range committed {
		log := logging.WithTransaction(g.logger, tx.TransactionID)
		log.Info().Int64("amount", tx.PaidAmount).Msg("Progressive win committed")
		g.deps.Bus.Publish(ProgressiveCommittedEvent{Transaction: tx})
	}
	return nil
}

// PendingTransactions returns the transactions not yet committed, oldest first.
func (g *ProgressiveGameProvider) PendingTransactions() []JackpotTransaction {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := lo.Filter(lo.Values(g.transactions), func(tx JackpotTransaction, _ int) bool {
		return tx.State != TransactionCommitted
	})
	sort.Slice(out, func(i, j int) bool { return out[i].TransactionID < out[j].TransactionID })
	return out
}

// Recover finishes what a restart interrupted: committed transactions are finalized and hits
// not yet claimed are replayed to their pools.
func (g *ProgressiveGameProvider) Recover(ctx context.Context) error {
	g.mu.Lock()
	var hits, committed []JackpotTransaction
	for _, tx := range g.transactions {
		switch tx.State {
		case TransactionHit:
			hits = append(hits, tx)
		case TransactionCommitted:
			committed = append(committed, tx)
		}
	}
	g.mu.Unlock()

	sort.Slice(hits, func(i, j int) bool { return hits[i].TransactionID < hits[j].TransactionID })
	sort.Slice(committed, func(i, j int) bool { return committed[i].TransactionID < committed[j].TransactionID })

	if len(committed) > 0 {
		if err := g.finishCommitted(ctx, committed); err != nil {
			return err
		}
	}
	for _, tx := range hits {
		level, err := g.deps.Levels.GetProgressiveLevel(tx.DeviceID)
		if err != nil {
			return err
		}
		log := logging.WithTransaction(g.logger, tx.TransactionID)
		log.Warn().Msg("Replaying progressive hit")
		g.deps.Bus.Publish(ProgressiveHitEvent{Level: level, Transaction: tx, IsRecovery: true})
	}
	return nil
}

// Dispose revokes the bus subscriptions.
func (g *ProgressiveGameProvider) Dispose() {
	g.deps.Bus.UnsubscribeAll(g)
}

func (g *ProgressiveGameProvider) onSapAwarded(evt SapAwardedEvent) {
	g.award(evt.TransactionID, evt.Amount, evt.PayMethod)
}

func (g *ProgressiveGameProvider) onSharedAwarded(evt SharedSapAwardedEvent) {
	shared, err := g.deps.Shared.ViewSharedSapLevel(evt.SharedID)
	if err == nil {
		err = g.refreshAssigned(context.Background(), AssignAssociativeSap, map[string]int64{shared.ID: shared.CurrentValue})
	}
	if err != nil {
		g.logger.Warn().Err(err).Str("shared_id", evt.SharedID).Msg("Failed to refresh shared pool values")
	}
	g.award(evt.TransactionID, evt.Amount, evt.PayMethod)
}

func (g *ProgressiveGameProvider) onLinkedAwarded(evt LinkedAwardedEvent) {
	g.award(evt.TransactionID, evt.Amount, evt.PayMethod)
}

func (g *ProgressiveGameProvider) onLinkedUpdated(evt LinkedLevelsUpdatedEvent) {
	amounts := make(map[string]int64, len(evt.Levels))
	for _, l := range evt.Levels {
		amounts[l.LevelName] = l.Amount
	}
	if err := g.refreshAssigned(context.Background(), AssignLinked, amounts); err != nil {
		g.logger.Warn().Err(err).Msg("Failed to refresh linked values")
		return
	}
	g.notifyValues(context.Background())
}

func (g *ProgressiveGameProvider) award(txID, amount int64, method PayMethod) {
	if err := g.SetProgressiveWin(context.Background(), txID, amount, method); err != nil {
		log := logging.WithTransaction(g.logger, txID)
		log.Error().Err(err).Msg("Failed to set progressive win")
		g.deps.Bus.Publish(ProgressiveLockupEvent{
			Source:  "progressive_game_provider",
			Key:     fmt.Sprintf("transaction:%d", txID),
			Message: err.Error(),
		})
	}
}

// refreshAssigned copies pool values into the active levels assigned to them.
func (g *ProgressiveGameProvider) refreshAssigned(ctx context.Context, kind AssignableProgressiveType, values map[string]int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active == nil {
		return nil
	}
	levels, err := g.activeLevels()
	if err != nil {
		return err
	}
	ids := lo.FilterMap(levels, func(l ProgressiveLevel, _ int) (int, bool) {
		_, ok := values[l.AssignedProgressiveID.Key]
		return l.DeviceID, ok && l.AssignedProgressiveID.Type == kind
	})
	_, err = g.deps.Levels.UpdateProgressiveLevels(ctx, ids, func(level *ProgressiveLevel) error {
		if v, ok := values[level.AssignedProgressiveID.Key]; ok && level.AssignedProgressiveID.Type == kind {
			level.CurrentValue = v
		}
		return nil
	})
	return err
}

// seed copies the authoritative value of an assigned pool into level.
func (g *ProgressiveGameProvider) seed(level *ProgressiveLevel) error {
	key := level.AssignedProgressiveID.Key
	switch level.AssignedProgressiveID.Type {
	case AssignLinked:
		linked, err := g.deps.Linked.ViewLinkedProgressiveLevel(key)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrInvalidAssignment, fmt.Sprintf("level %d is assigned to unknown linked level %s", level.DeviceID, key))
		}
		level.CurrentValue = linked.Amount
	case AssignAssociativeSap:
		shared, err := g.deps.Shared.ViewSharedSapLevel(key)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrInvalidAssignment, fmt.Sprintf("level %d is assigned to unknown shared pool %s", level.DeviceID, key))
		}
		level.CurrentValue = shared.CurrentValue
		level.ResetValue = shared.ResetValue
		level.MaximumValue = shared.MaximumValue
	}
	return nil
}

// ensureMagicNumber draws a trigger for a mystery level that has none yet.
func (g *ProgressiveGameProvider) ensureMagicNumber(ctx context.Context, level *ProgressiveLevel) error {
	if level.TriggerControl != TriggerMystery || level.AssignedProgressiveID.Type == AssignLinked {
		return nil
	}
	key, v := MysteryKey(level), level.PoolValue
	if level.AssignedProgressiveID.Type == AssignAssociativeSap {
		shared, err := g.deps.Shared.ViewSharedSapLevel(level.AssignedProgressiveID.Key)
		if err != nil {
			return err
		}
		key, v = SharedMysteryKey(shared.ID), shared.PoolValue
	}
	_, ok, err := g.deps.Mystery.TryGetMagicNumber(ctx, key)
	if err != nil || ok {
		return err
	}
	_, err = g.deps.Mystery.GenerateMagicNumber(ctx, key, v)
	return err
}

// openTransaction finds an uncommitted transaction of deviceID. Expects g.mu to be held.
func (g *ProgressiveGameProvider) openTransaction(txs map[int64]JackpotTransaction, deviceID int) (JackpotTransaction, bool) {
	return lo.Find(lo.Values(txs), func(tx JackpotTransaction) bool {
		return tx.DeviceID == deviceID && tx.State != TransactionCommitted
	})
}

// activeLevels loads fresh snapshots of the session's levels. Expects g.mu to be held.
func (g *ProgressiveGameProvider) activeLevels() ([]ProgressiveLevel, error) {
	out := make([]ProgressiveLevel, 0, len(g.active.deviceIDs))
	for _, id := range g.active.deviceIDs {
		level, err := g.deps.Levels.GetProgressiveLevel(id)
		if err != nil {
			return nil, err
		}
		out = append(out, level)
	}
	return out, nil
}

func (g *ProgressiveGameProvider) notifyValues(ctx context.Context) {
	if g.deps.Runtime == nil || !g.deps.Runtime.Connected() {
		return
	}
	if err := g.deps.Runtime.JackpotNotification(ctx); err != nil {
		g.logger.Warn().Err(err).Msg("Failed to notify game runtime of progressive values")
	}
}

func (g *ProgressiveGameProvider) saveTransactions(ctx context.Context, txs map[int64]JackpotTransaction, next int64) error {
	tx := g.block.Transaction()
	if err := tx.SetValue(gameTransactionsKey, txs); err != nil {
		return err
	}
	if err := tx.SetValue(gameNextTransactionKey, next); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// inFlight reports whether a level has a win that is not committed yet.
func inFlight(s LevelState) bool {
	return s == StateHit || s == StateCommitted || s == StatePending
}

// selectTiers keeps one level per pack and level id when a game has wager tiered pools: the
// highest tier the wager reaches, or the lowest tier when it reaches none.
func selectTiers(levels []ProgressiveLevel, wager, denom int64) []ProgressiveLevel {
	var credits int64
	if denom > 0 {
		credits = wager / denom
	}

	groups := lo.GroupBy(levels, func(l ProgressiveLevel) string {
		return fmt.Sprintf("%s|%d|%s", l.PackName, l.LevelID, l.BetOption)
	})
	out := make([]ProgressiveLevel, 0, len(groups))
	for _, group := range groups {
		if len(group) == 1 {
			out = append(out, group[0])
			continue
		}
		sort.Slice(group, func(i, j int) bool { return group[i].WagerCredits < group[j].WagerCredits })
		chosen := group[0]
		for _, l := range group {
			if int64(l.WagerCredits) <= credits {
				chosen = l
			}
		}
		out = append(out, chosen)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}
