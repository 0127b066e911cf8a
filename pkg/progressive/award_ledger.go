package progressive

import (
	"context"

	"github.com/Digital-Creators-Team/slot-progressives/persistence"
	"github.com/samber/lo"
)

const awardsKey = "awards"

// awardRecord is what a pool paid for one transaction.
type awardRecord struct {
	Amount    int64
	PayMethod PayMethod
}

// awardLedger remembers pool awards by transaction id until the win is committed. It is
// written in the same scope as the claim, so a hit replayed after a restart finds the
// award instead of claiming the pool again. Callers serialize access.
type awardLedger struct {
	block *persistence.Block
}

func newAwardLedger(ctx context.Context, storage persistence.Storage, blockName string) (*awardLedger, error) {
	block, err := storage.GetOrCreateBlock(ctx, blockName, persistence.Critical)
	if err != nil {
		return nil, err
	}
	return &awardLedger{block: block}, nil
}

func (l *awardLedger) load(ctx context.Context) (map[int64]awardRecord, error) {
	awards, err := persistence.GetOrCreateValue[map[int64]awardRecord](ctx, l.block, awardsKey)
	if err != nil {
		return nil, err
	}
	if awards == nil {
		awards = make(map[int64]awardRecord)
	}
	return awards, nil
}

// lookup returns the award recorded for txID, reading through the scope carried by ctx.
func (l *awardLedger) lookup(ctx context.Context, txID int64) (awardRecord, bool, error) {
	awards, err := l.load(ctx)
	if err != nil {
		return awardRecord{}, false, err
	}
	rec, ok := awards[txID]
	return rec, ok, nil
}

func (l *awardLedger) record(ctx context.Context, txID int64, rec awardRecord) error {
	awards, err := l.load(ctx)
	if err != nil {
		return err
	}
	return l.save(ctx, lo.Assign(awards, map[int64]awardRecord{txID: rec}))
}

// remove drops the award of a committed transaction. Unknown ids are ignored.
func (l *awardLedger) remove(ctx context.Context, txID int64) error {
	awards, err := l.load(ctx)
	if err != nil {
		return err
	}
	if _, ok := awards[txID]; !ok {
		return nil
	}
	return l.save(ctx, lo.OmitByKeys(awards, []int64{txID}))
}

func (l *awardLedger) save(ctx context.Context, awards map[int64]awardRecord) error {
	tx := l.block.Transaction()
	if err := tx.SetValue(awardsKey, awards); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
