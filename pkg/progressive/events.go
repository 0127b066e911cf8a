package progressive

// Events published on the bus. Fault events carry only the levels whose state changed.

// ProgressiveHitEvent asks the owning pool to claim a triggered level.
type ProgressiveHitEvent struct {
	Level       ProgressiveLevel
	Transaction JackpotTransaction
	IsRecovery  bool
}

// SapAwardedEvent is published once a standalone level has been claimed.
type SapAwardedEvent struct {
	DeviceID      int
	TransactionID int64
	Amount        int64
	PayMethod     PayMethod
}

// SharedSapAwardedEvent is published once a shared pool has been claimed.
type SharedSapAwardedEvent struct {
	SharedID      string
	TransactionID int64
	Amount        int64
	PayMethod     PayMethod
}

// LinkedAwardedEvent is published when the host awards a linked win.
type LinkedAwardedEvent struct {
	LevelName     string
	TransactionID int64
	Amount        int64
	PayMethod     PayMethod
}

// LinkedHitEvent tells the protocol layer a linked level was hit locally.
type LinkedHitEvent struct {
	LevelName     string
	TransactionID int64
	Amount        int64
}

// LinkedClaimedEvent is published on the Hit -> Claimed transition.
type LinkedClaimedEvent struct {
	LevelName     string
	TransactionID int64
}

// LinkedResetEvent is published when a linked claim returns to None.
type LinkedResetEvent struct {
	LevelName     string
	TransactionID int64
}

// LevelsActivatedEvent lists the levels of the game that became active.
type LevelsActivatedEvent struct {
	GameID int
	Levels []ProgressiveLevel
}

// LevelsDeactivatedEvent lists the levels that left the active set.
type LevelsDeactivatedEvent struct {
	GameID    int
	DeviceIDs []int
}

// ProgressiveCommittedEvent is published after a win has been committed.
type ProgressiveCommittedEvent struct {
	Transaction JackpotTransaction
}

// ProgressiveLockupEvent reports an integrity or sequencing failure that needs an operator.
type ProgressiveLockupEvent struct {
	Source  string
	Key     string
	Message string
}

// SharedSapLevelsAddedEvent lists new shared pools.
type SharedSapLevelsAddedEvent struct{ Levels []SharedSapLevel }

// SharedSapLevelsUpdatedEvent lists updated shared pools.
type SharedSapLevelsUpdatedEvent struct{ Levels []SharedSapLevel }

// SharedSapLevelsRemovedEvent lists removed shared pool ids.
type SharedSapLevelsRemovedEvent struct{ IDs []string }

// MinimumThresholdErrorEvent lists shared pools that fell below their reset value.
type MinimumThresholdErrorEvent struct{ Levels []SharedSapLevel }

// MinimumThresholdClearedEvent lists shared pools back at or above their reset value.
type MinimumThresholdClearedEvent struct{ Levels []SharedSapLevel }

// LinkedLevelsAddedEvent lists new linked levels.
type LinkedLevelsAddedEvent struct{ Levels []LinkedProgressiveLevel }

// LinkedLevelsUpdatedEvent lists linked levels updated by the host.
type LinkedLevelsUpdatedEvent struct{ Levels []LinkedProgressiveLevel }

// LinkedLevelsRemovedEvent lists removed linked level names.
type LinkedLevelsRemovedEvent struct{ LevelNames []string }

// LinkedDisconnectedEvent lists levels that lost their host link.
type LinkedDisconnectedEvent struct{ Levels []LinkedProgressiveLevel }

// LinkedConnectedEvent lists levels whose host link came back.
type LinkedConnectedEvent struct{ Levels []LinkedProgressiveLevel }

// LinkedExpiredEvent lists levels whose host updates went stale this tick.
type LinkedExpiredEvent struct{ Levels []LinkedProgressiveLevel }

// LinkedRefreshedEvent lists levels whose host updates recovered this tick.
type LinkedRefreshedEvent struct{ Levels []LinkedProgressiveLevel }

// LinkedCommitTimeoutEvent lists levels whose hit was not claimed in time.
type LinkedCommitTimeoutEvent struct{ Levels []LinkedProgressiveLevel }

// LinkedCommitTimeoutClearedEvent lists levels whose claim timeout cleared.
type LinkedCommitTimeoutClearedEvent struct{ Levels []LinkedProgressiveLevel }
