package server

import (
	"context"

	"github.com/Digital-Creators-Team/slot-progressives/pkg/progressive"
	"github.com/Digital-Creators-Team/slot-progressives/provider"
)

// GameService is the game-facing progressive surface, implemented by
// *progressive.ProgressiveGameProvider.
type GameService interface {
	ActivateProgressiveLevels(ctx context.Context, gameID int, denom int64, betOption string) ([]progressive.ProgressiveLevel, error)
	DeactivateProgressiveLevels(ctx context.Context) error
	GetActiveProgressiveLevels() ([]progressive.ProgressiveLevel, error)
	SetProgressiveWagerAmounts(wagers map[int]int64) error
	IncrementProgressiveLevelPack(ctx context.Context, packName string, wager, ante int64) error
	CheckMysteryJackpot(ctx context.Context) (map[string][]int, error)
	TriggerProgressiveLevel(ctx context.Context, packName string, levelIDs []int) (map[int]int64, error)
	CommitProgressiveWin(ctx context.Context, txIDs []int64) ([]int64, error)
	PendingTransactions() []progressive.JackpotTransaction
}

// ConfigService is the operator configuration surface, implemented by
// *progressive.ConfigurationService.
type ConfigService interface {
	AssignLevelsToGame(ctx context.Context, assignments []progressive.LevelAssignment) ([]progressive.ProgressiveLevel, error)
	LockProgressiveLevels(ctx context.Context, deviceIDs []int) error
	ViewProgressiveLevels() []progressive.ProgressiveLevel
	ValidateLevels(ctx context.Context) ([]progressive.ProgressiveLevel, error)
	ActiveFaults() []progressive.Fault
	ClearFault(key string) error
}

// SharedPools manages shared standalone pools, implemented by *progressive.SharedSapProvider.
type SharedPools interface {
	AddSharedSapLevel(ctx context.Context, level progressive.SharedSapLevel) (progressive.SharedSapLevel, error)
	UpdateSharedSapLevel(ctx context.Context, update progressive.SharedSapLevel) (progressive.SharedSapLevel, error)
	RemoveSharedSapLevel(ctx context.Context, id string) error
	ViewSharedSapLevels() []progressive.SharedSapLevel
	ViewSharedSapLevel(id string) (progressive.SharedSapLevel, error)
}

// LinkedPools manages host-owned levels, implemented by *progressive.LinkedProgressiveProvider.
type LinkedPools interface {
	AddLinkedProgressiveLevels(ctx context.Context, added []progressive.LinkedProgressiveLevel) error
	RemoveLinkedProgressiveLevels(ctx context.Context, names []string) error
	ViewLinkedProgressiveLevels() []progressive.LinkedProgressiveLevel
	ViewLinkedProgressiveLevel(name string) (progressive.LinkedProgressiveLevel, error)
}

// HistoryReader lists recorded jackpot wins, implemented by *provider.HistoryProvider.
type HistoryReader interface {
	JackpotHistory(ctx context.Context, query provider.HistoryQuery) (*provider.JackpotHistoryPage, error)
}

// DisableStatus exposes why play is disabled, implemented by *provider.DisableProvider.
type DisableStatus interface {
	Disabled() bool
	Reasons() []provider.DisableReason
}

// Services are the collaborators the HTTP layer is built on.
type Services struct {
	Game     GameService
	Config   ConfigService
	Shared   SharedPools
	Linked   LinkedPools
	History  HistoryReader
	Disabler DisableStatus
	Runtime  *RuntimeBridge
}
