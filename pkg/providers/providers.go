package providers

import (
	"context"
	"time"
)

// GameRuntime is the link to the running game. Notifications are only sent when Connected.
type GameRuntime interface {
	Connected() bool
	// JackpotNotification tells the game that displayed progressive values changed.
	JackpotNotification(ctx context.Context) error
	// JackpotWinNotification hands the game a win ready to be claimed, keyed level id -> transaction id.
	JackpotWinNotification(ctx context.Context, packName string, wins map[int]int64) error
}

// JackpotInfo is the record appended to game history once a progressive win is committed
type JackpotInfo struct {
	TransactionID int64     `json:"transactionId"`
	DeviceID      int       `json:"deviceId"`
	LevelID       int       `json:"levelId"`
	LevelName     string    `json:"levelName"`
	PackName      string    `json:"packName"`
	GameID        int       `json:"gameId"`
	Denomination  int64     `json:"denomination"`
	Amount        int64     `json:"amount"`
	PayMethod     string    `json:"payMethod"`
	HitTime       time.Time `json:"hitTime"`
	PaidTime      time.Time `json:"paidTime"`
}

// GameHistory persists jackpot information for the current game round
type GameHistory interface {
	AppendJackpotInfo(ctx context.Context, info *JackpotInfo) error
}

// SystemDisabler raises and clears operator-facing faults that disable play
type SystemDisabler interface {
	Disable(ctx context.Context, key, message string) error
	Enable(ctx context.Context, key string) error
}
