package server

import (
	"context"
	"maps"

	"github.com/Digital-Creators-Team/slot-progressives/logging"
	"github.com/rs/zerolog"
)

// RuntimeBridge implements providers.GameRuntime over the notification stream. The game runtime
// counts as connected while at least one stream is open.
type RuntimeBridge struct {
	broadcaster *Broadcaster
	logger      zerolog.Logger
}

// NewRuntimeBridge creates a bridge publishing on broadcaster.
func NewRuntimeBridge(broadcaster *Broadcaster, logger zerolog.Logger) *RuntimeBridge {
	return &RuntimeBridge{
		broadcaster: broadcaster,
		logger:      logging.WithComponent(logger, "runtime_bridge"),
	}
}

// Connected reports whether a game runtime is listening.
func (r *RuntimeBridge) Connected() bool {
	return r.broadcaster.Listeners() > 0
}

// JackpotNotification tells listeners to refresh displayed values.
func (r *RuntimeBridge) JackpotNotification(_ context.Context) error {
	r.broadcaster.Send(Notification{Type: NotificationValuesChanged})
	return nil
}

// JackpotWinNotification hands listeners the wins of pack, level id -> transaction id.
func (r *RuntimeBridge) JackpotWinNotification(_ context.Context, packName string, wins map[int]int64) error {
	r.logger.Info().Str("pack_name", packName).Int("wins", len(wins)).Msg("Progressive win notified")
	r.broadcaster.Send(Notification{Type: NotificationWin, PackName: packName, Wins: maps.Clone(wins)})
	return nil
}

// Broadcaster returns the notification hub streams listen on.
func (r *RuntimeBridge) Broadcaster() *Broadcaster {
	return r.broadcaster
}
