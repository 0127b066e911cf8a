//go:build wireinject
// +build wireinject

package wire

import (
	"context"

	"github.com/Digital-Creators-Team/slot-progressives/config"
	"github.com/google/wire"
)

// InitializeRuntime assembles the service from a loaded configuration.
func InitializeRuntime(ctx context.Context, cfg *config.Config) (*Runtime, func(), error) {
	wire.Build(FullSet)
	return nil, nil, nil
}
