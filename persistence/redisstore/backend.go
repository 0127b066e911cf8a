// Package redisstore persists progressive blocks in Redis, one hash per block.
package redisstore

import (
	"context"
	"fmt"

	dbredis "github.com/Digital-Creators-Team/slot-progressives/db/redis"
	"github.com/Digital-Creators-Team/slot-progressives/persistence"
)

// Backend implements persistence.Backend over a Redis client
type Backend struct {
	client *dbredis.Client
	prefix string
}

// New creates a backend whose keys look like <prefix>:<level>:<block>
func New(client *dbredis.Client, prefix string) *Backend {
	return &Backend{client: client, prefix: prefix}
}

func (b *Backend) hashKey(level persistence.Level, block string) string {
	return fmt.Sprintf("%s:%s:%s", b.prefix, level, block)
}

// Read fetches one field of a block hash
func (b *Backend) Read(ctx context.Context, level persistence.Level, block, key string) ([]byte, bool, error) {
	return b.client.HGet(ctx, b.hashKey(level, block), key)
}

// Write applies all writes in one MULTI/EXEC
func (b *Backend) Write(ctx context.Context, writes []persistence.Write) error {
	hw := make([]dbredis.HashWrite, 0, len(writes))
	for _, w := range writes {
		hw = append(hw, dbredis.HashWrite{
			Key:   b.hashKey(w.Level, w.Block),
			Field: w.Key,
			Value: w.Value,
		})
	}
	return b.client.HSetMulti(ctx, hw)
}

// Clear deletes every block hash stored at level
func (b *Backend) Clear(ctx context.Context, level persistence.Level) error {
	_, err := b.client.DeleteByPattern(ctx, fmt.Sprintf("%s:%s:*", b.prefix, level))
	return err
}
