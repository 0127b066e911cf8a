package persistence

import (
	"context"
	"fmt"
	"sync"

	apperrors "github.com/Digital-Creators-Team/slot-progressives/errors"
	"github.com/Digital-Creators-Team/slot-progressives/logging"
	"github.com/rs/zerolog"
)

// Level is the durability tier of a block
type Level int

const (
	// Static blocks survive everything except a full RAM clear.
	Static Level = iota
	// Critical blocks hold money-bearing state.
	Critical
	// Transient blocks are wiped when the machine leaves demo mode.
	Transient
)

func (l Level) String() string {
	switch l {
	case Static:
		return "static"
	case Critical:
		return "critical"
	case Transient:
		return "transient"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// Write is one encoded value destined for a block key
type Write struct {
	Level Level
	Block string
	Key   string
	Value []byte
}

// Backend is the raw key/value engine behind a Store
type Backend interface {
	Read(ctx context.Context, level Level, block, key string) ([]byte, bool, error)
	// Write must apply all writes atomically.
	Write(ctx context.Context, writes []Write) error
	Clear(ctx context.Context, level Level) error
}

// Storage is what providers consume
type Storage interface {
	GetOrCreateBlock(ctx context.Context, name string, level Level) (*Block, error)
	ScopedTransaction(ctx context.Context) (context.Context, *Scope)
}

// Store hands out named blocks over a Backend
type Store struct {
	backend Backend
	logger  zerolog.Logger

	mu     sync.Mutex
	blocks map[string]*Block
}

// NewStore creates a store over backend
func NewStore(backend Backend, logger zerolog.Logger) *Store {
	return &Store{
		backend: backend,
		logger:  logging.WithComponent(logger, "persistence"),
		blocks:  make(map[string]*Block),
	}
}

// GetOrCreateBlock returns the block registered under name. Asking for an existing
// block at a different level is an integrity error.
func (s *Store) GetOrCreateBlock(_ context.Context, name string, level Level) (*Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.blocks[name]; ok {
		if b.level != level {
			return nil, apperrors.Newf(apperrors.ErrProgressiveIntegrity,
				"block %s already registered at level %s", name, b.level)
		}
		return b, nil
	}

	b := &Block{store: s, name: name, level: level}
	s.blocks[name] = b
	return b, nil
}

// Clear wipes every block at level
func (s *Store) Clear(ctx context.Context, level Level) error {
	if err := s.backend.Clear(ctx, level); err != nil {
		return apperrors.Wrap(err, apperrors.ErrStorage, "failed to clear "+level.String()+" blocks")
	}
	s.logger.Info().Str("level", level.String()).Msg("Storage level cleared")
	return nil
}

// ScopedTransaction opens a scope that buffers every commit made with the returned
// context until Complete. Opening a scope inside another joins the outer one.
func (s *Store) ScopedTransaction(ctx context.Context) (context.Context, *Scope) {
	if outer := scopeFrom(ctx); outer != nil {
		return ctx, &Scope{store: s, joined: outer}
	}
	scope := &Scope{store: s}
	return context.WithValue(ctx, scopeKey{}, scope), scope
}

func (s *Store) read(ctx context.Context, level Level, block, key string) ([]byte, bool, error) {
	if scope := scopeFrom(ctx); scope != nil {
		if data, ok := scope.lookup(level, block, key); ok {
			return data, true, nil
		}
	}
	data, ok, err := s.backend.Read(ctx, level, block, key)
	if err != nil {
		return nil, false, apperrors.Wrap(err, apperrors.ErrStorage, "failed to read "+block+"/"+key)
	}
	return data, ok, nil
}

func (s *Store) write(ctx context.Context, writes []Write) error {
	if scope := scopeFrom(ctx); scope != nil && !scope.isDone() {
		return scope.add(writes)
	}
	if err := s.backend.Write(ctx, writes); err != nil {
		return apperrors.Wrap(err, apperrors.ErrStorage, "failed to commit block writes")
	}
	return nil
}

// Block is a named group of values sharing a durability level
type Block struct {
	store *Store
	name  string
	level Level
}

// Name returns the block name
func (b *Block) Name() string { return b.name }

// Level returns the block durability level
func (b *Block) Level() Level { return b.level }

// GetValue decodes key into out. It reports false when the key was never written.
func (b *Block) GetValue(ctx context.Context, key string, out any) (bool, error) {
	data, ok, err := b.store.read(ctx, b.level, b.name, key)
	if err != nil || !ok {
		return false, err
	}
	if err := Unmarshal(data, out); err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrProgressiveIntegrity,
			fmt.Sprintf("corrupted value %s/%s", b.name, key))
	}
	return true, nil
}

// Transaction starts collecting writes against this block
func (b *Block) Transaction() *Transaction {
	return &Transaction{block: b}
}

// GetOrCreateValue reads key from b, returning the zero value of T when it was never written.
func GetOrCreateValue[T any](ctx context.Context, b *Block, key string) (T, error) {
	var v T
	if _, err := b.GetValue(ctx, key, &v); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

// Transaction collects encoded values until Commit
type Transaction struct {
	block  *Block
	writes []Write
}

// SetValue encodes v under key. Nothing is visible until Commit.
func (t *Transaction) SetValue(key string, v any) error {
	data, err := Marshal(v)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrStorage, fmt.Sprintf("failed to encode %s/%s", t.block.name, key))
	}
	t.writes = append(t.writes, Write{
		Level: t.block.level,
		Block: t.block.name,
		Key:   key,
		Value: data,
	})
	return nil
}

// Commit writes through to the backend, or into the scope carried by ctx.
func (t *Transaction) Commit(ctx context.Context) error {
	if len(t.writes) == 0 {
		return nil
	}
	writes := t.writes
	t.writes = nil
	return t.block.store.write(ctx, writes)
}
