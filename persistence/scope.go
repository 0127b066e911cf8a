package persistence

import (
	"context"
	"sync"

	apperrors "github.com/Digital-Creators-Team/slot-progressives/errors"
)

type scopeKey struct{}

func scopeFrom(ctx context.Context) *Scope {
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	return s
}

// InScope reports whether ctx carries an open scoped transaction
func InScope(ctx context.Context) bool {
	s := scopeFrom(ctx)
	return s != nil && !s.isDone()
}

// Scope is a coarse transaction spanning several blocks and providers.
// Always defer Close; call Complete on success.
type Scope struct {
	store *Store
	// joined is set when this handle belongs to an enclosing scope.
	joined *Scope

	mu     sync.Mutex
	writes []Write
	done   bool
}

// Complete flushes the buffered writes atomically. On a joined handle it is a no-op:
// the outermost scope owns the flush.
func (s *Scope) Complete(ctx context.Context) error {
	if s.joined != nil {
		return nil
	}

	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return apperrors.New(apperrors.ErrStorage, "scoped transaction already finished")
	}
	writes := s.writes
	s.writes = nil
	s.done = true
	s.mu.Unlock()

	if len(writes) == 0 {
		return nil
	}
	if err := s.store.backend.Write(context.WithoutCancel(ctx), writes); err != nil {
		return apperrors.Wrap(err, apperrors.ErrStorage, "failed to complete scoped transaction")
	}
	return nil
}

// Close discards anything not completed
func (s *Scope) Close() {
	if s.joined != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	if len(s.writes) > 0 {
		s.store.logger.Warn().Int("writes", len(s.writes)).Msg("Scoped transaction rolled back")
	}
	s.writes = nil
	s.done = true
}

func (s *Scope) isDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Scope) add(writes []Write) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return apperrors.New(apperrors.ErrStorage, "commit into a finished scoped transaction")
	}
	s.writes = append(s.writes, writes...)
	return nil
}

// lookup returns the latest buffered value so reads inside a scope see its own writes
func (s *Scope) lookup(level Level, block, key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.writes) - 1; i >= 0; i-- {
		w := s.writes[i]
		if w.Level == level && w.Block == block && w.Key == key {
			return w.Value, true
		}
	}
	return nil, false
}
