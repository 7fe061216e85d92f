package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/casewatch/internal/core/domain"
	"github.com/custodia-labs/casewatch/internal/core/ports/driven"
)

// Ensure RunLock implements the interface.
var _ driven.RunLock = (*RunLock)(nil)

// RunLock is an in-memory implementation of driven.RunLock.
type RunLock struct {
	mu         sync.Mutex
	owner      string
	acquiredAt time.Time
	now        func() time.Time
}

// NewRunLock creates a new in-memory run lock.
func NewRunLock() *RunLock {
	return &RunLock{now: time.Now}
}

// Acquire takes the lock for owner, taking over a lock older than staleAfter.
func (l *RunLock) Acquire(_ context.Context, owner string, staleAfter time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if l.owner != "" && l.owner != owner && now.Sub(l.acquiredAt) < staleAfter {
		return fmt.Errorf("%w: held by %s", domain.ErrRunInProgress, l.owner)
	}
	l.owner = owner
	l.acquiredAt = now
	return nil
}

// Release drops the lock if owner holds it.
func (l *RunLock) Release(_ context.Context, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner == owner {
		l.owner = ""
	}
	return nil
}
