package driven

import (
	"context"
	"time"
)

// RunLock prevents two runs from owning the same case histories at once.
type RunLock interface {
	// Acquire takes the lock for owner. A lock older than staleAfter is
	// assumed abandoned and taken over.
	// Returns domain.ErrRunInProgress if another owner holds it.
	Acquire(ctx context.Context, owner string, staleAfter time.Duration) error

	// Release drops the lock if owner holds it.
	Release(ctx context.Context, owner string) error
}
