// Package permits limits how many CPU- and memory-heavy operations (argon2
// hashing and key derivation) run at once, so a burst of logins cannot
// exhaust memory.
package permits

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Pool hands out a fixed number of permits. The zero value is not usable;
// construct with New.
type Pool struct {
	sem  *semaphore.Weighted
	size int64
}

// New returns a Pool with n permits. n <= 0 means runtime.NumCPU().
func New(n int) *Pool {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	return &Pool{sem: semaphore.NewWeighted(int64(n)), size: int64(n)}
}

// Size reports the number of permits.
func (p *Pool) Size() int {
	return int(p.size)
}

// Do waits for a permit, runs fn and releases the permit. If ctx is done
// before a permit is available fn is not run and ctx.Err() is returned.
func (p *Pool) Do(ctx context.Context, fn func()) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	fn()
	return nil
}
