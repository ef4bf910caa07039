package crypto

import "context"

// Pool runs Argon2id hashing on a fixed number of workers so a burst
// of login attempts cannot starve the goroutines servicing unrelated
// HTTP requests on the same GOMAXPROCS (spec.md §5: "cryptographic
// hashing runs on a blocking pool").
type Pool struct {
	sem chan struct{}
}

// NewPool returns a Pool that allows at most workers concurrent
// Argon2id operations.
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{sem: make(chan struct{}, workers)}
}

// Do runs fn with a worker slot held, or returns ctx.Err() if ctx is
// canceled before a slot is available.
func (p *Pool) Do(ctx context.Context, fn func()) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.sem }()
	fn()
	return nil
}

// VerifyPassword runs Verify on the pool, so callers never do Argon2id
// work inline on a goroutine that might also be holding a database row
// lock (spec.md §5: "Password verification must not be awaited in the
// same task that holds DB row locks").
func (p *Pool) VerifyPassword(ctx context.Context, password string, stored *string, current Argon2Params) (VerifyResult, error) {
	var result VerifyResult
	err := p.Do(ctx, func() {
		result = Verify(password, stored, current)
	})
	return result, err
}
