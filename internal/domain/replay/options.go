package replay

// Option applies a configuration option to the in-memory guard.
type Option func(*memoryGuard)

// WithMaxSize sets how many keys are remembered.
// If maxSize > 0 the oldest key is evicted when full.
// If maxSize <= 0 the guard is unbounded.
func WithMaxSize(maxSize int) Option {
	return func(g *memoryGuard) {
		g.maxSize = maxSize
	}
}
