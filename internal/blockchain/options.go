package blockchain

import (
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// DefaultCacheSize is the number of decoded blocks kept in memory
const DefaultCacheSize = 256

// Options configure a Blockchain
type Options struct {
	Logger    *zap.Logger
	CacheSize int
	Clock     clock.Clock
}

// DefaultOptions returns options with a no-op logger, the default cache size
// and the system clock.
func DefaultOptions() Options {
	return Options{
		Logger:    zap.NewNop(),
		CacheSize: DefaultCacheSize,
		Clock:     clock.New(),
	}
}

// WithLogger updates the logger used by the Blockchain
func (opts Options) WithLogger(logger *zap.Logger) Options {
	opts.Logger = logger
	return opts
}

// WithCacheSize updates the block cache size. A size of zero or less
// disables the cache.
func (opts Options) WithCacheSize(size int) Options {
	opts.CacheSize = size
	return opts
}

// WithClock updates the clock used to timestamp new blocks
func (opts Options) WithClock(clk clock.Clock) Options {
	opts.Clock = clk
	return opts
}
