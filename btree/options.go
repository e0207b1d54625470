package btree

import (
	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/forestrie/go-stablebtree/nodes"
)

type Options struct {
	Order         int
	CacheCapacity int
	Comparer      nodes.Compare
	Log           logger.Logger

	// Locking serialises every call on the tree with a mutex. Without it the
	// tree belongs to a single goroutine.
	Locking bool
}

// Option is a generic option type. Implementations type assert to their own
// options record and ignore options that are not meant for them, so the same
// list can be handed to the tree and to the snapshot package.
type Option func(any)

func WithOrder(order int) Option {
	return func(opts any) {
		if o, ok := opts.(*Options); ok {
			o.Order = order
		}
	}
}

// WithCacheCapacity sets the number of decoded nodes kept. Zero disables the
// node cache.
func WithCacheCapacity(capacity int) Option {
	return func(opts any) {
		if o, ok := opts.(*Options); ok {
			o.CacheCapacity = capacity
		}
	}
}

func WithComparer(cmp nodes.Compare) Option {
	return func(opts any) {
		if o, ok := opts.(*Options); ok {
			o.Comparer = cmp
		}
	}
}

func WithLogger(log logger.Logger) Option {
	return func(opts any) {
		if o, ok := opts.(*Options); ok {
			o.Log = log
		}
	}
}

func WithLocking() Option {
	return func(opts any) {
		if o, ok := opts.(*Options); ok {
			o.Locking = true
		}
	}
}

func newOptions(opts ...Option) Options {
	o := Options{
		Order:         nodes.DefaultOrder,
		CacheCapacity: nodes.DefaultCacheCapacity,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Log == nil {
		o.Log = logger.Sugar.WithServiceName("btree")
	}
	return o
}
