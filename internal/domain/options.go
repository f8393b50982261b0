package domain

import (
	"time"

	"go.uber.org/zap"
)

// DefaultMaxDepth bounds quote and thread recursion.
const DefaultMaxDepth = 8

// CollectionTimeLayout renders the wall-clock normalization time.
const CollectionTimeLayout = "2006-01-02T15:04:05.000000"

// Options carries the per-call normalization settings.
type Options struct {
	Locale           *time.Location
	CollectionSource string
	Pure             bool
	MaxDepth         int
	Logger           *zap.Logger
	Now              func() time.Time
}

// Option configures Options.
type Option func(*Options)

// NewOptions applies opts on top of the defaults: UTC, pure mode, depth 8,
// no logging and the system clock.
func NewOptions(opts ...Option) Options {
	o := Options{
		Pure:     true,
		MaxDepth: DefaultMaxDepth,
		Logger:   zap.NewNop(),
		Now:      time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Locale == nil {
		o.Locale = time.UTC
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	return o
}

// WithLocale renders local dates in loc.
func WithLocale(loc *time.Location) Option {
	return func(o *Options) { o.Locale = loc }
}

// WithCollectionSource tags the primary record with source.
func WithCollectionSource(source string) Option {
	return func(o *Options) { o.CollectionSource = source }
}

// WithPure controls whether the input payload is deep-copied before being
// worked on. Impure calls may mutate the caller's payload.
func WithPure(pure bool) Option {
	return func(o *Options) { o.Pure = pure }
}

// WithMaxDepth caps nested quote and thread recursion.
func WithMaxDepth(depth int) Option {
	return func(o *Options) { o.MaxDepth = depth }
}

// WithLogger reports soft failures (dropped facets, recursion cutoffs) at
// debug level.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithClock overrides the clock used for collection_time.
func WithClock(now func() time.Time) Option {
	return func(o *Options) { o.Now = now }
}

// CollectionTime returns the formatted current time.
func (o Options) CollectionTime() string {
	return o.Now().Format(CollectionTimeLayout)
}

// Nested returns a copy of o tagged for a referenced record.
func (o Options) Nested(source string) Options {
	n := o
	n.CollectionSource = source
	return n
}
