package tariff

import (
	"time"

	"go.uber.org/zap"

	"github.com/warp/coverage-engine/coverage"
)

// DefaultClaimTTL is how long a pending idempotency claim blocks other runs.
const DefaultClaimTTL = 15 * time.Minute

type options struct {
	logger   *zap.Logger
	now      func() time.Time
	scale    int32
	claimTTL time.Duration
}

// Option configures CombinationService and BulkProvisioner.
type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithScale sets the currency scale combination amounts are rounded to.
func WithScale(scale int32) Option {
	return func(o *options) { o.scale = scale }
}

// WithClaimTTL sets the age after which a pending claim may be taken over.
func WithClaimTTL(ttl time.Duration) Option {
	return func(o *options) { o.claimTTL = ttl }
}

func buildOptions(opts []Option) options {
	o := options{
		now:      time.Now,
		scale:    coverage.DefaultScale,
		claimTTL: DefaultClaimTTL,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.L()
	}
	return o
}
