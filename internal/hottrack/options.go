package hottrack

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/hottrack/internal/clock"
)

const (
	// DefaultRangeBits makes ranges 1 MiB long.
	DefaultRangeBits = 20

	DefaultAgingInterval = 300 * time.Second

	// DefaultMaxSpanRanges bounds how many ranges one access may touch.
	DefaultMaxSpanRanges = 1024

	maxRangeBits = 63
)

type options struct {
	clock         clock.Clock
	logger        zerolog.Logger
	registry      *Registry
	policyName    string
	policy        Policy
	rangeBits     uint
	agingInterval time.Duration
	manualAging   bool
	maxObjects    int64
	maxRanges     int64
	maxSpan       uint64
	evictObjects  bool
	strict        bool
	doorkeeperN   uint
	doorkeeperFP  float64
	sink          EventSink
}

func defaultOptions() options {
	return options{
		clock:         clock.Real{},
		logger:        zerolog.Nop(),
		registry:      std,
		policyName:    DefaultPolicyName,
		rangeBits:     DefaultRangeBits,
		agingInterval: DefaultAgingInterval,
		maxSpan:       DefaultMaxSpanRanges,
		doorkeeperFP:  0.01,
	}
}

type Option func(*options)

func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithPolicyName selects a policy by name from the registry at construction.
// Unknown names fall back to the built-in policy.
func WithPolicyName(name string) Option {
	return func(o *options) { o.policyName = name }
}

// WithRegistry resolves the policy name against r instead of the
// process-wide registry.
func WithRegistry(r *Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithPolicy binds p directly, bypassing any registry.
func WithPolicy(p Policy) Option {
	return func(o *options) { o.policy = p }
}

// WithRangeBits sets the range size to 1<<bits bytes.
func WithRangeBits(bits uint) Option {
	return func(o *options) { o.rangeBits = bits }
}

func WithAgingInterval(d time.Duration) Option {
	return func(o *options) { o.agingInterval = d }
}

// WithManualAging disables the background scheduler; passes only run
// through Root.Age.
func WithManualAging() Option {
	return func(o *options) { o.manualAging = true }
}

// WithMaxObjects caps the number of tracked objects; 0 means unlimited.
func WithMaxObjects(n int64) Option {
	return func(o *options) { o.maxObjects = n }
}

// WithMaxRanges caps the number of tracked ranges across all objects.
func WithMaxRanges(n int64) Option {
	return func(o *options) { o.maxRanges = n }
}

// WithMaxSpanRanges caps the ranges a single access records; the rest of
// a longer access is dropped and counted as resource exhaustion.
func WithMaxSpanRanges(n uint64) Option {
	return func(o *options) { o.maxSpan = n }
}

// WithObjectEviction lets aging release obsolete objects that have no
// ranges left. By default objects stay tracked until the root stops.
func WithObjectEviction(on bool) Option {
	return func(o *options) { o.evictObjects = on }
}

// WithStrictInvariants panics on ErrInvariantViolation instead of logging it.
func WithStrictInvariants() Option {
	return func(o *options) { o.strict = true }
}

// WithDoorkeeper only indexes objects seen at least twice between aging
// passes, using a bloom filter sized for n objects with false positive
// rate fp.
func WithDoorkeeper(n uint, fp float64) Option {
	return func(o *options) {
		o.doorkeeperN = n
		if fp > 0 && fp < 1 {
			o.doorkeeperFP = fp
		}
	}
}

func WithEventSink(s EventSink) Option {
	return func(o *options) { o.sink = s }
}
