package hottrack

import (
	"math"
	"time"
)

// Tunables of the default policy. Storage systems that want other values
// pass a Params to NewDefaultPolicy.
const (
	// FreqPower is the decay shift of the interval moving average: the newest
	// interval weighs 1/2^FreqPower.
	FreqPower = 4

	NRRMultiplierPower = 20
	NRRCoeffPower      = 0
	NRWMultiplierPower = 20
	NRWCoeffPower      = 0

	LTRDividerPower = 30
	LTRCoeffPower   = 1
	LTWDividerPower = 30
	LTWCoeffPower   = 1

	AVRDividerPower = 40
	AVRCoeffPower   = 0
	AVWDividerPower = 40
	AVWCoeffPower   = 0

	DefaultKickThreshold = 300 * time.Second

	DefaultPolicyName = "default"
)

// maxCoeffPower is the weight of a criterion that is not scaled down at all.
const maxCoeffPower = 3

const heatCeil = uint64(1) << 32

// Policy scores items. Implementations must be safe for concurrent use and
// should be pointer types so that UnregisterPolicy can match them.
type Policy interface {
	// DecayUpdate folds the interval between oldTS and now into oldAvg.
	DecayUpdate(oldTS, now, oldAvg uint64) uint64
	// Temperature distills fd into a single score, hotter is larger.
	Temperature(fd *FrequencyData, now uint64) uint32
	// IsObsolete reports whether fd saw no access recently enough to keep tracking it.
	IsObsolete(fd *FrequencyData, now uint64) bool
}

type Params struct {
	FreqPower uint

	NRRMultiplierPower, NRRCoeffPower uint
	NRWMultiplierPower, NRWCoeffPower uint
	LTRDividerPower, LTRCoeffPower    uint
	LTWDividerPower, LTWCoeffPower    uint
	AVRDividerPower, AVRCoeffPower    uint
	AVWDividerPower, AVWCoeffPower    uint

	KickThreshold time.Duration
}

func DefaultParams() Params {
	return Params{
		FreqPower:          FreqPower,
		NRRMultiplierPower: NRRMultiplierPower,
		NRRCoeffPower:      NRRCoeffPower,
		NRWMultiplierPower: NRWMultiplierPower,
		NRWCoeffPower:      NRWCoeffPower,
		LTRDividerPower:    LTRDividerPower,
		LTRCoeffPower:      LTRCoeffPower,
		LTWDividerPower:    LTWDividerPower,
		LTWCoeffPower:      LTWCoeffPower,
		AVRDividerPower:    AVRDividerPower,
		AVRCoeffPower:      AVRCoeffPower,
		AVWDividerPower:    AVWDividerPower,
		AVWCoeffPower:      AVWCoeffPower,
		KickThreshold:      DefaultKickThreshold,
	}
}

// DefaultPolicy combines read/write counts, recency and average access
// interval into a temperature. Zero-valued shift fields are legal; only an
// unset KickThreshold is replaced by DefaultKickThreshold.
type DefaultPolicy struct {
	p    Params
	kick uint64
}

var builtin = NewDefaultPolicy(DefaultParams())

// Default returns the built-in policy.
func Default() Policy { return builtin }

func NewDefaultPolicy(p Params) *DefaultPolicy {
	if p.KickThreshold <= 0 {
		p.KickThreshold = DefaultKickThreshold
	}
	p.FreqPower = min(p.FreqPower, 63)
	p.NRRMultiplierPower = min(p.NRRMultiplierPower, 32)
	p.NRWMultiplierPower = min(p.NRWMultiplierPower, 32)
	return &DefaultPolicy{p: p, kick: uint64(p.KickThreshold)}
}

func (d *DefaultPolicy) Params() Params { return d.p }

// DecayUpdate is a single-pole moving average computed in wrapping uint64
// arithmetic: ((old << K) - old + delta>>K) >> K.
func (d *DefaultPolicy) DecayUpdate(oldTS, now, oldAvg uint64) uint64 {
	k := d.p.FreqPower
	delta := elapsed(oldTS, now) >> k
	return ((oldAvg << k) - oldAvg + delta) >> k
}

func (d *DefaultPolicy) Temperature(fd *FrequencyData, now uint64) uint32 {
	p := &d.p

	nrr := countHeat(fd.ReadCount, p.NRRMultiplierPower)
	nrw := countHeat(fd.WriteCount, p.NRWMultiplierPower)
	ltr := recencyHeat(elapsed(fd.LastReadTime, now), p.LTRDividerPower)
	ltw := recencyHeat(elapsed(fd.LastWriteTime, now), p.LTWDividerPower)
	avr := intervalHeat(fd.AvgReadInterval, p.AVRDividerPower)
	avw := intervalHeat(fd.AvgWriteInterval, p.AVWDividerPower)

	// uint32 sum wraps like the reference computation
	return uint32(weigh(nrr, p.NRRCoeffPower)) +
		uint32(weigh(nrw, p.NRWCoeffPower)) +
		uint32(weigh(ltr, p.LTRCoeffPower)) +
		uint32(weigh(ltw, p.LTWCoeffPower)) +
		uint32(weigh(avr, p.AVRCoeffPower)) +
		uint32(weigh(avw, p.AVWCoeffPower))
}

func (d *DefaultPolicy) IsObsolete(fd *FrequencyData, now uint64) bool {
	return elapsed(fd.LastReadTime, now) > d.kick &&
		elapsed(fd.LastWriteTime, now) > d.kick
}

// countHeat clamps instead of truncating so more accesses never cool an item.
func countHeat(n uint32, power uint) uint64 {
	v := uint64(n) << power
	if v > math.MaxUint32 {
		return math.MaxUint32
	}
	return v
}

func recencyHeat(age uint64, divider uint) uint64 {
	v := age >> divider
	if v >= heatCeil {
		return 0
	}
	return heatCeil - v
}

func intervalHeat(avg uint64, divider uint) uint64 {
	v := (math.MaxUint64 - avg) >> divider
	if v >= heatCeil {
		return math.MaxUint32
	}
	return v
}

func weigh(v uint64, coeff uint) uint64 {
	if coeff >= maxCoeffPower {
		return v
	}
	return v >> (maxCoeffPower - coeff)
}

// Unwrapper is implemented by policies that decorate another policy, for
// example with metrics.
type Unwrapper interface {
	Unwrap() Policy
}

// Innermost strips every decorator off p. Read paths score with it so they
// do not show up in the decorators' accounting.
func Innermost(p Policy) Policy {
	for {
		u, ok := p.(Unwrapper)
		if !ok {
			return p
		}
		inner := u.Unwrap()
		if inner == nil {
			return p
		}
		p = inner
	}
}

// Funcs adapts plain functions to a Policy. Nil fields fall back to the
// built-in policy.
type Funcs struct {
	Decay    func(oldTS, now, oldAvg uint64) uint64
	Temp     func(fd *FrequencyData, now uint64) uint32
	Obsolete func(fd *FrequencyData, now uint64) bool
}

func (f *Funcs) DecayUpdate(oldTS, now, oldAvg uint64) uint64 {
	if f.Decay == nil {
		return builtin.DecayUpdate(oldTS, now, oldAvg)
	}
	return f.Decay(oldTS, now, oldAvg)
}

func (f *Funcs) Temperature(fd *FrequencyData, now uint64) uint32 {
	if f.Temp == nil {
		return builtin.Temperature(fd, now)
	}
	return f.Temp(fd, now)
}

func (f *Funcs) IsObsolete(fd *FrequencyData, now uint64) bool {
	if f.Obsolete == nil {
		return builtin.IsObsolete(fd, now)
	}
	return f.Obsolete(fd, now)
}
