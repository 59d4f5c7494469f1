// Package expdecay implements an exponential decay model for item
// temperature: an item's heat halves every half-life since its last access.
package expdecay

import (
	"math"
	"time"

	"github.com/mohammed-shakir/hottrack/internal/hottrack"
)

// Name is the registry name the daemon binds the policy to.
const Name = "expdecay"

const (
	DefaultHalfLife = time.Minute

	// unit is the temperature of a single fresh access, the floor of bucket 1.
	unit = float64(1 << 24)
	// items colder than 1/256 of a fresh access are obsolete
	obsoleteBelow = 1 << 16
)

type Policy struct {
	HalfLife time.Duration
	// WriteWeight scales write counts against read counts.
	WriteWeight float64
}

var _ hottrack.Policy = (*Policy)(nil)

func New(halfLife time.Duration) *Policy {
	if halfLife <= 0 {
		halfLife = DefaultHalfLife
	}
	return &Policy{HalfLife: halfLife, WriteWeight: 2}
}

// DecayUpdate is a time-weighted moving average: the longer the gap, the
// more the new interval dominates.
func (p *Policy) DecayUpdate(oldTS, now, oldAvg uint64) uint64 {
	if oldTS == hottrack.Never || now < oldTS {
		return oldAvg
	}
	interval := now - oldTS
	if oldAvg == math.MaxUint64 {
		return interval
	}
	keep := p.factor(interval)
	avg := float64(oldAvg)*keep + float64(interval)*(1-keep)
	if avg >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(avg)
}

// Temperature is the decayed access count scaled so that n fresh accesses
// land in bucket n, saturating at the hottest bucket.
func (p *Policy) Temperature(fd *hottrack.FrequencyData, now uint64) uint32 {
	score := p.score(fd, now) * unit
	if score >= math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(score)
}

func (p *Policy) IsObsolete(fd *hottrack.FrequencyData, now uint64) bool {
	return p.Temperature(fd, now) < obsoleteBelow
}

func (p *Policy) score(fd *hottrack.FrequencyData, now uint64) float64 {
	var s float64
	if fd.LastReadTime != hottrack.Never {
		s += float64(fd.ReadCount) * p.factor(age(fd.LastReadTime, now))
	}
	if fd.LastWriteTime != hottrack.Never {
		s += p.WriteWeight * float64(fd.WriteCount) * p.factor(age(fd.LastWriteTime, now))
	}
	return s
}

// factor is the share of heat left after dt nanoseconds, e^(-λt).
func (p *Policy) factor(dt uint64) float64 {
	hl := p.HalfLife.Seconds()
	if dt == 0 || hl <= 0 {
		return 1
	}
	lambda := math.Ln2 / hl
	return math.Exp(-lambda * time.Duration(dt).Seconds())
}

func age(ts, now uint64) uint64 {
	if now < ts {
		return 0
	}
	return now - ts
}
