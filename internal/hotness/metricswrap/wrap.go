// Package metricswrap wraps a hot data policy with Prometheus metrics.
package metricswrap

import (
	"encoding/binary"

	xx "github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/hottrack/internal/hottrack"
	"github.com/mohammed-shakir/hottrack/internal/observability"
)

type Policy struct {
	inner hottrack.Policy
	name  string

	hotBucket int
	sample    float64
	log       zerolog.Logger
}

var _ hottrack.Policy = (*Policy)(nil)

type Option func(*Policy)

// WithHotLog logs a sample of scores landing in bucket hotBucket or above.
// sample is the logged fraction, 0.01 logs about one in a hundred.
func WithHotLog(log zerolog.Logger, hotBucket int, sample float64) Option {
	return func(p *Policy) {
		p.log = log
		p.hotBucket = hotBucket
		p.sample = sample
	}
}

func New(inner hottrack.Policy, name string, opts ...Option) *Policy {
	if name == "" {
		name = "unnamed"
	}
	p := &Policy{inner: inner, name: name, log: zerolog.Nop()}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Policy) Unwrap() hottrack.Policy { return p.inner }

func (p *Policy) DecayUpdate(oldTS, now, oldAvg uint64) uint64 {
	return p.inner.DecayUpdate(oldTS, now, oldAvg)
}

func (p *Policy) Temperature(fd *hottrack.FrequencyData, now uint64) uint32 {
	temp := p.inner.Temperature(fd, now)
	b := hottrack.BucketFor(temp)
	observability.ObservePolicyBucket(p.name, b)
	if p.hotBucket > 0 && b >= p.hotBucket && shouldLog(p.sample, fd) {
		p.log.Info().
			Str("event", "hot_item").
			Str("policy", p.name).
			Str("kind", fd.Kind.String()).
			Uint32("temperature", temp).
			Int("bucket", b).
			Uint32("reads", fd.ReadCount).
			Uint32("writes", fd.WriteCount).
			Msg("item above hot threshold")
	}
	return temp
}

func (p *Policy) IsObsolete(fd *hottrack.FrequencyData, now uint64) bool {
	obsolete := p.inner.IsObsolete(fd, now)
	observability.IncPolicyVerdict(p.name, obsolete)
	return obsolete
}

// shouldLog samples on a hash of the item's access state, so one state is
// logged at most once per pass.
func shouldLog(sample float64, fd *hottrack.FrequencyData) bool {
	if sample <= 0 {
		return false
	}
	if sample >= 1 {
		return true
	}
	const denom = 10000 // 0.01 => 100/10000
	threshold := uint64(sample*denom + 0.5)
	if threshold == 0 {
		return false
	}
	var b [24]byte
	binary.LittleEndian.PutUint64(b[0:], fd.LastReadTime)
	binary.LittleEndian.PutUint64(b[8:], fd.LastWriteTime)
	binary.LittleEndian.PutUint32(b[16:], fd.ReadCount)
	binary.LittleEndian.PutUint32(b[20:], fd.WriteCount)
	return (xx.Sum64(b[:]) % denom) < threshold
}
