// Package sampler turns per-step logits into a token choice.
//
// The choice rule is a min-distance "dart" scheme rather than nucleus
// sampling: a random dart is thrown into the [min, max] range of the
// probability vector, skewed towards max by the temperature, and the token
// whose probability lies closest to it wins.
package sampler

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Settings are the per-request sampling knobs.
type Settings struct {
	Temperature      float32 `json:"temperature" yaml:"temperature" toml:"temperature"`
	PresencePenalty  float32 `json:"presence_penalty" yaml:"presence_penalty" toml:"presence_penalty"`
	FrequencyPenalty float32 `json:"frequency_penalty" yaml:"frequency_penalty" toml:"frequency_penalty"`
}

// DefaultSettings are used when neither config nor request set a value.
func DefaultSettings() Settings {
	return Settings{Temperature: 1.0, PresencePenalty: 0.3, FrequencyPenalty: 0.3}
}

func (s Settings) Validate() error {
	if s.Temperature < 0 || math.IsNaN(float64(s.Temperature)) {
		return fmt.Errorf("temperature must be >= 0, got %v", s.Temperature)
	}
	if math.IsNaN(float64(s.PresencePenalty)) || math.IsNaN(float64(s.FrequencyPenalty)) {
		return fmt.Errorf("penalties must be numbers")
	}
	return nil
}

// Sampler holds the occurrence table of one generation. Create one per
// generation and drop it afterwards; penalties never carry across calls.
// A Sampler is not safe for concurrent use.
type Sampler struct {
	occurrences map[uint16]uint32
	rand        func() float32
}

type Option func(*Sampler)

// WithRand replaces the uniform [0,1) source.
func WithRand(f func() float32) Option {
	return func(s *Sampler) { s.rand = f }
}

func New(opts ...Option) *Sampler {
	s := &Sampler{occurrences: make(map[uint16]uint32), rand: rand.Float32}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ApplyPenalties returns a penalized copy of logits. Token 0 is reserved and
// always excluded.
func (s *Sampler) ApplyPenalties(st Settings, logits []float32) []float32 {
	out := make([]float32, len(logits))
	copy(out, logits)
	if len(out) == 0 {
		return out
	}
	out[0] = float32(math.Inf(-1))
	for tok, count := range s.occurrences {
		if int(tok) >= len(out) {
			continue
		}
		out[tok] -= st.PresencePenalty + float32(count)*st.FrequencyPenalty
	}
	return out
}

// Sample picks the index whose probability is closest to the dart. Ties go
// to the lowest index.
func (s *Sampler) Sample(st Settings, probs []float32) uint16 {
	if len(probs) == 0 {
		return 0
	}
	hi := float32(math.Inf(-1))
	lo := float32(math.Inf(1))
	for _, p := range probs {
		hi = max(hi, p)
		lo = min(lo, p)
	}

	dart := Dart(s.rand(), st.Temperature)
	target := lo + dart*(hi-lo)

	best := 0
	bestDist := float32(math.Inf(1))
	for i, p := range probs {
		d := float32(math.Abs(float64(p - target)))
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return uint16(best)
}

// Dart maps a uniform draw in [0,1) to the relative position inside the
// probability range: power = 1 - u^(t*u^10), dart = u^power.
func Dart(u, temperature float32) float32 {
	x := float64(u)
	power := 1 - math.Pow(x, float64(temperature)*math.Pow(x, 10))
	return float32(math.Pow(x, power))
}

// ConsumeToken records one more occurrence of tok.
func (s *Sampler) ConsumeToken(tok uint16) {
	s.occurrences[tok]++
}

// Occurrences reports how often tok was consumed in this generation.
func (s *Sampler) Occurrences(tok uint16) uint32 {
	return s.occurrences[tok]
}
