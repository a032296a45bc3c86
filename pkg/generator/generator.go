// Package generator implements the telemetry value generators that drive
// virtual device attributes.
//
// A generator is a stateful producer: every Generate call returns the next
// value and advances internal state. Generate never blocks and never performs
// I/O; the replay generator reads its data file once at construction.
package generator

import (
	"encoding/json"
	"math"
	"math/rand"
	"os"

	"github.com/fleetsim/fleetsim/pkg/model"
)

// Generator produces successive telemetry values for one attribute.
type Generator interface {
	// Generate returns the next value and advances the generator state.
	Generate() any

	// Reset returns the generator to its initial state.
	Reset()
}

// randSource is the subset of *rand.Rand the generators sample from. The
// default implementation delegates to the shared process RNG; tests can
// inject a seeded *rand.Rand for reproducibility.
type randSource interface {
	Float64() float64
	NormFloat64() float64
	ExpFloat64() float64
}

// processRand samples from the lock-protected package-level RNG in math/rand.
type processRand struct{}

func (processRand) Float64() float64     { return rand.Float64() }
func (processRand) NormFloat64() float64 { return rand.NormFloat64() }
func (processRand) ExpFloat64() float64  { return rand.ExpFloat64() }

// New creates a generator from its configuration. Unknown generator types
// fall back to a uniform random generator rather than failing: a model with
// a typo'd generator type still produces plausible telemetry.
func New(cfg model.GeneratorConfig) Generator {
	return newWithRand(cfg, processRand{})
}

// NewWithRand creates a generator that samples from the given RNG. Intended
// for tests that need deterministic output.
func NewWithRand(cfg model.GeneratorConfig, rng *rand.Rand) Generator {
	return newWithRand(cfg, rng)
}

func newWithRand(cfg model.GeneratorConfig, rng randSource) Generator {
	switch cfg.Type {
	case model.GeneratorSequence:
		return newSequence(cfg)
	case model.GeneratorConstant:
		return &constant{value: cfg.Value}
	case model.GeneratorReplay:
		return newReplay(cfg)
	case model.GeneratorSine:
		return newSine(cfg)
	case model.GeneratorCustom:
		if g, err := newCustom(cfg); err == nil {
			return g
		}
		// Broken expressions degrade to uniform random, same as unknown types.
		return newRandom(cfg, rng)
	default:
		return newRandom(cfg, rng)
	}
}

// random samples from a configured distribution, clamped to [min, max] for
// the normal and exponential variants. Clamping skews mean/stddev estimators
// when the bounds cut into the distribution; truncated sampling would avoid
// that but is not what operators calibrate against.
type random struct {
	min, max     float64
	distribution model.Distribution
	mean, stddev *float64
	rate         *float64
	rng          randSource
}

func newRandom(cfg model.GeneratorConfig, rng randSource) *random {
	g := &random{
		min:          0.0,
		max:          100.0,
		distribution: cfg.Distribution,
		mean:         cfg.Mean,
		stddev:       cfg.Stddev,
		rate:         cfg.Rate,
		rng:          rng,
	}
	if cfg.Min != nil {
		g.min = *cfg.Min
	}
	if cfg.Max != nil {
		g.max = *cfg.Max
	}
	return g
}

func (g *random) Generate() any {
	switch g.distribution {
	case model.DistNormal:
		mean := (g.min + g.max) / 2
		if g.mean != nil {
			mean = *g.mean
		}
		stddev := (g.max - g.min) / 6
		if g.stddev != nil {
			stddev = *g.stddev
		}
		return clamp(mean+g.rng.NormFloat64()*stddev, g.min, g.max)

	case model.DistExponential:
		rate := 1.0
		if g.rate != nil {
			rate = *g.rate
		}
		return clamp(g.rng.ExpFloat64()/rate, g.min, g.max)

	default:
		return g.min + g.rng.Float64()*(g.max-g.min)
	}
}

func (g *random) Reset() {}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// sequence counts from start by step, optionally wrapping at the bounds.
type sequence struct {
	start    float64
	step     float64
	min, max *float64
	wrap     bool
	current  float64
}

func newSequence(cfg model.GeneratorConfig) *sequence {
	g := &sequence{
		step: cfg.Step,
		min:  cfg.Min,
		max:  cfg.Max,
		wrap: cfg.Wrap,
	}
	if g.step == 0 {
		g.step = 1.0
	}
	if cfg.Start != nil {
		g.start = *cfg.Start
	}
	g.current = g.start
	return g
}

func (g *sequence) Generate() any {
	value := g.current
	g.current += g.step

	if g.wrap && g.max != nil {
		if g.step > 0 && g.current > *g.max {
			if g.min != nil {
				g.current = *g.min
			} else {
				g.current = g.start
			}
		} else if g.step < 0 && g.min != nil && g.current < *g.min {
			g.current = *g.max
		}
	}

	return value
}

func (g *sequence) Reset() { g.current = g.start }

// constant always returns the configured value.
type constant struct {
	value any
}

func (g *constant) Generate() any { return g.value }
func (g *constant) Reset()        {}

// replay plays back values loaded from a JSON array file. When the data is
// exhausted it wraps to the beginning if looping, otherwise it sticks on the
// last element.
type replay struct {
	data  []any
	loop  bool
	index int
}

func newReplay(cfg model.GeneratorConfig) *replay {
	g := &replay{loop: true}
	if cfg.LoopReplay != nil {
		g.loop = *cfg.LoopReplay
	}
	if cfg.DataFile != "" {
		if raw, err := os.ReadFile(cfg.DataFile); err == nil {
			_ = json.Unmarshal(raw, &g.data)
		}
	}
	return g
}

func (g *replay) Generate() any {
	if len(g.data) == 0 {
		return nil
	}

	value := g.data[g.index]
	g.index++

	if g.index >= len(g.data) {
		if g.loop {
			g.index = 0
		} else {
			g.index = len(g.data) - 1
		}
	}

	return value
}

func (g *replay) Reset() { g.index = 0 }

// sine produces a wave between min and max with the configured period and
// phase. The tick advances once per call, not per wall-clock millisecond.
type sine struct {
	min, max float64
	periodMs int
	phase    float64
	tick     int
}

func newSine(cfg model.GeneratorConfig) *sine {
	g := &sine{
		min:      0.0,
		max:      100.0,
		periodMs: cfg.PeriodMs,
		phase:    cfg.Phase,
	}
	if cfg.Min != nil {
		g.min = *cfg.Min
	}
	if cfg.Max != nil {
		g.max = *cfg.Max
	}
	if g.periodMs <= 0 {
		g.periodMs = 60000
	}
	return g
}

func (g *sine) Generate() any {
	amplitude := (g.max - g.min) / 2
	offset := g.min + amplitude
	angle := 2*math.Pi*float64(g.tick)/float64(g.periodMs) + g.phase
	g.tick++
	return offset + amplitude*math.Sin(angle)
}

func (g *sine) Reset() { g.tick = 0 }
