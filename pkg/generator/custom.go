package generator

import (
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/fleetsim/fleetsim/pkg/model"
)

// custom evaluates a user-supplied expression per call. The expression sees
// the current tick, the previously generated value, the configured bounds,
// and the free-form params map, e.g.:
//
//	20 + 5 * sin(tick / 10.0) + params.jitter
type custom struct {
	program *vm.Program
	params  map[string]any
	min     float64
	max     float64
	tick    int
	last    any
}

func newCustom(cfg model.GeneratorConfig) (*custom, error) {
	g := &custom{
		params: cfg.Params,
		min:    0.0,
		max:    100.0,
	}
	if cfg.Min != nil {
		g.min = *cfg.Min
	}
	if cfg.Max != nil {
		g.max = *cfg.Max
	}
	if g.params == nil {
		g.params = map[string]any{}
	}

	program, err := expr.Compile(cfg.Expression, expr.Env(g.env()))
	if err != nil {
		return nil, err
	}
	g.program = program
	return g, nil
}

func (g *custom) env() map[string]any {
	last := g.last
	if last == nil {
		last = 0.0
	}
	return map[string]any{
		"tick":   g.tick,
		"last":   last,
		"min":    g.min,
		"max":    g.max,
		"params": g.params,
	}
}

func (g *custom) Generate() any {
	value, err := expr.Run(g.program, g.env())
	if err != nil {
		// Evaluation errors hold the previous value rather than breaking the
		// telemetry cadence.
		if g.last != nil {
			return g.last
		}
		return 0.0
	}
	g.tick++
	g.last = value
	return value
}

func (g *custom) Reset() {
	g.tick = 0
	g.last = nil
}
