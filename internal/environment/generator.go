package environment

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/nerrad567/fieldmesh/internal/datum"
	"github.com/nerrad567/fieldmesh/internal/infrastructure/config"
)

// Coefficients are the terms of a generator's curve.
type Coefficients struct {
	Constant  float64 // a
	Slope     float64 // b, per millisecond
	Amplitude float64 // c
	Period    float64 // milliseconds; zero disables the sine term
	Phase     float64 // milliseconds
}

// DefaultCoefficients is a slow 5-unit swing around zero with a 10s period.
func DefaultCoefficients() Coefficients {
	return Coefficients{Amplitude: 5, Period: 10000}
}

// CoefficientsFrom reads the curve from configuration.
func CoefficientsFrom(cfg config.EnvironmentConfig) Coefficients {
	return Coefficients{
		Constant:  cfg.Constant,
		Slope:     cfg.Slope,
		Amplitude: cfg.Amplitude,
		Period:    cfg.Period,
		Phase:     cfg.Phase,
	}
}

// At evaluates the noiseless curve at x milliseconds.
func (c Coefficients) At(x float64) float64 {
	y := c.Constant + c.Slope*x
	if c.Period != 0 {
		y += c.Amplitude * math.Sin(2*math.Pi/c.Period*(x+c.Phase))
	}
	return y
}

// Generator produces float readings for one sensor id.
type Generator struct {
	mu     sync.Mutex
	coeffs Coefficients
	noise  float64
	unit   datum.Unit
	t0     time.Time
	now    func() time.Time
	jitter func() float64
}

// NewGenerator starts a generator at now(). Noise is the full width of a
// uniform perturbation centred on zero.
func NewGenerator(coeffs Coefficients, noise float64, unit datum.Unit, now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{
		coeffs: coeffs,
		noise:  noise,
		unit:   unit,
		t0:     now(),
		now:    now,
		jitter: rand.Float64,
	}
}

// Generate samples the curve at the current instant.
func (g *Generator) Generate() datum.Datum {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := g.now()
	x := float64(ts.Sub(g.t0).Milliseconds())
	y := g.coeffs.At(x)
	if g.noise != 0 {
		y += (g.jitter() - 0.5) * g.noise
	}
	return datum.New(datum.Float(y), g.unit, ts)
}

// Shift moves the constant term by delta.
func (g *Generator) Shift(delta float64) {
	g.mu.Lock()
	g.coeffs.Constant += delta
	g.mu.Unlock()
}

// Coefficients returns the current curve.
func (g *Generator) Coefficients() Coefficients {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.coeffs
}

// Unit returns the unit stamped on every reading.
func (g *Generator) Unit() datum.Unit {
	return g.unit
}
