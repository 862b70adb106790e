package optimize

import (
	"fmt"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// MayflyAdapter wraps the external Mayfly library to conform to the
// Optimizer interface.
type MayflyAdapter struct {
	maxIters int
	popSize  int
	seed     int64
}

// NewMayfly creates a new Mayfly optimizer adapter.
func NewMayfly(maxIters, popSize int, seed int64) Optimizer {
	return &MayflyAdapter{
		maxIters: maxIters,
		popSize:  popSize,
		seed:     seed,
	}
}

// Run executes the Mayfly optimization using the external library.
func (m *MayflyAdapter) Run(eval Objective, lower, upper float64, dim int) ([]float64, float64, error) {
	config := mayfly.NewDefaultConfig()

	config.ObjectiveFunc = mayfly.ObjectiveFunction(eval)
	config.ProblemSize = dim
	config.MaxIterations = m.maxIters

	// Male and female populations must stay the same size: the female
	// update loop indexes the male population pairwise.
	config.NPop = m.popSize
	config.NPopF = m.popSize

	// The library uses the same scalar bounds for every dimension.
	config.LowerBound = lower
	config.UpperBound = upper

	config.Rand = rand.New(rand.NewSource(m.seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		return nil, 0, fmt.Errorf("mayfly optimization failed: %w", err)
	}
	return result.GlobalBest.Position, result.GlobalBest.Cost, nil
}
