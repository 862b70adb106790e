// Package optimize provides the gradient-free search backends used to
// refine latent vectors against a black-box objective.
package optimize

// Objective evaluates one candidate parameter vector. Lower is better.
type Objective func(position []float64) float64

// Optimizer defines an optimization algorithm interface.
type Optimizer interface {
	// Run minimizes eval over a dim-dimensional box bounded by lower and
	// upper. Returns the best position found and its cost.
	Run(eval Objective, lower, upper float64, dim int) ([]float64, float64, error)
}
