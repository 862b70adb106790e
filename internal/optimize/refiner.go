package optimize

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/deepsight-lab/mirage/internal/loss"
	"github.com/deepsight-lab/mirage/internal/models"
	"github.com/deepsight-lab/mirage/internal/tensor"
)

// Refiner searches the generator's latent space for vectors that minimize
// an attack loss, one candidate at a time. Its Optimize method plugs
// straight into the attack pipeline's optimization slot.
type Refiner struct {
	generator models.Generator
	loss      loss.Loss
	optimizer Optimizer
	lower     float64
	upper     float64
}

func NewRefiner(generator models.Generator, l loss.Loss, optimizer Optimizer, lower, upper float64) (*Refiner, error) {
	if generator == nil || l == nil || optimizer == nil {
		return nil, fmt.Errorf("refiner needs a generator, a loss and an optimizer")
	}
	if lower >= upper {
		return nil, fmt.Errorf("invalid latent bounds [%g, %g]", lower, upper)
	}
	return &Refiner{generator: generator, loss: l, optimizer: optimizer, lower: lower, upper: upper}, nil
}

// Optimize refines each latent independently and maps the winners through
// the generator. A candidate is only replaced when the search finds a
// strictly cheaper latent, so a refined batch never scores worse than its
// starting points.
func (r *Refiner) Optimize(latents *tensor.Tensor, labels tensor.Labels) (*tensor.Tensor, tensor.Labels, error) {
	if latents.Len() != labels.Len() {
		return nil, nil, fmt.Errorf("%d latents but %d labels", latents.Len(), labels.Len())
	}
	dim := latents.RowSize()

	refined := latents.Clone()
	for i := 0; i < latents.Len(); i++ {
		label := labels[i]
		eval, evalErr := r.objective(label)

		start := refined.Row(i)
		position := make([]float64, dim)
		for j, v := range start {
			position[j] = float64(v)
		}
		startCost := eval(position)
		if *evalErr != nil {
			return nil, nil, fmt.Errorf("objective failed for label %d: %w", label, *evalErr)
		}

		best, bestCost, err := r.optimizer.Run(eval, r.lower, r.upper, dim)
		if err != nil {
			return nil, nil, fmt.Errorf("latent search failed for label %d: %w", label, err)
		}
		if *evalErr != nil {
			return nil, nil, fmt.Errorf("objective failed for label %d: %w", label, *evalErr)
		}

		if bestCost < startCost {
			for j, v := range best {
				start[j] = float32(v)
			}
		}
		slog.Debug("latent refined",
			"label", label, "start_cost", startCost, "best_cost", math.Min(startCost, bestCost))
	}

	images, err := r.generator.Generate(refined, labels)
	if err != nil {
		return nil, nil, fmt.Errorf("generation failed: %w", err)
	}
	return images, labels.Clone(), nil
}

// objective builds a single-label evaluation closure. Search libraries
// cannot propagate errors, so failures surface through the returned error
// slot and poison the cost with +Inf.
func (r *Refiner) objective(label int) (Objective, *error) {
	var failed error
	eval := func(position []float64) float64 {
		if failed != nil {
			return math.Inf(1)
		}
		latent := tensor.New(1, len(position))
		for j, v := range position {
			latent.Data[j] = float32(v)
		}
		images, err := r.generator.Generate(latent, tensor.Labels{label})
		if err != nil {
			failed = err
			return math.Inf(1)
		}
		cost, _, err := r.loss.Forward(images, tensor.Labels{label})
		if err != nil {
			failed = err
			return math.Inf(1)
		}
		return cost
	}
	return eval, &failed
}
