package loss

import (
	"fmt"

	"github.com/deepsight-lab/mirage/internal/report"
	"github.com/deepsight-lab/mirage/internal/tensor"
)

// Compose is a weighted sum of sub-losses. Each sub-loss's diagnostics are
// merged into the result under their own keys, plus a "compose loss" total.
type Compose struct {
	losses  []Loss
	weights []float64
}

// NewCompose builds a weighted composition. A nil weights slice means unit
// weights; otherwise the weight count must match the loss count.
func NewCompose(losses []Loss, weights []float64) (*Compose, error) {
	if len(losses) == 0 {
		return nil, fmt.Errorf("loss: compose requires at least one sub-loss")
	}
	if weights == nil {
		weights = make([]float64, len(losses))
		for i := range weights {
			weights[i] = 1
		}
	}
	if len(weights) != len(losses) {
		return nil, fmt.Errorf("loss: %d sub-losses but %d weights", len(losses), len(weights))
	}
	return &Compose{losses: losses, weights: weights}, nil
}

// Forward sums weight*loss over all sub-losses.
func (c *Compose) Forward(images *tensor.Tensor, labels tensor.Labels) (float64, *report.Ordered, error) {
	total := 0.0
	diag := report.NewOrdered()
	diag.Set("compose loss", 0.0)

	for i, sub := range c.losses {
		value, subDiag, err := sub.Forward(images, labels)
		if err != nil {
			return 0, nil, err
		}
		if subDiag != nil {
			diag.Merge(subDiag)
		}
		total += c.weights[i] * value
	}

	diag.Set("compose loss", total)
	return total, diag, nil
}
