package attack

import (
	"github.com/deepsight-lab/mirage/internal/report"
	"github.com/deepsight-lab/mirage/internal/tensor"
)

// Metric computes named scalar statistics over a reconstructed image batch.
// The attacker merges all registered metrics into one ordered report; later
// metrics overwrite earlier entries on key collisions.
type Metric interface {
	Measure(images *tensor.Tensor, labels tensor.Labels) (*report.Ordered, error)
}
