package loss

import (
	"fmt"

	"github.com/deepsight-lab/mirage/internal/models"
	"github.com/deepsight-lab/mirage/internal/report"
	"github.com/deepsight-lab/mirage/internal/tensor"
)

// BatchNormPrior sums the per-normalization-layer statistics discrepancies
// a classifier backend reports for its last forward pass (DeepInversion
// style). The classifier must implement models.BatchNormStatsProvider.
type BatchNormPrior struct {
	classifier models.Classifier
	stats      models.BatchNormStatsProvider
}

// NewBatchNormPrior builds the prior. Fails at construction when the
// backend cannot report normalization statistics.
func NewBatchNormPrior(classifier models.Classifier) (*BatchNormPrior, error) {
	stats, ok := classifier.(models.BatchNormStatsProvider)
	if !ok {
		return nil, fmt.Errorf("loss: classifier %T reports no batch-norm statistics", classifier)
	}
	return &BatchNormPrior{classifier: classifier, stats: stats}, nil
}

// Forward runs the classifier to refresh the layer statistics and sums the
// reported discrepancies.
func (l *BatchNormPrior) Forward(images *tensor.Tensor, labels tensor.Labels) (float64, *report.Ordered, error) {
	if _, _, err := l.classifier.Predict(images); err != nil {
		return 0, nil, fmt.Errorf("loss: classifier failed: %w", err)
	}

	total := 0.0
	for _, s := range l.stats.BatchNormStats() {
		total += s.Discrepancy
	}

	diag := report.NewOrdered()
	diag.Set("loss", total)
	return total, diag, nil
}
