// Package loss provides the composable scoring objectives the attack
// optimizes candidate reconstructions against. Every loss maps an
// (image batch, label batch) pair to a scalar plus an ordered diagnostic
// mapping of named sub-metrics.
package loss

import (
	"fmt"
	"math"

	"github.com/deepsight-lab/mirage/internal/report"
	"github.com/deepsight-lab/mirage/internal/tensor"
)

// Loss scores an image batch against its target labels. Higher diagnostic
// detail goes in the returned mapping; the scalar is what the optimizer
// minimizes.
type Loss interface {
	Forward(images *tensor.Tensor, labels tensor.Labels) (float64, *report.Ordered, error)
}

// ClassificationLossFunc reduces classifier logits and target labels to a
// scalar loss.
type ClassificationLossFunc func(logits *tensor.Tensor, labels tensor.Labels) (float64, error)

// CrossEntropy is softmax cross-entropy averaged over the batch.
func CrossEntropy(logits *tensor.Tensor, labels tensor.Labels) (float64, error) {
	if logits.Len() != labels.Len() {
		return 0, fmt.Errorf("loss: %d logit rows but %d labels", logits.Len(), labels.Len())
	}
	lse := logits.LogSumExpRows()
	sum := 0.0
	for i := 0; i < logits.Len(); i++ {
		sum += float64(lse.Data[i]) - float64(logits.At(i, labels[i]))
	}
	return sum / float64(logits.Len()), nil
}

// NLL treats the input rows as log-probabilities and averages the negative
// target entry.
func NLL(logProbs *tensor.Tensor, labels tensor.Labels) (float64, error) {
	if logProbs.Len() != labels.Len() {
		return 0, fmt.Errorf("loss: %d rows but %d labels", logProbs.Len(), labels.Len())
	}
	sum := 0.0
	for i := 0; i < logProbs.Len(); i++ {
		sum -= float64(logProbs.At(i, labels[i]))
	}
	return sum / float64(logProbs.Len()), nil
}

// ByName resolves a builtin classification loss.
func ByName(name string) (ClassificationLossFunc, error) {
	switch name {
	case "cross_entropy":
		return CrossEntropy, nil
	case "nll":
		return NLL, nil
	}
	return nil, fmt.Errorf("loss: unknown classification loss %q", name)
}

// accuracy is the fraction of rows whose argmax equals the label.
func accuracy(logits *tensor.Tensor, labels tensor.Labels) float64 {
	preds := logits.ArgmaxRows()
	correct := 0
	for i, p := range preds {
		if p == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(preds))
}

func softplus(x float64) float64 {
	// Stable for large |x|.
	if x > 30 {
		return x
	}
	return math.Log1p(math.Exp(x))
}
