package loss

import (
	"fmt"
	"math/rand"

	"github.com/deepsight-lab/mirage/internal/models"
	"github.com/deepsight-lab/mirage/internal/report"
	"github.com/deepsight-lab/mirage/internal/tensor"
)

// AugmentFunc expands an image batch into one or more augmented views.
type AugmentFunc func(images *tensor.Tensor) []*tensor.Tensor

// AugmentClassification scores images by classifier loss accumulated over
// augmented views, reporting running accuracy averaged by view count.
type AugmentClassification struct {
	classifier models.Classifier
	lossFn     ClassificationLossFunc
	augment    AugmentFunc
}

// NewAugmentClassification builds the loss. lossName is a builtin name
// ("cross_entropy", "nll"); use NewAugmentClassificationFunc for a custom
// reduction. A nil augment means the identity view.
func NewAugmentClassification(classifier models.Classifier, lossName string, augment AugmentFunc) (*AugmentClassification, error) {
	fn, err := ByName(lossName)
	if err != nil {
		return nil, err
	}
	return NewAugmentClassificationFunc(classifier, fn, augment), nil
}

// NewAugmentClassificationFunc builds the loss around a custom
// classification reduction.
func NewAugmentClassificationFunc(classifier models.Classifier, fn ClassificationLossFunc, augment AugmentFunc) *AugmentClassification {
	if augment == nil {
		augment = func(images *tensor.Tensor) []*tensor.Tensor {
			return []*tensor.Tensor{images}
		}
	}
	return &AugmentClassification{classifier: classifier, lossFn: fn, augment: augment}
}

// Forward accumulates the classification loss over every augmented view.
func (l *AugmentClassification) Forward(images *tensor.Tensor, labels tensor.Labels) (float64, *report.Ordered, error) {
	total := 0.0
	acc := 0.0
	views := 0
	for _, view := range l.augment(images) {
		views++
		logits, _, err := l.classifier.Predict(view)
		if err != nil {
			return 0, nil, fmt.Errorf("loss: classifier failed: %w", err)
		}
		viewLoss, err := l.lossFn(logits, labels)
		if err != nil {
			return 0, nil, err
		}
		total += viewLoss
		acc += accuracy(logits, labels)
	}

	diag := report.NewOrdered()
	diag.Set("classification loss", total)
	diag.Set("target acc", acc/float64(views))
	return total, diag, nil
}

// ClassificationWithFeatureDistribution extends AugmentClassification with
// a penalty pulling the classifier's feature side channel toward a sample
// from the target class's stored feature Gaussian (reparameterization
// trick).
type ClassificationWithFeatureDistribution struct {
	base          *AugmentClassification
	classifier    models.Classifier
	featureMean   *tensor.Tensor
	featureStd    *tensor.Tensor
	featureWeight float64
	rng           *rand.Rand
}

// NewClassificationWithFeatureDistribution builds the loss. featureMean and
// featureStd describe the per-target feature Gaussian (flat vectors of the
// classifier's feature width).
func NewClassificationWithFeatureDistribution(
	classifier models.Classifier,
	featureMean, featureStd *tensor.Tensor,
	lossName string,
	augment AugmentFunc,
	featureWeight float64,
	seed int64,
) (*ClassificationWithFeatureDistribution, error) {
	base, err := NewAugmentClassification(classifier, lossName, augment)
	if err != nil {
		return nil, err
	}
	return &ClassificationWithFeatureDistribution{
		base:          base,
		classifier:    classifier,
		featureMean:   featureMean,
		featureStd:    featureStd,
		featureWeight: featureWeight,
		rng:           rand.New(rand.NewSource(seed)),
	}, nil
}

// sampleDistribution draws mean + std*eps with standard normal eps.
func (l *ClassificationWithFeatureDistribution) sampleDistribution() []float32 {
	sample := make([]float32, len(l.featureMean.Data))
	for i := range sample {
		sample[i] = l.featureMean.Data[i] + l.featureStd.Data[i]*float32(l.rng.NormFloat64())
	}
	return sample
}

// Forward accumulates classification and feature-distance losses over every
// augmented view. Fails if the classifier exposes no feature side channel.
func (l *ClassificationWithFeatureDistribution) Forward(images *tensor.Tensor, labels tensor.Labels) (float64, *report.Ordered, error) {
	idenLoss := 0.0
	featLoss := 0.0
	acc := 0.0
	views := 0

	for _, view := range l.base.augment(images) {
		views++
		logits, aux, err := l.classifier.Predict(view)
		if err != nil {
			return 0, nil, fmt.Errorf("loss: classifier failed: %w", err)
		}
		feature, ok := aux[models.HookNameFeature]
		if !ok || feature == nil {
			return 0, nil, fmt.Errorf("loss: classifier output has no %q side channel", models.HookNameFeature)
		}

		viewLoss, err := l.base.lossFn(logits, labels)
		if err != nil {
			return 0, nil, err
		}
		idenLoss += viewLoss
		acc += accuracy(logits, labels)

		sample := l.sampleDistribution()
		sum := 0.0
		for i := 0; i < feature.Len(); i++ {
			row := feature.Row(i)
			for j, v := range row {
				d := float64(v - sample[j%len(sample)])
				sum += d * d
			}
		}
		featLoss += sum / float64(feature.Numel())
	}

	total := idenLoss + l.featureWeight*featLoss

	diag := report.NewOrdered()
	diag.Set("loss", total)
	diag.Set("classification loss", idenLoss)
	diag.Set("feature loss", featLoss)
	diag.Set("target acc", acc/float64(views))
	return total, diag, nil
}
