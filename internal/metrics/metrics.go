// Package metrics evaluates reconstructed images against a target
// classifier. Every metric reports through an ordered result map so the
// attack summary keeps a stable key order.
package metrics

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/deepsight-lab/mirage/internal/batch"
	"github.com/deepsight-lab/mirage/internal/models"
	"github.com/deepsight-lab/mirage/internal/report"
	"github.com/deepsight-lab/mirage/internal/tensor"
)

// Accuracy reports top-k attack accuracy against a classifier, one entry
// per requested k.
type Accuracy struct {
	classifier models.Classifier
	ks         []int
	batchSize  int
}

func NewAccuracy(classifier models.Classifier, batchSize int, ks ...int) (*Accuracy, error) {
	if len(ks) == 0 {
		ks = []int{1}
	}
	for _, k := range ks {
		if k < 1 {
			return nil, fmt.Errorf("metrics: top-k rank must be positive, got %d", k)
		}
	}
	sorted := append([]int(nil), ks...)
	sort.Ints(sorted)
	return &Accuracy{classifier: classifier, ks: sorted, batchSize: batchSize}, nil
}

func (m *Accuracy) Measure(images *tensor.Tensor, labels tensor.Labels) (*report.Ordered, error) {
	hits := make([]int, len(m.ks))
	fn := func(chunks ...any) (any, error) {
		chunkImages := chunks[0].(*tensor.Tensor)
		chunkLabels := chunks[1].(tensor.Labels)
		logits, _, err := m.classifier.Predict(chunkImages)
		if err != nil {
			return nil, err
		}
		for i := 0; i < logits.Len(); i++ {
			rank := logitRank(logits.Row(i), chunkLabels[i])
			for j, k := range m.ks {
				if rank < k {
					hits[j]++
				}
			}
		}
		return nil, nil
	}
	if _, err := batch.Apply(fn, m.batchSize, batch.Options{}, images, labels); err != nil {
		return nil, fmt.Errorf("accuracy evaluation failed: %w", err)
	}

	result := report.NewOrdered()
	for j, k := range m.ks {
		result.Set(fmt.Sprintf("attack acc@%d", k), float64(hits[j])/float64(images.Len()))
	}
	return result, nil
}

// logitRank counts logits strictly greater than the target's, i.e. the
// target's zero-based rank in the descending order.
func logitRank(logits []float32, target int) int {
	rank := 0
	for i, v := range logits {
		if i != target && v > logits[target] {
			rank++
		}
	}
	return rank
}

// TargetConfidence reports the mean softmax probability the classifier
// assigns to each image's target label.
type TargetConfidence struct {
	classifier models.Classifier
	batchSize  int
}

func NewTargetConfidence(classifier models.Classifier, batchSize int) *TargetConfidence {
	return &TargetConfidence{classifier: classifier, batchSize: batchSize}
}

func (m *TargetConfidence) Measure(images *tensor.Tensor, labels tensor.Labels) (*report.Ordered, error) {
	total := 0.0
	fn := func(chunks ...any) (any, error) {
		chunkImages := chunks[0].(*tensor.Tensor)
		chunkLabels := chunks[1].(tensor.Labels)
		logits, _, err := m.classifier.Predict(chunkImages)
		if err != nil {
			return nil, err
		}
		probs := logits.Softmax(1)
		for i := 0; i < probs.Len(); i++ {
			total += float64(probs.Row(i)[chunkLabels[i]])
		}
		return nil, nil
	}
	if _, err := batch.Apply(fn, m.batchSize, batch.Options{}, images, labels); err != nil {
		return nil, fmt.Errorf("confidence evaluation failed: %w", err)
	}

	result := report.NewOrdered()
	result.Set("target confidence", total/float64(images.Len()))
	return result, nil
}

// FeatureDistance reports the mean euclidean distance between each
// reconstruction's feature vector and its class centroid. Centroids are
// a [classes, dim] tensor, typically computed from the private training
// set with ClassCentroids.
type FeatureDistance struct {
	classifier models.Classifier
	centroids  *tensor.Tensor
	batchSize  int
}

func NewFeatureDistance(classifier models.Classifier, centroids *tensor.Tensor, batchSize int) (*FeatureDistance, error) {
	if len(centroids.Shape) != 2 {
		return nil, fmt.Errorf("metrics: centroids must be [classes, dim], got shape %v", centroids.Shape)
	}
	return &FeatureDistance{classifier: classifier, centroids: centroids, batchSize: batchSize}, nil
}

func (m *FeatureDistance) Measure(images *tensor.Tensor, labels tensor.Labels) (*report.Ordered, error) {
	total := 0.0
	fn := func(chunks ...any) (any, error) {
		chunkImages := chunks[0].(*tensor.Tensor)
		chunkLabels := chunks[1].(tensor.Labels)
		_, aux, err := m.classifier.Predict(chunkImages)
		if err != nil {
			return nil, err
		}
		features, ok := aux[models.HookNameFeature]
		if !ok {
			return nil, fmt.Errorf("classifier exposes no %q side channel", models.HookNameFeature)
		}
		for i := 0; i < features.Len(); i++ {
			label := chunkLabels[i]
			if label < 0 || label >= m.centroids.Len() {
				return nil, fmt.Errorf("label %d has no centroid", label)
			}
			total += euclidean(features.Row(i), m.centroids.Row(label))
		}
		return nil, nil
	}
	if _, err := batch.Apply(fn, m.batchSize, batch.Options{}, images, labels); err != nil {
		return nil, fmt.Errorf("feature distance evaluation failed: %w", err)
	}

	result := report.NewOrdered()
	result.Set("feature distance", total/float64(images.Len()))
	return result, nil
}

func euclidean(a, b []float32) float64 {
	fa := make([]float64, len(a))
	fb := make([]float64, len(b))
	for i := range a {
		fa[i] = float64(a[i])
		fb[i] = float64(b[i])
	}
	return floats.Distance(fa, fb, 2)
}

// ClassCentroids averages the classifier's feature vectors per label over
// a labeled dataset, producing the [classes, dim] centroid tensor used by
// FeatureDistance.
func ClassCentroids(classifier models.Classifier, images *tensor.Tensor, labels tensor.Labels, batchSize int) (*tensor.Tensor, error) {
	sums := map[int][]float64{}
	counts := map[int]int{}
	dim := 0

	fn := func(chunks ...any) (any, error) {
		chunkImages := chunks[0].(*tensor.Tensor)
		chunkLabels := chunks[1].(tensor.Labels)
		_, aux, err := classifier.Predict(chunkImages)
		if err != nil {
			return nil, err
		}
		features, ok := aux[models.HookNameFeature]
		if !ok {
			return nil, fmt.Errorf("classifier exposes no %q side channel", models.HookNameFeature)
		}
		dim = features.RowSize()
		for i := 0; i < features.Len(); i++ {
			label := chunkLabels[i]
			if sums[label] == nil {
				sums[label] = make([]float64, dim)
			}
			for j, v := range features.Row(i) {
				sums[label][j] += float64(v)
			}
			counts[label]++
		}
		return nil, nil
	}
	if _, err := batch.Apply(fn, batchSize, batch.Options{}, images, labels); err != nil {
		return nil, fmt.Errorf("centroid computation failed: %w", err)
	}

	classes := classifier.NumClasses()
	centroids := tensor.New(classes, dim)
	for label, sum := range sums {
		if label < 0 || label >= classes {
			return nil, fmt.Errorf("label %d outside the classifier's %d classes", label, classes)
		}
		row := centroids.Row(label)
		for j := range row {
			row[j] = float32(sum[j] / float64(counts[label]))
		}
	}
	return centroids, nil
}
