package loss

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepsight-lab/mirage/internal/models"
	"github.com/deepsight-lab/mirage/internal/report"
	"github.com/deepsight-lab/mirage/internal/tensor"
)

// stubClassifier returns fixed logits and an optional feature side channel.
type stubClassifier struct {
	logits  *tensor.Tensor
	feature *tensor.Tensor
}

func (s *stubClassifier) Predict(images *tensor.Tensor) (*tensor.Tensor, models.Aux, error) {
	aux := models.Aux{}
	if s.feature != nil {
		aux[models.HookNameFeature] = s.feature
	}
	return s.logits, aux, nil
}

func (s *stubClassifier) NumClasses() int { return s.logits.RowSize() }

// stubDiscriminator returns fixed scores regardless of input.
type stubDiscriminator struct {
	scores *tensor.Tensor
}

func (s *stubDiscriminator) Discriminate(images *tensor.Tensor, labels tensor.Labels) (*tensor.Tensor, error) {
	return s.scores, nil
}

// constLoss always returns the same scalar and one diagnostic entry.
type constLoss struct {
	name  string
	value float64
}

func (c *constLoss) Forward(images *tensor.Tensor, labels tensor.Labels) (float64, *report.Ordered, error) {
	diag := report.NewOrdered()
	diag.Set(c.name, c.value)
	return c.value, diag, nil
}

func testImages(n int) *tensor.Tensor {
	return tensor.New(n, 1, 2, 2)
}

func TestCrossEntropyUniformLogits(t *testing.T) {
	logits := tensor.New(2, 4)
	value, err := CrossEntropy(logits, tensor.Labels{0, 3})
	require.NoError(t, err)
	assert.InDelta(t, math.Log(4), value, 1e-6)
}

func TestByNameUnknown(t *testing.T) {
	_, err := ByName("hinge_of_doom")
	require.Error(t, err)
}

func TestComposeWeightedSum(t *testing.T) {
	losses := []Loss{
		&constLoss{name: "first loss", value: 3.0},
		&constLoss{name: "second loss", value: 4.0},
	}
	compose, err := NewCompose(losses, []float64{1.0, 2.0})
	require.NoError(t, err)

	value, diag, err := compose.Forward(testImages(1), tensor.Labels{0})
	require.NoError(t, err)

	assert.InDelta(t, 11.0, value, 1e-9)
	total, ok := diag.Float("compose loss")
	require.True(t, ok)
	assert.InDelta(t, 11.0, total, 1e-9)

	_, ok = diag.Get("first loss")
	assert.True(t, ok, "sub-loss diagnostics must be merged under their own keys")
	_, ok = diag.Get("second loss")
	assert.True(t, ok)
}

func TestComposeRequiresLosses(t *testing.T) {
	_, err := NewCompose(nil, nil)
	require.Error(t, err)
}

func TestComposeWeightCountMismatch(t *testing.T) {
	_, err := NewCompose([]Loss{&constLoss{name: "a", value: 1}}, []float64{1, 2})
	require.Error(t, err)
}

func TestAugmentClassificationAccuracy(t *testing.T) {
	// Row 0 predicts class 1, row 1 predicts class 0.
	logits := tensor.MustFromSlice([]float32{0, 2, 3, 1}, 2, 2)
	cls := &stubClassifier{logits: logits}

	l, err := NewAugmentClassification(cls, "cross_entropy", nil)
	require.NoError(t, err)

	_, diag, err := l.Forward(testImages(2), tensor.Labels{1, 1})
	require.NoError(t, err)

	acc, ok := diag.Float("target acc")
	require.True(t, ok)
	assert.InDelta(t, 0.5, acc, 1e-9)
}

func TestAugmentClassificationAveragesAccuracyByViews(t *testing.T) {
	logits := tensor.MustFromSlice([]float32{0, 2}, 1, 2)
	cls := &stubClassifier{logits: logits}

	threeViews := func(images *tensor.Tensor) []*tensor.Tensor {
		return []*tensor.Tensor{images, images, images}
	}
	l, err := NewAugmentClassification(cls, "cross_entropy", threeViews)
	require.NoError(t, err)

	_, diag, err := l.Forward(testImages(1), tensor.Labels{1})
	require.NoError(t, err)

	acc, _ := diag.Float("target acc")
	assert.InDelta(t, 1.0, acc, 1e-9, "accuracy is averaged by view count")

	total, _ := diag.Float("classification loss")
	single, err := CrossEntropy(logits, tensor.Labels{1})
	require.NoError(t, err)
	assert.InDelta(t, 3*single, total, 1e-6, "loss accumulates across views")
}

func TestFeatureDistributionMissingSideChannel(t *testing.T) {
	cls := &stubClassifier{logits: tensor.New(1, 2)} // no feature output
	mean := tensor.New(4)
	std := tensor.New(4)

	l, err := NewClassificationWithFeatureDistribution(cls, mean, std, "cross_entropy", nil, 1.0, 1)
	require.NoError(t, err)

	_, _, err = l.Forward(testImages(1), tensor.Labels{0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), models.HookNameFeature)
}

func TestFeatureDistributionZeroVariance(t *testing.T) {
	feature := tensor.MustFromSlice([]float32{1, 2, 3, 4}, 1, 4)
	cls := &stubClassifier{logits: tensor.New(1, 2), feature: feature}

	// Zero std pins the sample at the mean, which equals the feature.
	mean := tensor.MustFromSlice([]float32{1, 2, 3, 4}, 4)
	std := tensor.New(4)

	l, err := NewClassificationWithFeatureDistribution(cls, mean, std, "cross_entropy", nil, 1.0, 1)
	require.NoError(t, err)

	_, diag, err := l.Forward(testImages(1), tensor.Labels{0})
	require.NoError(t, err)

	featLoss, ok := diag.Float("feature loss")
	require.True(t, ok)
	assert.InDelta(t, 0.0, featLoss, 1e-9)
}

func TestGMIDiscriminator(t *testing.T) {
	scores := tensor.MustFromSlice([]float32{1, 3}, 2)
	l := NewGMIDiscriminator(&stubDiscriminator{scores: scores})

	value, diag, err := l.Forward(testImages(2), nil)
	require.NoError(t, err)
	assert.InDelta(t, -2.0, value, 1e-6)

	v, _ := diag.Float("discriminator loss")
	assert.InDelta(t, -2.0, v, 1e-6)
}

func TestKEDMIDiscriminator(t *testing.T) {
	scores := tensor.MustFromSlice([]float32{0}, 1)
	l := NewKEDMIDiscriminator(&stubDiscriminator{scores: scores})

	value, _, err := l.Forward(testImages(1), nil)
	require.NoError(t, err)
	// softplus(0) - 0 = log 2.
	assert.InDelta(t, math.Log(2), value, 1e-6)
}

func TestPixelPrior(t *testing.T) {
	images := tensor.MustFromSlice([]float32{3, -4, 0, 0}, 1, 1, 2, 2)
	p := &PixelPrior{L1Weight: 1, L2Weight: 1}

	value, diag, err := p.Forward(images, nil)
	require.NoError(t, err)

	l1, _ := diag.Float("l1 loss")
	l2, _ := diag.Float("l2 loss")
	assert.InDelta(t, 7.0/4, l1, 1e-6)
	assert.InDelta(t, 5.0, l2, 1e-6)
	assert.InDelta(t, l1+l2, value, 1e-9)
}

func TestVariationPriorConstantImage(t *testing.T) {
	images := tensor.New(1, 1, 4, 4)
	for i := range images.Data {
		images.Data[i] = 0.5
	}
	p := &VariationPrior{L1Weight: 1, L2Weight: 1}

	value, _, err := p.Forward(images, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, value, 1e-9, "a constant image has no variation")
}

func TestVariationPriorGradientImage(t *testing.T) {
	// Left half 0, right half 1: horizontal diffs are nonzero.
	images := tensor.New(1, 1, 2, 2)
	images.Data[1] = 1
	images.Data[3] = 1
	p := &VariationPrior{L1Weight: 1, L2Weight: 0}

	value, _, err := p.Forward(images, nil)
	require.NoError(t, err)
	assert.Greater(t, value, 0.0)
}

func TestMultiModelKLIdenticalModels(t *testing.T) {
	logits := tensor.MustFromSlice([]float32{1, 2, 3}, 1, 3)
	teacher := &stubClassifier{logits: logits}
	student := &stubClassifier{logits: logits.Clone()}

	l, err := NewMultiModelKL(teacher, student)
	require.NoError(t, err)

	value, _, err := l.Forward(testImages(1), tensor.Labels{0})
	require.NoError(t, err)
	// Zero divergence maps to 1 - 0 per student.
	assert.InDelta(t, 1.0, value, 1e-5)
}

func TestMultiModelKLRequiresStudents(t *testing.T) {
	_, err := NewMultiModelKL(&stubClassifier{logits: tensor.New(1, 2)})
	require.Error(t, err)
}

// statsClassifier implements the batch-norm stats capability.
type statsClassifier struct {
	stubClassifier
	stats []models.BatchNormStats
}

func (s *statsClassifier) BatchNormStats() []models.BatchNormStats { return s.stats }

func TestBatchNormPrior(t *testing.T) {
	cls := &statsClassifier{
		stubClassifier: stubClassifier{logits: tensor.New(1, 2)},
		stats: []models.BatchNormStats{
			{Discrepancy: 0.25},
			{Discrepancy: 0.5},
		},
	}

	l, err := NewBatchNormPrior(cls)
	require.NoError(t, err)

	value, _, err := l.Forward(testImages(1), tensor.Labels{0})
	require.NoError(t, err)
	assert.InDelta(t, 0.75, value, 1e-9)
}

func TestBatchNormPriorRequiresCapability(t *testing.T) {
	_, err := NewBatchNormPrior(&stubClassifier{logits: tensor.New(1, 2)})
	require.Error(t, err)
}
