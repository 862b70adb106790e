package gan

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepsight-lab/mirage/internal/models"
	"github.com/deepsight-lab/mirage/internal/tensor"
)

type stubGenerator struct{ dim int }

func (g *stubGenerator) Generate(latents *tensor.Tensor, labels tensor.Labels) (*tensor.Tensor, error) {
	images := tensor.New(latents.Len(), 1, 1, g.dim)
	copy(images.Data, latents.Data)
	return images, nil
}

func (g *stubGenerator) LatentDim() int { return g.dim }

type stubDiscriminator struct{ score float32 }

func (d *stubDiscriminator) Discriminate(images *tensor.Tensor, labels tensor.Labels) (*tensor.Tensor, error) {
	scores := tensor.New(images.Len())
	for i := range scores.Data {
		scores.Data[i] = d.score
	}
	return scores, nil
}

type flatClassifier struct{ classes int }

func (c *flatClassifier) Predict(images *tensor.Tensor) (*tensor.Tensor, models.Aux, error) {
	logits := tensor.New(images.Len(), c.classes)
	for i := range logits.Data {
		logits.Data[i] = 1
	}
	return logits, nil, nil
}

func (c *flatClassifier) NumClasses() int { return c.classes }

// countingUpdater runs the objective once and records the call.
type countingUpdater struct {
	calls int
	costs []float64
}

func (u *countingUpdater) update(objective func() (float64, error)) error {
	u.calls++
	cost, err := objective()
	if err != nil {
		return err
	}
	u.costs = append(u.costs, cost)
	return nil
}

func newStubTrainer(t *testing.T, genUp, disUp UpdateFunc) *Trainer {
	t.Helper()
	trainer, err := NewTrainer(
		TrainConfig{Epochs: 1, BatchSize: 2, Seed: 1},
		&stubGenerator{dim: 2},
		&stubDiscriminator{score: 0.5},
		&flatClassifier{classes: 2},
		genUp, disUp,
	)
	require.NoError(t, err)
	return trainer
}

func TestMaxMarginLoss(t *testing.T) {
	logits := tensor.MustFromSlice([]float32{1, 3, 2}, 1, 3)

	got, err := maxMarginLoss(logits, tensor.Labels{0})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, got, 1e-6, "runner-up 3 minus target 1")

	got, err = maxMarginLoss(logits, tensor.Labels{1})
	require.NoError(t, err)
	assert.InDelta(t, -1.0, got, 1e-6, "runner-up 2 minus target 3")

	_, err = maxMarginLoss(logits, tensor.Labels{5})
	assert.Error(t, err)
}

func TestHingeMean(t *testing.T) {
	scores := tensor.MustFromSlice([]float32{0.5, -2}, 2)
	assert.InDelta(t, 0.75, hingeMean(scores, 1), 1e-6)
	assert.InDelta(t, 1.75, hingeMean(scores, -1), 1e-6)
}

func TestGeneratorStep(t *testing.T) {
	up := &countingUpdater{}
	trainer := newStubTrainer(t, up.update, func(func() (float64, error)) error { return nil })

	result, err := trainer.GeneratorStep(3)
	require.NoError(t, err)
	assert.Equal(t, 1, up.calls)

	// Flat logits make the guidance term vanish, leaving the realism term.
	disLoss, ok := result.Float("dis loss")
	require.True(t, ok)
	assert.InDelta(t, -0.5, disLoss, 1e-6)
	invLoss, ok := result.Float("inv loss")
	require.True(t, ok)
	assert.InDelta(t, 0.0, invLoss, 1e-6)
	total, ok := result.Float("gen total loss")
	require.True(t, ok)
	assert.InDelta(t, -0.5, total, 1e-6)
}

func TestDiscriminatorStep(t *testing.T) {
	up := &countingUpdater{}
	trainer := newStubTrainer(t, func(func() (float64, error)) error { return nil }, up.update)

	real := tensor.New(2, 1, 1, 2)
	result, err := trainer.DiscriminatorStep(real, tensor.Labels{0, 1})
	require.NoError(t, err)
	assert.Equal(t, 1, up.calls)
	require.Len(t, up.costs, 1)
	assert.InDelta(t, 2.0, up.costs[0], 1e-6, "relu(1.5) fake plus relu(0.5) real")

	fakeLoss, ok := result.Float("fake loss")
	require.True(t, ok)
	assert.InDelta(t, 1.5, fakeLoss, 1e-6)
	realLoss, ok := result.Float("real loss")
	require.True(t, ok)
	assert.InDelta(t, 0.5, realLoss, 1e-6)
}

func TestTrainerUpdateErrorPropagates(t *testing.T) {
	boom := errors.New("spsa diverged")
	trainer := newStubTrainer(t,
		func(func() (float64, error)) error { return boom },
		func(func() (float64, error)) error { return nil },
	)

	_, err := trainer.GeneratorStep(2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
}

func TestTrainConfigNormalize(t *testing.T) {
	cfg, err := TrainConfig{Epochs: 1, BatchSize: 4}.normalize()
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.TopN)
	assert.InDelta(t, 0.2, cfg.CoefInvLoss, 1e-9)

	_, err = TrainConfig{Epochs: 0, BatchSize: 4}.normalize()
	assert.True(t, errors.Is(err, ErrConfig))
	_, err = TrainConfig{Epochs: 1, BatchSize: 0}.normalize()
	assert.True(t, errors.Is(err, ErrConfig))
}
