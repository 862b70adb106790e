package gan

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/deepsight-lab/mirage/internal/loss"
	"github.com/deepsight-lab/mirage/internal/models"
	"github.com/deepsight-lab/mirage/internal/report"
	"github.com/deepsight-lab/mirage/internal/tensor"
)

// ErrConfig marks fatal configuration errors detected at construction.
var ErrConfig = errors.New("invalid train configuration")

// UpdateFunc applies one model update driven by the given objective. The
// objective may be evaluated several times per call, so it must stay
// valid across repeated invocations. Gradient-free updaters like SPSA
// satisfy this contract.
type UpdateFunc func(objective func() (float64, error)) error

// TrainConfig configures a generator/discriminator training run.
type TrainConfig struct {
	Epochs    int
	BatchSize int

	// TopN is the per-class size of the pseudo-labelled public subset.
	TopN int

	// CoefInvLoss weights the classifier-guidance term in the generator
	// objective.
	CoefInvLoss float64

	// SampleInterval saves a generator sample grid every that many
	// epochs. Zero disables sampling.
	SampleInterval int

	CacheDir    string
	DatasetName string
	TargetName  string

	Augment loss.AugmentFunc
	Seed    int64
}

func (c TrainConfig) normalize() (TrainConfig, error) {
	if c.Epochs <= 0 {
		return c, fmt.Errorf("%w: epochs must be positive, got %d", ErrConfig, c.Epochs)
	}
	if c.BatchSize <= 0 {
		return c, fmt.Errorf("%w: batch size must be positive, got %d", ErrConfig, c.BatchSize)
	}
	if c.TopN <= 0 {
		c.TopN = 30
	}
	if c.CoefInvLoss == 0 {
		c.CoefInvLoss = 0.2
	}
	return c, nil
}

// PseudoLabelDir is where the trainer expects its top-n selected subset.
func (c TrainConfig) PseudoLabelDir() string {
	return filepath.Join(c.CacheDir, c.DatasetName, c.TargetName)
}

// Trainer alternates discriminator and generator updates against a fixed
// target classifier. Model parameters move only through the injected
// update functions, so the trainer itself stays agnostic of how the
// models compute gradients.
type Trainer struct {
	config        TrainConfig
	generator     models.Generator
	discriminator models.Discriminator
	classifier    models.Classifier
	updateGen     UpdateFunc
	updateDis     UpdateFunc
	rng           *rand.Rand
}

func NewTrainer(
	config TrainConfig,
	generator models.Generator,
	discriminator models.Discriminator,
	classifier models.Classifier,
	updateGen, updateDis UpdateFunc,
) (*Trainer, error) {
	normalized, err := config.normalize()
	if err != nil {
		return nil, err
	}
	if generator == nil || discriminator == nil || classifier == nil {
		return nil, fmt.Errorf("%w: trainer needs a generator, a discriminator and a classifier", ErrConfig)
	}
	if updateGen == nil || updateDis == nil {
		return nil, fmt.Errorf("%w: trainer needs update functions for both models", ErrConfig)
	}
	return &Trainer{
		config:        normalized,
		generator:     generator,
		discriminator: discriminator,
		classifier:    classifier,
		updateGen:     updateGen,
		updateDis:     updateDis,
		rng:           rand.New(rand.NewSource(normalized.Seed)),
	}, nil
}

// Prepare builds the pseudo-labelled training subset, reusing a complete
// cache when one exists.
func (t *Trainer) Prepare(publicDir string) error {
	return SelectTopN(t.classifier, publicDir, t.config.PseudoLabelDir(), t.config.TopN, t.config.BatchSize)
}

// Train runs the full adversarial loop over the pseudo-labelled dataset.
func (t *Trainer) Train(dataset *Dataset) error {
	config := t.config
	for epoch := 0; epoch < config.Epochs; epoch++ {
		if config.SampleInterval > 0 && epoch%config.SampleInterval == 0 {
			if err := t.saveSampleGrid(epoch); err != nil {
				return err
			}
		}

		epochReport := report.NewOrdered()
		batches := dataset.Batches(config.BatchSize, t.rng)
		for _, indices := range batches {
			realImages, realLabels, err := dataset.LoadBatch(indices)
			if err != nil {
				return err
			}

			disReport, err := t.DiscriminatorStep(realImages, realLabels)
			if err != nil {
				return fmt.Errorf("discriminator step failed: %w", err)
			}
			genReport, err := t.GeneratorStep(len(indices))
			if err != nil {
				return fmt.Errorf("generator step failed: %w", err)
			}
			epochReport.Merge(disReport)
			epochReport.Merge(genReport)
		}

		slog.Info("epoch finished", "epoch", epoch, "batches", len(batches))
		report.PrintSplit(fmt.Sprintf("Epoch %d", epoch))
		if err := epochReport.Print(); err != nil {
			return err
		}
		report.PrintSplit("")
	}
	return nil
}

// sample draws a latent batch with uniformly random class labels and maps
// it through the generator.
func (t *Trainer) sample(n int) (*tensor.Tensor, tensor.Labels, *tensor.Tensor, error) {
	latents := tensor.New(n, t.generator.LatentDim())
	for i := range latents.Data {
		latents.Data[i] = float32(t.rng.NormFloat64())
	}
	labels := make(tensor.Labels, n)
	for i := range labels {
		labels[i] = t.rng.Intn(t.classifier.NumClasses())
	}
	fake, err := t.generator.Generate(latents, labels)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("generation failed: %w", err)
	}
	return latents, labels, fake, nil
}

// GeneratorStep updates the generator on one freshly sampled batch. The
// latents and labels are fixed for the whole update so repeated objective
// evaluations see the same batch.
func (t *Trainer) GeneratorStep(batchSize int) (*report.Ordered, error) {
	latents, labels, _, err := t.sample(batchSize)
	if err != nil {
		return nil, err
	}

	objective := func() (float64, error) {
		fake, err := t.generator.Generate(latents, labels)
		if err != nil {
			return 0, err
		}
		disLoss, err := t.realismLoss(fake, labels)
		if err != nil {
			return 0, err
		}
		invLoss, err := t.guidanceLoss(fake, labels)
		if err != nil {
			return 0, err
		}
		return disLoss + invLoss*t.config.CoefInvLoss, nil
	}

	if err := t.updateGen(objective); err != nil {
		return nil, fmt.Errorf("generator update failed: %w", err)
	}

	// Re-evaluate the parts once with the updated weights for reporting.
	fake, err := t.generator.Generate(latents, labels)
	if err != nil {
		return nil, err
	}
	disLoss, err := t.realismLoss(fake, labels)
	if err != nil {
		return nil, err
	}
	invLoss, err := t.guidanceLoss(fake, labels)
	if err != nil {
		return nil, err
	}

	result := report.NewOrdered()
	result.Set("dis loss", disLoss)
	result.Set("inv loss", invLoss)
	result.Set("gen total loss", disLoss+invLoss*t.config.CoefInvLoss)
	return result, nil
}

// DiscriminatorStep updates the discriminator with the hinge loss on one
// real batch against one fake batch.
func (t *Trainer) DiscriminatorStep(realImages *tensor.Tensor, realLabels tensor.Labels) (*report.Ordered, error) {
	latents, labels, _, err := t.sample(realImages.Len())
	if err != nil {
		return nil, err
	}

	parts := func() (fakeLoss, realLoss float64, err error) {
		fake, err := t.generator.Generate(latents, labels)
		if err != nil {
			return 0, 0, err
		}
		fakeScores, err := t.discriminator.Discriminate(fake, labels)
		if err != nil {
			return 0, 0, err
		}
		realScores, err := t.discriminator.Discriminate(realImages, realLabels)
		if err != nil {
			return 0, 0, err
		}
		return hingeMean(fakeScores, 1), hingeMean(realScores, -1), nil
	}

	objective := func() (float64, error) {
		fakeLoss, realLoss, err := parts()
		if err != nil {
			return 0, err
		}
		return fakeLoss + realLoss, nil
	}

	if err := t.updateDis(objective); err != nil {
		return nil, fmt.Errorf("discriminator update failed: %w", err)
	}

	fakeLoss, realLoss, err := parts()
	if err != nil {
		return nil, err
	}
	result := report.NewOrdered()
	result.Set("fake loss", fakeLoss)
	result.Set("real loss", realLoss)
	result.Set("dis total loss", fakeLoss+realLoss)
	return result, nil
}

// realismLoss is the generator's adversarial term, the negated mean
// discriminator score of the fake batch.
func (t *Trainer) realismLoss(fake *tensor.Tensor, labels tensor.Labels) (float64, error) {
	scores, err := t.discriminator.Discriminate(fake, labels)
	if err != nil {
		return 0, err
	}
	return -scores.Mean(), nil
}

// guidanceLoss pushes fakes towards their assigned class with the
// max-margin classifier loss, averaged over augmented views.
func (t *Trainer) guidanceLoss(fake *tensor.Tensor, labels tensor.Labels) (float64, error) {
	views := []*tensor.Tensor{fake}
	if t.config.Augment != nil {
		views = t.config.Augment(fake)
	}
	total := 0.0
	for _, view := range views {
		logits, _, err := t.classifier.Predict(view)
		if err != nil {
			return 0, err
		}
		margin, err := maxMarginLoss(logits, labels)
		if err != nil {
			return 0, err
		}
		total += margin
	}
	return total / float64(len(views)), nil
}

// maxMarginLoss is mean(-logit[target]) + mean(highest non-target logit).
func maxMarginLoss(logits *tensor.Tensor, labels tensor.Labels) (float64, error) {
	if logits.Len() != labels.Len() {
		return 0, fmt.Errorf("%d logit rows but %d labels", logits.Len(), labels.Len())
	}
	total := 0.0
	for i := 0; i < logits.Len(); i++ {
		row := logits.Row(i)
		target := labels[i]
		if target < 0 || target >= len(row) {
			return 0, fmt.Errorf("label %d outside logit range %d", target, len(row))
		}
		runnerUp := float32(0)
		seen := false
		for j, v := range row {
			if j == target {
				continue
			}
			if !seen || v > runnerUp {
				runnerUp = v
				seen = true
			}
		}
		total += float64(runnerUp) - float64(row[target])
	}
	return total / float64(logits.Len()), nil
}

// hingeMean is mean(relu(1 + sign*score)), the two halves of the hinge
// discriminator loss.
func hingeMean(scores *tensor.Tensor, sign float32) float64 {
	total := 0.0
	for _, v := range scores.Data {
		h := 1 + sign*v
		if h > 0 {
			total += float64(h)
		}
	}
	return total / float64(len(scores.Data))
}

// saveSampleGrid renders five fresh samples into one labelled grid image
// under the cache directory.
func (t *Trainer) saveSampleGrid(epoch int) error {
	const gridSize = 5
	_, labels, fake, err := t.sample(gridSize)
	if err != nil {
		return err
	}

	dir := filepath.Join(t.config.CacheDir, "train_sample")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create sample directory: %w", err)
	}
	name := fmt.Sprintf("epoch_%d_%d_%d_%d_%d_%d.png",
		epoch, labels[0], labels[1], labels[2], labels[3], labels[4])
	if err := fake.SaveGrid(filepath.Join(dir, name), gridSize, true); err != nil {
		return fmt.Errorf("failed to save sample grid: %w", err)
	}
	return nil
}
