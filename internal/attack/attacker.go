// Package attack implements the model-inversion orchestration pipeline:
// latent sampling, scored initial selection, batched optimization, scored
// final selection and evaluation.
package attack

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/deepsight-lab/mirage/internal/batch"
	"github.com/deepsight-lab/mirage/internal/report"
	"github.com/deepsight-lab/mirage/internal/tensor"
)

// Attacker drives one attack run: Init -> InitialSelect -> Optimize ->
// FinalSelect -> Evaluate. Not safe for concurrent use; the accumulators
// grow across optimization batches within one Attack call and are cleared
// only by constructing a new Attacker.
type Attacker struct {
	config  Config
	metrics []Metric

	optimizedImages []*tensor.Tensor
	optimizedLabels []tensor.Labels
}

// New validates and normalizes the configuration and builds an attacker.
// Configuration errors (missing mandatory collaborators, save flags
// without a directory) fail here, never at save time.
func New(config Config, metrics []Metric) (*Attacker, error) {
	normalized, err := config.normalize()
	if err != nil {
		return nil, err
	}
	return &Attacker{config: normalized, metrics: metrics}, nil
}

// InitialLatents samples sampleNum candidates per target label and keeps
// the selectNum best by scoreFn, scoring through the batch runner. With a
// nil scoreFn or sampleNum == selectNum the sampler's output is taken
// directly. The flattened result is ordered by ascending label.
func (a *Attacker) InitialLatents(batchSize, sampleNum, selectNum int, labels []int, scoreFn ScoreFunc) (*tensor.Tensor, tensor.Labels, error) {
	if sampleNum < selectNum {
		slog.Warn("sample num is smaller than select num, raising it",
			"sample_num", sampleNum, "select_num", selectNum)
		sampleNum = selectNum
	}

	if scoreFn == nil || sampleNum == selectNum {
		if sampleNum > selectNum {
			slog.Warn("no score function, sampling select num latents directly")
		}
		latents, err := a.config.SampleLatents(selectNum)
		if err != nil {
			return nil, nil, fmt.Errorf("latent sampling failed: %w", err)
		}
		results := make(map[int]*tensor.Tensor, len(labels))
		for _, label := range labels {
			results[label] = latents.Clone()
		}
		return concatLabeled(results)
	}

	results := make(map[int]*tensor.Tensor, len(labels))
	for _, label := range labels {
		raw, err := a.config.SampleLatents(sampleNum)
		if err != nil {
			return nil, nil, fmt.Errorf("latent sampling failed: %w", err)
		}

		scores, err := applyScore(scoreFn, batchSize, raw, tensor.Filled(label, sampleNum))
		if err != nil {
			return nil, nil, fmt.Errorf("initial selection scoring failed: %w", err)
		}
		topk, err := scores.TopK(selectNum)
		if err != nil {
			return nil, nil, err
		}
		results[label] = raw.Index(topk)
	}
	return concatLabeled(results)
}

// BatchOptimize runs the injected optimization routine chunk by chunk and
// appends every chunk's reconstructions to the run accumulator.
func (a *Attacker) BatchOptimize(latents *tensor.Tensor, labels tensor.Labels) error {
	fn := func(chunks ...any) (any, error) {
		images, outLabels, err := a.config.Optimize(chunks[0].(*tensor.Tensor), chunks[1].(tensor.Labels))
		if err != nil {
			return nil, err
		}
		if err := a.updateOptimized(images, outLabels); err != nil {
			return nil, err
		}
		if a.config.SaveOptimizedImages {
			dir := filepath.Join(a.config.SaveDir, "optimized_images")
			if err := a.saveImages(dir, images, outLabels); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}

	opts := batch.Options{Description: "Optimized Batch"}
	_, err := batch.Apply(fn, a.config.OptimizeBatchSize, opts, latents, labels)
	return err
}

func (a *Attacker) updateOptimized(images *tensor.Tensor, labels tensor.Labels) error {
	if images.Len() != labels.Len() {
		return fmt.Errorf("optimize returned %d images but %d labels", images.Len(), labels.Len())
	}
	a.optimizedImages = append(a.optimizedImages, images)
	a.optimizedLabels = append(a.optimizedLabels, labels)
	return nil
}

func (a *Attacker) concatOptimized() (*tensor.Tensor, tensor.Labels, error) {
	if len(a.optimizedImages) == 0 {
		return nil, nil, fmt.Errorf("no optimized images were produced")
	}
	images, err := tensor.Concat(a.optimizedImages...)
	if err != nil {
		return nil, nil, err
	}
	var labels tensor.Labels
	for _, l := range a.optimizedLabels {
		labels = append(labels, l...)
	}
	return images, labels, nil
}

// FinalSelection keeps, per distinct label, the finalNum best images by
// scoreFn. With a nil scoreFn or when finalNum already equals the candidate
// count the input is returned unchanged. Labels with fewer than finalNum
// candidates keep everything they have.
func (a *Attacker) FinalSelection(batchSize, finalNum int, images *tensor.Tensor, labels tensor.Labels, scoreFn ScoreFunc) (*tensor.Tensor, tensor.Labels, error) {
	if images.Len() != labels.Len() {
		return nil, nil, fmt.Errorf("%d images but %d labels", images.Len(), labels.Len())
	}

	if finalNum != images.Len() && scoreFn == nil {
		slog.Warn("no score function but final num differs from the candidate count",
			"final_num", finalNum, "candidates", images.Len())
		finalNum = images.Len()
	}
	if finalNum == images.Len() {
		return images, labels, nil
	}

	slog.Info("executing final selection", "final_num", finalNum, "candidates", images.Len())

	scores, err := applyScore(scoreFn, batchSize, images, labels)
	if err != nil {
		return nil, nil, fmt.Errorf("final selection scoring failed: %w", err)
	}

	results := make(map[int]*tensor.Tensor)
	for _, target := range labels.Distinct() {
		indices := labels.Where(target)
		targetScores := scores.Index(indices)

		k := finalNum
		if k > len(indices) {
			slog.Warn("label has fewer candidates than final num, keeping all",
				"label", target, "candidates", len(indices), "final_num", finalNum)
			k = len(indices)
		}
		topk, err := targetScores.TopK(k)
		if err != nil {
			return nil, nil, err
		}
		keep := make([]int, len(topk))
		for i, t := range topk {
			keep[i] = indices[t]
		}
		results[target] = images.Index(keep)
	}
	return concatLabeled(results)
}

// Attack drives the full pipeline for the target labels. When
// evalOptimized is set the metrics also run on the pre-selection
// reconstructions.
func (a *Attacker) Attack(targetLabels []int, evalOptimized bool) error {
	config := a.config
	if config.SaveDir != "" {
		if err := os.MkdirAll(config.SaveDir, 0755); err != nil {
			return fmt.Errorf("failed to create save directory: %w", err)
		}
	}

	if err := a.echoConfig(); err != nil {
		return err
	}

	initLatents, initLabels, err := a.InitialLatents(
		config.InitialSelectBatchSize,
		config.InitialNum,
		config.OptimizeNum,
		targetLabels,
		config.InitialScore,
	)
	if err != nil {
		return fmt.Errorf("initial selection failed: %w", err)
	}

	if err := a.BatchOptimize(initLatents, initLabels); err != nil {
		return fmt.Errorf("optimization failed: %w", err)
	}

	optimizedImages, optimizedLabels, err := a.concatOptimized()
	if err != nil {
		return err
	}

	if evalOptimized {
		if err := a.evaluation(optimizedImages, optimizedLabels, "Optimized Image Evaluation"); err != nil {
			return err
		}
	}

	finalImages, finalLabels, err := a.FinalSelection(
		config.FinalSelectBatchSize,
		config.FinalNum,
		optimizedImages,
		optimizedLabels,
		config.FinalScore,
	)
	if err != nil {
		return fmt.Errorf("final selection failed: %w", err)
	}

	if config.SaveFinalImages {
		dir := filepath.Join(config.SaveDir, "final_images")
		if err := a.saveImages(dir, finalImages, finalLabels); err != nil {
			return err
		}
	}

	return a.evaluation(finalImages, finalLabels, "Final Image Evaluation")
}

// evaluation merges every registered metric into one ordered report and
// prints it framed by separator lines.
func (a *Attacker) evaluation(images *tensor.Tensor, labels tensor.Labels, description string) error {
	result := report.NewOrdered()
	for _, metric := range a.metrics {
		r, err := metric.Measure(images, labels)
		if err != nil {
			return fmt.Errorf("metric failed: %w", err)
		}
		result.Merge(r)
	}

	report.PrintSplit(description)
	if err := result.Print(); err != nil {
		return err
	}
	report.PrintSplit("")
	return nil
}

func (a *Attacker) echoConfig() error {
	c := a.config
	echo := report.NewOrdered()
	echo.Set("initial num", c.InitialNum)
	echo.Set("optimize num", c.OptimizeNum)
	echo.Set("final num", c.FinalNum)
	echo.Set("initial select batch size", c.InitialSelectBatchSize)
	echo.Set("optimize batch size", c.OptimizeBatchSize)
	echo.Set("final select batch size", c.FinalSelectBatchSize)
	echo.Set("save dir", c.SaveDir)
	echo.Set("save optimized images", c.SaveOptimizedImages)
	echo.Set("save final images", c.SaveFinalImages)

	report.PrintSplit("Attack Config")
	if err := echo.Print(); err != nil {
		return err
	}
	report.PrintSplit("")
	return nil
}

// saveImages persists each image under rootDir/<label>/<label>_<rand6>.png.
func (a *Attacker) saveImages(rootDir string, images *tensor.Tensor, labels tensor.Labels) error {
	if images.Len() != labels.Len() {
		return fmt.Errorf("%d images but %d labels", images.Len(), labels.Len())
	}
	for i := 0; i < images.Len(); i++ {
		label := labels[i]
		name := fmt.Sprintf("%d_%s.png", label, randomSuffix())
		path := filepath.Join(rootDir, fmt.Sprintf("%d", label), name)
		if err := images.SavePNG(path, i, a.config.SaveNormalize); err != nil {
			return fmt.Errorf("failed to save image for label %d: %w", label, err)
		}
	}
	return nil
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}

// concatLabeled flattens a per-label candidate set into one stacked tensor
// with parallel labels, ascending by label, keeping each label's original
// selection order.
func concatLabeled(byLabel map[int]*tensor.Tensor) (*tensor.Tensor, tensor.Labels, error) {
	targets := make([]int, 0, len(byLabel))
	for target := range byLabel {
		targets = append(targets, target)
	}
	sort.Ints(targets)

	tensors := make([]*tensor.Tensor, 0, len(targets))
	var labels tensor.Labels
	for _, target := range targets {
		t := byLabel[target]
		tensors = append(tensors, t)
		labels = append(labels, tensor.Filled(target, t.Len())...)
	}
	stacked, err := tensor.Concat(tensors...)
	if err != nil {
		return nil, nil, err
	}
	return stacked, labels, nil
}

// applyScore runs scoreFn through the batch runner and returns the
// gathered 1-D score tensor.
func applyScore(scoreFn ScoreFunc, batchSize int, batchInput *tensor.Tensor, labels tensor.Labels) (*tensor.Tensor, error) {
	fn := func(chunks ...any) (any, error) {
		scores, err := scoreFn(chunks[0].(*tensor.Tensor), chunks[1].(tensor.Labels))
		if err != nil {
			return nil, err
		}
		return scores, nil
	}
	gathered, err := batch.Apply(fn, batchSize, batch.Options{}, batchInput, labels)
	if err != nil {
		return nil, err
	}
	scores, ok := gathered.(*tensor.Tensor)
	if !ok {
		return nil, fmt.Errorf("score function returned %T, expected a score tensor", gathered)
	}
	return scores, nil
}
