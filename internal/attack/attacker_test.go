package attack

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepsight-lab/mirage/internal/report"
	"github.com/deepsight-lab/mirage/internal/tensor"
)

// fixedSampler always returns clones of the given latent batch prefix.
func fixedSampler(latents *tensor.Tensor) SampleLatentsFunc {
	return func(n int) (*tensor.Tensor, error) {
		return latents.Narrow(0, n).Clone(), nil
	}
}

// valueScore scores every candidate by its first latent component.
func valueScore(batch *tensor.Tensor, labels tensor.Labels) (*tensor.Tensor, error) {
	scores := tensor.New(batch.Len())
	for i := 0; i < batch.Len(); i++ {
		scores.Data[i] = batch.Row(i)[0]
	}
	return scores, nil
}

// recordingMetric captures the labels it was evaluated on.
type recordingMetric struct {
	labels []tensor.Labels
}

func (m *recordingMetric) Measure(images *tensor.Tensor, labels tensor.Labels) (*report.Ordered, error) {
	m.labels = append(m.labels, labels.Clone())
	r := report.NewOrdered()
	r.Set("batch size", images.Len())
	return r, nil
}

func newTestAttacker(t *testing.T, cfg Config, metrics []Metric) *Attacker {
	t.Helper()
	a, err := New(cfg, metrics)
	require.NoError(t, err)
	return a
}

func TestInitialLatentsPassthrough(t *testing.T) {
	raw := tensor.MustFromSlice([]float32{0.4, 0.6}, 2, 1)
	a := newTestAttacker(t, Config{
		SampleLatents: fixedSampler(raw),
		Optimize:      noopOptimize,
		FinalNum:      2,
	}, nil)

	latents, labels, err := a.InitialLatents(1, 2, 2, []int{5}, nil)
	require.NoError(t, err)

	assert.Equal(t, raw.Data, latents.Data, "sampler output must pass through unmodified")
	assert.Equal(t, tensor.Labels{5, 5}, labels)
}

func TestInitialLatentsScoredSelection(t *testing.T) {
	// Candidates score 0.1 and 0.9; selecting one must keep the 0.9.
	raw := tensor.MustFromSlice([]float32{0.1, 0.9}, 2, 1)
	a := newTestAttacker(t, Config{
		SampleLatents: fixedSampler(raw),
		Optimize:      noopOptimize,
		FinalNum:      1,
	}, nil)

	latents, labels, err := a.InitialLatents(2, 2, 1, []int{3, 7}, valueScore)
	require.NoError(t, err)

	require.Equal(t, 2, latents.Len())
	assert.Equal(t, tensor.Labels{3, 7}, labels, "flattened order is ascending by label")
	assert.InDelta(t, 0.9, float64(latents.Row(0)[0]), 1e-6)
	assert.InDelta(t, 0.9, float64(latents.Row(1)[0]), 1e-6)
}

func TestInitialLatentsClampsSampleNum(t *testing.T) {
	raw := tensor.MustFromSlice([]float32{0.1, 0.9, 0.5}, 3, 1)
	a := newTestAttacker(t, Config{
		SampleLatents: fixedSampler(raw),
		Optimize:      noopOptimize,
		FinalNum:      2,
	}, nil)

	// sampleNum < selectNum is a usage warning, not an error.
	latents, _, err := a.InitialLatents(2, 1, 2, []int{0}, valueScore)
	require.NoError(t, err)
	assert.Equal(t, 2, latents.Len())
}

func TestFinalSelectionIdentity(t *testing.T) {
	a := newTestAttacker(t, Config{
		SampleLatents: noopSampler,
		Optimize:      noopOptimize,
		FinalNum:      2,
	}, nil)

	images := tensor.MustFromSlice([]float32{1, 2, 3}, 3, 1, 1, 1)
	labels := tensor.Labels{0, 0, 1}

	outImages, outLabels, err := a.FinalSelection(2, 3, images, labels, valueScore)
	require.NoError(t, err)
	assert.Equal(t, images.Data, outImages.Data)
	assert.Equal(t, labels, outLabels)
}

func TestFinalSelectionNoScoreFunc(t *testing.T) {
	a := newTestAttacker(t, Config{
		SampleLatents: noopSampler,
		Optimize:      noopOptimize,
		FinalNum:      1,
	}, nil)

	images := tensor.MustFromSlice([]float32{1, 2}, 2, 1, 1, 1)
	labels := tensor.Labels{0, 0}

	// finalNum differs but no score function: identity with a warning.
	outImages, _, err := a.FinalSelection(2, 1, images, labels, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, outImages.Len())
}

func TestFinalSelectionPerLabelTopK(t *testing.T) {
	a := newTestAttacker(t, Config{
		SampleLatents: noopSampler,
		Optimize:      noopOptimize,
		FinalNum:      1,
	}, nil)

	images := tensor.MustFromSlice([]float32{0.2, 0.8, 0.9, 0.1}, 4, 1, 1, 1)
	labels := tensor.Labels{4, 4, 9, 9}

	outImages, outLabels, err := a.FinalSelection(2, 1, images, labels, valueScore)
	require.NoError(t, err)

	assert.Equal(t, tensor.Labels{4, 9}, outLabels)
	assert.InDelta(t, 0.8, float64(outImages.Row(0)[0]), 1e-6)
	assert.InDelta(t, 0.9, float64(outImages.Row(1)[0]), 1e-6)
}

func TestFinalSelectionClampsUnevenLabels(t *testing.T) {
	a := newTestAttacker(t, Config{
		SampleLatents: noopSampler,
		Optimize:      noopOptimize,
		FinalNum:      2,
	}, nil)

	// Label 1 has only one candidate; requesting two keeps it all.
	images := tensor.MustFromSlice([]float32{0.3, 0.6, 0.5}, 3, 1, 1, 1)
	labels := tensor.Labels{0, 0, 1}

	_, outLabels, err := a.FinalSelection(2, 2, images, labels, valueScore)
	require.NoError(t, err)
	assert.Equal(t, tensor.Labels{0, 0, 1}, outLabels)
}

func TestBatchOptimizeAccumulates(t *testing.T) {
	a := newTestAttacker(t, Config{
		SampleLatents:     noopSampler,
		Optimize:          noopOptimize,
		FinalNum:          4,
		OptimizeBatchSize: 2,
	}, nil)

	latents := tensor.New(5, 2)
	labels := tensor.Labels{1, 1, 2, 2, 3}

	require.NoError(t, a.BatchOptimize(latents, labels))

	images, outLabels, err := a.concatOptimized()
	require.NoError(t, err)
	assert.Equal(t, 5, images.Len())
	assert.Equal(t, labels, outLabels)
	assert.Len(t, a.optimizedImages, 3, "one accumulator entry per chunk")
}

func TestAttackEndToEnd(t *testing.T) {
	saveDir := t.TempDir()

	// Latent value doubles as score and pixel value so every phase is
	// observable from the outside.
	raw := tensor.MustFromSlice([]float32{0.1, 0.9, 0.5, 0.3}, 4, 1)
	optimize := func(latents *tensor.Tensor, labels tensor.Labels) (*tensor.Tensor, tensor.Labels, error) {
		images := tensor.New(latents.Len(), 1, 1, 1)
		copy(images.Data, latents.Data)
		return images, labels.Clone(), nil
	}

	metric := &recordingMetric{}
	a := newTestAttacker(t, Config{
		SampleLatents:     fixedSampler(raw),
		InitialNum:        4,
		InitialScore:      valueScore,
		OptimizeNum:       2,
		OptimizeBatchSize: 2,
		Optimize:          optimize,
		FinalNum:          1,
		FinalScore:        valueScore,
		SaveDir:           saveDir,
		SaveFinalImages:   true,
		SaveNormalize:     true,
	}, []Metric{metric})

	require.NoError(t, a.Attack([]int{3, 7}, false))

	// Final evaluation sees one survivor per label, ascending labels.
	require.Len(t, metric.labels, 1)
	assert.Equal(t, tensor.Labels{3, 7}, metric.labels[0])

	for _, label := range []string{"3", "7"} {
		entries, err := os.ReadDir(filepath.Join(saveDir, "final_images", label))
		require.NoError(t, err)
		assert.Len(t, entries, 1, "one final image per label")
	}
}

func TestAttackEvalOptimized(t *testing.T) {
	raw := tensor.MustFromSlice([]float32{0.1, 0.9}, 2, 1)
	metric := &recordingMetric{}
	a := newTestAttacker(t, Config{
		SampleLatents: fixedSampler(raw),
		Optimize:      noopOptimize,
		FinalNum:      2,
	}, []Metric{metric})

	require.NoError(t, a.Attack([]int{0}, true))
	assert.Len(t, metric.labels, 2, "optimized and final evaluations both run")
}

func TestConcatLabeledOrdering(t *testing.T) {
	byLabel := map[int]*tensor.Tensor{
		9: tensor.MustFromSlice([]float32{91, 92}, 2, 1),
		2: tensor.MustFromSlice([]float32{21}, 1, 1),
		5: tensor.MustFromSlice([]float32{51}, 1, 1),
	}

	stacked, labels, err := concatLabeled(byLabel)
	require.NoError(t, err)

	assert.Equal(t, tensor.Labels{2, 5, 9, 9}, labels)
	assert.Equal(t, []float32{21, 51, 91, 92}, stacked.Data)
}
