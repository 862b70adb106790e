package gan

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepsight-lab/mirage/internal/models"
	"github.com/deepsight-lab/mirage/internal/tensor"
)

// brightnessClassifier scores class 0 by mean brightness and class 1 by
// darkness, so selection order over test images is known.
type brightnessClassifier struct{}

func (c *brightnessClassifier) Predict(images *tensor.Tensor) (*tensor.Tensor, models.Aux, error) {
	logits := tensor.New(images.Len(), 2)
	for i := 0; i < images.Len(); i++ {
		mean := float32(0)
		for _, v := range images.Row(i) {
			mean += v
		}
		mean /= float32(images.RowSize())
		logits.Row(i)[0] = mean
		logits.Row(i)[1] = 1 - mean
	}
	return logits, nil, nil
}

func (c *brightnessClassifier) NumClasses() int { return 2 }

func writeConstImage(t *testing.T, path string, value float32) {
	t.Helper()
	img := tensor.New(1, 3, 2, 2)
	for i := range img.Data {
		img.Data[i] = value
	}
	require.NoError(t, img.SavePNG(path, 0, false))
}

func TestCheckTopNCachePurgesWrongCounts(t *testing.T) {
	cacheDir := t.TempDir()

	// Class 0 is complete, class 1 has the wrong count, class 2 is absent.
	writeConstImage(t, filepath.Join(cacheDir, "0", "a.png"), 1)
	writeConstImage(t, filepath.Join(cacheDir, "0", "b.png"), 0)
	writeConstImage(t, filepath.Join(cacheDir, "1", "a.png"), 1)

	complete, err := CheckTopNCache(cacheDir, 3, 2)
	require.NoError(t, err)
	assert.False(t, complete)

	_, err = os.Stat(filepath.Join(cacheDir, "0"))
	assert.NoError(t, err, "complete class directory must survive")
	_, err = os.Stat(filepath.Join(cacheDir, "1"))
	assert.True(t, os.IsNotExist(err), "wrong-count class directory must be purged")
}

func TestSelectTopN(t *testing.T) {
	srcDir := t.TempDir()
	cacheDir := t.TempDir()

	writeConstImage(t, filepath.Join(srcDir, "white.png"), 1)
	writeConstImage(t, filepath.Join(srcDir, "gray.png"), 0.5)
	writeConstImage(t, filepath.Join(srcDir, "black.png"), 0)

	require.NoError(t, SelectTopN(&brightnessClassifier{}, srcDir, cacheDir, 1, 2))

	class0, err := os.ReadDir(filepath.Join(cacheDir, "0"))
	require.NoError(t, err)
	require.Len(t, class0, 1)
	assert.Equal(t, "white.png", class0[0].Name())

	class1, err := os.ReadDir(filepath.Join(cacheDir, "1"))
	require.NoError(t, err)
	require.Len(t, class1, 1)
	assert.Equal(t, "black.png", class1[0].Name())

	// A second run reuses the complete cache without touching it.
	require.NoError(t, SelectTopN(&brightnessClassifier{}, srcDir, cacheDir, 1, 2))
}

func TestSelectTopNNeedsEnoughImages(t *testing.T) {
	srcDir := t.TempDir()
	writeConstImage(t, filepath.Join(srcDir, "only.png"), 1)

	err := SelectTopN(&brightnessClassifier{}, srcDir, t.TempDir(), 2, 2)
	assert.Error(t, err)
}

func TestLoadImageFolder(t *testing.T) {
	root := t.TempDir()
	writeConstImage(t, filepath.Join(root, "0", "a.png"), 1)
	writeConstImage(t, filepath.Join(root, "0", "b.png"), 0.5)
	writeConstImage(t, filepath.Join(root, "3", "c.png"), 0)

	dataset, err := LoadImageFolder(root)
	require.NoError(t, err)

	assert.Equal(t, 3, dataset.Len())
	assert.Equal(t, 4, dataset.NumClasses())

	images, labels, err := dataset.LoadBatch([]int{0, 2})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 2, 2}, images.Shape)
	assert.Equal(t, tensor.Labels{0, 3}, labels)

	_, _, err = dataset.LoadBatch([]int{99})
	assert.Error(t, err)
}

func TestLoadImageFolderRejectsNonNumericDirs(t *testing.T) {
	root := t.TempDir()
	writeConstImage(t, filepath.Join(root, "cats", "a.png"), 1)

	_, err := LoadImageFolder(root)
	assert.Error(t, err)
}

func TestDatasetBatchesPartition(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 5; i++ {
		writeConstImage(t, filepath.Join(root, "0", string(rune('a'+i))+".png"), 0.5)
	}
	dataset, err := LoadImageFolder(root)
	require.NoError(t, err)

	batches := dataset.Batches(2, rand.New(rand.NewSource(1)))
	require.Len(t, batches, 3)

	seen := map[int]bool{}
	for _, indices := range batches {
		for _, idx := range indices {
			assert.False(t, seen[idx], "index %d appears twice", idx)
			seen[idx] = true
		}
	}
	assert.Len(t, seen, 5)
}
