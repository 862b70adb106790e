// Package gan trains the conditional generator and discriminator pair
// used as the image prior for inversion, guided by a pseudo-labelled
// public dataset.
package gan

import (
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/deepsight-lab/mirage/internal/tensor"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
}

// WalkImages collects every image file under root, sorted by path.
func WalkImages(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if imageExtensions[strings.ToLower(filepath.Ext(path))] {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// Dataset is a lazily loaded image-folder dataset. Each direct
// subdirectory of the root holds one class, named by its integer label.
type Dataset struct {
	Paths      []string
	Labels     tensor.Labels
	numClasses int
}

// LoadImageFolder indexes root's class subdirectories without reading any
// pixels. Images load on demand through LoadBatch.
func LoadImageFolder(root string) (*Dataset, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset root: %w", err)
	}

	d := &Dataset{}
	maxLabel := -1
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		label, err := strconv.Atoi(entry.Name())
		if err != nil {
			return nil, fmt.Errorf("class directory %q is not an integer label", entry.Name())
		}
		classPaths, err := WalkImages(filepath.Join(root, entry.Name()))
		if err != nil {
			return nil, err
		}
		for _, p := range classPaths {
			d.Paths = append(d.Paths, p)
			d.Labels = append(d.Labels, label)
		}
		if label > maxLabel {
			maxLabel = label
		}
	}
	if len(d.Paths) == 0 {
		return nil, fmt.Errorf("no images found under %s", root)
	}
	d.numClasses = maxLabel + 1
	return d, nil
}

func (d *Dataset) Len() int        { return len(d.Paths) }
func (d *Dataset) NumClasses() int { return d.numClasses }

// Batches returns shuffled index chunks of at most batchSize entries.
func (d *Dataset) Batches(batchSize int, rng *rand.Rand) [][]int {
	indices := rng.Perm(d.Len())
	var batches [][]int
	for start := 0; start < len(indices); start += batchSize {
		end := start + batchSize
		if end > len(indices) {
			end = len(indices)
		}
		batches = append(batches, indices[start:end])
	}
	return batches
}

// LoadBatch reads the indexed images into one stacked tensor. All images
// in a dataset must share the same dimensions.
func (d *Dataset) LoadBatch(indices []int) (*tensor.Tensor, tensor.Labels, error) {
	images := make([]*tensor.Tensor, 0, len(indices))
	labels := make(tensor.Labels, 0, len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= d.Len() {
			return nil, nil, fmt.Errorf("index %d out of range [0, %d)", idx, d.Len())
		}
		img, err := tensor.LoadImage(d.Paths[idx])
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load %s: %w", d.Paths[idx], err)
		}
		images = append(images, img)
		labels = append(labels, d.Labels[idx])
	}
	stacked, err := tensor.Concat(images...)
	if err != nil {
		return nil, nil, fmt.Errorf("dataset images disagree on dimensions: %w", err)
	}
	return stacked, labels, nil
}
