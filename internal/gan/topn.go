package gan

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/deepsight-lab/mirage/internal/batch"
	"github.com/deepsight-lab/mirage/internal/models"
	"github.com/deepsight-lab/mirage/internal/tensor"
)

// CheckTopNCache reports whether every class directory under cacheDir
// exists and holds exactly topN files. Directories with the wrong count
// are purged so the next selection rebuilds them.
func CheckTopNCache(cacheDir string, numClasses, topN int) (bool, error) {
	complete := true
	for label := 0; label < numClasses; label++ {
		dir := filepath.Join(cacheDir, fmt.Sprintf("%d", label))
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			complete = false
			continue
		}
		if err != nil {
			return false, fmt.Errorf("failed to inspect cache for label %d: %w", label, err)
		}
		if len(entries) != topN {
			if err := os.RemoveAll(dir); err != nil {
				return false, fmt.Errorf("failed to purge stale cache for label %d: %w", label, err)
			}
			complete = false
		}
	}
	return complete, nil
}

// SelectTopN scores every public image with the target classifier and
// copies, per class, the topN most confidently matching images into
// cacheDir/<label>/. A complete cache is reused as-is.
func SelectTopN(classifier models.Classifier, srcDir, cacheDir string, topN, batchSize int) error {
	numClasses := classifier.NumClasses()
	complete, err := CheckTopNCache(cacheDir, numClasses, topN)
	if err != nil {
		return err
	}
	if complete {
		slog.Info("reusing pseudo-label cache", "dir", cacheDir)
		return nil
	}

	slog.Info("starting top-n selection", "src", srcDir, "dst", cacheDir, "top_n", topN)
	paths, err := WalkImages(srcDir)
	if err != nil {
		return err
	}
	if len(paths) < topN {
		return fmt.Errorf("public dataset has %d images, need at least %d per class", len(paths), topN)
	}

	scores, err := scoreAll(classifier, paths, batchSize)
	if err != nil {
		return err
	}

	for label := 0; label < numClasses; label++ {
		dir := filepath.Join(cacheDir, fmt.Sprintf("%d", label))
		if _, err := os.Stat(dir); err == nil {
			continue // survived the cache check
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create cache directory: %w", err)
		}

		labelScores := tensor.New(len(paths))
		for i := 0; i < len(paths); i++ {
			labelScores.Data[i] = scores.At(i, label)
		}
		topk, err := labelScores.TopK(topN)
		if err != nil {
			return err
		}
		for _, idx := range topk {
			if err := copyFile(paths[idx], filepath.Join(dir, filepath.Base(paths[idx]))); err != nil {
				return fmt.Errorf("failed to cache image for label %d: %w", label, err)
			}
		}
	}
	return nil
}

// scoreAll loads and scores the public images chunk by chunk, returning a
// [images, classes] softmax score matrix.
func scoreAll(classifier models.Classifier, paths []string, batchSize int) (*tensor.Tensor, error) {
	fn := func(chunks ...any) (any, error) {
		chunkPaths := chunks[0].(pathSlice)
		images := make([]*tensor.Tensor, len(chunkPaths))
		for i, p := range chunkPaths {
			img, err := tensor.LoadImage(p)
			if err != nil {
				return nil, err
			}
			images[i] = img
		}
		stacked, err := tensor.Concat(images...)
		if err != nil {
			return nil, err
		}
		logits, _, err := classifier.Predict(stacked)
		if err != nil {
			return nil, err
		}
		return logits.Softmax(1), nil
	}

	opts := batch.Options{Description: "Top-N Scoring"}
	gathered, err := batch.Apply(fn, batchSize, opts, pathSlice(paths))
	if err != nil {
		return nil, fmt.Errorf("public image scoring failed: %w", err)
	}
	return gathered.(*tensor.Tensor), nil
}

// pathSlice adapts a path list to the batch runner's chunking contract.
type pathSlice []string

func (p pathSlice) Len() int                  { return len(p) }
func (p pathSlice) Narrow(start, end int) any { return p[start:end] }

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
