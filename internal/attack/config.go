package attack

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/deepsight-lab/mirage/internal/tensor"
)

// ErrConfig marks fatal configuration errors detected at construction.
var ErrConfig = errors.New("invalid attack configuration")

// SampleLatentsFunc produces n latent vectors as an [n, d] tensor.
type SampleLatentsFunc func(n int) (*tensor.Tensor, error)

// OptimizeFunc refines a latent chunk into reconstructed images. The output
// batch may be smaller than the input (divergent samples dropped) as long
// as images and labels stay paired.
type OptimizeFunc func(latents *tensor.Tensor, labels tensor.Labels) (*tensor.Tensor, tensor.Labels, error)

// ScoreFunc ranks a candidate batch for its labels: a 1-D tensor aligned
// index-for-index with the batch, higher is better.
type ScoreFunc func(batch *tensor.Tensor, labels tensor.Labels) (*tensor.Tensor, error)

// defaultOptimizeBatchSize bounds per-chunk optimization when the caller
// does not set one.
const defaultOptimizeBatchSize = 5

// Config bundles everything one attack run needs. Validate and normalize
// it through New; the attacker treats it as immutable afterwards.
type Config struct {
	// SampleLatents draws candidate latents. Mandatory.
	SampleLatents SampleLatentsFunc

	// Initial selection.
	InitialNum             int
	InitialScore           ScoreFunc
	InitialSelectBatchSize int

	// Optimization.
	OptimizeNum       int
	OptimizeBatchSize int
	Optimize          OptimizeFunc // mandatory

	// Final selection.
	FinalNum             int // mandatory
	FinalScore           ScoreFunc
	FinalSelectBatchSize int

	// Persistence.
	SaveDir             string
	SaveOptimizedImages bool
	SaveFinalImages     bool
	SaveNormalize       bool
}

// normalize validates mandatory fields and repairs the count chain,
// warning on every correction.
func (c Config) normalize() (Config, error) {
	if (c.SaveOptimizedImages || c.SaveFinalImages) && c.SaveDir == "" {
		return c, fmt.Errorf("%w: image saving requested but SaveDir is not set", ErrConfig)
	}
	if c.SampleLatents == nil {
		return c, fmt.Errorf("%w: SampleLatents cannot be nil", ErrConfig)
	}
	if c.Optimize == nil {
		return c, fmt.Errorf("%w: Optimize cannot be nil", ErrConfig)
	}
	if c.FinalNum <= 0 {
		return c, fmt.Errorf("%w: FinalNum must be set", ErrConfig)
	}

	if c.OptimizeBatchSize <= 0 {
		c.OptimizeBatchSize = defaultOptimizeBatchSize
	}
	if c.InitialNum <= 0 {
		c.InitialNum = c.FinalNum
	}
	if c.OptimizeNum <= 0 {
		c.OptimizeNum = c.FinalNum
	}

	if c.FinalNum > c.OptimizeNum {
		slog.Warn("final number is larger than the optimize number, raising the latter",
			"final_num", c.FinalNum, "optimize_num", c.OptimizeNum)
		c.OptimizeNum = c.FinalNum
	}
	if c.OptimizeNum > c.InitialNum {
		slog.Warn("optimize number is larger than the initial number, raising the latter",
			"optimize_num", c.OptimizeNum, "initial_num", c.InitialNum)
		c.InitialNum = c.OptimizeNum
	}

	if c.InitialSelectBatchSize <= 0 {
		c.InitialSelectBatchSize = c.OptimizeBatchSize
	}
	if c.FinalSelectBatchSize <= 0 {
		c.FinalSelectBatchSize = c.OptimizeBatchSize
	}
	return c, nil
}
