// Package batch runs a function over large batch-aligned inputs in
// fixed-size sequential chunks and reassembles the per-chunk results into
// one aggregate, bounding peak memory during scoring and optimization.
package batch

import (
	"fmt"
	"log/slog"

	"github.com/deepsight-lab/mirage/internal/report"
	"github.com/deepsight-lab/mirage/internal/tensor"
)

// Sliceable is implemented by custom chunkable inputs. Tensors and label
// sequences are handled natively.
type Sliceable interface {
	Len() int
	Narrow(start, end int) any
}

// Func processes one chunk. It receives a slice of every input, restricted
// to the chunk's index range, in the order the inputs were passed to Apply.
type Func func(chunks ...any) (any, error)

// Pair is a record-like result: an image batch with its parallel labels.
// Apply reassembles it field by field.
type Pair struct {
	Images *tensor.Tensor
	Labels tensor.Labels
}

// Options controls progress reporting.
type Options struct {
	// Description, when set, prints a "{description}: {i} / {N}" split line
	// before each chunk.
	Description string
	// Progress, when set, additionally logs per-chunk progress.
	Progress bool
}

// Apply partitions the inputs into contiguous chunks of at most batchSize
// entries, calls fn once per chunk, and reassembles the per-chunk results:
// tensors are concatenated along the batch axis, label sequences appended,
// maps reassembled key by key (all chunks must produce the same key set),
// Pair results field by field, nil stays nil.
//
// All inputs must report the same length. Processing is strictly
// sequential; the first chunk error aborts the whole call.
func Apply(fn Func, batchSize int, opts Options, inputs ...any) (any, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("batch: batch size must be >= 1, got %d", batchSize)
	}
	total, err := checkLengths(inputs)
	if err != nil {
		return nil, err
	}

	iters := (total + batchSize - 1) / batchSize
	var results []any

	for i, start := 0, 0; start < total; i, start = i+1, start+batchSize {
		end := min(total, start+batchSize)

		if opts.Description != "" {
			report.PrintSplit(fmt.Sprintf("%s: %d / %d", opts.Description, i+1, iters))
		}
		if opts.Progress {
			slog.Info("processing chunk", "chunk", i+1, "total", iters, "start", start, "end", end)
		}

		chunks := make([]any, len(inputs))
		for j, inp := range inputs {
			chunks[j] = narrow(inp, start, end)
		}
		res, err := fn(chunks...)
		if err != nil {
			return nil, fmt.Errorf("batch: chunk %d/%d failed: %w", i+1, iters, err)
		}
		results = append(results, res)
	}

	return gather(results)
}

func checkLengths(inputs []any) (int, error) {
	if len(inputs) == 0 {
		return 0, fmt.Errorf("batch: at least one input is required")
	}
	lens := make([]int, len(inputs))
	for i, inp := range inputs {
		n, err := length(inp)
		if err != nil {
			return 0, err
		}
		lens[i] = n
	}
	for _, n := range lens[1:] {
		if n != lens[0] {
			return 0, fmt.Errorf("batch: input lengths differ: %v", lens)
		}
	}
	return lens[0], nil
}

func length(input any) (int, error) {
	switch v := input.(type) {
	case *tensor.Tensor:
		return v.Len(), nil
	case tensor.Labels:
		return v.Len(), nil
	case Sliceable:
		return v.Len(), nil
	}
	return 0, fmt.Errorf("batch: input of type %T has no length", input)
}

func narrow(input any, start, end int) any {
	switch v := input.(type) {
	case *tensor.Tensor:
		return v.Narrow(start, end)
	case tensor.Labels:
		return v.Narrow(start, end)
	case Sliceable:
		return v.Narrow(start, end)
	}
	// checkLengths already rejected unknown types.
	return nil
}
