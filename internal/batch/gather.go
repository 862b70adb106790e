package batch

import (
	"fmt"

	"github.com/deepsight-lab/mirage/internal/tensor"
)

// gather reassembles per-chunk results into one aggregate matching the
// structure of a single chunk's result.
func gather(results []any) (any, error) {
	if len(results) == 0 {
		return nil, nil
	}

	switch first := results[0].(type) {
	case nil:
		for _, r := range results[1:] {
			if r != nil {
				return nil, fmt.Errorf("batch: mixed nil and non-nil chunk results")
			}
		}
		return nil, nil

	case *tensor.Tensor:
		ts := make([]*tensor.Tensor, len(results))
		for i, r := range results {
			t, ok := r.(*tensor.Tensor)
			if !ok {
				return nil, fmt.Errorf("batch: chunk %d result is %T, expected tensor", i, r)
			}
			ts[i] = t
		}
		return tensor.Concat(ts...)

	case tensor.Labels:
		var out tensor.Labels
		for i, r := range results {
			l, ok := r.(tensor.Labels)
			if !ok {
				return nil, fmt.Errorf("batch: chunk %d result is %T, expected labels", i, r)
			}
			out = append(out, l...)
		}
		return out, nil

	case Pair:
		images := make([]any, len(results))
		labels := make([]any, len(results))
		for i, r := range results {
			p, ok := r.(Pair)
			if !ok {
				return nil, fmt.Errorf("batch: chunk %d result is %T, expected Pair", i, r)
			}
			images[i] = p.Images
			labels[i] = p.Labels
		}
		gi, err := gather(images)
		if err != nil {
			return nil, err
		}
		gl, err := gather(labels)
		if err != nil {
			return nil, err
		}
		return Pair{Images: gi.(*tensor.Tensor), Labels: gl.(tensor.Labels)}, nil

	case map[string]any:
		for i, r := range results {
			m, ok := r.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("batch: chunk %d result is %T, expected map", i, r)
			}
			if len(m) != len(first) {
				return nil, fmt.Errorf("batch: chunk results have differing key sets")
			}
		}
		out := make(map[string]any, len(first))
		for k := range first {
			vals := make([]any, len(results))
			for i, r := range results {
				v, ok := r.(map[string]any)[k]
				if !ok {
					return nil, fmt.Errorf("batch: chunk results have differing key sets")
				}
				vals[i] = v
			}
			g, err := gather(vals)
			if err != nil {
				return nil, err
			}
			out[k] = g
		}
		return out, nil
	}

	return nil, fmt.Errorf("batch: cannot reassemble chunk results of type %T", results[0])
}
