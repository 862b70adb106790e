package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Mean returns the mean over all elements.
func (t *Tensor) Mean() float64 {
	if len(t.Data) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range t.Data {
		sum += float64(v)
	}
	return sum / float64(len(t.Data))
}

// AbsMean returns the mean absolute value over all elements.
func (t *Tensor) AbsMean() float64 {
	if len(t.Data) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range t.Data {
		sum += math.Abs(float64(v))
	}
	return sum / float64(len(t.Data))
}

// Norm returns the Frobenius norm over all elements.
func (t *Tensor) Norm() float64 {
	f := make([]float64, len(t.Data))
	for i, v := range t.Data {
		f[i] = float64(v)
	}
	return floats.Norm(f, 2)
}

// Clamp returns a copy with every element clamped to [lo, hi].
func (t *Tensor) Clamp(lo, hi float32) *Tensor {
	out := t.Clone()
	for i, v := range out.Data {
		if v < lo {
			out.Data[i] = lo
		} else if v > hi {
			out.Data[i] = hi
		}
	}
	return out
}

// Softmax returns row-wise softmax of a 2-D tensor at the given temperature.
// Computed through log-sum-exp for stability.
func (t *Tensor) Softmax(temperature float64) *Tensor {
	out := New(t.Shape...)
	n, k := t.Len(), t.RowSize()
	row := make([]float64, k)
	for i := 0; i < n; i++ {
		src := t.Row(i)
		for j := 0; j < k; j++ {
			row[j] = float64(src[j]) / temperature
		}
		lse := floats.LogSumExp(row)
		dst := out.Row(i)
		for j := 0; j < k; j++ {
			dst[j] = float32(math.Exp(row[j] - lse))
		}
	}
	return out
}

// LogSumExpRows returns a 1-D tensor holding the log-sum-exp of each row.
func (t *Tensor) LogSumExpRows() *Tensor {
	n, k := t.Len(), t.RowSize()
	out := New(n)
	row := make([]float64, k)
	for i := 0; i < n; i++ {
		src := t.Row(i)
		for j := 0; j < k; j++ {
			row[j] = float64(src[j])
		}
		out.Data[i] = float32(floats.LogSumExp(row))
	}
	return out
}

// ArgmaxRows returns the index of the maximum element of each row.
func (t *Tensor) ArgmaxRows() []int {
	n, k := t.Len(), t.RowSize()
	out := make([]int, n)
	for i := 0; i < n; i++ {
		src := t.Row(i)
		best := 0
		for j := 1; j < k; j++ {
			if src[j] > src[best] {
				best = j
			}
		}
		out[i] = best
	}
	return out
}

// TopK returns the indices of the k largest elements of a 1-D tensor,
// ordered by descending value. The relative order of tied values is
// unspecified.
func (t *Tensor) TopK(k int) ([]int, error) {
	if len(t.Shape) != 1 {
		return nil, fmt.Errorf("tensor: TopK expects a 1-D score tensor, got shape %v", t.Shape)
	}
	if k < 0 || k > t.Len() {
		return nil, fmt.Errorf("tensor: TopK k=%d out of range for %d scores", k, t.Len())
	}
	vals := make([]float64, t.Len())
	for i, v := range t.Data {
		vals[i] = float64(v)
	}
	inds := make([]int, t.Len())
	floats.Argsort(vals, inds)

	out := make([]int, 0, k)
	for i := len(inds) - 1; i >= len(inds)-k; i-- {
		out = append(out, inds[i])
	}
	return out, nil
}
