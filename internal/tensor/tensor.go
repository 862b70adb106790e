package tensor

import (
	"fmt"
	"slices"
)

// Tensor is a dense row-major float32 array. The first dimension is the
// batch dimension: a batch of images is [n, c, h, w], a batch of latents
// [n, d], a batch of logits [n, k], a score vector [n].
type Tensor struct {
	Data  []float32
	Shape []int
}

// New creates a zero-filled tensor with the given shape.
func New(shape ...int) *Tensor {
	return &Tensor{
		Data:  make([]float32, numel(shape)),
		Shape: slices.Clone(shape),
	}
}

// FromSlice wraps data in a tensor of the given shape.
func FromSlice(data []float32, shape ...int) (*Tensor, error) {
	if len(data) != numel(shape) {
		return nil, fmt.Errorf("tensor: data length %d does not match shape %v", len(data), shape)
	}
	return &Tensor{Data: data, Shape: slices.Clone(shape)}, nil
}

// MustFromSlice is FromSlice for statically known shapes.
func MustFromSlice(data []float32, shape ...int) *Tensor {
	t, err := FromSlice(data, shape...)
	if err != nil {
		panic(err)
	}
	return t
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Len returns the size of the batch dimension.
func (t *Tensor) Len() int {
	if len(t.Shape) == 0 {
		return 0
	}
	return t.Shape[0]
}

// Numel returns the total number of elements.
func (t *Tensor) Numel() int {
	return numel(t.Shape)
}

// RowSize returns the number of elements per batch entry.
func (t *Tensor) RowSize() int {
	if t.Len() == 0 {
		return 0
	}
	return t.Numel() / t.Len()
}

// Row returns the i-th batch entry as a flat view into the tensor's data.
func (t *Tensor) Row(i int) []float32 {
	rs := t.RowSize()
	return t.Data[i*rs : (i+1)*rs]
}

// At returns element (i, j) of a 2-D tensor; for a 1-D tensor use j on row 0.
func (t *Tensor) At(i, j int) float32 {
	return t.Data[i*t.RowSize()+j]
}

// Item returns the sole element of a one-element tensor.
func (t *Tensor) Item() (float32, error) {
	if len(t.Data) != 1 {
		return 0, fmt.Errorf("tensor: Item on tensor with %d elements", len(t.Data))
	}
	return t.Data[0], nil
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{Data: slices.Clone(t.Data), Shape: slices.Clone(t.Shape)}
}

// Narrow returns a view of batch entries [start, end). The returned tensor
// shares storage with the receiver.
func (t *Tensor) Narrow(start, end int) *Tensor {
	rs := t.RowSize()
	shape := slices.Clone(t.Shape)
	shape[0] = end - start
	return &Tensor{Data: t.Data[start*rs : end*rs], Shape: shape}
}

// Index gathers the given batch entries into a new tensor.
func (t *Tensor) Index(rows []int) *Tensor {
	rs := t.RowSize()
	shape := slices.Clone(t.Shape)
	shape[0] = len(rows)
	out := &Tensor{Data: make([]float32, len(rows)*rs), Shape: shape}
	for i, r := range rows {
		copy(out.Data[i*rs:(i+1)*rs], t.Row(r))
	}
	return out
}

// Concat concatenates tensors along the batch dimension. All inputs must
// agree on every non-batch dimension.
func Concat(ts ...*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("tensor: Concat of zero tensors")
	}
	first := ts[0]
	total := 0
	for _, t := range ts {
		if len(t.Shape) != len(first.Shape) || !slices.Equal(t.Shape[1:], first.Shape[1:]) {
			return nil, fmt.Errorf("tensor: Concat shape mismatch: %v vs %v", first.Shape, t.Shape)
		}
		total += t.Len()
	}
	shape := slices.Clone(first.Shape)
	shape[0] = total
	out := &Tensor{Data: make([]float32, 0, total*first.RowSize()), Shape: shape}
	for _, t := range ts {
		out.Data = append(out.Data, t.Data...)
	}
	return out, nil
}
