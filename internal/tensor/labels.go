package tensor

import "slices"

// Labels is a batch-aligned sequence of class labels.
type Labels []int

// Len returns the number of labels.
func (l Labels) Len() int { return len(l) }

// Narrow returns the sub-sequence [start, end). Shares storage.
func (l Labels) Narrow(start, end int) Labels { return l[start:end] }

// Clone returns a copy.
func (l Labels) Clone() Labels { return slices.Clone(l) }

// Distinct returns the distinct labels in ascending order.
func (l Labels) Distinct() []int {
	seen := map[int]struct{}{}
	var out []int
	for _, v := range l {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return out
}

// Where returns the indices at which the label equals target.
func (l Labels) Where(target int) []int {
	var idx []int
	for i, v := range l {
		if v == target {
			idx = append(idx, i)
		}
	}
	return idx
}

// Filled returns n copies of label.
func Filled(label, n int) Labels {
	out := make(Labels, n)
	for i := range out {
		out[i] = label
	}
	return out
}
