package tensor

import (
	"math"
	"slices"
	"testing"
)

func TestConcat(t *testing.T) {
	a := MustFromSlice([]float32{1, 2, 3, 4}, 2, 2)
	b := MustFromSlice([]float32{5, 6}, 1, 2)

	out, err := Concat(a, b)
	if err != nil {
		t.Fatalf("Concat failed: %v", err)
	}
	if !slices.Equal(out.Shape, []int{3, 2}) {
		t.Errorf("Expected shape [3 2], got %v", out.Shape)
	}
	if !slices.Equal(out.Data, []float32{1, 2, 3, 4, 5, 6}) {
		t.Errorf("Unexpected data: %v", out.Data)
	}
}

func TestConcatShapeMismatch(t *testing.T) {
	a := MustFromSlice([]float32{1, 2}, 1, 2)
	b := MustFromSlice([]float32{1, 2, 3}, 1, 3)

	if _, err := Concat(a, b); err == nil {
		t.Fatal("Expected shape mismatch error")
	}
}

func TestNarrowSharesStorage(t *testing.T) {
	a := MustFromSlice([]float32{1, 2, 3, 4, 5, 6}, 3, 2)
	v := a.Narrow(1, 3)

	if v.Len() != 2 {
		t.Fatalf("Expected batch size 2, got %d", v.Len())
	}
	v.Data[0] = 42
	if a.At(1, 0) != 42 {
		t.Error("Narrow should be a view into the parent tensor")
	}
}

func TestIndex(t *testing.T) {
	a := MustFromSlice([]float32{10, 20, 30, 40}, 4, 1)
	out := a.Index([]int{3, 1})

	if !slices.Equal(out.Data, []float32{40, 20}) {
		t.Errorf("Expected [40 20], got %v", out.Data)
	}
}

func TestTopK(t *testing.T) {
	scores := MustFromSlice([]float32{0.1, 0.9, 0.5, 0.7}, 4)

	idx, err := scores.TopK(2)
	if err != nil {
		t.Fatalf("TopK failed: %v", err)
	}
	if !slices.Equal(idx, []int{1, 3}) {
		t.Errorf("Expected indices [1 3], got %v", idx)
	}
}

func TestTopKRange(t *testing.T) {
	scores := MustFromSlice([]float32{0.1, 0.9}, 2)
	if _, err := scores.TopK(3); err == nil {
		t.Fatal("Expected out-of-range error")
	}
}

func TestSoftmaxRowsSumToOne(t *testing.T) {
	logits := MustFromSlice([]float32{1, 2, 3, -1, 0, 1}, 2, 3)
	probs := logits.Softmax(1)

	for i := 0; i < 2; i++ {
		sum := 0.0
		for _, v := range probs.Row(i) {
			sum += float64(v)
		}
		if math.Abs(sum-1) > 1e-5 {
			t.Errorf("Row %d sums to %f, expected 1", i, sum)
		}
	}
	if probs.ArgmaxRows()[0] != 2 {
		t.Error("Softmax should preserve the argmax")
	}
}

func TestLogSumExpRows(t *testing.T) {
	logits := MustFromSlice([]float32{0, 0}, 1, 2)
	lse := logits.LogSumExpRows()

	want := math.Log(2)
	if math.Abs(float64(lse.Data[0])-want) > 1e-6 {
		t.Errorf("Expected %f, got %f", want, lse.Data[0])
	}
}

func TestLabelsDistinctAndWhere(t *testing.T) {
	l := Labels{7, 3, 7, 3, 5}

	if !slices.Equal(l.Distinct(), []int{3, 5, 7}) {
		t.Errorf("Unexpected distinct labels: %v", l.Distinct())
	}
	if !slices.Equal(l.Where(7), []int{0, 2}) {
		t.Errorf("Unexpected indices: %v", l.Where(7))
	}
}
