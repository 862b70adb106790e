package loss

import (
	"math/rand"

	"github.com/deepsight-lab/mirage/internal/tensor"
)

// WithHorizontalFlip returns an augment producing the original batch plus
// its horizontal mirror.
func WithHorizontalFlip() AugmentFunc {
	return func(images *tensor.Tensor) []*tensor.Tensor {
		return []*tensor.Tensor{images, flipHorizontal(images)}
	}
}

// WithJitter returns an augment producing the original batch plus views
// with uniform pixel noise of the given strength.
func WithJitter(strength float32, views int, seed int64) AugmentFunc {
	rng := rand.New(rand.NewSource(seed))
	return func(images *tensor.Tensor) []*tensor.Tensor {
		out := []*tensor.Tensor{images}
		for v := 0; v < views; v++ {
			j := images.Clone()
			for i := range j.Data {
				j.Data[i] += (rng.Float32()*2 - 1) * strength
			}
			out = append(out, j)
		}
		return out
	}
}

func flipHorizontal(images *tensor.Tensor) *tensor.Tensor {
	if len(images.Shape) != 4 {
		return images.Clone()
	}
	n, c, h, w := images.Shape[0], images.Shape[1], images.Shape[2], images.Shape[3]
	out := tensor.New(images.Shape...)
	plane := h * w
	for i := 0; i < n; i++ {
		src := images.Row(i)
		dst := out.Row(i)
		for ch := 0; ch < c; ch++ {
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					dst[ch*plane+y*w+x] = src[ch*plane+y*w+(w-1-x)]
				}
			}
		}
	}
	return out
}
