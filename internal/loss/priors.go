package loss

import (
	"fmt"

	"github.com/deepsight-lab/mirage/internal/report"
	"github.com/deepsight-lab/mirage/internal/tensor"
)

// PixelPrior regularizes raw pixel magnitude with L1 and L2 terms.
type PixelPrior struct {
	L1Weight float64
	L2Weight float64
}

// Forward returns l1Weight*mean|x| + l2Weight*||x||.
func (p *PixelPrior) Forward(images *tensor.Tensor, labels tensor.Labels) (float64, *report.Ordered, error) {
	l1 := images.AbsMean()
	l2 := images.Norm()
	loss := l1*p.L1Weight + l2*p.L2Weight

	diag := report.NewOrdered()
	diag.Set("l1 loss", l1)
	diag.Set("l2 loss", l2)
	diag.Set("loss", loss)
	return loss, diag, nil
}

// VariationPrior penalizes finite-difference neighbor gradients in four
// directions (horizontal, vertical and both diagonals), averaged,
// encouraging smooth reconstructions.
type VariationPrior struct {
	L1Weight float64
	L2Weight float64
}

// Forward computes the averaged directional difference penalties over a
// [n, c, h, w] batch.
func (p *VariationPrior) Forward(images *tensor.Tensor, labels tensor.Labels) (float64, *report.Ordered, error) {
	if len(images.Shape) != 4 {
		return 0, nil, fmt.Errorf("loss: variation prior expects [n, c, h, w], got shape %v", images.Shape)
	}

	// dx, dy offsets of the four neighbor kernels.
	offsets := [4][2]int{{1, 0}, {0, 1}, {-1, 1}, {1, 1}}

	l1 := 0.0
	l2 := 0.0
	for _, off := range offsets {
		d := directionalDiff(images, off[0], off[1])
		l1 += d.AbsMean()
		l2 += d.Norm()
	}
	l1 /= 4
	l2 /= 4
	loss := l1*p.L1Weight + l2*p.L2Weight

	diag := report.NewOrdered()
	diag.Set("l1 var loss", l1)
	diag.Set("l2 var loss", l2)
	diag.Set("loss", loss)
	return loss, diag, nil
}

// directionalDiff computes x[y, x] - x[y+dy, x+dx] over the valid region.
func directionalDiff(images *tensor.Tensor, dx, dy int) *tensor.Tensor {
	n, c, h, w := images.Shape[0], images.Shape[1], images.Shape[2], images.Shape[3]

	x0, x1 := 0, w
	if dx > 0 {
		x1 = w - dx
	} else if dx < 0 {
		x0 = -dx
	}
	y1 := h - dy

	outW, outH := x1-x0, y1
	out := tensor.New(n, c, outH, outW)

	plane := h * w
	outPlane := outH * outW
	for i := 0; i < n; i++ {
		src := images.Row(i)
		dst := out.Row(i)
		for ch := 0; ch < c; ch++ {
			for y := 0; y < outH; y++ {
				for x := 0; x < outW; x++ {
					a := src[ch*plane+y*w+(x0+x)]
					b := src[ch*plane+(y+dy)*w+(x0+x+dx)]
					dst[ch*outPlane+y*outW+x] = a - b
				}
			}
		}
	}
	return out
}
