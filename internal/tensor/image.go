package tensor

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	_ "image/jpeg"
)

// FromImage converts an image to a [1, 3, h, w] tensor with channel values
// in [0, 1].
func FromImage(img image.Image) *Tensor {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	t := New(1, 3, h, w)
	plane := h * w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			i := y*w + x
			t.Data[i] = float32(r) / 65535
			t.Data[plane+i] = float32(g) / 65535
			t.Data[2*plane+i] = float32(b) / 65535
		}
	}
	return t
}

// LoadImage decodes the image at path into a [1, 3, h, w] tensor.
func LoadImage(path string) (*Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return FromImage(img), nil
}

// ToImage renders one [c, h, w] batch entry as NRGBA. Grayscale (c=1) is
// replicated across channels. When normalize is set, values are rescaled
// from the entry's own min/max range to [0, 1] before quantization.
func (t *Tensor) ToImage(i int, normalize bool) (*image.NRGBA, error) {
	if len(t.Shape) != 4 {
		return nil, fmt.Errorf("tensor: ToImage expects [n, c, h, w], got shape %v", t.Shape)
	}
	c, h, w := t.Shape[1], t.Shape[2], t.Shape[3]
	if c != 1 && c != 3 {
		return nil, fmt.Errorf("tensor: ToImage supports 1 or 3 channels, got %d", c)
	}
	row := t.Row(i)

	lo, hi := float32(0), float32(1)
	if normalize {
		lo, hi = row[0], row[0]
		for _, v := range row {
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		if hi == lo {
			hi = lo + 1
		}
	}

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	plane := h * w
	sample := func(ch, idx int) uint8 {
		v := (row[ch*plane+idx] - lo) / (hi - lo)
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		return uint8(v*255 + 0.5)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := y*w + x
			off := img.PixOffset(x, y)
			if c == 1 {
				g := sample(0, idx)
				img.Pix[off+0] = g
				img.Pix[off+1] = g
				img.Pix[off+2] = g
			} else {
				img.Pix[off+0] = sample(0, idx)
				img.Pix[off+1] = sample(1, idx)
				img.Pix[off+2] = sample(2, idx)
			}
			img.Pix[off+3] = 255
		}
	}
	return img, nil
}

// SavePNG writes one batch entry as a PNG file, creating parent directories.
func (t *Tensor) SavePNG(path string, i int, normalize bool) error {
	img, err := t.ToImage(i, normalize)
	if err != nil {
		return err
	}
	return writePNG(path, img)
}

// SaveGrid writes all batch entries into one PNG arranged in rows of nrow
// images.
func (t *Tensor) SaveGrid(path string, nrow int, normalize bool) error {
	if len(t.Shape) != 4 {
		return fmt.Errorf("tensor: SaveGrid expects [n, c, h, w], got shape %v", t.Shape)
	}
	n, h, w := t.Shape[0], t.Shape[2], t.Shape[3]
	if nrow < 1 {
		nrow = 1
	}
	rows := (n + nrow - 1) / nrow
	grid := image.NewNRGBA(image.Rect(0, 0, nrow*w, rows*h))
	for i := 0; i < n; i++ {
		tile, err := t.ToImage(i, normalize)
		if err != nil {
			return err
		}
		ox, oy := (i%nrow)*w, (i/nrow)*h
		for y := 0; y < h; y++ {
			srcOff := tile.PixOffset(0, y)
			dstOff := grid.PixOffset(ox, oy+y)
			copy(grid.Pix[dstOff:dstOff+4*w], tile.Pix[srcOff:srcOff+4*w])
		}
	}
	return writePNG(path, grid)
}

func writePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create image directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("failed to encode png: %w", err)
	}
	return nil
}
