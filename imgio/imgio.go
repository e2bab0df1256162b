// Package imgio converts between image files and model tensors.
package imgio

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/tiff"
	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"github.com/sugarme/gotch"
	ts "github.com/sugarme/gotch/tensor"
	"golang.org/x/image/draw"
)

// Read decodes a png, jpeg or tiff file. EXIF orientation is applied to
// jpeg files.
func Read(filename string) (image.Image, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".png", ".jpg", ".jpeg":
		img, err := imaging.Open(filename, imaging.AutoOrientation(true))
		if err != nil {
			return nil, errors.Wrapf(err, "read image %q", filename)
		}
		return img, nil
	case ".tiff", ".tif":
		f, err := os.Open(filename)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		img, err := tiff.Decode(f)
		if err != nil {
			return nil, errors.Wrapf(err, "read image %q", filename)
		}
		return img, nil
	default:
		return nil, errors.Errorf("unsupported image format: %v", ext)
	}
}

// Save encodes img with the format given by the file extension.
func Save(img image.Image, filename string) error {
	return errors.Wrapf(imaging.Save(img, filename), "save image %q", filename)
}

// Pixels resizes img to h x w and returns its RGB values in CHW order,
// scaled 0..255. Alpha is dropped.
func Pixels(img image.Image, h, w int) []float32 {
	rgba := imaging.Resize(img, w, h, imaging.Linear)
	plane := h * w
	out := make([]float32, 3*plane)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := rgba.NRGBAAt(x, y)
			i := y*w + x
			out[i] = float32(c.R)
			out[plane+i] = float32(c.G)
			out[2*plane+i] = float32(c.B)
		}
	}
	return out
}

// ToTensor returns img as a [1, 3, h, w] float tensor on device.
func ToTensor(img image.Image, h, w int, device gotch.Device) *ts.Tensor {
	x := ts.MustOfSlice(Pixels(img, h, w)).MustView([]int64{1, 3, int64(h), int64(w)}, true)
	return x.MustTo(device, true)
}

// Labels picks the highest scoring class per pixel from [1, classes, h, w]
// logits flattened in row-major order.
func Labels(logits []float64, classes, h, w int) ([]int, error) {
	plane := h * w
	if classes <= 0 || len(logits) != classes*plane {
		return nil, errors.Errorf("logits: got %d values, want %d classes of %dx%d", len(logits), classes, h, w)
	}
	labels := make([]int, plane)
	for i := 0; i < plane; i++ {
		best := logits[i]
		for c := 1; c < classes; c++ {
			if v := logits[c*plane+i]; v > best {
				best = v
				labels[i] = c
			}
		}
	}
	return labels, nil
}

// TensorLabels copies logits to the host and applies Labels.
func TensorLabels(logits *ts.Tensor) ([]int, error) {
	size := logits.MustSize()
	if len(size) != 4 || size[0] != 1 {
		return nil, errors.Errorf("logits: expected [1, classes, h, w], got %v", size)
	}
	host := logits.MustTo(gotch.CPU, false).MustTotype(gotch.Double, true)
	values := host.Float64Values()
	host.MustDrop()
	return Labels(values, int(size[1]), int(size[2]), int(size[3]))
}

// Palette returns a fixed, distinguishable color per class. Class 0 is
// black.
func Palette(classes int) color.Palette {
	p := make(color.Palette, classes)
	for i := range p {
		// spread classes over the RGB cube with coprime strides
		p[i] = color.RGBA{
			R: uint8(i * 97 % 256),
			G: uint8(i * 57 % 256),
			B: uint8(i * 151 % 256),
			A: 255,
		}
	}
	return p
}

// MaskImage paints labels (row-major h x w) with Palette(classes).
func MaskImage(labels []int, h, w, classes int) (*image.Paletted, error) {
	if len(labels) != h*w {
		return nil, errors.Errorf("mask: got %d labels for %dx%d", len(labels), h, w)
	}
	if classes <= 0 || classes > 256 {
		return nil, errors.Errorf("mask: %d classes do not fit a palette", classes)
	}
	img := image.NewPaletted(image.Rect(0, 0, w, h), Palette(classes))
	for i, l := range labels {
		if l < 0 || l >= classes {
			return nil, errors.Errorf("mask: label %d out of range [0, %d)", l, classes)
		}
		img.Pix[i] = uint8(l)
	}
	return img, nil
}

// Upscale resizes a mask to w x h without mixing labels.
func Upscale(mask image.Image, w, h int) image.Image {
	return resize.Resize(uint(w), uint(h), mask, resize.NearestNeighbor)
}

// Overlay blends mask over base with the given opacity (0..255). Both are
// aligned at their top left corners; the result has the size of base.
func Overlay(base, mask image.Image, opacity uint8) *image.NRGBA {
	bounds := base.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), base, bounds.Min, draw.Src)
	alpha := image.NewUniform(color.Alpha{A: opacity})
	draw.DrawMask(dst, dst.Bounds(), mask, mask.Bounds().Min, alpha, image.Point{}, draw.Over)
	return dst
}
