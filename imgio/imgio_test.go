package imgio_test

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/chai2010/tiff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sugarme/bisenet/imgio"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestPixels(t *testing.T) {
	img := solid(4, 4, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	pix := imgio.Pixels(img, 2, 3)
	require.Len(t, pix, 3*2*3)
	assert.Equal(t, float32(10), pix[0])
	assert.Equal(t, float32(20), pix[6])
	assert.Equal(t, float32(30), pix[17])
}

func TestReadWrite(t *testing.T) {
	dir := t.TempDir()
	img := solid(5, 3, color.NRGBA{R: 200, G: 100, B: 50, A: 255})

	for _, name := range []string{"a.png", "a.jpg"} {
		path := filepath.Join(dir, name)
		require.NoError(t, imgio.Save(img, path))
		got, err := imgio.Read(path)
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 5, 3), got.Bounds())
	}

	path := filepath.Join(dir, "a.tif")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, tiff.Encode(f, img, nil))
	require.NoError(t, f.Close())
	got, err := imgio.Read(path)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 5, 3), got.Bounds())

	_, err = imgio.Read(filepath.Join(dir, "a.bmp"))
	assert.Error(t, err)
}

func TestLabels(t *testing.T) {
	// 2 classes over a 1x3 image
	logits := []float64{
		0.1, 0.9, 0.5,
		0.2, 0.1, 0.5,
	}
	labels, err := imgio.Labels(logits, 2, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0, 0}, labels)

	_, err = imgio.Labels(logits, 3, 1, 3)
	assert.Error(t, err)
}

func TestMaskImage(t *testing.T) {
	mask, err := imgio.MaskImage([]int{0, 1, 2, 1}, 2, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), mask.ColorIndexAt(0, 1))
	assert.Equal(t, imgio.Palette(3)[1], mask.At(1, 0))

	_, err = imgio.MaskImage([]int{0, 3}, 1, 2, 3)
	assert.Error(t, err)
	_, err = imgio.MaskImage([]int{0}, 2, 2, 3)
	assert.Error(t, err)
}

func TestUpscaleKeepsLabels(t *testing.T) {
	mask, err := imgio.MaskImage([]int{0, 1, 2, 1}, 2, 2, 3)
	require.NoError(t, err)
	up := imgio.Upscale(mask, 8, 8)
	assert.Equal(t, image.Rect(0, 0, 8, 8), up.Bounds())

	palette := imgio.Palette(3)
	want := map[image.Point]int{{0, 0}: 0, {7, 0}: 1, {0, 7}: 2, {7, 7}: 1}
	for p, label := range want {
		r, g, b, _ := up.At(p.X, p.Y).RGBA()
		wr, wg, wb, _ := palette[label].RGBA()
		assert.Equal(t, []uint32{wr, wg, wb}, []uint32{r, g, b}, "pixel %v", p)
	}
}

func TestOverlay(t *testing.T) {
	base := solid(2, 2, color.NRGBA{A: 255})
	mask := solid(2, 2, color.NRGBA{R: 255, A: 255})
	out := imgio.Overlay(base, mask, 255)
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, out.NRGBAAt(1, 1))

	out = imgio.Overlay(base, mask, 0)
	assert.Equal(t, color.NRGBA{A: 255}, out.NRGBAAt(1, 1))
}

func TestPalette(t *testing.T) {
	p := imgio.Palette(256)
	seen := make(map[color.Color]bool)
	for _, c := range p {
		assert.False(t, seen[c])
		seen[c] = true
	}
	assert.Equal(t, color.RGBA{A: 255}, p[0])
}
