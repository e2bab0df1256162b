package base_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/sugarme/gotch"
	"github.com/sugarme/gotch/nn"
	ts "github.com/sugarme/gotch/tensor"

	"github.com/sugarme/bisenet/base"
)

func TestSeparableConv2d(t *testing.T) {
	vs := nn.NewVarStore(gotch.CPU)
	m := base.NewSeparableConv2d(vs.Root().Sub("sep"), 8, 16, 3, 1, 2, false)

	x := ts.MustRand([]int64{2, 8, 10, 10}, gotch.Float, gotch.CPU)
	y := m.ForwardT(x, false)
	assert.Equal(t, []int64{2, 16, 5, 5}, y.MustSize())
	assert.Equal(t, []int64{8, 1, 3, 3}, m.Depthwise.Ws.MustSize())
	assert.Equal(t, []int64{16, 8, 1, 1}, m.Pointwise.Ws.MustSize())

	x.MustDrop()
	y.MustDrop()
}

func TestNormalize(t *testing.T) {
	x := ts.MustOfSlice([]float32{0, 127.5, 255}).MustView([]int64{1, 1, 1, 3}, true)
	defer x.MustDrop()

	m := base.NewNormalize(1/127.5, -1, nil, nil)
	y := m.ForwardT(x, false)
	assert.InDeltaSlice(t, []float64{-1, 0, 1}, y.Float64Values(), 1e-6)
	y.MustDrop()

	rgb := ts.MustOfSlice([]float32{255, 0, 51}).MustView([]int64{1, 3, 1, 1}, true)
	defer rgb.MustDrop()
	m = base.NewNormalize(1.0/255, 0, []float64{0.5, 0.5, 0.5}, []float64{0.5, 0.25, 0.1})
	y = m.ForwardT(rgb, false)
	assert.InDeltaSlice(t, []float64{1, -2, -3}, y.Float64Values(), 1e-5)
	y.MustDrop()
}

func TestNormalizeKeepsDevice(t *testing.T) {
	devices := []gotch.Device{gotch.CPU}
	if gotch.CUDA.IsAvailable() {
		devices = append(devices, gotch.NewCuda())
	}
	m := base.NewNormalize(1.0/255, 0, []float64{0.5, 0.5, 0.5}, []float64{0.5, 0.25, 0.1})

	for _, device := range devices {
		t.Run(device.Name, func(t *testing.T) {
			cpu := ts.MustOfSlice([]float32{255, 0, 51}).MustView([]int64{1, 3, 1, 1}, true)
			x := cpu.MustTo(device, true)
			defer x.MustDrop()

			y := m.ForwardT(x, false)
			defer y.MustDrop()
			assert.Equal(t, device.IsCuda(), y.MustDevice().IsCuda())

			back := y.MustTo(gotch.CPU, false)
			defer back.MustDrop()
			assert.InDeltaSlice(t, []float64{1, -2, -3}, back.Float64Values(), 1e-5)
		})
	}
}

func TestIdentityKeepsGradient(t *testing.T) {
	x := ts.MustRand([]int64{2, 3}, gotch.Float, gotch.CPU).MustSetRequiresGrad(true, true)
	defer x.MustDrop()

	y := base.NewIdentity().ForwardT(x, true)
	defer y.MustDrop()
	assert.True(t, y.MustRequiresGrad())
}
