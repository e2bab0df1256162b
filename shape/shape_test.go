package shape_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sugarme/bisenet/shape"
)

func TestShapeString(t *testing.T) {
	assert.Equal(t, "(None, 224, 224, 3)", shape.New(224, 224, 3).String())

	s := shape.New(7, 7, 2048)
	s.Batch = 2
	assert.Equal(t, "(2, 7, 7, 2048)", s.String())
}

func TestShapeLayouts(t *testing.T) {
	s := shape.Shape{Batch: 4, Height: 28, Width: 30, Channels: 156}
	assert.Equal(t, []int64{4, 28, 30, 156}, s.NHWC())
	assert.Equal(t, []int64{4, 156, 28, 30}, s.NCHW())

	back, err := shape.FromNCHW(s.NCHW())
	require.NoError(t, err)
	assert.True(t, back.Equal(s))

	_, err = shape.FromNCHW([]int64{1, 2, 3})
	var cfgErr *shape.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestShapeMatches(t *testing.T) {
	declared := shape.New(224, 224, 3)
	concrete := shape.Shape{Batch: 8, Height: 224, Width: 224, Channels: 3}
	assert.True(t, declared.Matches(concrete))
	assert.False(t, declared.Matches(concrete.WithChannels(1)))
	assert.False(t, concrete.Matches(shape.Shape{Batch: 1, Height: 224, Width: 224, Channels: 3}))
}

func TestShapeValid(t *testing.T) {
	assert.True(t, shape.New(1, 1, 1).Valid())
	assert.False(t, shape.New(0, 1, 1).Valid())
	assert.False(t, shape.Shape{Batch: 0, Height: 1, Width: 1, Channels: 1}.Valid())
}

func TestErrorsUnwrapWithAs(t *testing.T) {
	err := shape.Mismatch("add", "", shape.New(1, 1, 8), shape.New(14, 14, 8))
	var mm *shape.ShapeMismatchError
	require.True(t, errors.As(err, &mm))
	assert.Equal(t, "add", mm.Op)
	assert.Contains(t, err.Error(), "(None, 1, 1, 8) vs (None, 14, 14, 8)")

	assert.NoError(t, shape.Positive("filters", 3))
	var cfgErr *shape.ConfigurationError
	assert.True(t, errors.As(shape.Positive("filters", 0), &cfgErr))
}
