package proximity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seesafe/seesafe-agent/pkg/types"
)

func TestDefaultRegionResolvesToReferenceWindow(t *testing.T) {
	r := DefaultConfig().Region.Resolve(256, 256)
	assert.Equal(t, types.GridRegion{X0: 64, Y0: 0, X1: 194, Y1: 190}, r)

	// generalizes to other grids
	r = DefaultConfig().Region.Resolve(128, 64)
	assert.Equal(t, types.GridRegion{X0: 32, Y0: 0, X1: 97, Y1: 47}, r)
}

func TestAllZeroGridIsNotNearby(t *testing.T) {
	e := NewEvaluator(DefaultConfig())
	near, err := e.Evaluate(types.NewDepthGrid(256, 256, 0))
	require.NoError(t, err)
	assert.False(t, near)
}

func TestUniformGridIsNearby(t *testing.T) {
	// every cell equals max, and max > 0.7*max
	e := NewEvaluator(DefaultConfig())
	near, err := e.Evaluate(types.NewDepthGrid(256, 256, 10))
	require.NoError(t, err)
	assert.True(t, near)
}

func TestPeakOutsideRegionIsIgnored(t *testing.T) {
	depth := types.NewDepthGrid(256, 256, 50)
	depth.Data[255*256+0] = 1000 // bottom-left corner, outside the window

	e := NewEvaluator(DefaultConfig())
	near, err := e.Evaluate(depth)
	require.NoError(t, err)
	assert.False(t, near, "50 is below 0.7*1000")

	depth.Data[100*256+128] = 800 // inside
	near, err = e.Evaluate(depth)
	require.NoError(t, err)
	assert.True(t, near)
}

func TestFactorIsConfigurable(t *testing.T) {
	depth := types.NewDepthGrid(10, 10, 65)
	depth.Data[0] = 100 // max, outside a region starting at column 5

	region := types.GridRegion{X0: 5, Y0: 0, X1: 10, Y1: 10}

	near, err := NewEvaluator(Config{Factor: 0.7}).IsNearbyObject(depth, region)
	require.NoError(t, err)
	assert.False(t, near)

	near, err = NewEvaluator(Config{Factor: 0.6}).IsNearbyObject(depth, region)
	require.NoError(t, err)
	assert.True(t, near)
}

func TestRegionIsClamped(t *testing.T) {
	depth := types.NewDepthGrid(4, 4, 0)
	depth.Data[3*4+3] = 5
	near, err := NewEvaluator(Config{Factor: 0.5}).IsNearbyObject(depth, types.GridRegion{X0: 2, Y0: 2, X1: 99, Y1: 99})
	require.NoError(t, err)
	assert.True(t, near)
}

func TestEmptyRegionIsInvalid(t *testing.T) {
	e := NewEvaluator(DefaultConfig())
	depth := types.NewDepthGrid(8, 8, 1)

	for _, r := range []types.GridRegion{
		{X0: 4, Y0: 0, X1: 4, Y1: 8},
		{X0: 0, Y0: 6, X1: 8, Y1: 2},
		{X0: 20, Y0: 0, X1: 30, Y1: 8},
		{X0: -5, Y0: -5, X1: -1, Y1: -1},
	} {
		_, err := e.IsNearbyObject(depth, r)
		assert.ErrorIs(t, err, types.ErrInvalidInput, "%+v", r)
	}
}

func TestInvalidGrid(t *testing.T) {
	_, err := NewEvaluator(DefaultConfig()).Evaluate(types.DepthGrid{})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}
