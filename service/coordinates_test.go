package service

import (
	"testing"

	"andromirror/models"

	"github.com/stretchr/testify/assert"
)

func TestCalculateVideoDisplayArea_WideContainerPortraitVideo(t *testing.T) {
	// 16:9 container, 9:16 video: containerAspect > videoAspect picks the height-fit branch
	area := CalculateVideoDisplayArea(800, 450, 1080, 1920)

	assert.InDelta(t, 450.0, area.Height, 1e-9)
	assert.InDelta(t, 253.125, area.Width, 1e-9)
	assert.InDelta(t, 273.4375, area.X, 1e-9)
	assert.InDelta(t, 0.0, area.Y, 1e-9)
	assert.InDelta(t, 253.125/1080, area.ScaleX, 1e-12)
	assert.InDelta(t, area.ScaleX, area.ScaleY, 1e-12)
}

func TestCalculateVideoDisplayArea_TallContainer(t *testing.T) {
	area := CalculateVideoDisplayArea(400, 1000, 1080, 1920)

	assert.InDelta(t, 400.0, area.Width, 1e-9)
	assert.InDelta(t, 400/(1080.0/1920.0), area.Height, 1e-9)
	assert.InDelta(t, 0.0, area.X, 1e-9)
	assert.InDelta(t, (1000-area.Height)/2, area.Y, 1e-9)
}

func TestCalculateVideoDisplayArea_ContainedAndAspectPreserved(t *testing.T) {
	sizes := [][4]float64{
		{800, 450, 1080, 1920},
		{1920, 1080, 1080, 1920},
		{1080, 1920, 1920, 1080},
		{500, 500, 1080, 2400},
		{1280, 720, 1280, 720},
		{333, 777, 720, 1600},
	}
	for _, s := range sizes {
		area := CalculateVideoDisplayArea(s[0], s[1], s[2], s[3])

		assert.GreaterOrEqual(t, area.X, -1e-9, "%v", s)
		assert.GreaterOrEqual(t, area.Y, -1e-9, "%v", s)
		assert.LessOrEqual(t, area.X+area.Width, s[0]+1e-9, "%v", s)
		assert.LessOrEqual(t, area.Y+area.Height, s[1]+1e-9, "%v", s)
		assert.InDelta(t, s[2]/s[3], area.Width/area.Height, 1e-9, "%v", s)
	}
}

func TestCalculateVideoDisplayArea_ZeroSizes(t *testing.T) {
	assert.Equal(t, models.VideoDisplayArea{}, CalculateVideoDisplayArea(0, 450, 1080, 1920))
	assert.Equal(t, models.VideoDisplayArea{}, CalculateVideoDisplayArea(800, 450, 0, 1920))
}

func TestConvertToRelativeCoordinates_InsideArea(t *testing.T) {
	container := models.Rect{Left: 10, Top: 20, Width: 800, Height: 450}
	area := CalculateVideoDisplayArea(800, 450, 1080, 1920)

	coords, ok := ConvertToRelativeCoordinates(10+400, 20+225, container, &area)
	assert.True(t, ok)
	assert.InDelta(t, 0.5, coords.X, 1e-9)
	assert.InDelta(t, 0.5, coords.Y, 1e-9)

	coords, ok = ConvertToRelativeCoordinates(10+area.X, 20, container, &area)
	assert.True(t, ok)
	assert.InDelta(t, 0.0, coords.X, 1e-9)
	assert.InDelta(t, 0.0, coords.Y, 1e-9)
}

func TestConvertToRelativeCoordinates_OutsideArea(t *testing.T) {
	container := models.Rect{Left: 10, Top: 20, Width: 800, Height: 450}
	area := CalculateVideoDisplayArea(800, 450, 1080, 1920)

	_, ok := ConvertToRelativeCoordinates(10+100, 20+225, container, &area)
	assert.False(t, ok, "point in the letterbox margin")

	_, ok = ConvertToRelativeCoordinates(10+400, 20+451, container, &area)
	assert.False(t, ok, "point below the container")
}

func TestConvertToRelativeCoordinates_NoAreaClamps(t *testing.T) {
	container := models.Rect{Left: 0, Top: 0, Width: 200, Height: 100}

	coords, ok := ConvertToRelativeCoordinates(-50, 150, container, nil)
	assert.True(t, ok)
	assert.Equal(t, 0.0, coords.X)
	assert.Equal(t, 1.0, coords.Y)

	coords, ok = ConvertToRelativeCoordinates(50, 25, container, nil)
	assert.True(t, ok)
	assert.InDelta(t, 0.25, coords.X, 1e-9)
	assert.InDelta(t, 0.25, coords.Y, 1e-9)

	_, ok = ConvertToRelativeCoordinates(50, 25, models.Rect{}, nil)
	assert.False(t, ok)
}
