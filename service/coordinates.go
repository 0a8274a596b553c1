package service

import (
	"math"

	"andromirror/models"
)

// CalculateVideoDisplayArea computes the aspect-preserving rectangle of a
// videoW x videoH frame centered inside a containerW x containerH element.
// A container relatively wider than the video is height-fit with equal
// horizontal margins, otherwise width-fit with equal vertical margins.
func CalculateVideoDisplayArea(containerW, containerH, videoW, videoH float64) models.VideoDisplayArea {
	if containerW <= 0 || containerH <= 0 || videoW <= 0 || videoH <= 0 {
		return models.VideoDisplayArea{}
	}

	containerAspect := containerW / containerH
	videoAspect := videoW / videoH

	var displayW, displayH, offsetX, offsetY float64
	if containerAspect > videoAspect {
		displayH = containerH
		displayW = containerH * videoAspect
		offsetX = (containerW - displayW) / 2
	} else {
		displayW = containerW
		displayH = containerW / videoAspect
		offsetY = (containerH - displayH) / 2
	}

	return models.VideoDisplayArea{
		X:      offsetX,
		Y:      offsetY,
		Width:  displayW,
		Height: displayH,
		ScaleX: displayW / videoW,
		ScaleY: displayH / videoH,
	}
}

// ConvertToRelativeCoordinates maps a viewport point to a [0,1]x[0,1]
// fraction of the video frame. Without an area the point is normalized
// against the whole container and clamped. With an area, a point outside
// the letterboxed rectangle returns ok=false.
func ConvertToRelativeCoordinates(clientX, clientY float64, container models.Rect, area *models.VideoDisplayArea) (models.RelativeCoordinates, bool) {
	localX := clientX - container.Left
	localY := clientY - container.Top

	if area == nil {
		if container.Width <= 0 || container.Height <= 0 {
			return models.RelativeCoordinates{}, false
		}
		return models.RelativeCoordinates{
			X: clamp01(localX / container.Width),
			Y: clamp01(localY / container.Height),
		}, true
	}

	if area.Width <= 0 || area.Height <= 0 {
		return models.RelativeCoordinates{}, false
	}

	if localX < area.X || localX > area.X+area.Width ||
		localY < area.Y || localY > area.Y+area.Height {
		return models.RelativeCoordinates{}, false
	}

	return models.RelativeCoordinates{
		X: clamp01((localX - area.X) / area.Width),
		Y: clamp01((localY - area.Y) / area.Height),
	}, true
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
