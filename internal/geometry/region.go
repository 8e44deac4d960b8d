package geometry

import (
	"errors"
	"math"

	"face-studio/internal/domain"
)

// ErrMappingUnavailable is returned while the container has no size or
// the media intrinsic dimensions are not known yet. Callers must not
// render a selection box until a valid mapping exists.
var ErrMappingUnavailable = errors.New("region mapping unavailable")

// Point is a position in on-screen container coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is a width/height pair, used for both the container element and
// the native media dimensions.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rect is an on-screen rectangle in container coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// displayedRect computes the letterboxed rectangle the media occupies
// inside the container: aspect-preserving fit, centered on the axis
// with spare room.
func displayedRect(container Size, media Size) (offsetX, offsetY, width, height float64) {
	mediaAspect := media.Width / media.Height
	containerAspect := container.Width / container.Height

	if mediaAspect > containerAspect {
		width = container.Width
		height = container.Width / mediaAspect
		offsetY = (container.Height - height) / 2
	} else {
		height = container.Height
		width = container.Height * mediaAspect
		offsetX = (container.Width - width) / 2
	}
	return offsetX, offsetY, width, height
}

// ToMediaSpace maps a drag gesture given in container coordinates to a
// region in native media pixels. The corners are normalized so the
// result is always (min,min)-(max,max) and clamped to the media bounds.
// A zero-area result after clamping reports ok=false, meaning the drag
// selected nothing.
func ToMediaSpace(down, up Point, container Size, media Size) (domain.Region, bool, error) {
	if container.Width <= 0 || container.Height <= 0 || media.Width <= 0 || media.Height <= 0 {
		return domain.Region{}, false, ErrMappingUnavailable
	}

	offsetX, offsetY, dispW, _ := displayedRect(container, media)
	scale := media.Width / dispW

	toMedia := func(p Point) (float64, float64) {
		x := clamp(p.X, 0, container.Width)
		y := clamp(p.Y, 0, container.Height)
		mx := (x - offsetX) * scale
		my := (y - offsetY) * scale
		return clamp(mx, 0, media.Width), clamp(my, 0, media.Height)
	}

	x1, y1 := toMedia(down)
	x2, y2 := toMedia(up)

	region := domain.Region{
		X1: math.Min(x1, x2),
		Y1: math.Min(y1, y2),
		X2: math.Max(x1, x2),
		Y2: math.Max(y1, y2),
	}
	if region.Width() <= 0 || region.Height() <= 0 {
		return domain.Region{}, false, nil
	}
	return region, true, nil
}

// ToContainerSpace maps a persisted media-space region back to an
// on-screen rectangle inside the container, re-applying the letterbox
// offset. The inverse of ToMediaSpace.
func ToContainerSpace(region domain.Region, container Size, media Size) (Rect, error) {
	if container.Width <= 0 || container.Height <= 0 || media.Width <= 0 || media.Height <= 0 {
		return Rect{}, ErrMappingUnavailable
	}

	offsetX, offsetY, dispW, _ := displayedRect(container, media)
	scale := media.Width / dispW

	return Rect{
		X:      region.X1/scale + offsetX,
		Y:      region.Y1/scale + offsetY,
		Width:  region.Width() / scale,
		Height: region.Height() / scale,
	}, nil
}

// clamp bounds v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
