package models

import "math"

// Rect is an axis-aligned rectangle. Locators store rects normalized to the
// page (0-1); the overlay emits rects in screen coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Right returns the x coordinate of the right edge
func (r Rect) Right() float64 { return r.X + r.Width }

// Bottom returns the y coordinate of the bottom edge
func (r Rect) Bottom() float64 { return r.Y + r.Height }

// Area returns the rectangle's area
func (r Rect) Area() float64 { return r.Width * r.Height }

// Empty reports whether the rect covers no area
func (r Rect) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

// Union returns the smallest rect containing both r and o
func (r Rect) Union(o Rect) Rect {
	x := math.Min(r.X, o.X)
	y := math.Min(r.Y, o.Y)
	return Rect{
		X:      x,
		Y:      y,
		Width:  math.Max(r.Right(), o.Right()) - x,
		Height: math.Max(r.Bottom(), o.Bottom()) - y,
	}
}

// Intersects reports whether r and o share a region of positive area
func (r Rect) Intersects(o Rect) bool {
	return r.X < o.Right() && o.X < r.Right() && r.Y < o.Bottom() && o.Y < r.Bottom()
}

// Contains reports whether the point lies within r, edges included
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x <= r.Right() && y >= r.Y && y <= r.Bottom()
}

// Normalized reports whether r lies within the unit square
func (r Rect) Normalized() bool {
	const eps = 1e-9
	return r.X >= -eps && r.Y >= -eps && r.Width >= 0 && r.Height >= 0 &&
		r.Right() <= 1+eps && r.Bottom() <= 1+eps
}

// Point is a screen coordinate used to anchor the classification toolbar
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// UnionAll folds rects into their bounding box. It returns the zero rect
// for an empty slice.
func UnionAll(rects []Rect) Rect {
	if len(rects) == 0 {
		return Rect{}
	}
	out := rects[0]
	for _, r := range rects[1:] {
		out = out.Union(r)
	}
	return out
}
