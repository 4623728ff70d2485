package media

// Rect is a pixel-space rectangle. X1 and Y1 are exclusive.
type Rect struct {
	X0, Y0, X1, Y1 int
}

// Width returns the rectangle width
func (r Rect) Width() int {
	return r.X1 - r.X0
}

// Height returns the rectangle height
func (r Rect) Height() int {
	return r.Y1 - r.Y0
}

// Empty reports whether the rectangle has no area
func (r Rect) Empty() bool {
	return r.Width() <= 0 || r.Height() <= 0
}

// Intersect returns the overlap of two rectangles
func (r Rect) Intersect(o Rect) Rect {
	out := Rect{
		X0: maxInt(r.X0, o.X0),
		Y0: maxInt(r.Y0, o.Y0),
		X1: minInt(r.X1, o.X1),
		Y1: minInt(r.Y1, o.Y1),
	}
	if out.Empty() {
		return Rect{}
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
