package render

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

func fill(dst *image.NRGBA, r image.Rectangle, c color.NRGBA) {
	draw.Draw(dst, r, image.NewUniform(c), image.Point{}, draw.Src)
}

// roundedRect fills r with its corners cut to radius.
func roundedRect(dst *image.NRGBA, r image.Rectangle, radius int, c color.NRGBA) {
	r = r.Intersect(dst.Bounds())
	if r.Empty() {
		return
	}
	radius = min(radius, r.Dx()/2, r.Dy()/2)
	if radius <= 0 {
		fill(dst, r, c)
		return
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if insideRounded(x, y, r, radius) {
				dst.SetNRGBA(x, y, c)
			}
		}
	}
}

func insideRounded(x, y int, r image.Rectangle, radius int) bool {
	cx, cy := x, y
	switch {
	case x < r.Min.X+radius:
		cx = r.Min.X + radius
	case x >= r.Max.X-radius:
		cx = r.Max.X - radius - 1
	}
	switch {
	case y < r.Min.Y+radius:
		cy = r.Min.Y + radius
	case y >= r.Max.Y-radius:
		cy = r.Max.Y - radius - 1
	}
	dx, dy := x-cx, y-cy
	return dx*dx+dy*dy <= radius*radius
}

// box draws a filled rounded rectangle with a one pixel border.
func box(dst *image.NRGBA, r image.Rectangle, radius int, border, inner color.NRGBA) {
	roundedRect(dst, r, radius, border)
	roundedRect(dst, r.Inset(1), max(radius-1, 0), inner)
}

// disc fills the circle of the given radius around center.
func disc(dst *image.NRGBA, center image.Point, radius int, c color.NRGBA) {
	r := image.Rect(center.X-radius, center.Y-radius, center.X+radius+1, center.Y+radius+1).Intersect(dst.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			dx, dy := x-center.X, y-center.Y
			if dx*dx+dy*dy <= radius*radius {
				dst.SetNRGBA(x, y, c)
			}
		}
	}
}

// gradient fills r top to bottom from top to bottom color.
func gradient(dst *image.NRGBA, r image.Rectangle, top, bottom color.NRGBA) {
	r = r.Intersect(dst.Bounds())
	h := r.Dy()
	for y := r.Min.Y; y < r.Max.Y; y++ {
		t := 0.0
		if h > 1 {
			t = float64(y-r.Min.Y) / float64(h-1)
		}
		fill(dst, image.Rect(r.Min.X, y, r.Max.X, y+1), lerp(top, bottom, t))
	}
}

func lerp(a, b color.NRGBA, t float64) color.NRGBA {
	mix := func(x, y uint8) uint8 {
		return uint8(float64(x) + (float64(y)-float64(x))*t + 0.5)
	}
	return color.NRGBA{R: mix(a.R, b.R), G: mix(a.G, b.G), B: mix(a.B, b.B), A: mix(a.A, b.A)}
}

// check draws a tick inside r.
func check(dst *image.NRGBA, r image.Rectangle, c color.NRGBA) {
	w, h := r.Dx(), r.Dy()
	for i := range w / 3 {
		x := r.Min.X + w/5 + i
		y := r.Min.Y + h/2 + i
		fill(dst, image.Rect(x, y, x+2, y+2), c)
	}
	for i := range w / 2 {
		x := r.Min.X + w/5 + w/3 + i
		y := r.Min.Y + h/2 + w/3 - i - 1
		fill(dst, image.Rect(x, y, x+2, y+2), c)
	}
}
