package render

import (
	"image"
	"image/color"
	"strconv"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	defaultFontSize = 10.0
	minFontSize     = 4.0
	maxFontSize     = 48.0
)

// Font is a parsed font description such as "Sans Bold 10".
type Font struct {
	Family string
	Size   float64
}

// ParseFont splits a description into family and trailing point size. A
// missing or unparsable size means the default size.
func ParseFont(desc string) Font {
	fields := strings.Fields(desc)
	f := Font{Size: defaultFontSize}
	if n := len(fields); n > 0 {
		if size, err := strconv.ParseFloat(fields[n-1], 64); err == nil {
			fields = fields[:n-1]
			f.Size = min(max(size, minFontSize), maxFontSize)
		}
	}
	f.Family = strings.Join(fields, " ")
	if f.Family == "" {
		f.Family = "Sans"
	}
	return f
}

func (f Font) String() string {
	return f.Family + " " + strconv.FormatFloat(f.Size, 'f', -1, 64)
}

// scale is the glyph magnification relative to the bitmap face.
func (f Font) scale() float64 {
	return f.Size / defaultFontSize
}

// drawLabel draws text centered in box, clipped to it. Glyphs come from the
// fixed 7x13 face and are resampled to the font size.
func drawLabel(dst *image.NRGBA, box image.Rectangle, text string, c color.NRGBA, f Font) {
	if text == "" || box.Empty() {
		return
	}
	face := basicfont.Face7x13
	metrics := face.Metrics()

	w := font.MeasureString(face, text).Ceil()
	h := metrics.Height.Ceil()
	glyphs := image.NewNRGBA(image.Rect(0, 0, w, h))
	d := font.Drawer{
		Dst:  glyphs,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(0, metrics.Ascent.Ceil()),
	}
	d.DrawString(text)

	s := f.scale()
	sw, sh := int(float64(w)*s+0.5), int(float64(h)*s+0.5)
	x := box.Min.X + (box.Dx()-sw)/2
	y := box.Min.Y + (box.Dy()-sh)/2
	clip, ok := dst.SubImage(box).(*image.NRGBA)
	if !ok {
		return
	}
	draw.ApproxBiLinear.Scale(clip, image.Rect(x, y, x+sw, y+sh), glyphs, glyphs.Bounds(), draw.Over, nil)
}
