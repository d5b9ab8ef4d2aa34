package themes

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"strconv"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/styles"
)

// ChromaSchemePrefix selects a color scheme derived from a chroma style, as
// in "style:monokai".
const ChromaSchemePrefix = "style:"

var ErrInvalidColor = errors.New("themes: invalid color")

// --- Hex parsing ---

// ParseHex parses #RGB or #RRGGBB into an opaque color.
func ParseHex(hex string) (color.NRGBA, error) {
	h, ok := strings.CutPrefix(strings.TrimSpace(hex), "#")
	if !ok {
		return color.NRGBA{}, fmt.Errorf("%w: %q", ErrInvalidColor, hex)
	}
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return color.NRGBA{}, fmt.Errorf("%w: %q", ErrInvalidColor, hex)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("%w: %q", ErrInvalidColor, hex)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

// MustHex is ParseHex for values already validated.
func MustHex(hex string) color.NRGBA {
	c, err := ParseHex(hex)
	if err != nil {
		return color.NRGBA{A: 0xff}
	}
	return c
}

func Hex(c color.NRGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// Blend moves c toward target by t in [0,1].
func Blend(c, target color.NRGBA, t float64) color.NRGBA {
	t = math.Max(0, math.Min(1, t))
	mix := func(a, b uint8) uint8 {
		return uint8(float64(a) + (float64(b)-float64(a))*t + 0.5)
	}
	return color.NRGBA{R: mix(c.R, target.R), G: mix(c.G, target.G), B: mix(c.B, target.B), A: c.A}
}

// Shade lightens (amount > 0) or darkens (amount < 0) c.
func Shade(c color.NRGBA, amount float64) color.NRGBA {
	if amount < 0 {
		return Blend(c, color.NRGBA{A: c.A}, -amount)
	}
	return Blend(c, color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: c.A}, amount)
}

// --- Luminance & contrast ---

func srgbToLinear(c float64) float64 {
	if c <= 0.03928 {
		return c / 12.92
	}
	return math.Pow((c+0.055)/1.055, 2.4)
}

// RelativeLuminance returns the WCAG 2.x relative luminance of c.
func RelativeLuminance(c color.NRGBA) float64 {
	return 0.2126*srgbToLinear(float64(c.R)/255) +
		0.7152*srgbToLinear(float64(c.G)/255) +
		0.0722*srgbToLinear(float64(c.B)/255)
}

// ContrastRatio returns the WCAG 2.x contrast ratio between two colors.
func ContrastRatio(fg, bg color.NRGBA) float64 {
	l1, l2 := RelativeLuminance(fg), RelativeLuminance(bg)
	return (max(l1, l2) + 0.05) / (min(l1, l2) + 0.05)
}

// BestForeground picks the candidate with the highest contrast against bg.
func BestForeground(bg color.NRGBA, candidates ...color.NRGBA) color.NRGBA {
	if len(candidates) == 0 {
		candidates = []color.NRGBA{{A: 0xff}, {R: 0xff, G: 0xff, B: 0xff, A: 0xff}}
	}
	best, bestRatio := candidates[0], -1.0
	for _, c := range candidates {
		if r := ContrastRatio(c, bg); r > bestRatio {
			best, bestRatio = c, r
		}
	}
	return best
}

// --- Color schemes ---

// ColorScheme overrides widget colors. Empty fields keep the theme's value.
type ColorScheme struct {
	Bg         string
	Fg         string
	Base       string
	Text       string
	SelectedBg string
	SelectedFg string
}

// ParseColorScheme reads a GTK style color scheme ("bg_color:#ffffff" entries
// separated by newlines or semicolons) or a "style:<name>" chroma reference.
// Unknown keys are ignored.
func ParseColorScheme(s string) (ColorScheme, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ColorScheme{}, nil
	}
	if name, ok := strings.CutPrefix(s, ChromaSchemePrefix); ok {
		return chromaScheme(strings.TrimSpace(name))
	}

	var cs ColorScheme
	entries := strings.FieldsFunc(s, func(r rune) bool { return r == '\n' || r == ';' })
	for _, entry := range entries {
		key, value, ok := strings.Cut(entry, ":")
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if _, err := ParseHex(value); err != nil {
			return ColorScheme{}, fmt.Errorf("color scheme entry %q: %w", key, err)
		}
		switch key {
		case "bg_color":
			cs.Bg = value
		case "fg_color":
			cs.Fg = value
		case "base_color":
			cs.Base = value
		case "text_color":
			cs.Text = value
		case "selected_bg_color":
			cs.SelectedBg = value
		case "selected_fg_color":
			cs.SelectedFg = value
		}
	}
	return cs, nil
}

// ChromaStyles lists the chroma style names usable after ChromaSchemePrefix.
func ChromaStyles() []string {
	return styles.Names()
}

func chromaScheme(name string) (ColorScheme, error) {
	style, ok := styles.Registry[strings.ToLower(name)]
	if !ok {
		return ColorScheme{}, fmt.Errorf("unknown chroma style %q", name)
	}

	bgEntry := style.Get(chroma.Background)
	if !bgEntry.Background.IsSet() {
		return ColorScheme{}, fmt.Errorf("chroma style %q has no background", name)
	}
	bg := chromaColor(bgEntry.Background)

	fg := BestForeground(bg)
	if text := style.Get(chroma.Text); text.Colour.IsSet() {
		fg = chromaColor(text.Colour)
	} else if bgEntry.Colour.IsSet() {
		fg = chromaColor(bgEntry.Colour)
	}

	accent := Shade(bg, 0.3)
	if kw := style.Get(chroma.Keyword); kw.Colour.IsSet() {
		accent = chromaColor(kw.Colour)
	}

	base := Shade(bg, 0.08)
	if RelativeLuminance(bg) > 0.5 {
		base = Shade(bg, -0.04)
	}

	return ColorScheme{
		Bg:         Hex(bg),
		Fg:         Hex(fg),
		Base:       Hex(base),
		Text:       Hex(fg),
		SelectedBg: Hex(accent),
		SelectedFg: Hex(BestForeground(accent)),
	}, nil
}

func chromaColor(c chroma.Colour) color.NRGBA {
	return color.NRGBA{R: c.Red(), G: c.Green(), B: c.Blue(), A: 0xff}
}

// Apply returns w with the scheme's colors laid over it.
func (cs ColorScheme) Apply(w WidgetStyle) WidgetStyle {
	pick(&w.Bg, cs.Bg)
	pick(&w.Fg, cs.Fg)
	pick(&w.Base, cs.Base)
	pick(&w.Text, cs.Text)
	pick(&w.SelectedBg, cs.SelectedBg)
	pick(&w.SelectedFg, cs.SelectedFg)
	return w
}
