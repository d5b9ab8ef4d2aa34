package render

import (
	"image"
	"image/color"

	"github.com/docker/themethumb/pkg/themes"
)

type widgetColors struct {
	bg, fg, base, text, selBg, selFg, border color.NRGBA
	roundness                                int
}

func resolveWidget(w themes.WidgetStyle) widgetColors {
	return widgetColors{
		bg:        themes.MustHex(w.Bg),
		fg:        themes.MustHex(w.Fg),
		base:      themes.MustHex(w.Base),
		text:      themes.MustHex(w.Text),
		selBg:     themes.MustHex(w.SelectedBg),
		selFg:     themes.MustHex(w.SelectedFg),
		border:    themes.MustHex(w.Border),
		roundness: w.Roundness,
	}
}

// drawWidgets lays out a button, a check box, a radio button and a list
// with a selected row inside r.
func drawWidgets(dst *image.NRGBA, r image.Rectangle, wc widgetColors, f Font) {
	fill(dst, r, wc.bg)

	pad := 6
	col := r.Min.X + pad
	split := r.Min.X + r.Dx()*11/20

	// Button
	btn := image.Rect(col, r.Min.Y+pad, split-pad/2, r.Min.Y+pad+r.Dy()/3-2)
	box(dst, btn, wc.roundness, wc.border, themes.Shade(wc.bg, 0.35))
	gradient(dst, image.Rect(btn.Min.X+2, btn.Max.Y-btn.Dy()/3, btn.Max.X-2, btn.Max.Y-2), themes.Shade(wc.bg, 0.35), wc.bg)
	drawLabel(dst, btn.Inset(1), "Button", wc.fg, f)

	// Check box and radio share one row each below the button.
	row := (r.Max.Y - btn.Max.Y - pad) / 2
	mark := min(row-2, 12)
	cb := image.Rect(col, btn.Max.Y+pad/2+(row-mark)/2, col+mark, btn.Max.Y+pad/2+(row-mark)/2+mark)
	box(dst, cb, min(wc.roundness, 2), wc.border, wc.base)
	check(dst, cb.Inset(2), wc.selBg)
	drawLabel(dst, image.Rect(cb.Max.X+2, cb.Min.Y-2, split, cb.Max.Y+2), "Check", wc.fg, f)

	cy := btn.Max.Y + pad/2 + row + row/2
	rad := mark / 2
	disc(dst, image.Pt(col+rad, cy), rad, wc.border)
	disc(dst, image.Pt(col+rad, cy), rad-1, wc.base)
	disc(dst, image.Pt(col+rad, cy), max(rad-3, 1), wc.selBg)
	drawLabel(dst, image.Rect(col+mark+2, cy-rad-2, split, cy+rad+2), "Radio", wc.fg, f)

	// List
	list := image.Rect(split+pad/2, r.Min.Y+pad, r.Max.X-pad, r.Max.Y-pad)
	box(dst, list, 0, wc.border, wc.base)
	inner := list.Inset(1)
	rowH := max(inner.Dy()/3, 1)
	sel := image.Rect(inner.Min.X, inner.Min.Y+rowH, inner.Max.X, inner.Min.Y+2*rowH)
	drawLabel(dst, image.Rect(inner.Min.X, inner.Min.Y, inner.Max.X, sel.Min.Y), "Aa", wc.text, f)
	fill(dst, sel, wc.selBg)
	drawLabel(dst, sel, "Aa", wc.selFg, f)
	drawLabel(dst, image.Rect(inner.Min.X, sel.Max.Y, inner.Max.X, inner.Max.Y), "Aa", wc.text, f)
}

type windowColors struct {
	titleBg, titleFg, frame, close, maximize, minimize color.NRGBA
	titleHeight                                        int
}

func resolveWindow(w themes.WindowStyle) windowColors {
	return windowColors{
		titleBg:     themes.MustHex(w.TitleBg),
		titleFg:     themes.MustHex(w.TitleFg),
		frame:       themes.MustHex(w.Frame),
		close:       themes.MustHex(w.ButtonClose),
		maximize:    themes.MustHex(w.ButtonMax),
		minimize:    themes.MustHex(w.ButtonMin),
		titleHeight: w.TitleHeight,
	}
}

// drawWindow draws a decorated frame in r and returns the client area.
func drawWindow(dst *image.NRGBA, r image.Rectangle, wc windowColors, title string, f Font) image.Rectangle {
	fill(dst, r, wc.frame)

	th := wc.titleHeight
	if th <= 0 {
		th = 22
	}
	th = min(th, r.Dy()/2)

	bar := image.Rect(r.Min.X+1, r.Min.Y+1, r.Max.X-1, r.Min.Y+th)
	gradient(dst, bar, themes.Shade(wc.titleBg, 0.12), wc.titleBg)

	rad := max(th/4, 2)
	cy := bar.Min.Y + bar.Dy()/2
	x := bar.Max.X - rad - 4
	for _, c := range []color.NRGBA{wc.close, wc.maximize, wc.minimize} {
		disc(dst, image.Pt(x, cy), rad, themes.Shade(c, -0.25))
		disc(dst, image.Pt(x, cy), rad-1, c)
		x -= 2*rad + 4
	}
	drawLabel(dst, image.Rect(bar.Min.X+4, bar.Min.Y, x-rad, bar.Max.Y), title, wc.titleFg, f)

	client := image.Rect(r.Min.X+3, bar.Max.Y, r.Max.X-3, r.Max.Y-3)
	fill(dst, client, themes.Shade(wc.frame, 0.85))
	return client
}

type iconColors struct {
	folder, tab, shadow color.NRGBA
}

func resolveIcons(i themes.IconStyle) iconColors {
	return iconColors{
		folder: themes.MustHex(i.Folder),
		tab:    themes.MustHex(i.FolderTab),
		shadow: themes.MustHex(i.FolderShadow),
	}
}

// drawFolder draws a folder icon filling r.
func drawFolder(dst *image.NRGBA, r image.Rectangle, ic iconColors) {
	w, h := r.Dx(), r.Dy()
	body := image.Rect(r.Min.X+w/12, r.Min.Y+h*5/16, r.Max.X-w/12, r.Max.Y-h/8)
	tab := image.Rect(body.Min.X, body.Min.Y-h/8, body.Min.X+w*3/8, body.Min.Y+2)
	radius := max(w/24, 1)

	roundedRect(dst, body.Add(image.Pt(1, 2)), radius, ic.shadow)
	roundedRect(dst, tab, radius, ic.tab)
	roundedRect(dst, body, radius, ic.tab)

	flap := image.Rect(body.Min.X, body.Min.Y+h/10, body.Max.X, body.Max.Y)
	roundedRect(dst, flap, radius, ic.folder)
	gradient(dst, image.Rect(flap.Min.X+radius, flap.Min.Y+1, flap.Max.X-radius, flap.Min.Y+1+flap.Dy()/3),
		themes.Shade(ic.folder, 0.25), ic.folder)
}
