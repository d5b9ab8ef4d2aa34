// Package render draws theme previews off-screen. It is the renderer the
// worker process runs; nothing here touches a display.
package render

import (
	"cmp"
	"context"
	"fmt"
	"image"
	"log/slog"

	"golang.org/x/image/draw"

	"github.com/docker/themethumb/pkg/protocol"
	"github.com/docker/themethumb/pkg/themes"
)

// Base thumbnail sizes, before scaling.
var sizes = map[protocol.Kind]image.Point{
	protocol.KindWidget:           {X: 112, Y: 72},
	protocol.KindWindowDecoration: {X: 112, Y: 72},
	protocol.KindIcon:             {X: 48, Y: 48},
	protocol.KindMeta:             {X: 160, Y: 112},
}

// Size returns the thumbnail size for kind at scale 1.
func Size(kind protocol.Kind) image.Point {
	return sizes[kind]
}

type Option func(*Renderer)

// WithScale renders thumbnails scale times their base size.
func WithScale(scale float64) Option {
	return func(r *Renderer) {
		if scale > 0 {
			r.scale = scale
		}
	}
}

// Renderer draws thumbnails for themes from a catalog.
type Renderer struct {
	catalog *themes.Catalog
	scale   float64
}

func New(catalog *themes.Catalog, opts ...Option) *Renderer {
	r := &Renderer{catalog: catalog, scale: 1}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render draws the thumbnail for req. It fails when a named theme does not
// exist, lacks the section the kind needs, or the color scheme is invalid.
func (r *Renderer) Render(ctx context.Context, req protocol.Request) (*image.NRGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req = r.Resolve(req)
	f := ParseFont(req.Font)
	size, ok := sizes[req.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %d", protocol.ErrUnknownKind, req.Kind)
	}
	img := image.NewNRGBA(image.Rectangle{Max: size})

	var err error
	switch req.Kind {
	case protocol.KindWidget:
		err = r.renderWidget(img, req, f)
	case protocol.KindWindowDecoration:
		err = r.renderWindow(img, req, f)
	case protocol.KindIcon:
		err = r.renderIcon(img, req)
	case protocol.KindMeta:
		err = r.renderMeta(img, req, f)
	}
	if err != nil {
		return nil, err
	}

	slog.Debug("Drew thumbnail", "kind", req.Kind, "font", f.String(), "scale", r.scale)
	return r.scaled(img), nil
}

// Resolve fills the window theme, icon theme and font a meta request leaves
// empty from the meta section of the named theme. A meta-only theme also
// lends its widget theme. Other kinds, and themes without a meta section, are
// returned unchanged.
func (r *Renderer) Resolve(req protocol.Request) protocol.Request {
	if req.Kind != protocol.KindMeta || req.WidgetTheme == "" {
		return req
	}
	theme, err := r.catalog.Load(req.WidgetTheme)
	if err != nil || theme.Meta == nil {
		return req
	}
	meta := theme.Meta
	if theme.Widget == nil && meta.Widget != "" {
		req.WidgetTheme = meta.Widget
	}
	req.WMTheme = cmp.Or(req.WMTheme, meta.Window)
	req.IconTheme = cmp.Or(req.IconTheme, meta.Icons)
	req.Font = cmp.Or(req.Font, meta.Font)
	return req
}

func (r *Renderer) widgetColors(name, scheme string) (widgetColors, error) {
	theme, err := r.catalog.LoadFor(protocol.KindWidget, name)
	if err != nil {
		return widgetColors{}, err
	}
	cs, err := themes.ParseColorScheme(scheme)
	if err != nil {
		return widgetColors{}, err
	}
	return resolveWidget(cs.Apply(*theme.Widget)), nil
}

func (r *Renderer) renderWidget(img *image.NRGBA, req protocol.Request, f Font) error {
	wc, err := r.widgetColors(req.WidgetTheme, req.ColorScheme)
	if err != nil {
		return err
	}
	drawWidgets(img, img.Bounds(), wc, f)
	return nil
}

func (r *Renderer) renderWindow(img *image.NRGBA, req protocol.Request, f Font) error {
	theme, err := r.catalog.LoadFor(protocol.KindWindowDecoration, req.WMTheme)
	if err != nil {
		return err
	}
	drawWindow(img, img.Bounds(), resolveWindow(*theme.Window), theme.Name, f)
	return nil
}

func (r *Renderer) renderIcon(img *image.NRGBA, req protocol.Request) error {
	theme, err := r.catalog.LoadFor(protocol.KindIcon, req.IconTheme)
	if err != nil {
		return err
	}
	drawFolder(img, img.Bounds(), resolveIcons(*theme.Icons))
	return nil
}

// renderMeta composes the three component themes: widgets inside a
// decorated window, with a folder icon beside them.
func (r *Renderer) renderMeta(img *image.NRGBA, req protocol.Request, f Font) error {
	wc, err := r.widgetColors(req.WidgetTheme, req.ColorScheme)
	if err != nil {
		return err
	}
	window, err := r.catalog.LoadFor(protocol.KindWindowDecoration, req.WMTheme)
	if err != nil {
		return err
	}
	icons, err := r.catalog.LoadFor(protocol.KindIcon, req.IconTheme)
	if err != nil {
		return err
	}

	client := drawWindow(img, img.Bounds(), resolveWindow(*window.Window), req.WidgetTheme, f)
	split := client.Min.X + client.Dx()*3/4
	drawWidgets(img, image.Rect(client.Min.X, client.Min.Y, split, client.Max.Y), wc, f)

	fill(img, image.Rect(split, client.Min.Y, client.Max.X, client.Max.Y), wc.base)
	side := min(client.Max.X-split, client.Dy()) - 4
	if side > 8 {
		x := split + (client.Max.X-split-side)/2
		drawFolder(img, image.Rect(x, client.Min.Y+4, x+side, client.Min.Y+4+side), resolveIcons(*icons.Icons))
	}
	return nil
}

func (r *Renderer) scaled(img *image.NRGBA) *image.NRGBA {
	if r.scale == 1 {
		return img
	}
	b := img.Bounds()
	w := max(int(float64(b.Dx())*r.scale+0.5), 1)
	h := max(int(float64(b.Dy())*r.scale+0.5), 1)
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(out, out.Bounds(), img, b, draw.Src, nil)
	return out
}
