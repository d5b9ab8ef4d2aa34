// Package themes loads the desktop theme definitions that thumbnails are
// rendered from. Themes are YAML documents, either embedded in the binary or
// found in user theme directories.
package themes

import (
	"errors"
	"fmt"

	"github.com/docker/themethumb/pkg/protocol"
)

// ErrSectionMissing is returned when a theme has no definition for the kind
// of thumbnail requested.
var ErrSectionMissing = errors.New("themes: theme does not define this kind")

// Theme is one theme file. Every section is optional; a theme that only
// ships icons can only be rendered as an icon thumbnail.
type Theme struct {
	Version int    `yaml:"version,omitempty"`
	Name    string `yaml:"name,omitempty"`
	Ref     string `yaml:"-"` // Set by loader, not from YAML
	Path    string `yaml:"-"` // Empty for built-in themes

	Widget *WidgetStyle `yaml:"widget,omitempty"`
	Window *WindowStyle `yaml:"window,omitempty"`
	Icons  *IconStyle   `yaml:"icons,omitempty"`
	Meta   *MetaStyle   `yaml:"meta,omitempty"`
}

// WidgetStyle describes the toolkit colors. Hex strings (#RGB or #RRGGBB).
type WidgetStyle struct {
	Bg         string `yaml:"bg,omitempty"`
	Fg         string `yaml:"fg,omitempty"`
	Base       string `yaml:"base,omitempty"`
	Text       string `yaml:"text,omitempty"`
	SelectedBg string `yaml:"selected_bg,omitempty"`
	SelectedFg string `yaml:"selected_fg,omitempty"`
	Border     string `yaml:"border,omitempty"`
	Roundness  int    `yaml:"roundness,omitempty"`
}

// WindowStyle describes the window manager frame.
type WindowStyle struct {
	TitleBg     string `yaml:"title_bg,omitempty"`
	TitleFg     string `yaml:"title_fg,omitempty"`
	Frame       string `yaml:"frame,omitempty"`
	ButtonClose string `yaml:"button_close,omitempty"`
	ButtonMax   string `yaml:"button_max,omitempty"`
	ButtonMin   string `yaml:"button_min,omitempty"`
	TitleHeight int    `yaml:"title_height,omitempty"`
}

type IconStyle struct {
	Folder       string `yaml:"folder,omitempty"`
	FolderTab    string `yaml:"folder_tab,omitempty"`
	FolderShadow string `yaml:"folder_shadow,omitempty"`
}

// MetaStyle names the component themes a meta theme is made of.
type MetaStyle struct {
	Widget string `yaml:"widget,omitempty"`
	Window string `yaml:"window,omitempty"`
	Icons  string `yaml:"icons,omitempty"`
	Font   string `yaml:"font,omitempty"`
}

// Provides reports whether t can be rendered as kind.
func (t *Theme) Provides(kind protocol.Kind) bool {
	switch kind {
	case protocol.KindWidget:
		return t.Widget != nil
	case protocol.KindWindowDecoration:
		return t.Window != nil
	case protocol.KindIcon:
		return t.Icons != nil
	case protocol.KindMeta:
		return t.Meta != nil
	default:
		return false
	}
}

// Kinds lists the kinds t provides, in protocol order.
func (t *Theme) Kinds() []protocol.Kind {
	var kinds []protocol.Kind
	for _, k := range protocol.Kinds() {
		if t.Provides(k) {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Validate checks every color in t parses.
func (t *Theme) Validate() error {
	var colors []string
	if w := t.Widget; w != nil {
		colors = append(colors, w.Bg, w.Fg, w.Base, w.Text, w.SelectedBg, w.SelectedFg, w.Border)
	}
	if w := t.Window; w != nil {
		colors = append(colors, w.TitleBg, w.TitleFg, w.Frame, w.ButtonClose, w.ButtonMax, w.ButtonMin)
	}
	if i := t.Icons; i != nil {
		colors = append(colors, i.Folder, i.FolderTab, i.FolderShadow)
	}
	for _, c := range colors {
		if c == "" {
			continue
		}
		if _, err := ParseHex(c); err != nil {
			return fmt.Errorf("theme %q: %w", t.Name, err)
		}
	}
	return nil
}

// mergeTheme fills the empty fields of override's sections from base.
// Sections override does not define stay undefined.
func mergeTheme(base, override *Theme) *Theme {
	result := *override
	if base == nil {
		return &result
	}
	if result.Version == 0 {
		result.Version = base.Version
	}
	if override.Widget != nil && base.Widget != nil {
		w := mergeWidget(*base.Widget, *override.Widget)
		result.Widget = &w
	}
	if override.Window != nil && base.Window != nil {
		w := mergeWindow(*base.Window, *override.Window)
		result.Window = &w
	}
	if override.Icons != nil && base.Icons != nil {
		i := mergeIcons(*base.Icons, *override.Icons)
		result.Icons = &i
	}
	return &result
}

func mergeWidget(base, override WidgetStyle) WidgetStyle {
	result := base
	pick(&result.Bg, override.Bg)
	pick(&result.Fg, override.Fg)
	pick(&result.Base, override.Base)
	pick(&result.Text, override.Text)
	pick(&result.SelectedBg, override.SelectedBg)
	pick(&result.SelectedFg, override.SelectedFg)
	pick(&result.Border, override.Border)
	if override.Roundness != 0 {
		result.Roundness = override.Roundness
	}
	return result
}

func mergeWindow(base, override WindowStyle) WindowStyle {
	result := base
	pick(&result.TitleBg, override.TitleBg)
	pick(&result.TitleFg, override.TitleFg)
	pick(&result.Frame, override.Frame)
	pick(&result.ButtonClose, override.ButtonClose)
	pick(&result.ButtonMax, override.ButtonMax)
	pick(&result.ButtonMin, override.ButtonMin)
	if override.TitleHeight != 0 {
		result.TitleHeight = override.TitleHeight
	}
	return result
}

func mergeIcons(base, override IconStyle) IconStyle {
	result := base
	pick(&result.Folder, override.Folder)
	pick(&result.FolderTab, override.FolderTab)
	pick(&result.FolderShadow, override.FolderShadow)
	return result
}

func pick(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
