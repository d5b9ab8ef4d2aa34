package cli

import (
	"bytes"
	"testing"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/docker/themethumb/pkg/protocol"
	"github.com/docker/themethumb/pkg/themes"
	"github.com/docker/themethumb/pkg/thumbcache"
)

func TestFormatThemeDetails(t *testing.T) {
	theme := &themes.Theme{
		Name:   "Menta",
		Widget: &themes.WidgetStyle{Bg: "#ededed"},
		Window: &themes.WindowStyle{TitleBg: "#8cb35c"},
	}

	assert.Equal(t, "Menta (ctk, croma)", FormatThemeDetails(theme))
}

func TestFormatThemeDetails_FallsBackToRef(t *testing.T) {
	theme := &themes.Theme{Ref: "user:Plum", Icons: &themes.IconStyle{Folder: "#8e4585"}}

	assert.Equal(t, "user:Plum (icon)", FormatThemeDetails(theme))
}

func TestFormatThemeDetails_NoSections(t *testing.T) {
	assert.Equal(t, "Empty", FormatThemeDetails(&themes.Theme{Name: "Empty"}))
}

func TestFormatCacheStats(t *testing.T) {
	formatted := FormatCacheStats(thumbcache.Stats{
		MemoryItems:     2,
		PersistentItems: 5,
		PersistentBytes: 2048,
		Path:            "/tmp/thumbnails.db",
	})

	assert.Equal(t, `Persistent cache: /tmp/thumbnails.db
  Thumbnails: 5
  Pixel data: 2.048kB
Memory cache: 2 thumbnails
`, formatted)
}

func TestFormatCacheStats_MemoryOnly(t *testing.T) {
	formatted := FormatCacheStats(thumbcache.Stats{MemoryItems: 1})

	assert.Equal(t, "Persistent cache: disabled\nMemory cache: 1 thumbnails\n", formatted)
}

func TestPrintThemes_FiltersByKind(t *testing.T) {
	list := orderedmap.New[string, *themes.Theme]()
	list.Set("Menta", &themes.Theme{Name: "Menta", Widget: &themes.WidgetStyle{Bg: "#ededed"}})
	list.Set("mate", &themes.Theme{Name: "MATE", Icons: &themes.IconStyle{Folder: "#729fcf"}})

	var buf bytes.Buffer
	icon := protocol.KindIcon
	NewPrinter(&buf).PrintThemes(list, &icon)

	assert.Check(t, is.Contains(buf.String(), "MATE (icon)"))
	assert.Check(t, !bytes.Contains(buf.Bytes(), []byte("Menta")))
}

func TestPrintThemes_Empty(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintThemes(orderedmap.New[string, *themes.Theme](), nil)

	assert.Equal(t, "No themes found.\n", buf.String())
}

func TestPrintRendered(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintRendered("out.png", &protocol.PixelBuffer{Width: 2, Height: 1, Pixels: make([]byte, 8)})

	assert.Equal(t, "out.png 2x1 (8B)\n", buf.String())
}

func TestIsTerminal(t *testing.T) {
	assert.Check(t, !IsTerminal(&bytes.Buffer{}))
}
