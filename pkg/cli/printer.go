package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"charm.land/lipgloss/v2"
	"github.com/docker/go-units"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/mattn/go-runewidth"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/docker/themethumb/pkg/protocol"
	"github.com/docker/themethumb/pkg/themes"
	"github.com/docker/themethumb/pkg/thumbcache"
	"github.com/docker/themethumb/pkg/thumbnail"
)

var bold = color.New(color.Bold).SprintfFunc()

type Printer struct {
	out io.Writer
}

func NewPrinter(out io.Writer) *Printer {
	return &Printer{
		out: out,
	}
}

func (p *Printer) Println(a ...any) {
	fmt.Fprintln(p.out, a...)
}

func (p *Printer) Print(a ...any) {
	fmt.Fprint(p.out, a...)
}

func (p *Printer) Printf(format string, a ...any) {
	fmt.Fprintf(p.out, format, a...)
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// PrintThemes prints one row per theme: its ref, display name, the kinds it
// can be rendered as and a swatch of its main colors. With kind set only
// themes providing that kind are listed.
func (p *Printer) PrintThemes(list *orderedmap.OrderedMap[string, *themes.Theme], kind *protocol.Kind) {
	var rows [][2]string
	width := 0
	for pair := list.Oldest(); pair != nil; pair = pair.Next() {
		if kind != nil && !pair.Value.Provides(*kind) {
			continue
		}
		width = max(width, runewidth.StringWidth(pair.Key))
		rows = append(rows, [2]string{pair.Key, FormatThemeDetails(pair.Value)})
	}
	if len(rows) == 0 {
		p.Println("No themes found.")
		return
	}
	for _, row := range rows {
		pad := strings.Repeat(" ", width-runewidth.StringWidth(row[0]))
		// lipgloss strips the swatch colors when out is not a terminal.
		lipgloss.Fprintf(p.out, "%s%s  %s  %s\n", bold("%s", row[0]), pad, row[1], Swatch(list.Value(row[0])))
	}
}

// FormatThemeDetails returns the display name and kinds of t, e.g.
// "Menta (ctk, croma)".
func FormatThemeDetails(t *themes.Theme) string {
	var tags []string
	for _, k := range t.Kinds() {
		tags = append(tags, k.Tag())
	}
	name := t.Name
	if name == "" {
		name = t.Ref
	}
	if len(tags) == 0 {
		return name
	}
	return fmt.Sprintf("%s (%s)", name, strings.Join(tags, ", "))
}

// swatchColors picks the colors that identify t at a glance.
func swatchColors(t *themes.Theme) []string {
	var colors []string
	if w := t.Widget; w != nil {
		colors = append(colors, w.Bg, w.SelectedBg)
	}
	if w := t.Window; w != nil {
		colors = append(colors, w.TitleBg)
	}
	if i := t.Icons; i != nil {
		colors = append(colors, i.Folder)
	}
	return colors
}

// Swatch renders two-cell color blocks for t's main colors.
func Swatch(t *themes.Theme) string {
	if t == nil {
		return ""
	}
	var b strings.Builder
	for _, c := range swatchColors(t) {
		if _, err := themes.ParseHex(c); err != nil {
			continue
		}
		b.WriteString(lipgloss.NewStyle().Background(lipgloss.Color(c)).Render("  "))
	}
	return b.String()
}

// PrintCacheStats prints the thumbnail cache summary.
func (p *Printer) PrintCacheStats(st thumbcache.Stats) {
	p.Print(FormatCacheStats(st))
}

func FormatCacheStats(st thumbcache.Stats) string {
	var b strings.Builder
	if st.Path == "" {
		b.WriteString("Persistent cache: disabled\n")
	} else {
		fmt.Fprintf(&b, "Persistent cache: %s\n", st.Path)
		fmt.Fprintf(&b, "  Thumbnails: %d\n", st.PersistentItems)
		fmt.Fprintf(&b, "  Pixel data: %s\n", units.HumanSize(float64(st.PersistentBytes)))
	}
	fmt.Fprintf(&b, "Memory cache: %d thumbnails\n", st.MemoryItems)
	return b.String()
}

// PrintRendered reports one written thumbnail.
func (p *Printer) PrintRendered(path string, res *protocol.PixelBuffer) {
	p.Printf("%s %dx%d (%s)\n", path, res.Width, res.Height, units.HumanSize(float64(res.Size())))
}

// PrintServiceStats summarises a render run, for --debug output.
func (p *Printer) PrintServiceStats(st thumbnail.Stats) {
	q := st.Queue
	p.Printf("worker %s: %d dispatched, %d completed, %d from cache, %d dropped\n",
		st.State, q.Dispatched, q.Completed, q.CacheHits, q.Dropped)
}
