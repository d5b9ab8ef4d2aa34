package root

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/docker/themethumb/pkg/cli"
	"github.com/docker/themethumb/pkg/logging"
	"github.com/docker/themethumb/pkg/protocol"
	"github.com/docker/themethumb/pkg/thumbnail"
)

const stdoutPath = "-"

type renderFlags struct {
	kind        string
	theme       string
	colorScheme string
	wmTheme     string
	iconTheme   string
	font        string
	output      string
	stats       bool
}

func newRenderCmd(root *rootFlags) *cobra.Command {
	var flags renderFlags

	cmd := &cobra.Command{
		Use:   "render [THEME...]",
		Short: "Render theme thumbnails to PNG files",
		Long: `Render one thumbnail per theme through the render worker.

With a single theme, --output names the PNG file ("-" for stdout). With
several themes, --output is a directory and each file is named
<theme>-<kind>.png.`,
		Example: `  themethumb render --kind ctk --theme Menta -o menta.png
  themethumb render --kind icon mate Menta -o thumbs/
  themethumb render --kind ctk --theme Menta --color-scheme style:dracula -o - > menta.png`,
		GroupID: "core",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRenderCommand(cmd, root, &flags, args)
		},
	}

	cmd.Flags().StringVar(&flags.kind, "kind", protocol.TagMeta, "Thumbnail kind: meta, ctk (widget), croma (window decoration) or icon")
	cmd.Flags().StringVar(&flags.theme, "theme", "", "Theme to render")
	cmd.Flags().StringVar(&flags.colorScheme, "color-scheme", "", `Color overrides, e.g. "bg_color:#ededed;fg_color:#000000" or "style:<chroma style>"`)
	cmd.Flags().StringVar(&flags.wmTheme, "wm-theme", "", "Window decoration theme (meta and croma)")
	cmd.Flags().StringVar(&flags.iconTheme, "icon-theme", "", "Icon theme (meta and icon)")
	cmd.Flags().StringVar(&flags.font, "font", "", `Application font, e.g. "Sans 10" (meta)`)
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Output file, directory, or - for stdout")
	cmd.Flags().BoolVar(&flags.stats, "stats", false, "Print worker statistics to stderr when done")

	return cmd
}

type renderTarget struct {
	theme string
	path  string
}

// renderTargets pairs each theme with the file its thumbnail goes to.
func renderTargets(kind protocol.Kind, theme string, args []string, output string) ([]renderTarget, error) {
	names := args
	if theme != "" {
		names = append([]string{theme}, args...)
	}
	if len(names) == 0 {
		return nil, errors.New("no theme given: use --theme or pass theme names")
	}

	if len(names) == 1 && (output == stdoutPath || strings.HasSuffix(output, ".png")) {
		return []renderTarget{{theme: names[0], path: output}}, nil
	}
	if output == stdoutPath {
		return nil, errors.New("only one thumbnail can be written to stdout")
	}

	dir := output
	if dir == "" {
		dir = "."
	}
	targets := make([]renderTarget, 0, len(names))
	seen := map[string]bool{}
	for _, name := range names {
		file := fileName(name, kind)
		if seen[file] {
			continue
		}
		seen[file] = true
		targets = append(targets, renderTarget{theme: name, path: filepath.Join(dir, file)})
	}
	return targets, nil
}

func fileName(theme string, kind protocol.Kind) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(theme)
	return safe + "-" + kind.Tag() + ".png"
}

func runRenderCommand(cmd *cobra.Command, root *rootFlags, flags *renderFlags, args []string) error {
	ctx := cmd.Context()
	out := cli.NewPrinter(cmd.OutOrStdout())

	kind, err := protocol.ParseKind(flags.kind)
	if err != nil {
		return err
	}
	targets, err := renderTargets(kind, flags.theme, args, flags.output)
	if err != nil {
		return err
	}
	if len(targets) == 1 && targets[0].path == stdoutPath {
		if f, ok := cmd.OutOrStdout().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			return errors.New("refusing to write PNG data to a terminal; redirect stdout or use --output FILE")
		}
	}

	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}

	opts := []thumbnail.Option{thumbnail.WithConfig(cfg)}
	if root.debugMode {
		opts = append(opts, thumbnail.WithWorkerLogFile(logging.WorkerPath(root.logFilePath)))
	}
	svc, err := thumbnail.New(ctx, opts...)
	if err != nil {
		return err
	}
	defer func() {
		_ = svc.Close(context.WithoutCancel(ctx))
	}()

	results := make([]*protocol.PixelBuffer, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, target := range targets {
		g.Go(func() error {
			res, err := svc.Render(gctx, kind, target.theme, flags.colorScheme, flags.wmTheme, flags.iconTheme, flags.font)
			if err != nil {
				return fmt.Errorf("rendering %s thumbnail of %q: %w", kind, target.theme, err)
			}
			results[i] = res
			if target.path == stdoutPath {
				return encodePNG(cmd.OutOrStdout(), res)
			}
			return writePNG(target.path, res)
		})
	}
	err = g.Wait()

	if flags.stats {
		cli.NewPrinter(cmd.ErrOrStderr()).PrintServiceStats(svc.Stats(ctx))
	}
	if err != nil {
		return err
	}

	for i, target := range targets {
		if target.path != stdoutPath {
			out.PrintRendered(target.path, results[i])
		}
	}
	return nil
}

func encodePNG(w io.Writer, res *protocol.PixelBuffer) error {
	return png.Encode(w, res.Image())
}

// writePNG replaces path atomically so a viewer never sees a partial file.
func writePNG(path string, res *protocol.PixelBuffer) error {
	var buf bytes.Buffer
	if err := encodePNG(&buf, res); err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return atomic.WriteFile(path, &buf)
}
