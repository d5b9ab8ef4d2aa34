package root

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/docker/themethumb/pkg/render"
	"github.com/docker/themethumb/pkg/supervisor"
	"github.com/docker/themethumb/pkg/themes"
	"github.com/docker/themethumb/pkg/worker"
)

func newWorkerCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:    supervisor.WorkerSubcommand,
		Short:  "Serve thumbnail render requests on stdin/stdout",
		Args:   cobra.NoArgs,
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorkerCommand(cmd, flags)
		},
	}
}

func runWorkerCommand(cmd *cobra.Command, flags *rootFlags) error {
	if err := worker.ExitWithParent(); err != nil {
		slog.Warn("Could not tie worker lifetime to parent", "error", err)
	}

	cfg, err := flags.loadConfig()
	if err != nil {
		return err
	}

	catalog := themes.NewCatalog(cfg.ThemeDirs()...)
	renderer := render.New(catalog, render.WithScale(cfg.Scale()))
	w := worker.New(renderer, worker.WithDefaultFont(cfg.DefaultFont()))

	slog.Debug("Render worker serving", "pid", os.Getpid(), "theme_dirs", catalog.Dirs(), "scale", cfg.Scale())
	return w.Serve(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
}
