package root

import (
	"github.com/spf13/cobra"

	"github.com/docker/themethumb/pkg/cli"
	"github.com/docker/themethumb/pkg/protocol"
	"github.com/docker/themethumb/pkg/themes"
)

type themesFlags struct {
	kind         string
	colorSchemes bool
}

func newThemesCmd(root *rootFlags) *cobra.Command {
	var flags themesFlags

	cmd := &cobra.Command{
		Use:   "themes",
		Short: "List available themes",
		Long: `List the built-in themes and the themes found in the theme directories.

Themes in a user directory that share a built-in theme's name are listed with
the "user:" prefix.`,
		Example: `  themethumb themes
  themethumb themes --kind icon
  themethumb themes --color-schemes`,
		GroupID: "core",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runThemesCommand(cmd, root, &flags)
		},
	}

	cmd.Flags().StringVar(&flags.kind, "kind", "", "Only list themes that provide this kind")
	cmd.Flags().BoolVar(&flags.colorSchemes, "color-schemes", false, "List the style: color schemes instead")

	return cmd
}

func runThemesCommand(cmd *cobra.Command, root *rootFlags, flags *themesFlags) error {
	out := cli.NewPrinter(cmd.OutOrStdout())

	if flags.colorSchemes {
		for _, name := range themes.ChromaStyles() {
			out.Println(themes.ChromaSchemePrefix + name)
		}
		return nil
	}

	var kind *protocol.Kind
	if flags.kind != "" {
		k, err := protocol.ParseKind(flags.kind)
		if err != nil {
			return err
		}
		kind = &k
	}

	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	list, err := themes.NewCatalog(cfg.ThemeDirs()...).List()
	if err != nil {
		return err
	}
	out.PrintThemes(list, kind)
	return nil
}
