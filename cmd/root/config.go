package root

import (
	"errors"
	"fmt"
	"os"

	"github.com/aymanbagabas/go-udiff"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/docker/themethumb/pkg/cli"
	"github.com/docker/themethumb/pkg/userconfig"
)

func newConfigCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage user configuration",
		Long:  "View and manage the themethumb configuration stored in ~/.config/themethumb/config.yaml",
		Example: `  # Show the current configuration
  themethumb config show

  # Write a config file with every default spelled out
  themethumb config init`,
		GroupID: "advanced",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShowCommand(cmd, root)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the current configuration",
		Long:  "Display the current user configuration in YAML format",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShowCommand(cmd, root)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the path to the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			cli.NewPrinter(cmd.OutOrStdout()).Println(cfg.File())
			return nil
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with every default spelled out",
		Long: `Write a config file with every setting at its default value.

An existing file is left alone unless --force is given; the changes that
--force would make are printed as a diff.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInitCommand(cmd, root, force)
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	cmd.AddCommand(initCmd)

	return cmd
}

func marshalConfig(cfg *userconfig.Config) ([]byte, error) {
	data, err := yaml.MarshalWithOptions(cfg, yaml.IndentSequence(true), yaml.UseSingleQuote(false))
	if err != nil {
		return nil, fmt.Errorf("failed to format config: %w", err)
	}
	return data, nil
}

func runConfigShowCommand(cmd *cobra.Command, root *rootFlags) error {
	out := cli.NewPrinter(cmd.OutOrStdout())

	cfg, err := root.loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	data, err := marshalConfig(cfg)
	if err != nil {
		return err
	}
	out.Print(string(data))
	return nil
}

func runConfigInitCommand(cmd *cobra.Command, root *rootFlags, force bool) error {
	out := cli.NewPrinter(cmd.OutOrStdout())

	path := root.configPath
	if path == "" {
		path = userconfig.Path()
	}

	defaults := userconfig.Defaults()
	existing, err := os.ReadFile(path)
	switch {
	case err == nil && !force:
		want, err := marshalConfig(defaults)
		if err != nil {
			return err
		}
		if diff := udiff.Unified(path, "defaults", string(existing), string(want)); diff != "" {
			out.Print(diff)
		}
		return fmt.Errorf("%s already exists; use --force to overwrite it", path)
	case err != nil && !errors.Is(err, os.ErrNotExist):
		return err
	}

	if err := defaults.SaveTo(path); err != nil {
		return err
	}
	out.Printf("Wrote %s\n", path)
	return nil
}
