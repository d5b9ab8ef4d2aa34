package root

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/docker/themethumb/pkg/cli"
	"github.com/docker/themethumb/pkg/thumbcache"
)

func newCacheCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "cache",
		Short:   "Manage the persistent thumbnail cache",
		GroupID: "advanced",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show what the cache holds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCache(root, func(c *thumbcache.Cache) error {
				st, err := c.Stats(cmd.Context())
				if err != nil {
					return err
				}
				cli.NewPrinter(cmd.OutOrStdout()).PrintCacheStats(st)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Delete every cached thumbnail",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCache(root, func(c *thumbcache.Cache) error {
				if err := c.Purge(cmd.Context()); err != nil {
					return err
				}
				cli.NewPrinter(cmd.OutOrStdout()).Println("Thumbnail cache purged.")
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "invalidate THEME",
		Short: "Delete the cached thumbnails of one theme",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(root, func(c *thumbcache.Cache) error {
				n, err := c.InvalidateTheme(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				cli.NewPrinter(cmd.OutOrStdout()).Printf("Removed %d thumbnails of %s.\n", n, args[0])
				return nil
			})
		},
	})

	return cmd
}

func withCache(root *rootFlags, fn func(*thumbcache.Cache) error) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	path := cfg.CachePath()
	if path == "" {
		return errors.New("the persistent thumbnail cache is disabled in the config")
	}

	c, err := thumbcache.New(thumbcache.WithPersistentPath(path))
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}
