package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	apiFlag string
	rootCmd = &cobra.Command{
		Use:          "compendiumctl",
		Short:        "CLI client for the compendium service",
		SilenceUsage: true,
	}
)

func main() {
	rootCmd.PersistentFlags().StringVarP(&apiFlag, "api", "a", "http://localhost:8080", "Compendium service base URL")

	syncCmd := &cobra.Command{
		Use:   "sync [provider]",
		Short: "Run a full sync, or one provider's sync",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			types, _ := cmd.Flags().GetStringSlice("type")
			wait, _ := cmd.Flags().GetBool("wait")
			provider := ""
			if len(args) == 1 {
				provider = args[0]
			}
			return runSync(cmd.Context(), apiFlag, provider, types, wait, os.Stdout)
		},
	}
	syncCmd.Flags().StringSliceP("type", "t", nil, "Item types to sync (default all)")
	syncCmd.Flags().BoolP("wait", "w", false, "Block until the sync finishes and print results")
	rootCmd.AddCommand(syncCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show sync status and metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd.Context(), apiFlag, "/api/sync/status", os.Stdout)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "providers",
		Short: "Check upstream providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd.Context(), apiFlag, "/api/providers/health", os.Stdout)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the search index from the canonical store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPost(cmd.Context(), apiFlag, "/api/search/rebuild", nil, os.Stdout)
		},
	})

	searchCmd := &cobra.Command{
		Use:   "search <type> <query>",
		Short: "Search one item type",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), apiFlag, args[0], args[1], os.Stdout)
		},
	}
	rootCmd.AddCommand(searchCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show or bump the cache version",
		RunE: func(cmd *cobra.Command, args []string) error {
			bump, _ := cmd.Flags().GetBool("bump")
			if !bump {
				return runGet(cmd.Context(), apiFlag, "/api/cache/version", os.Stdout)
			}
			v, _ := cmd.Flags().GetString("set")
			var body any
			if v != "" {
				body = map[string]string{"version": v}
			}
			return runPost(cmd.Context(), apiFlag, "/api/cache/version", body, os.Stdout)
		},
	}
	versionCmd.Flags().Bool("bump", false, "Advance the cache version")
	versionCmd.Flags().String("set", "", "Explicit version to install with --bump")
	rootCmd.AddCommand(versionCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "invalidate",
		Short: "Purge server caches and tell clients to refetch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPost(cmd.Context(), apiFlag, "/api/cache/invalidate", nil, os.Stdout)
		},
	})

	rootCmd.AddCommand(newReplicaCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
