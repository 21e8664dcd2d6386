package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/internal/invalidation"
)

func (a *App) newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the Redis result cache",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Print the number of cached entries",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := a.loadConfig()
				if err != nil {
					return err
				}
				store, closeFn, err := a.openCache(cfg)
				if err != nil {
					return fmt.Errorf("opening cache: %w", err)
				}
				defer closeFn()
				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Delete every cached entry",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := a.loadConfig()
				if err != nil {
					return err
				}
				store, closeFn, err := a.openCache(cfg)
				if err != nil {
					return fmt.Errorf("opening cache: %w", err)
				}
				defer closeFn()
				n, err := store.Clear(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "cleared %d entries\n", n)
				return nil
			},
		},
	)
	return cmd
}

func (a *App) newInvalidateCmd() *cobra.Command {
	var msg invalidation.Message
	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Publish a cache invalidation event",
		Long: `Invalidate publishes an event to the cache-invalidate topic. Every
running aggregator consumes it and drops the matching entries.

Examples:
  qdfctl invalidate --query kubernetes
  qdfctl invalidate --key 'qdf:kubernetes:eyJo...'
  qdfctl invalidate --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if msg.Kind() == "invalid" {
				return fmt.Errorf("one of --key, --query or --all is required")
			}
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			pub, closeFn, err := a.openPublisher(cfg)
			if err != nil {
				return fmt.Errorf("opening publisher: %w", err)
			}
			defer closeFn()
			if err := pub.Publish(cmd.Context(), msg); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "published %s invalidation\n", msg.Kind())
			return nil
		},
	}
	cmd.Flags().StringVar(&msg.Key, "key", "", "exact cache key to drop")
	cmd.Flags().StringVar(&msg.Query, "query", "", "query whose default-options entry to drop")
	cmd.Flags().BoolVar(&msg.All, "all", false, "drop every entry")
	cmd.MarkFlagsMutuallyExclusive("key", "query", "all")
	return cmd
}
