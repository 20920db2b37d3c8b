package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hrygo/vecmem/internal/profile"
	"github.com/hrygo/vecmem/store"
)

func newCollectionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "collection",
		Aliases: []string{"col"},
		Short:   "Manage collections",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "create NAME",
			Short: "Create a collection (no-op if it exists)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd, func(ctx context.Context, s *store.Store, _ *profile.Profile) error {
					return s.CreateCollection(ctx, args[0])
				})
			},
		},
		&cobra.Command{
			Use:   "exists NAME",
			Short: "Print whether a collection exists",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd, func(ctx context.Context, s *store.Store, _ *profile.Profile) error {
					exists, err := s.CollectionExists(ctx, args[0])
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), exists)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List collections",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withStore(cmd, func(ctx context.Context, s *store.Store, _ *profile.Profile) error {
					for name, err := range s.ListCollections(ctx) {
						if err != nil {
							return err
						}
						fmt.Fprintln(cmd.OutOrStdout(), name)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "drop NAME",
			Short: "Drop a collection and all of its records (no-op if missing)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd, func(ctx context.Context, s *store.Store, _ *profile.Profile) error {
					return s.DropCollection(ctx, args[0])
				})
			},
		},
	)
	return cmd
}
