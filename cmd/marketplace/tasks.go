package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tringuyen-psa/shopify-shop-sub002/internal/db"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/seed"
)

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, bus, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer bus.Close()
			conn, err := db.Connect(cmd.Context(), cfg.Database)
			if err != nil {
				return fmt.Errorf("migrate needs a database: %w", err)
			}
			defer conn.Close()
			if err := db.EnsureSchema(cmd.Context(), conn, schema()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%d statements)\n", len(schema()))
			return nil
		},
	}
}

func seedCmd(configPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create platform admins and set the default fee from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := seed.Load(file)
			if err != nil {
				return err
			}
			cfg, bus, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a := newApp(ctx, cfg, bus, connect(ctx, cfg.Database), nil)
			defer a.close(context.Background())
			if a.db == nil {
				return errors.New("seed needs a database")
			}
			res, err := seed.Apply(ctx, f, a.auth, a.fees)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d admin(s)", len(res.Admins))
			if res.DefaultFeePercent != "" {
				fmt.Fprintf(cmd.OutOrStdout(), ", default fee %s%%", res.DefaultFeePercent)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "platform.yaml", "Seed file")
	return cmd
}

func sweepCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire stale checkout sessions and mark lapsed subscriptions past_due once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, bus, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a := newApp(ctx, cfg, bus, connect(ctx, cfg.Database), nil)
			defer a.close(context.Background())
			if a.db == nil {
				return errors.New("sweep needs a database")
			}
			a.sweep(ctx)
			return nil
		},
	}
}
