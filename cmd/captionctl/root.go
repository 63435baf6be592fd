package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/therealutkarshpriyadarshi/captionforge/internal/database"
	"github.com/therealutkarshpriyadarshi/captionforge/pkg/models"
)

// adminStore is the slice of the database the operator commands need
type adminStore interface {
	Migrate(ctx context.Context) ([]string, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	ListCharges(ctx context.Context, userID string, limit int) ([]*models.UsageCharge, error)
	SetAllowedMinutes(ctx context.Context, userID string, minutes decimal.Decimal) (*models.User, error)
	Close()
}

type storeOpener func(ctx context.Context, configPath string) (adminStore, error)

func newRootCmd(open storeOpener) *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "captionctl",
		Short:         "Operator tooling for the caption pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "config.yaml"
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfig, "Path to the config file")

	withStore := func(cmd *cobra.Command, fn func(adminStore) error) error {
		store, err := open(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		defer store.Close()
		return fn(store)
	}

	rootCmd.AddCommand(
		newMigrateCmd(withStore),
		newUsageCmd(withStore),
		newAllowanceCmd(withStore),
	)

	return rootCmd
}

type storeRunner func(cmd *cobra.Command, fn func(adminStore) error) error

func newMigrateCmd(withStore storeRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(store adminStore) error {
				applied, err := store.Migrate(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(applied) == 0 {
					fmt.Fprintln(out, "schema is up to date")
					return nil
				}
				for _, name := range applied {
					fmt.Fprintf(out, "applied %s\n", name)
				}
				return nil
			})
		},
	}
}

func newUsageCmd(withStore storeRunner) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "usage <user-id>",
		Short: "Show a user's ledger and recent charges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store adminStore) error {
				user, err := store.GetUser(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				charges, err := store.ListCharges(cmd.Context(), user.ID, limit)
				if err != nil {
					return err
				}
				renderUsage(cmd.OutOrStdout(), user, charges)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of charges to show")

	return cmd
}

func newAllowanceCmd(withStore storeRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "allowance <user-id> <minutes>",
		Short: "Set a user's free-minute allowance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			minutes, err := decimal.NewFromString(args[1])
			if err != nil || minutes.IsNegative() {
				return fmt.Errorf("minutes must be a non-negative number, got %q", args[1])
			}

			return withStore(cmd, func(store adminStore) error {
				user, err := store.SetAllowedMinutes(cmd.Context(), args[0], minutes)
				if errors.Is(err, database.ErrAllowanceBelowUsage) {
					return fmt.Errorf("cannot set allowance to %s: user has already used free minutes above it", minutes)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "allowance for %s set to %s minutes (%s remaining)\n",
					user.ID, user.AllowedMinutes, user.FreeMinutesRemaining())
				return nil
			})
		},
	}
}

func renderUsage(w io.Writer, user *models.User, charges []*models.UsageCharge) {
	summary := table.NewWriter()
	summary.SetOutputMirror(w)
	summary.SetStyle(table.StyleRounded)
	summary.AppendRows([]table.Row{
		{"User", user.ID},
		{"Email", user.Email},
		{"Minutes consumed", user.MinutesConsumed.String()},
		{"Free minutes used", user.FreeMinutesUsed.String()},
		{"Allowed minutes", user.AllowedMinutes.String()},
		{"Free minutes remaining", user.FreeMinutesRemaining().String()},
		{"Total cost", user.TotalCost.StringFixed(2)},
	})
	summary.Render()

	if len(charges) == 0 {
		fmt.Fprintln(w, "no charges recorded")
		return
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"When", "Video", "Reason", "Minutes", "Free", "Billable", "Cost"})
	for _, c := range charges {
		tw.AppendRow(table.Row{
			c.CreatedAt.UTC().Format("2006-01-02 15:04"),
			c.VideoID,
			c.Reason,
			c.Minutes.String(),
			c.FreeMinutes.String(),
			c.BillableMinutes.String(),
			c.Cost.StringFixed(2),
		})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
	})
	tw.Render()
}
