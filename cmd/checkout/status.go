package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

var statusAttempt string

var statusCmd = &cobra.Command{
	Use:   "status <intent_reference>",
	Short: "Verify a purchase once and print its status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		st, err := newClient().Verify(ctx, args[0], statusAttempt)
		if st != nil {
			printStatus(cmd.OutOrStdout(), st)
		}
		return err
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusAttempt, "attempt", "", "attempt reference, defaults to the latest attempt")
	rootCmd.AddCommand(statusCmd)
}
