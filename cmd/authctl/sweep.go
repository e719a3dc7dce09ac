package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	ma "github.com/panyam/microauth"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired and unreadable session records",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		records, closeRecords, err := openRecords(ctx)
		if err != nil {
			return err
		}
		defer closeRecords()

		var dropped int64
		if e, ok := records.(expirer); ok {
			if dropped, err = e.DeleteExpired(ctx, ma.CollectionSessions, time.Now()); err != nil {
				return err
			}
		}
		removed, err := ma.NewSessionManager(cfg, records, logger).CleanupExpiredSessions(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d sessions\n", int64(removed)+dropped)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
