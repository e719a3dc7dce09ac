package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	ma "github.com/panyam/microauth"
)

var tokenEmail string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a unique-url login token",
	Long: `Mint a passwordless login token. With --email the token belongs to that
identity, which is created when missing. Without it a new anonymous
identity is created.`,
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

		var email *string
		if cmd.Flags().Changed("email") {
			email = &tokenEmail
		}
		token, ok := ma.NewIdentityStore(cfg, records, logger).IssueUniqueURLToken(ctx, email)
		if !ok {
			return errors.New("could not mint token; is login.unique_url.enabled set?")
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "identity email")
	rootCmd.AddCommand(tokenCmd)
}
