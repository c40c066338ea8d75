package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/darkden-lab/argus-tracker/internal/auth"
	"github.com/darkden-lab/argus-tracker/internal/config"
)

func newTokenCmd() *cobra.Command {
	var (
		userID int64
		name   string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development token signed with JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID <= 0 {
				return fmt.Errorf("--user-id must be positive")
			}
			token, err := auth.NewJWTService(config.Load().JWTSecret).GenerateToken(userID, name)
			if err != nil {
				return fmt.Errorf("failed to sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user-id", 0, "user the token is issued to")
	cmd.Flags().StringVar(&name, "name", "", "display name carried in the token")
	return cmd
}
