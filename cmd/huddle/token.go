package main

import (
	"errors"
	"fmt"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/infrastructure/identity"
	"huddle/pkg/config"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	flagTokenUserID string
	flagTokenEmail  string
	flagTokenName   string
	flagTokenTTL    time.Duration
)

// tokenCmd issues development tokens for a backend that shares
// identity.dev_secret.
var tokenCmd = &cobra.Command{
	Use:    "token",
	Short:  "Issue a development identity token",
	Args:   cobra.NoArgs,
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load(flagEnvFile)
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return err
		}
		if cfg.Identity.DevSecret == "" {
			return errors.New("identity.dev_secret is not set")
		}

		token, err := identity.NewVerifier(cfg.Identity.DevSecret, flagTokenTTL).Issue(domain.User{
			ID:    domain.UserID(flagTokenUserID),
			Email: flagTokenEmail,
			Name:  flagTokenName,
		})
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&flagTokenUserID, "user-id", "", "subject of the token")
	tokenCmd.Flags().StringVar(&flagTokenEmail, "email", "", "email claim")
	tokenCmd.Flags().StringVar(&flagTokenName, "name", "", "name claim")
	tokenCmd.Flags().DurationVar(&flagTokenTTL, "ttl", 12*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user-id")
}
