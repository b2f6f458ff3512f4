package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	jwtpkg "keyguard/backend/internal/auth/jwt"
	"keyguard/backend/internal/config"
)

// loadConfig 测试中可替换
var loadConfig = config.Load

func newTokenCmd() *cobra.Command {
	var (
		subject    string
		expiry     time.Duration
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin token for the management API",
		Long:  "Sign a bearer token with the admin role using KEYGUARD_ADMIN_SECRET.",
		Example: `  curl -H "Authorization: Bearer $(keyctl token)" http://localhost:8080/v1/api-keys`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !cmd.Flags().Changed("expiry") {
				expiry = cfg.Admin.TokenExpiry
			}

			manager := jwtpkg.NewManager(cfg.Admin.Secret, cfg.Admin.Issuer, expiry)
			token, err := manager.GenerateToken(subject, jwtpkg.RoleAdmin)
			if err != nil {
				return fmt.Errorf("generate token: %w", err)
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), token)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token.AccessToken)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "keyctl", "token subject recorded in request logs")
	cmd.Flags().DurationVar(&expiry, "expiry", time.Hour, "token lifetime")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}
