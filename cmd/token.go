package cmd

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/frahmantamala/storefront-payments/internal/auth"
	"github.com/spf13/cobra"
)

var (
	tokenSubject     string
	tokenPermissions string
	tokenTTL         time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an operator access token",
	Long:  `Issue a signed bearer token for operators calling protected endpoints such as refunds.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		var perms []string
		for _, p := range strings.Split(tokenPermissions, ",") {
			if p = strings.TrimSpace(p); p != "" {
				perms = append(perms, p)
			}
		}

		tokens := auth.NewJWTTokenGenerator(cfg.Security.JWTSecret, cfg.Security.JWTIssuer, tokenTTL)
		token, err := tokens.GenerateAccessToken(tokenSubject, perms)
		if err != nil {
			log.Fatalf("failed to issue token: %v", err)
		}
		fmt.Println(token)
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "Operator identifier recorded in refund audit notes")
	tokenCmd.Flags().StringVar(&tokenPermissions, "permissions", auth.PermissionRefundPayments, "Comma separated permissions")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "Token lifetime")
	_ = tokenCmd.MarkFlagRequired("subject")

	rootCmd.AddCommand(tokenCmd)
}
