package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nguyentranbao-ct/omni-inbox/internal/app"
	"github.com/nguyentranbao-ct/omni-inbox/internal/config"
	"github.com/nguyentranbao-ct/omni-inbox/internal/kafka"
	"github.com/nguyentranbao-ct/omni-inbox/internal/server"
	"github.com/nguyentranbao-ct/omni-inbox/internal/server/middleware"
	"github.com/nguyentranbao-ct/omni-inbox/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:           "omni-inbox",
	Short:         "Agent console backend for the omnichannel inbox",
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		app.Invoke(
			server.StartServer,
			kafka.StartConsumeMessages,
		).Run()
	},
}

var tokenOpts struct {
	subject string
	name    string
	ttl     time.Duration
}

// tokenCmd signs an agent token with AUTH_JWT_SECRET, for local use.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Sign an agent access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		var auth config.AuthConfig
		if err := env.ParseWithOptions(&auth, env.Options{Prefix: "AUTH_"}); err != nil {
			return err
		}
		now := time.Now()
		token, err := middleware.SignToken(auth.JWTSecret, middleware.Claims{
			Name: tokenOpts.name,
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   tokenOpts.subject,
				ID:        uuid.NewString(),
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(tokenOpts.ttl)),
			},
		})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
		return err
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenOpts.subject, "sub", "", "agent id")
	tokenCmd.Flags().StringVar(&tokenOpts.name, "name", "", "agent display name")
	tokenCmd.Flags().DurationVar(&tokenOpts.ttl, "ttl", 12*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("sub")
	rootCmd.AddCommand(tokenCmd)
}

func Execute() {
	defer logger.Sync()
	if err := rootCmd.Execute(); err != nil {
		logger.MustNamed("cmd").Errorw("command failed", "error", err)
		logger.Sync()
		os.Exit(1)
	}
}
