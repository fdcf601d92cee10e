package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/gbdevw/gowsengine/internal/config"
	"github.com/gbdevw/gowsengine/wsauth"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token <userId>",
	Short: "Issue a signed token for a user. The secret is read from " + config.EnvJwtSecret + ".",
	Args:  cobra.ExactArgs(1),
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().Duration("ttl", time.Hour, "Token lifetime. 0 issues a token which never expires.")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if cfg.Auth.JwtSecret == "" {
		return errors.New(config.EnvJwtSecret + " is not set")
	}
	ttl, err := cmd.Flags().GetDuration("ttl")
	if err != nil {
		return err
	}
	token, err := wsauth.IssueToken([]byte(cfg.Auth.JwtSecret), args[0], cfg.Auth.JwtIssuer, cfg.Auth.JwtAudience, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
