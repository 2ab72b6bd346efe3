package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"rollcall/internal/domain/auth"
)

// TokenOptions holds flags for the token command.
type TokenOptions struct {
	*RootOptions
	UserID   string
	DeviceID string
	Roles    []string
	TTL      time.Duration
}

// TokenResult is a minted bearer token.
type TokenResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for a sync client",
		Long: `Sign an access token with the configured SYNC_JWT_SECRET.

Examples:
  syncctl token --user coach-1 --device tablet-3
  syncctl token --user qa --ttl 1h --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.UserID, "user", "", "user id (required)")
	_ = cmd.MarkFlagRequired("user")
	cmd.Flags().StringVar(&opts.DeviceID, "device", "", "bind the token to a device id")
	cmd.Flags().StringSliceVar(&opts.Roles, "role", nil, "role to embed (repeatable)")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", 0, "token lifetime (defaults to SYNC_TOKEN_TTL)")

	return cmd
}

func runToken(cmd *cobra.Command, opts *TokenOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	jwtCfg := auth.JWTConfig{
		Secret:         cfg.Auth.JWTSecret,
		Issuer:         cfg.Auth.Issuer,
		AccessTokenTTL: cfg.Auth.TokenTTL,
	}
	if opts.TTL > 0 {
		jwtCfg.AccessTokenTTL = opts.TTL
	}

	token, expiresAt, err := auth.NewJWTService(jwtCfg).GenerateAccessToken(opts.UserID, opts.DeviceID, opts.Roles)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to sign token", err)
	}

	result := TokenResult{Token: token, ExpiresAt: expiresAt.UTC()}
	return opts.output(cmd).emit(result, func(w io.Writer) {
		fmt.Fprintln(w, result.Token)
	})
}
