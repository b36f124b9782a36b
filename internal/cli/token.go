package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kcgate/kcgate/internal/authn"
	"github.com/kcgate/kcgate/internal/oidc"
)

// ErrRejected is returned when a token fails validation.
var ErrRejected = errors.New("token rejected")

func newTokenCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Inspect bearer tokens",
	}
	cmd.AddCommand(newTokenInspectCmd(opts))
	cmd.AddCommand(newTokenDecodeCmd())
	return cmd
}

func newTokenInspectCmd(opts *rootOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "inspect <token>",
		Short: "Validate a token against the issuer's keys and print the resulting identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.issuer == "" {
				return fmt.Errorf("token inspect: --issuer is required")
			}
			hc := &http.Client{Timeout: timeout}
			md, err := oidc.Discover(cmd.Context(), opts.issuer, hc)
			if err != nil {
				return fmt.Errorf("token inspect: %w", err)
			}
			o := authn.DefaultOptions(opts.issuer, opts.clientID)
			if opts.audience != "" {
				o.Audience = opts.audience
				o.ValidateAudience = true
			}
			a, err := authn.New(oidc.NewKeyCache(md.JWKSURI, oidc.WithHTTPClient(hc)), o)
			if err != nil {
				return err
			}
			id, err := a.Authenticate(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "rejected: %s\n", authn.Reason(err))
				fmt.Fprintf(cmd.ErrOrStderr(), "details: %v\n", err)
				return ErrRejected
			}
			return writeJSON(cmd.OutOrStdout(), id)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "HTTP timeout for discovery and key fetches")
	return cmd
}

func newTokenDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <token>",
		Short: "Print a token's claims without verifying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			claims, err := oidc.ParseUnverified(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("token decode: %w", err)
			}
			if exp, err := oidc.ExpiresAt(strings.TrimSpace(args[0])); err == nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "expires: %s (%s)\n", exp.UTC().Format(time.RFC3339), expiryHint(exp))
			}
			return writeJSON(cmd.OutOrStdout(), claims)
		},
	}
}

func expiryHint(exp time.Time) string {
	d := time.Until(exp).Round(time.Second)
	if d <= 0 {
		return "expired " + (-d).String() + " ago"
	}
	return "in " + d.String()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
