// Package cli implements kcgatectl, the operator tool for checking tokens and
// policies against the same rules the gateway applies.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	issuer     string
	clientID   string
	audience   string
	policies   string
	policyFile string
}

// NewRootCmd constructs the root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "kcgatectl",
		Short: "kcgatectl - inspect bearer tokens and evaluate role policies",
	}
	cmd.SilenceUsage = true
	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.issuer, "issuer", os.Getenv("KEYCLOAK_ISSUER"), "Expected token issuer (defaults to $KEYCLOAK_ISSUER)")
	pf.StringVar(&opts.clientID, "client-id", os.Getenv("KEYCLOAK_CLIENT_ID"), "Client whose roles are merged with realm roles")
	pf.StringVar(&opts.audience, "audience", "", "Require this audience")
	pf.StringVar(&opts.policies, "policies", os.Getenv("AUTHZ_POLICIES"), "Policies in the form Name=role,role;Other=role")
	pf.StringVar(&opts.policyFile, "policy-file", os.Getenv("AUTHZ_POLICY_FILE"), "YAML policy file")

	cmd.AddCommand(newTokenCmd(opts))
	cmd.AddCommand(newPolicyCmd(opts))
	return cmd
}

// Execute runs the CLI entrypoint.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
