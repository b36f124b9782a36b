package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kcgate/kcgate/internal/identity"
	"github.com/kcgate/kcgate/internal/policy"
)

// ErrDenied is returned by "policy check" when the roles do not satisfy the policy.
var ErrDenied = errors.New("policy denied")

func newPolicyCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Evaluate role policies",
	}
	cmd.AddCommand(newPolicyCheckCmd(opts))
	cmd.AddCommand(newPolicyListCmd(opts))
	return cmd
}

func newPolicyCheckCmd(opts *rootOptions) *cobra.Command {
	var roles []string
	cmd := &cobra.Command{
		Use:   "check <policy>",
		Short: "Report whether a set of roles satisfies a policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := opts.policySet()
			if err != nil {
				return err
			}
			id := &identity.Identity{Subject: "cli", Roles: identity.NewRoleSet(roles...)}
			err = set.Evaluate(args[0], id)
			switch {
			case err == nil:
				fmt.Fprintf(cmd.OutOrStdout(), "allowed: %s accepts %s\n", args[0], strings.Join(set.Roles(args[0]), ","))
				return nil
			case errors.Is(err, policy.ErrUnknownPolicy):
				return fmt.Errorf("policy check: %w (known: %s)", err, strings.Join(set.Names(), ", "))
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "denied: %s requires one of %s\n", args[0], strings.Join(set.Roles(args[0]), ","))
				return ErrDenied
			}
		},
	}
	cmd.Flags().StringSliceVar(&roles, "roles", nil, "Comma-separated roles held by the caller")
	return cmd
}

func newPolicyListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the configured policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			set, err := opts.policySet()
			if err != nil {
				return err
			}
			for _, name := range set.Names() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", name, strings.Join(set.Roles(name), ","))
			}
			return nil
		},
	}
}

// policySet builds policies the same way the gateway does.
func (o *rootOptions) policySet() (*policy.Set, error) {
	defs, err := policy.Resolve(o.policyFile, o.policies)
	if err != nil {
		return nil, err
	}
	return policy.NewSet(defs)
}
