package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newCreditsCmd(rt *runtime) *cobra.Command {
	show := func(cmd *cobra.Command, args []string) error {
		n, err := rt.app.Credits.GetCredits(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), creditsBadge(n))
		return nil
	}
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Show the local credit balance used in direct mode",
		Args:  cobra.NoArgs,
		RunE:  show,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get",
			Short: "Print the local balance",
			Args:  cobra.NoArgs,
			RunE:  show,
		},
		&cobra.Command{
			Use:   "set <amount>",
			Short: "Overwrite the local balance",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid amount %q", args[0])
				}
				if err := rt.app.Credits.SetCredits(cmd.Context(), n); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), creditsBadge(n))
				return nil
			},
		},
		&cobra.Command{
			Use:   "deduct <amount>",
			Short: "Spend credits from the local balance",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid amount %q", args[0])
				}
				left, err := rt.app.Credits.DeductCredits(cmd.Context(), n)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), creditsBadge(left))
				return nil
			},
		},
	)
	return cmd
}
