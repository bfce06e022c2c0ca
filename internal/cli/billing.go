package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPlansCmd(rt *runtime) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "plans",
		Short: "List subscription plans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			plans, err := rt.app.Payments.Plans(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if done, err := writeStructured(out, format, plans); done {
				return err
			}
			tw := newTable(out)
			fmt.Fprintln(tw, "ID\tNAME\tPRICE\tCREDITS/MONTH")
			for _, p := range plans {
				fmt.Fprintf(tw, "%s\t%s\t%s %s\t%d\n", p.ID, p.Name, p.Price.StringFixed(2), p.Currency, p.MonthlyCredits)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "Output format: table, yaml or json")
	return cmd
}

func newCheckoutCmd(rt *runtime) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "checkout <plan-id>",
		Short: "Open a checkout session for a plan",
		Long: `Checkout prints the payment URL for the plan. With --wait it then polls
the session until the payment completes and the subscription is active.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := rt.backendApp(cmd)
			if err != nil {
				return err
			}
			checkout, err := app.Payments.Checkout(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printField(out, "Checkout URL", checkout.URL)
			printField(out, "Session", checkout.SessionID)
			if !wait {
				return nil
			}
			return activate(cmd, rt, checkout.SessionID)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the payment to complete")
	return cmd
}

func newActivateCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "activate <session-id>",
		Short: "Wait for a checkout session to be paid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := rt.backendApp(cmd); err != nil {
				return err
			}
			return activate(cmd, rt, args[0])
		},
	}
}

func activate(cmd *cobra.Command, rt *runtime, sessionID string) error {
	status, err := rt.app.Payments.Activate(cmd.Context(), sessionID)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	printField(out, "Payment", string(status.PaymentStatus))
	if !status.Amount.IsZero() {
		printField(out, "Amount", status.Amount.StringFixed(2)+" "+status.Currency)
	}
	if user := rt.app.Session.User(); user != nil {
		printField(out, "Plan", user.PlanName())
		fmt.Fprintf(out, "%s %s\n", labelStyle.Render(fmt.Sprintf("%-14s", "Credits:")), creditsBadge(user.Credits))
	}
	return nil
}
