package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/digkill/ProduktStudio/internal/session"
)

func newLoginCmd(rt *runtime) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the account backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" || password == "" {
				return errors.New("--email and --password are required")
			}
			if err := rt.app.Session.Login(cmd.Context(), email, password); err != nil {
				return err
			}
			printUser(cmd, rt.app.Session)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	return cmd
}

func newRegisterCmd(rt *runtime) *cobra.Command {
	var email, username, password string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and log in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" || username == "" || password == "" {
				return errors.New("--email, --username and --password are required")
			}
			if err := rt.app.Session.Register(cmd.Context(), email, username, password); err != nil {
				return err
			}
			printUser(cmd, rt.app.Session)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&username, "username", "", "Display name")
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	return cmd
}

func newLogoutCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.app.Session.Logout(cmd.Context())
		},
	}
}

func newMeCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show the logged-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := rt.backendApp(cmd)
			if err != nil {
				return err
			}
			if app.Session.State() != session.StateAuthenticated {
				return session.ErrNotAuthenticated
			}
			printUser(cmd, app.Session)
			return nil
		},
	}
}

func printUser(cmd *cobra.Command, s *session.Session) {
	user := s.User()
	if user == nil {
		return
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, headerStyle.Render(user.Username))
	printField(out, "Email", user.Email)
	printField(out, "Plan", user.PlanName())
	if user.SubscriptionStatus != "" {
		printField(out, "Status", user.SubscriptionStatus)
	}
	printField(out, "Used this month", strconv.Itoa(user.MonthlyCreditsUsed))
	fmt.Fprintf(out, "%s %s\n", labelStyle.Render(fmt.Sprintf("%-14s", "Credits:")), creditsBadge(user.Credits))
}
