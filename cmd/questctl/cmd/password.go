package cmd

import (
	"github.com/spf13/cobra"

	"go-quest-session/internal/session"
)

func (c *cli) forgotPasswordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forgot-password",
		Short: "Email a password reset code",
		Args:  cobra.NoArgs,
		RunE: c.withSession(func(cmd *cobra.Command, m *session.Manager) error {
			email, _ := cmd.Flags().GetString("email")
			msg, err := m.RequestPasswordReset(cmd.Context(), email)
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "%s\n", msg)
			return nil
		}),
	}
	cmd.Flags().String("email", "", "email address")
	return cmd
}

func (c *cli) resetPasswordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Set a new password using an emailed reset code",
		Args:  cobra.NoArgs,
		RunE: c.withSession(func(cmd *cobra.Command, m *session.Manager) error {
			email, _ := cmd.Flags().GetString("email")
			code, _ := cmd.Flags().GetString("code")
			password := c.secret(cmd, "new-password")

			msg, err := m.ResetPassword(cmd.Context(), session.PasswordReset{
				Email:           email,
				ResetCode:       code,
				NewPassword:     password,
				ConfirmPassword: password,
			})
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "%s\n", msg)
			return nil
		}),
	}
	cmd.Flags().String("email", "", "email address")
	cmd.Flags().String("code", "", "reset code from the email")
	cmd.Flags().String("new-password", "", "new password (QUESTCTL_NEW_PASSWORD)")
	return cmd
}

func (c *cli) changePasswordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "change-password",
		Short: "Change the password of the logged-in user",
		Args:  cobra.NoArgs,
		RunE: c.withSession(func(cmd *cobra.Command, m *session.Manager) error {
			next := c.secret(cmd, "new-password")
			profile, err := m.ChangePassword(cmd.Context(), session.ChangePassword{
				CurrentPassword:    c.secret(cmd, "password"),
				NewPassword:        next,
				ConfirmNewPassword: next,
			})
			if err != nil {
				return err
			}
			printProfile(cmd, "password changed for", profile)
			return nil
		}),
	}
	cmd.Flags().String("password", "", "current password (QUESTCTL_PASSWORD)")
	cmd.Flags().String("new-password", "", "new password (QUESTCTL_NEW_PASSWORD)")
	return cmd
}
