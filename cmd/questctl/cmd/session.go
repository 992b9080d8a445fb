package cmd

import (
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"go-quest-session/internal/model"
	"go-quest-session/internal/session"
)

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored session state without contacting the server",
		Args:  cobra.NoArgs,
		RunE: c.withSession(func(cmd *cobra.Command, m *session.Manager) error {
			out := cmd.OutOrStdout()
			printf(out, "status: %s\n", m.Snapshot().Status)
			if exp, ok := m.AccessTokenExpiry(); ok {
				printf(out, "access token expires: %s\n", exp.Local().Format(time.RFC1123))
			}
			return nil
		}),
	}
}

func (c *cli) loginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with an email or username",
		Args:  cobra.NoArgs,
		RunE: c.withSession(func(cmd *cobra.Command, m *session.Manager) error {
			email, _ := cmd.Flags().GetString("email")
			username, _ := cmd.Flags().GetString("username")

			profile, err := m.Login(cmd.Context(), session.Credentials{
				Email:    email,
				Username: username,
				Password: c.secret(cmd, "password"),
			})
			if err != nil {
				return err
			}
			printProfile(cmd, "logged in as", profile)
			return nil
		}),
	}
	cmd.Flags().String("email", "", "account email")
	cmd.Flags().String("username", "", "account username")
	cmd.Flags().String("password", "", "password (QUESTCTL_PASSWORD)")
	cmd.MarkFlagsMutuallyExclusive("email", "username")
	return cmd
}

func (c *cli) registerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account; a verification code is emailed",
		Args:  cobra.NoArgs,
		RunE: c.withSession(func(cmd *cobra.Command, m *session.Manager) error {
			flags := cmd.Flags()
			username, _ := flags.GetString("username")
			email, _ := flags.GetString("email")
			avatarPath, _ := flags.GetString("avatar")

			password := c.secret(cmd, "password")
			confirm, _ := flags.GetString("confirm-password")
			if confirm == "" {
				confirm = password
			}

			reg := session.Registration{
				Username:        username,
				Email:           email,
				Password:        password,
				ConfirmPassword: confirm,
			}
			if avatarPath != "" {
				data, err := os.ReadFile(avatarPath)
				if err != nil {
					return err
				}
				reg.Avatar = data
				reg.AvatarName = avatarPath
			}

			result, err := m.Register(cmd.Context(), reg)
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "%s\nrun: questctl verify --email %s --code <code>\n", result.Message, result.Email)
			return nil
		}),
	}
	cmd.Flags().String("username", "", "username")
	cmd.Flags().String("email", "", "email address")
	cmd.Flags().String("password", "", "password (QUESTCTL_PASSWORD)")
	cmd.Flags().String("confirm-password", "", "password confirmation, defaults to --password")
	cmd.Flags().String("avatar", "", "path to an avatar image")
	return cmd
}

func (c *cli) verifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Confirm an email address and start a session",
		Args:  cobra.NoArgs,
		RunE: c.withSession(func(cmd *cobra.Command, m *session.Manager) error {
			email, _ := cmd.Flags().GetString("email")
			code, _ := cmd.Flags().GetString("code")

			profile, err := m.VerifyEmail(cmd.Context(), email, code)
			if err != nil {
				return err
			}
			printProfile(cmd, "verified and logged in as", profile)
			return nil
		}),
	}
	cmd.Flags().String("email", "", "email address")
	cmd.Flags().String("code", "", "verification code from the email")
	return cmd
}

func (c *cli) resendCodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resend-code",
		Short: "Send a new verification code",
		Args:  cobra.NoArgs,
		RunE: c.withSession(func(cmd *cobra.Command, m *session.Manager) error {
			email, _ := cmd.Flags().GetString("email")
			msg, err := m.ResendVerificationCode(cmd.Context(), email)
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

func (c *cli) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Fetch the current user's profile",
		Args:  cobra.NoArgs,
		RunE: c.withSession(func(cmd *cobra.Command, m *session.Manager) error {
			profile, err := m.CurrentUser(cmd.Context())
			if err != nil {
				return err
			}
			printProfile(cmd, "logged in as", profile)
			return nil
		}),
	}
}

func (c *cli) refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token for a new access token",
		Args:  cobra.NoArgs,
		RunE: c.withSession(func(cmd *cobra.Command, m *session.Manager) error {
			if !m.IsAuthenticated() {
				return errors.New("not logged in")
			}
			if err := m.Refresh(cmd.Context()); err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "access token refreshed\n")
			return nil
		}),
	}
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and clear stored tokens",
		Args:  cobra.NoArgs,
		RunE: c.withSession(func(cmd *cobra.Command, m *session.Manager) error {
			if err := m.Logout(cmd.Context()); err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "logged out\n")
			return nil
		}),
	}
}

func printProfile(cmd *cobra.Command, prefix string, p *model.Profile) {
	out := cmd.OutOrStdout()
	if p == nil {
		printf(out, "%s (profile unavailable)\n", prefix)
		return
	}
	printf(out, "%s %s <%s>\nrole: %s  level: %d  xp: %d\n", prefix, p.Username, p.Email, p.Role, p.Level, p.XP)
}
