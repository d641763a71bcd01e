package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/credshield/client"
	"github.com/jmcleod/credshield/internal/util"
)

var loginCmd = &cobra.Command{
	Use:   "login [username]",
	Short: "Log in and store the session",
	Long: `Log in to the auth server. The password is read without echo from the terminal,
or as one line from stdin when input is piped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var username string
		if len(args) == 1 {
			username = args[0]
		} else {
			u, err := prompt(cmd, "Username: ")
			if err != nil {
				return err
			}
			username = u
		}
		password, err := readSecret(cmd, "Password: ")
		if err != nil {
			return err
		}
		defer util.WipeBytes(password)

		return withClient(cmd, func(c *client.Client) error {
			sess, err := c.Login(cmd.Context(), username, password)
			if err != nil {
				return describe(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s)\n", sess.User.Username, sess.User.Email)
			return nil
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(c *client.Client) error {
			if err := c.Logout(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		})
	},
}

var remoteWhoami bool

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged-in user",
	Long:  `Show the user of the stored session. With --remote the server is asked, which also checks that the token is still accepted.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(c *client.Client) error {
			if !remoteWhoami {
				u, ok := c.CurrentUser()
				if !ok {
					return describe(&client.Error{Op: "whoami", Kind: client.KindNotLoggedIn})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) id=%d\n", u.Username, u.Email, u.ID)
				return nil
			}
			u, err := c.Me(cmd.Context())
			if err != nil {
				return describe(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) id=%d\n", u.Username, u.Email, u.ID)
			return nil
		})
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Exchange the stored token for a fresh one",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(c *client.Client) error {
			sess, err := c.Refresh(cmd.Context())
			if err != nil {
				return describe(err)
			}
			if sess.ExpiresAt.IsZero() {
				fmt.Fprintln(cmd.OutOrStdout(), "Session refreshed")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Session refreshed, expires %s\n", sess.ExpiresAt.Local().Format("2006-01-02 15:04:05"))
			}
			return nil
		})
	},
}

// describe turns a client error into a message fit for the terminal.
func describe(err error) error {
	switch client.KindOf(err) {
	case client.KindAuthenticationRejected:
		var ce *client.Error
		if errors.As(err, &ce) && ce.Detail != "" {
			return fmt.Errorf("rejected: %s", ce.Detail)
		}
		return fmt.Errorf("rejected by server")
	case client.KindNetwork:
		return fmt.Errorf("could not reach the server, try again: %w", err)
	case client.KindServer:
		return fmt.Errorf("the server failed to handle the request: %w", err)
	case client.KindNotLoggedIn:
		return fmt.Errorf("not logged in")
	default:
		return err
	}
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(refreshCmd)
	whoamiCmd.Flags().BoolVar(&remoteWhoami, "remote", false, "Ask the server instead of reading the local session")
}
