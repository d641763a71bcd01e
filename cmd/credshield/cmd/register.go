package cmd

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/credshield/client"
	"github.com/jmcleod/credshield/internal/util"
)

var registerCmd = &cobra.Command{
	Use:   "register <username> <email>",
	Short: "Create an account",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readSecret(cmd, "Password: ")
		if err != nil {
			return err
		}
		defer util.WipeBytes(password)
		confirm, err := readSecret(cmd, "Confirm password: ")
		if err != nil {
			return err
		}
		defer util.WipeBytes(confirm)
		if !bytes.Equal(password, confirm) {
			return errors.New("passwords do not match")
		}

		return withClient(cmd, func(c *client.Client) error {
			u, err := c.Register(cmd.Context(), args[0], args[1], password)
			if err != nil {
				return describe(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s (%s) id=%d\n", u.Username, u.Email, u.ID)
			return nil
		})
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check whether a username or email is available",
}

var checkUsernameCmd = &cobra.Command{
	Use:   "username <username>",
	Short: "Check username availability",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(c *client.Client) error {
			ok, err := c.ValidateUsername(cmd.Context(), args[0])
			return printAvailability(cmd, args[0], ok, err)
		})
	},
}

var checkEmailCmd = &cobra.Command{
	Use:   "email <email>",
	Short: "Check email availability",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(c *client.Client) error {
			ok, err := c.ValidateEmail(cmd.Context(), args[0])
			return printAvailability(cmd, args[0], ok, err)
		})
	},
}

func printAvailability(cmd *cobra.Command, value string, ok bool, err error) error {
	if err != nil {
		return describe(err)
	}
	if ok {
		fmt.Fprintf(cmd.OutOrStdout(), "%s is available\n", value)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "%s is taken\n", value)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(checkCmd)
	checkCmd.AddCommand(checkUsernameCmd)
	checkCmd.AddCommand(checkEmailCmd)
}
