package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"mindgrate/backend/internal/client"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session",
	Long: `Signs in with email and password. The password is read from
MINDCTL_PASSWORD or, when unset, from the first line of standard input.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		email, _ := cmd.Flags().GetString("email")
		if email == "" {
			return errors.New("--email is required")
		}
		password := os.Getenv("MINDCTL_PASSWORD")
		if password == "" {
			fmt.Fprint(cmd.ErrOrStderr(), "password: ")
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("reading password: %w", err)
			}
			password = strings.TrimRight(line, "\r\n")
		}

		var (
			tok *oauth2.Token
			err error
		)
		if supabaseConfigured() {
			gt, gerr := client.NewSupabaseAuth(v.GetString("supabase-url"), v.GetString("anon-key"))
			if gerr != nil {
				return gerr
			}
			tok, err = client.SignIn(gt, email, password)
		} else {
			tok, err = client.New(v.GetString("server"), nil).Login(cmd.Context(), email, password)
		}
		if err != nil {
			return err
		}
		if err := client.SaveToken(sessionPath(), tok); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s, session saved to %s\n", email, sessionPath())
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Revoke the session and remove it",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := newClient(cmd.Context())
		if err != nil && !errors.Is(err, client.ErrSessionExpired) {
			return err
		}
		if c != nil {
			if err := c.Logout(cmd.Context()); err != nil && !errors.Is(err, client.ErrSessionExpired) {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: revoking session:", err)
			}
		}
		if err := os.Remove(sessionPath()); err != nil && !os.IsNotExist(err) {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "signed out")
		return nil
	},
}

func init() {
	loginCmd.Flags().String("email", "", "Account email")
}
