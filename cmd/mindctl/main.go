// Command mindctl is a command line client for the Mindgrate API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/oauth2"

	"mindgrate/backend/internal/client"
	"mindgrate/backend/internal/logging"
)

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:          "mindctl",
	Short:        "Command line client for Mindgrate",
	SilenceUsage: true,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.String("server", "http://localhost:8080", "Mindgrate API base URL")
	f.String("session", defaultSessionPath(), "File holding the signed-in session")
	f.String("supabase-url", "", "Supabase project URL, used to sign in and refresh directly")
	f.String("anon-key", "", "Supabase anon key")
	f.String("log-level", "warn", "Log level for background commands")

	v.SetEnvPrefix("MINDCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlags(f)
	_ = v.BindEnv("supabase-url", "MINDCTL_SUPABASE_URL", "SUPABASE_URL")
	_ = v.BindEnv("anon-key", "MINDCTL_ANON_KEY", "SUPABASE_ANON_KEY")

	rootCmd.AddCommand(loginCmd, logoutCmd, mindopCmd, askCmd, searchCmd, followCmd, collabCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, client.ErrSessionExpired) {
			err = fmt.Errorf("%w (run `mindctl login`)", err)
		}
		_, _ = fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func defaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "mindgrate", "session.json")
}

func sessionPath() string { return v.GetString("session") }

func supabaseConfigured() bool {
	return v.GetString("supabase-url") != "" && v.GetString("anon-key") != ""
}

// newClient returns an authenticated client for the stored session.
// Refreshed tokens are written back to the session file.
func newClient(ctx context.Context) (*client.Client, error) {
	tok, err := client.LoadToken(sessionPath())
	if err != nil {
		return nil, err
	}

	server := v.GetString("server")
	var refresher client.Refresher
	if supabaseConfigured() {
		gt, err := client.NewSupabaseAuth(v.GetString("supabase-url"), v.GetString("anon-key"))
		if err != nil {
			return nil, err
		}
		refresher = gt
	} else {
		refresher = client.New(server, nil).APIRefresher(ctx)
	}

	src := client.NewSessionSource(refresher, tok, func(t *oauth2.Token) {
		if err := client.SaveToken(sessionPath(), t); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, "warning: saving refreshed session:", err)
		}
	})
	return client.New(server, src), nil
}

func newLogger() *logging.Logger {
	return logging.NewLogger("DEV", v.GetString("log-level"))
}

func printJSON(w io.Writer, x any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(x)
}
