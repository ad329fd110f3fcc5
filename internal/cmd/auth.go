package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Iron-Ham/odooctl/internal/api"
	"github.com/Iron-Ham/odooctl/internal/credentials"
	"github.com/Iron-Ham/odooctl/internal/errors"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store credentials",
	Long: `Sign in with email and password. The access and refresh tokens are
stored in the configured credential store (auth.store) and renewed
automatically when the access token expires.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAuthenticate(cmd, (*api.Client).Login, "Signed in as %s\n")
	},
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create the first account on a fresh backend",
	Args:  cobra.NoArgs,
	RunE:  runSetup,
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an additional account and sign in as it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAuthenticate(cmd, (*api.Client).Register, "Registered and signed in as %s\n")
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget stored credentials",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in account",
	Args:  cobra.NoArgs,
	RunE:  runWhoAmI,
}

var (
	authEmail         string
	authPasswordStdin bool
)

func init() {
	for _, c := range []*cobra.Command{loginCmd, setupCmd, registerCmd} {
		c.Flags().StringVarP(&authEmail, "email", "e", "", "account email (default: auth.email)")
		c.Flags().BoolVar(&authPasswordStdin, "password-stdin", false, "read the password from stdin")
	}
	rootCmd.AddCommand(loginCmd, setupCmd, registerCmd, logoutCmd, whoamiCmd)
}

type authFunc func(c *api.Client, ctx context.Context, creds api.Credentials) (credentials.Pair, error)

func runAuthenticate(cmd *cobra.Command, fn authFunc, done string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	creds, err := readCredentials(cmd, rt.cfg.Auth.Email)
	if err != nil {
		return err
	}
	if _, err := fn(rt.client, cmd.Context(), creds); err != nil {
		return rt.failed(err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), done, creds.Email)
	return nil
}

func runSetup(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	required, err := rt.client.SetupStatus(cmd.Context())
	if err != nil {
		return rt.failed(err)
	}
	if !required {
		return fmt.Errorf("%s is already set up; use `odooctl login` or `odooctl register`", rt.client.BaseURL())
	}

	creds, err := readCredentials(cmd, rt.cfg.Auth.Email)
	if err != nil {
		return err
	}
	if _, err := rt.client.Setup(cmd.Context(), creds); err != nil {
		return rt.failed(err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created first account %s and signed in\n", creds.Email)
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	if !rt.session.Credentials().Authenticated() {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Not signed in.")
		return nil
	}
	if err := rt.client.Logout(); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
	return nil
}

func runWhoAmI(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	user, err := rt.client.Me(cmd.Context())
	if err != nil {
		return rt.failed(err)
	}
	w := cmd.OutOrStdout()
	state := "active"
	if !user.IsActive {
		state = "inactive"
	}
	_, _ = fmt.Fprintf(w, "%s (user #%d, %s)\n", user.Email, user.ID, state)
	_, _ = fmt.Fprintf(w, "Backend: %s\n", rt.client.BaseURL())
	if exp, ok := rt.client.TokenExpiry(); ok {
		left := time.Until(exp).Round(time.Second)
		if left > 0 {
			_, _ = fmt.Fprintf(w, "Access token expires %s (in %s)\n", exp.Local().Format(time.DateTime), left)
		} else {
			_, _ = fmt.Fprintf(w, "Access token expired %s; it is renewed on the next request\n", exp.Local().Format(time.DateTime))
		}
	}
	return nil
}

// readCredentials collects email and password from flags, stdin or an
// interactive prompt.
func readCredentials(cmd *cobra.Command, defaultEmail string) (api.Credentials, error) {
	in := cmd.InOrStdin()
	reader := bufio.NewReader(in)
	interactive := isTerminal(in)

	email := authEmail
	if email == "" {
		email = defaultEmail
	}
	if email == "" {
		if !interactive {
			return api.Credentials{}, errors.NewValidationError("email is required (use --email)").WithField("email")
		}
		_, _ = fmt.Fprint(cmd.ErrOrStderr(), "Email: ")
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return api.Credentials{}, fmt.Errorf("failed to read email: %w", err)
		}
		email = strings.TrimSpace(line)
	}

	var password string
	switch {
	case authPasswordStdin || !interactive:
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return api.Credentials{}, fmt.Errorf("failed to read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	default:
		_, _ = fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		raw, err := term.ReadPassword(int(in.(*os.File).Fd()))
		_, _ = fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return api.Credentials{}, fmt.Errorf("failed to read password: %w", err)
		}
		password = string(raw)
	}

	creds := api.Credentials{Email: email, Password: password}
	return creds, creds.Validate()
}

// isTerminal reports whether r is an interactive terminal.
func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
