package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/anonfs/anonfs-go/internal/vault"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <username>",
		Short: "Authenticate with the vault",
		Args:  cobra.ExactArgs(1),
		RunE:  runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved session",
		RunE:  runLogout,
	}
}

func newRegisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register <username> <email>",
		Short: "Create a new vault account",
		Long: `Create a new vault account. Registration does not log you in —
run 'anonfs login' afterwards.`,
		Args: cobra.ExactArgs(2),
		RunE: runRegister,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the authenticated identity",
		RunE:  runWhoami,
	}
}

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// promptPassword reads a password without echo when stdin is a terminal,
// falling back to a plain line read for piped input.
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	if isatty.IsTerminal(os.Stdin.Fd()) {
		pw, err := readPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)

		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}

		return string(pw), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading password: %w", err)
	}

	return strings.TrimRight(line, "\r\n"), nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	username := args[0]
	logger := buildLogger()
	store, _ := buildClients(logger)

	password, err := promptPassword("Password: ")
	if err != nil {
		return err
	}

	ident, err := store.Login(cmd.Context(), username, password)
	if err != nil {
		switch {
		case errors.Is(err, vault.ErrInvalidCredentials):
			return fmt.Errorf("invalid username or password")
		case errors.Is(err, vault.ErrEndpointNotFound):
			return fmt.Errorf("server endpoint not found — check the server URL (%s)", resolvedCfg.ServerURL)
		case errors.Is(err, vault.ErrUnreachable):
			return fmt.Errorf("could not reach the vault at %s", resolvedCfg.ServerURL)
		default:
			return fmt.Errorf("login failed: %w", err)
		}
	}

	statusf("Logged in as %s.\n", ident.Username)

	return nil
}

func runLogout(_ *cobra.Command, _ []string) error {
	logger := buildLogger()
	store, _ := buildClients(logger)

	if err := store.Logout(); err != nil {
		return err
	}

	statusf("Logged out.\n")

	return nil
}

func runRegister(cmd *cobra.Command, args []string) error {
	username, email := args[0], args[1]
	logger := buildLogger()
	store, _ := buildClients(logger)

	password, err := promptPassword("Password: ")
	if err != nil {
		return err
	}

	confirm, err := promptPassword("Confirm password: ")
	if err != nil {
		return err
	}

	// Mismatch is caught before submission; no network call happens.
	if password != confirm {
		return fmt.Errorf("passwords do not match")
	}

	if err := store.Register(cmd.Context(), username, email, password); err != nil {
		var vErr *vault.ValidationError
		if errors.As(err, &vErr) {
			return fmt.Errorf("registration failed: %s", vErr.Message())
		}

		if errors.Is(err, vault.ErrUnreachable) {
			return fmt.Errorf("could not reach the vault at %s", resolvedCfg.ServerURL)
		}

		return fmt.Errorf("registration failed: %w", err)
	}

	statusf("Account %s created. Run 'anonfs login %s' to sign in.\n", username, username)

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	Username string `json:"username"`
}

func runWhoami(_ *cobra.Command, _ []string) error {
	logger := buildLogger()
	store, _ := buildClients(logger)

	ident, err := requireSession(store)
	if err != nil {
		return err
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(whoamiOutput{Username: ident.Username})
	}

	fmt.Printf("Logged in as %s\n", ident.Username)

	return nil
}
