// secret.go implements the "secret" command group: named credential storage
// on top of internal/secrets.Store's single-key AEAD codec. Each named
// secret gets its own encrypted file under <state_dir>/secrets/, following
// the same read-or-create idiom internal/estop/otp.go uses for its shared
// secret.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/zeroclaw-labs/zeroclaw-sub000/internal/secrets"
)

// namedSecretStore adapts secrets.Store's single encrypted value into a
// directory of independently named secrets.
type namedSecretStore struct {
	dir   string
	store *secrets.Store
}

func newNamedSecretStore(stateDir string) *namedSecretStore {
	dir := filepath.Join(stateDir, "secrets")
	return &namedSecretStore{dir: dir, store: secrets.New(stateDir, true)}
}

func (n *namedSecretStore) path(name string) string {
	return filepath.Join(n.dir, name+".secret")
}

func (n *namedSecretStore) Set(name, value string) error {
	if err := os.MkdirAll(n.dir, 0o700); err != nil {
		return fmt.Errorf("create secrets dir: %w", err)
	}
	encrypted, err := n.store.Encrypt(value)
	if err != nil {
		return fmt.Errorf("encrypt secret %q: %w", name, err)
	}
	if err := os.WriteFile(n.path(name), []byte(encrypted), 0o600); err != nil {
		return fmt.Errorf("write secret %q: %w", name, err)
	}
	return nil
}

func (n *namedSecretStore) Get(name string) (string, error) {
	raw, err := os.ReadFile(n.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("no secret named %q", name)
		}
		return "", fmt.Errorf("read secret %q: %w", name, err)
	}
	value, err := n.store.Decrypt(string(raw))
	if err != nil {
		return "", fmt.Errorf("decrypt secret %q: %w", name, err)
	}
	return value, nil
}

func buildSecretCmd() *cobra.Command {
	var stateDir string

	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage encrypted credentials used by providers and agents",
	}
	cmd.PersistentFlags().StringVar(&stateDir, "state-dir", ".zeroclaw", "Directory holding encrypted secret files")

	setCmd := &cobra.Command{
		Use:   "set <name> [value]",
		Short: "Store a named secret, encrypted at rest",
		Long: `Store a named secret, encrypted at rest.

If value is omitted, it is read from a masked terminal prompt instead of
the command line, so it never lands in shell history or a process listing.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value := ""
			if len(args) == 2 {
				value = args[1]
			} else {
				fmt.Fprint(cmd.OutOrStdout(), "value: ")
				raw, err := term.ReadPassword(int(os.Stdin.Fd()))
				fmt.Fprintln(cmd.OutOrStdout())
				if err != nil {
					return fmt.Errorf("read secret value: %w", err)
				}
				value = string(raw)
			}
			store := newNamedSecretStore(stateDir)
			if err := store.Set(args[0], value); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored secret %q\n", args[0])
			return nil
		},
	}

	getCmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Print a named secret's plaintext value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := newNamedSecretStore(stateDir)
			value, err := store.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}

	cmd.AddCommand(setCmd, getCmd)
	return cmd
}
