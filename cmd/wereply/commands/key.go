package commands

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wereply/wereply/pkg/wereply/keyrecovery"
	"github.com/wereply/wereply/pkg/wereply/secrets"
)

// newKeyCmd creates the `wereply key` command group.
func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage the database encryption key",
		Long: `Manages the client's database encryption key. The key is recovered
automatically when possible and persisted in the OS keyring.

Examples:
  wereply key show
  wereply key set
  wereply key clear`,
	}

	cmd.AddCommand(
		newKeyShowCmd(),
		newKeySetCmd(),
		newKeyClearCmd(),
	)

	return cmd
}

func newKeyShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Recover and print the database key",
		Long: `Runs the recovery chain (keyring, live instrumentation, login-store
scan) and prints the key as hex. Prints nothing else, so the output can
be piped.`,
		RunE: runKeyShow,
	}
	cmd.Flags().Bool("no-instrument", false, "skip live process instrumentation")
	return cmd
}

func runKeyShow(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if skip, _ := cmd.Flags().GetBool("no-instrument"); skip {
		cfg.Recovery.DisableInstrumentation = true
	}

	layout, err := keyrecovery.DiscoverLayout(cfg.DataHome)
	if err != nil {
		return err
	}
	store := secrets.NewStore(cfg.Keyring.Service, logger)
	var fetcher keyrecovery.KeyFetcher
	if !cfg.Recovery.DisableInstrumentation {
		fetcher = keyrecovery.NewInstrumentor(logger)
	}
	engine := keyrecovery.NewEngine(layout, store, fetcher, logger)

	key, err := engine.EnsureKey(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Println(hex.EncodeToString(key))
	return nil
}

func newKeySetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set",
		Short: "Store a known database key in the OS keyring",
		Long: `Prompts for a hex-encoded key (input is hidden) and stores it in the
OS keyring. The key is validated against the session database first when
the client's data tree is present.`,
		RunE: runKeySet,
	}
}

func runKeySet(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	fmt.Fprint(os.Stderr, "Database key (hex): ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("read key: %w", err)
	}
	key, err := hex.DecodeString(string(raw))
	if err != nil {
		return fmt.Errorf("key is not valid hex: %w", err)
	}
	if len(key) != secrets.DatabaseKeySize && len(key) != secrets.DatabaseKeyShortSize {
		return fmt.Errorf("key must be %d or %d bytes, got %d",
			secrets.DatabaseKeySize, secrets.DatabaseKeyShortSize, len(key))
	}

	if layout, err := keyrecovery.DiscoverLayout(cfg.DataHome); err == nil {
		if err := validateAgainstSession(layout, key); err != nil {
			return fmt.Errorf("key rejected by session database: %w", err)
		}
	} else {
		logger.Warn("client data tree not found, storing key unvalidated", "error", err)
	}

	store := secrets.NewStore(cfg.Keyring.Service, logger)
	if err := store.SaveDatabaseKey(key); err != nil {
		return err
	}
	fmt.Println("Key stored in the OS keyring.")
	return nil
}

func validateAgainstSession(layout keyrecovery.Layout, key []byte) error {
	plain, err := keyrecovery.IsPlaintext(layout.SessionDB)
	if err != nil {
		return err
	}
	if plain {
		// Nothing to validate against; accept.
		return nil
	}
	_, err = keyrecovery.ValidateKey(layout.SessionDB, key)
	return err
}

func newKeyClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored database key from the OS keyring",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store := secrets.NewStore(cfg.Keyring.Service, logger)
			if err := store.Delete(secrets.NameDatabaseKey); err != nil {
				return err
			}
			fmt.Println("Key removed.")
			return nil
		},
	}
}
