package commands

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/wereply/wereply/pkg/wereply/config"
	"github.com/wereply/wereply/pkg/wereply/platform"
	"github.com/wereply/wereply/pkg/wereply/secrets"
)

// newSetupCmd creates the `wereply setup` command.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard to create your initial wereply.yaml.
Asks for the automation backend, data location and polling settings.
The API key, if provided, goes into the OS keyring — never into the file.

Examples:
  wereply setup`,
		RunE: runSetup,
	}
}

func runSetup(cmd *cobra.Command, _ []string) error {
	cfg := config.DefaultConfig()
	pollMS := strconv.Itoa(cfg.Automation.PollIntervalMS)
	instrument := !cfg.Recovery.DisableInstrumentation
	apiKey := ""

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Automation backend").
				Description("auto picks by host OS").
				Options(
					huh.NewOption("auto (recommended)", "auto"),
					huh.NewOption("tree — macOS accessibility tree", "tree"),
					huh.NewOption("agent — helper process drives the UI", "agent"),
					huh.NewOption("db — read the databases directly", "db"),
				).
				Value(&cfg.Platform),
			huh.NewInput().
				Title("Data home").
				Description("user home containing the client data; empty = detect").
				Value(&cfg.DataHome),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Poll interval (ms)").
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n < 100 {
						return fmt.Errorf("enter a number of at least 100")
					}
					return nil
				}).
				Value(&pollMS),
			huh.NewConfirm().
				Title("Allow dynamic UI scanning?").
				Description("full-tree scans when the known paths stop resolving").
				Value(&cfg.Automation.AllowDynamicScan),
			huh.NewConfirm().
				Title("Allow live process instrumentation?").
				Description("used only when key recovery needs it").
				Value(&instrument),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("API key (optional)").
				EchoMode(huh.EchoModePassword).
				Value(&apiKey),
		),
	)

	if err := form.Run(); err != nil {
		return err
	}

	cfg.Automation.PollIntervalMS, _ = strconv.Atoi(pollMS)
	cfg.Recovery.DisableInstrumentation = !instrument

	if err := pickListenTargets(cmd, cfg); err != nil {
		return err
	}

	path := "wereply.yaml"
	if err := config.SaveToFile(cfg, path); err != nil {
		return err
	}
	fmt.Printf("Configuration written to %s.\n", path)

	if apiKey != "" {
		store := secrets.NewStore(cfg.Keyring.Service, nil)
		if err := store.Set(secrets.NameAPIKey, apiKey); err != nil {
			return fmt.Errorf("store API key: %w", err)
		}
		fmt.Println("API key stored in the OS keyring.")
	}
	return nil
}

// pickListenTargets offers the live conversation list as a multi-select
// for the default watch set. When the backend cannot list chats yet (no
// key, client not running) the step is skipped, not failed.
func pickListenTargets(cmd *cobra.Command, cfg *config.Config) error {
	mgr, err := platform.New(cfg, nil)
	if err != nil {
		fmt.Printf("Skipping conversation selection: %v\n", err)
		return nil
	}
	defer mgr.Close()
	resp := mgr.ListRecentChats(cmd.Context())
	if !resp.OK || len(resp.Data) == 0 {
		fmt.Println("Skipping conversation selection: no conversations available yet.")
		return nil
	}

	options := make([]huh.Option[string], 0, len(resp.Data))
	for _, chat := range resp.Data {
		options = append(options, huh.NewOption(chat.ChatTitle, chat.ChatTitle))
	}
	var picked []string
	form := huh.NewForm(huh.NewGroup(
		huh.NewMultiSelect[string]().
			Title("Conversations to watch").
			Description("empty selection watches everything").
			Options(options...).
			Value(&picked),
	))
	if err := form.Run(); err != nil {
		return err
	}
	cfg.Listen.Targets = picked
	return nil
}
