// Package commands implements the wereply CLI commands using cobra.
package commands

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/wereply/wereply/pkg/wereply/config"
)

// NewRootCmd creates the CLI root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "wereply",
		Short: "wereply - chat client automation and message access",
		Long: `wereply drives a desktop chat client: it lists conversations, watches
for incoming messages, writes replies, and reads the client's encrypted
message databases directly when UI automation is unavailable.

Examples:
  wereply chats
  wereply listen Alice "Project Group"
  wereply send Alice "on my way"
  wereply key show`,
		Version: version,
	}

	rootCmd.AddCommand(
		newChatsCmd(),
		newListenCmd(),
		newSendCmd(),
		newKeyCmd(),
		newPathsCmd(),
		newSetupCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringP("platform", "p", "", "backend to use: auto, tree, agent or db")

	return rootCmd
}

// loadConfig resolves the configuration and logger for a command run. The
// --verbose flag forces debug-level logging regardless of the config.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.Logging.Level = "debug"
	}
	if name, _ := cmd.Flags().GetString("platform"); name != "" {
		cfg.Platform = name
	}
	return cfg, cfg.Logging.Logger(os.Stderr), nil
}
