package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wereply/wereply/pkg/wereply/platform"
)

// newSendCmd creates the `wereply send` command.
func newSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <chat> <text>",
		Short: "Write a message into a conversation's input box",
		Long: `Writes text into the input box of the named conversation. The text is
staged only; sending is left to the user.

Examples:
  wereply send Alice "on my way"`,
		Args: cobra.ExactArgs(2),
		RunE: runSend,
	}
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	mgr, err := platform.New(cfg, logger)
	if err != nil {
		return err
	}
	defer mgr.Close()

	if resp := mgr.WriteInput(cmd.Context(), args[0], args[1]); !resp.OK {
		return fmt.Errorf("write input: %s", resp.Message)
	}
	fmt.Printf("Staged message for %q.\n", args[0])
	return nil
}
