package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wereply/wereply/pkg/wereply/platform"
)

// newChatsCmd creates the `wereply chats` command.
func newChatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chats",
		Short: "List recent conversations",
		Long: `Lists the client's recent conversations, newest first.

Examples:
  wereply chats
  wereply chats --platform db`,
		RunE: runChats,
	}
}

func runChats(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	mgr, err := platform.New(cfg, logger)
	if err != nil {
		return err
	}
	defer mgr.Close()

	resp := mgr.ListRecentChats(cmd.Context())
	if !resp.OK {
		return fmt.Errorf("list chats: %s", resp.Message)
	}
	if len(resp.Data) == 0 {
		fmt.Println("No conversations found.")
		return nil
	}
	for _, chat := range resp.Data {
		kind := string(chat.Kind)
		if kind == "" {
			kind = "unknown"
		}
		fmt.Printf("%-8s %s\n", kind, chat.ChatTitle)
	}
	return nil
}
