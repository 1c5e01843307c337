package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wereply/wereply/pkg/wereply/config"
)

// newPathsCmd creates the `wereply paths` command.
func newPathsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "paths",
		Short: "Show the learned UI path status",
		Long: `Shows whether learned accessibility-tree paths are persisted for this
machine. Learned paths are tried before the built-in static paths when
the tree backend locates the session list, message list and input box.`,
		RunE: runPathsStatus,
	}

	cmd.AddCommand(newPathsClearCmd())
	return cmd
}

func runPathsStatus(_ *cobra.Command, _ []string) error {
	store, err := config.NewPathStore("")
	if err != nil {
		return err
	}
	status, err := store.Status()
	if err != nil {
		return err
	}
	if !status.Saved {
		fmt.Println("No learned UI paths saved; the static paths are used.")
		return nil
	}
	fmt.Printf("Learned UI paths saved (version %d).\n", status.Version)
	if status.SavedAt > 0 {
		fmt.Printf("Saved at:  %s\n", time.Unix(status.SavedAt, 0).Format(time.RFC3339))
	}
	fmt.Printf("Paths file: %s\n", status.PathsFile)
	if status.TreeFile != "" {
		fmt.Printf("Tree file:  %s\n", status.TreeFile)
	}
	return nil
}

func newPathsClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete the learned UI paths",
		RunE: func(_ *cobra.Command, _ []string) error {
			store, err := config.NewPathStore("")
			if err != nil {
				return err
			}
			if err := store.Clear(); err != nil {
				return err
			}
			fmt.Println("Learned UI paths removed.")
			return nil
		},
	}
}
