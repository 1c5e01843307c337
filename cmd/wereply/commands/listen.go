package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wereply/wereply/pkg/wereply/automation"
	"github.com/wereply/wereply/pkg/wereply/platform"
)

// newListenCmd creates the `wereply listen` command.
func newListenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listen [chat...]",
		Short: "Watch conversations for incoming messages",
		Long: `Watches conversations and prints each new message as it arrives.
Without arguments every conversation is watched. Stop with Ctrl-C.

Examples:
  wereply listen
  wereply listen Alice "Project Group"
  wereply listen --interval 2s Alice`,
		RunE: runListen,
	}

	cmd.Flags().Duration("interval", 0, "poll interval (default from config)")
	return cmd
}

func runListen(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	mgr, err := platform.New(cfg, logger)
	if err != nil {
		return err
	}
	defer mgr.Close()

	interval, _ := cmd.Flags().GetDuration("interval")
	if interval <= 0 {
		interval = cfg.Automation.PollInterval()
	}

	names := args
	if len(names) == 0 {
		names = cfg.Listen.Targets
	}
	targets := make([]automation.ListenTarget, 0, len(names))
	for _, name := range names {
		targets = append(targets, automation.ListenTarget{Name: name})
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if resp := mgr.StartListening(ctx, targets); !resp.OK {
		return fmt.Errorf("start listening: %s", resp.Message)
	}
	defer func() {
		// Stop with a fresh context: ctx is already cancelled on Ctrl-C.
		if resp := mgr.StopListening(context.Background()); !resp.OK {
			logger.Warn("stop listening failed", "error", resp.Message)
		}
	}()

	if len(targets) == 0 {
		fmt.Println("Listening on all conversations. Ctrl-C to stop.")
	} else {
		fmt.Printf("Listening on %d conversation(s). Ctrl-C to stop.\n", len(targets))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case <-ticker.C:
			resp := mgr.PollLatestMessage(ctx)
			if !resp.OK {
				if resp.TimedOut {
					logger.Warn("poll abandoned", "error", resp.Message)
					continue
				}
				return fmt.Errorf("poll: %s", resp.Message)
			}
			if msg := resp.Data; msg != nil {
				stamp := time.Unix(msg.Timestamp, 0).Format("15:04:05")
				fmt.Printf("[%s] %s: %s\n", stamp, msg.ChatID, msg.Text)
			}
		}
	}
}
