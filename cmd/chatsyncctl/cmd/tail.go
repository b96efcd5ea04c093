package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"chatsync/pkg/models"
)

var tailHistory int

var tailCmd = &cobra.Command{
	Use:   "tail <conversation-id>",
	Short: "Print recent history then follow a conversation live",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if err := c.Start(ctx); err != nil {
			return err
		}
		defer c.Close()

		v, err := c.Open(ctx, args[0])
		if err != nil {
			return err
		}

		msgs := v.Messages()
		if n := len(msgs); n > tailHistory {
			msgs = msgs[n-tailHistory:]
		}
		seen := make(map[string]string, len(msgs))
		for _, m := range msgs {
			printMsg(m)
			seen[m.ID] = m.Text
		}

		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-sigc:
				return nil
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				for _, m := range v.Messages() {
					if prev, ok := seen[m.ID]; !ok || prev != m.Text {
						printMsg(m)
						seen[m.ID] = m.Text
					}
				}
			}
		}
	},
}

func printMsg(m models.Message) {
	ts := time.Unix(0, m.CreatedTS).Format("15:04:05")
	flag := ""
	if m.Provisional {
		flag = " (sending)"
	} else if m.Edited {
		flag = " (edited)"
	}
	fmt.Printf("[%s] %s: %s%s\n", ts, m.Author, m.Text, flag)
}

func init() {
	tailCmd.Flags().IntVar(&tailHistory, "history", 20, "messages of history to print before following")
	rootCmd.AddCommand(tailCmd)
}
