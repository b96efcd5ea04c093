package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var sendDirect string

var sendCmd = &cobra.Command{
	Use:   "send [conversation-id] [text...]",
	Short: "Send a message to a conversation (or a peer with --to)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()
		if err := c.Start(ctx); err != nil {
			return err
		}
		defer c.Close()

		var convID string
		var text string
		if sendDirect != "" {
			text = strings.Join(args, " ")
			v, err := c.OpenDirect(ctx, sendDirect)
			if err != nil {
				return err
			}
			convID = v.Conversation()
		} else {
			if len(args) < 2 {
				return fmt.Errorf("usage: send <conversation-id> <text>")
			}
			convID = args[0]
			text = strings.Join(args[1:], " ")
		}

		v, err := c.Open(ctx, convID)
		if err != nil {
			return err
		}
		m, err := v.Send(ctx, text)
		if err != nil {
			return err
		}
		fmt.Printf("sent %s\n", m.ID)
		return nil
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendDirect, "to", "", "peer user id; resolves the direct conversation")
	rootCmd.AddCommand(sendCmd)
}
