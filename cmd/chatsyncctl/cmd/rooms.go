package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List your conversations, most recent activity first",
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

		rooms := c.Rooms().Snapshot()
		if len(rooms) == 0 {
			fmt.Println("no conversations")
			return nil
		}
		for _, r := range rooms {
			name := r.Name
			if !r.IsGroup {
				name = "direct"
			}
			last := ""
			if r.LastMessage != nil {
				last = r.LastMessage.Author + ": " + r.LastMessage.Text
				if len(last) > 60 {
					last = last[:57] + "..."
				}
			}
			fmt.Printf("%-28s  %-20s  %-8s  %s\n", r.ID, name,
				time.Unix(0, r.UpdatedTS).Format("15:04:05"), last)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(roomsCmd)
}
