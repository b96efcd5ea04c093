package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"chatsync/pkg/client"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	flagServer string
	flagUser   string
	flagKey    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chatsyncctl",
	Short: "chatsync CLI for conversations and messages",
	Long: `chatsyncctl talks to a chatsync server: list rooms, send messages,
and tail a conversation's live event stream.`,
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVarP(&flagServer, "server", "s", "http://127.0.0.1:8080", "server base URL")
	rootCmd.PersistentFlags().StringVarP(&flagUser, "user", "u", "", "user id (or CHATSYNC_USER)")
	rootCmd.PersistentFlags().StringVarP(&flagKey, "key", "k", "", "signing key (or CHATSYNC_KEY)")
}

// newClient builds a client from the global flags.
func newClient() (*client.Client, error) {
	user := flagUser
	if user == "" {
		user = os.Getenv("CHATSYNC_USER")
	}
	if user == "" {
		return nil, fmt.Errorf("no user id: set --user or CHATSYNC_USER")
	}
	key := flagKey
	if key == "" {
		key = os.Getenv("CHATSYNC_KEY")
	}
	return client.New(client.Options{
		BaseURL:           flagServer,
		Identity:          client.Identity{ID: user, SigningKey: key},
		AutoReconnect:     true,
		HeartbeatInterval: 25 * time.Second,
	}), nil
}
