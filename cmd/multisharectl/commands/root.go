// Package commands implements the multisharectl CLI.
package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	serverAddr string
	clientName string
)

var rootCmd = &cobra.Command{
	Use:   "multisharectl",
	Short: "Client for the multishare chat and file-transfer server",
	Long: `multisharectl talks to a multishare server: join rooms, broadcast
messages, and offer files to other room members.

Examples:
  # Interactive session
  multisharectl chat --name alice

  # One-shot message into room 7
  multisharectl send --name alice --room 7 "hello everyone"

  # Upload a file and offer it to room 7
  multisharectl offer --name alice --room 7 ./notes.txt`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	defaultName := os.Getenv("USER")
	if defaultName == "" {
		defaultName = "anonymous"
	}

	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "localhost:12345", "Server address (host:port)")
	rootCmd.PersistentFlags().StringVar(&clientName, "name", defaultName, "Client name shown to other room members")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(offerCmd)
}
