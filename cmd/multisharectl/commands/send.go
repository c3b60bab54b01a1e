package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Tabatskyi/multi-share/internal/protocol/frame"
	"github.com/Tabatskyi/multi-share/pkg/client"
)

var sendRoom int64

var sendCmd = &cobra.Command{
	Use:   "send <text>...",
	Short: "Send one message and exit",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSend,
}

func init() {
	sendCmd.Flags().Int64Var(&sendRoom, "room", 0, "Room to join before sending")
}

func runSend(cmd *cobra.Command, args []string) error {
	c, err := client.Dial(serverAddr, clientName)
	if err != nil {
		return err
	}
	defer c.Close()

	if sendRoom != 0 {
		if err := c.Join(sendRoom); err != nil {
			return err
		}
		if err := expect(c, frame.CmdJoinRoomResponse); err != nil {
			return err
		}
	}

	return c.SendText(strings.Join(args, " "))
}

// expect reads frames until one carries the wanted command, skipping room
// broadcasts that may interleave.
func expect(c *client.Client, want frame.Command) error {
	for {
		msg, err := c.Next()
		if err != nil {
			return err
		}
		if msg.Command == want {
			return nil
		}
		if msg.Command == frame.CmdUnknown {
			return fmt.Errorf("server rejected command: %s", msg.Payload)
		}
	}
}
