package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Tabatskyi/multi-share/internal/protocol/frame"
	"github.com/Tabatskyi/multi-share/pkg/client"
)

var offerRoom int64

var offerCmd = &cobra.Command{
	Use:   "offer <path>",
	Short: "Upload a file and offer it to the room",
	Long: `Upload a local file to the server, then offer it to every other
member of the room. The command waits until each recipient accepted,
declined, or timed out.`,
	Args: cobra.ExactArgs(1),
	RunE: runOffer,
}

func init() {
	offerCmd.Flags().Int64Var(&offerRoom, "room", 0, "Room to join before offering")
}

func runOffer(cmd *cobra.Command, args []string) error {
	path := args[0]

	c, err := client.Dial(serverAddr, clientName)
	if err != nil {
		return err
	}
	defer c.Close()

	if offerRoom != 0 {
		if err := c.Join(offerRoom); err != nil {
			return err
		}
		if err := expect(c, frame.CmdJoinRoomResponse); err != nil {
			return err
		}
	}

	size, err := c.UploadFile(path)
	if err != nil {
		return err
	}

	filename := filepath.Base(path)
	if err := c.OfferFile(filename, size); err != nil {
		return err
	}

	// The completion notice arrives once every recipient has resolved.
	if err := expect(c, frame.CmdMessageTextResponse); err != nil {
		return err
	}

	fmt.Printf("Offered %s (%d bytes) to the room\n", filename, size)
	return nil
}
