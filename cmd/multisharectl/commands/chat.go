package commands

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Tabatskyi/multi-share/internal/protocol/frame"
	"github.com/Tabatskyi/multi-share/pkg/client"
)

var downloadDir string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat session",
	Long: `Open an interactive session with the server.

Commands at the prompt:
  j <room>    join a room
  m <text>    broadcast a message to the current room
  f <path>    upload a file and offer it to the room
  y / n       answer a pending file offer
  q           quit`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&downloadDir, "downloads", "ClientFiles", "Directory accepted files are saved to")
}

func runChat(cmd *cobra.Command, args []string) error {
	c, err := client.Dial(serverAddr, clientName)
	if err != nil {
		return err
	}
	defer c.Close()

	fmt.Printf("Connected to %s as %s\n", serverAddr, clientName)

	done := make(chan struct{})
	go receiveLoop(c, done)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		verb, rest, _ := strings.Cut(line, " ")
		switch verb {
		case "j":
			room, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
			if err != nil {
				fmt.Println("usage: j <room number>")
				continue
			}
			if err := c.Join(room); err != nil {
				return err
			}
		case "m":
			if rest == "" {
				fmt.Println("usage: m <text>")
				continue
			}
			if err := c.SendText(rest); err != nil {
				return err
			}
		case "f":
			path := strings.TrimSpace(rest)
			if path == "" {
				fmt.Println("usage: f <path>")
				continue
			}
			size, err := c.UploadFile(path)
			if err != nil {
				fmt.Printf("upload failed: %v\n", err)
				continue
			}
			if err := c.OfferFile(filepath.Base(path), size); err != nil {
				return err
			}
			fmt.Printf("Offered %s (%d bytes) to the room\n", filepath.Base(path), size)
		case "y", "n":
			if err := c.RespondOffer(verb == "y"); err != nil {
				return err
			}
		case "q":
			return nil
		default:
			fmt.Println("commands: j <room>, m <text>, f <path>, y, n, q")
		}
	}

	<-done
	return scanner.Err()
}

// receiveLoop prints server traffic and saves accepted file transfers under
// the download directory.
func receiveLoop(c *client.Client, done chan<- struct{}) {
	defer close(done)

	var incoming *os.File
	var remaining uint64

	for {
		msg, err := c.Next()
		if err != nil {
			fmt.Println("\nconnection closed")
			return
		}

		switch msg.Command {
		case frame.CmdJoinRoomResponse, frame.CmdMessageTextResponse, frame.CmdUnknown:
			fmt.Printf("\r%s\n> ", msg.Payload)

		case frame.CmdFileOffer:
			// "fo <sender> <filename> <size>"
			fields := strings.Fields(string(msg.Payload))
			if len(fields) == 4 {
				fmt.Printf("\r%s offers %s (%s bytes). Accept? [y/n]\n> ", fields[1], fields[2], fields[3])
			}

		case frame.CmdFileSize:
			// "<filename> <size>"
			fields := strings.Fields(string(msg.Payload))
			if len(fields) != 2 {
				continue
			}
			size, err := strconv.ParseUint(fields[1], 10, 64)
			if err != nil {
				continue
			}
			if incoming != nil {
				incoming.Close()
			}
			if err := os.MkdirAll(downloadDir, 0o755); err != nil {
				fmt.Printf("\rcannot create %s: %v\n> ", downloadDir, err)
				continue
			}
			f, err := os.Create(filepath.Join(downloadDir, filepath.Base(fields[0])))
			if err != nil {
				fmt.Printf("\rcannot save file: %v\n> ", err)
				continue
			}
			incoming = f
			remaining = size
			if remaining == 0 {
				incoming.Close()
				incoming = nil
				fmt.Printf("\rReceived %s\n> ", fields[0])
			}

		case frame.CmdFileChunk:
			if incoming == nil {
				continue
			}
			if _, err := incoming.Write(msg.Payload); err != nil {
				fmt.Printf("\rwrite failed: %v\n> ", err)
				incoming.Close()
				incoming = nil
				continue
			}
			if uint64(len(msg.Payload)) >= remaining {
				name := incoming.Name()
				incoming.Close()
				incoming = nil
				remaining = 0
				fmt.Printf("\rReceived %s\n> ", name)
			} else {
				remaining -= uint64(len(msg.Payload))
			}
		}
	}
}
