package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Ikey168/Modulo-sub010/internal/client"
	"github.com/Ikey168/Modulo-sub010/internal/ui"
)

var loginCmd = &cobra.Command{
	Use:     "login <server-url>",
	GroupID: "sync",
	Args:    cobra.ExactArgs(1),
	Short:   "Connect this device to a sync server",
	Long: `Connect this device to a sync server and store the credentials.

The token is prompted without echo and written to device.toml in the data
directory, together with this device's identity and sync cursor. The
connection is verified before anything is saved, so a typo in the URL or
token fails here instead of on the first sync.

Leave the token empty for servers running in single-user mode.

Example usage:
  modulo login https://notes.example.com
  modulo login http://localhost:8080 --token tok-alice`,
	Run: func(cmd *cobra.Command, args []string) {
		token, _ := cmd.Flags().GetString("token")

		state := loadDeviceState()
		state.ServerURL = strings.TrimRight(args[0], "/")

		if !cmd.Flags().Changed("token") {
			var err error
			token, err = promptToken()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to read token: %v\n", err)
				os.Exit(1)
			}
		}
		state.Token = strings.TrimSpace(token)

		st := openStore()
		defer st.Close()

		cl := newSyncClient(st, state)
		status, err := cl.ServerStatus(context.Background())
		if err != nil {
			if errors.Is(err, client.ErrUnauthorized) {
				fmt.Fprintf(os.Stderr, "Error: the server rejected this token\n")
			} else {
				fmt.Fprintf(os.Stderr, "Error: could not reach %s: %v\n", state.ServerURL, err)
			}
			os.Exit(1)
		}

		if err := state.Save(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to save device state: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Connected to %s\n", ui.RenderPass("✓"), state.ServerURL)
		fmt.Printf("Device id: %s\n", ui.RenderDim(state.DeviceID))
		fmt.Printf("The server holds %d notes for this account\n", status.NoteCount)
		if status.NoteCount > 0 {
			fmt.Println("\nRun 'modulo sync' to pull them down")
		}
	},
}

// promptToken reads the token without echoing it. When stdin is not a
// terminal (piped input) it falls back to reading a line.
func promptToken() (string, error) {
	fmt.Fprint(os.Stderr, "Token (leave empty for single-user servers): ")

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func init() {
	loginCmd.Flags().String("token", "", "Bearer token (skips the prompt)")

	rootCmd.AddCommand(loginCmd)
}
