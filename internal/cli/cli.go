package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/0xRadioAc7iv/keycask/bitcask"
	"github.com/0xRadioAc7iv/keycask/internal"
	"github.com/0xRadioAc7iv/keycask/internal/protocol"
	"github.com/0xRadioAc7iv/keycask/internal/utils"
)

const helpText = `Available Commands:

SET <key> <value>
  Store a value for the given key.
  Overwrites the value if the key already exists.
  Quote keys or values that contain spaces: SET city "new york"

GET <key>
  Retrieve the value associated with the key.

HELP
  Show this help message.

EXIT
  Close the client connection.`

// NewRootCmd builds the bitcask-cli command tree. Without a subcommand it
// starts an interactive session reading from in.
func NewRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "bitcask-cli",
		Short:         "Command line client for a keycask server",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := connect(cmd.Flags())
			if err != nil {
				return err
			}
			defer client.Close()

			host, _ := cmd.Flags().GetString("host")
			port, _ := cmd.Flags().GetInt("port")
			fmt.Fprintf(out, "Connected to %v:%d\n", host, port)
			fmt.Fprintln(out, "Type commands. 'help' for information or 'exit' to quit.")

			return RunREPL(client, in, out)
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(out)

	root.PersistentFlags().String("host", internal.DEFAULT_HOST, "Bitcask server host")
	root.PersistentFlags().IntP("port", "p", internal.DEFAULT_PORT, "Bitcask server port")
	root.PersistentFlags().String("ipv", internal.DefaultIPVersion, "IP version to dial: unspec, inet4 or inet6")

	root.AddCommand(newGetCmd(out), newSetCmd(out))
	return root
}

func newGetCmd(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Retrieve a value by key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect(cmd.Flags())
			if err != nil {
				return err
			}
			defer client.Close()

			val, err := client.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(out, val)
			return nil
		},
	}
}

func newSetCmd(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a value under a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect(cmd.Flags())
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Set(args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintln(out, protocol.MsgSetSuccess)
			return nil
		},
	}
}

func connect(flags *pflag.FlagSet) (*bitcask.Client, error) {
	host, err := flags.GetString("host")
	if err != nil {
		return nil, err
	}
	port, err := flags.GetInt("port")
	if err != nil {
		return nil, fmt.Errorf("invalid port: %v", err)
	}
	ipv, err := flags.GetString("ipv")
	if err != nil {
		return nil, err
	}

	return bitcask.Connect(bitcask.WithHost(host), bitcask.WithPort(port), bitcask.WithIPVersion(ipv))
}

// RunREPL reads commands line by line from in until EOF or "exit" and
// prints each reply to out. Parse errors are reported and the session
// continues; a broken connection ends it.
func RunREPL(client *bitcask.Client, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), internal.DefaultMaxMessageSize)

	for {
		fmt.Fprint(out, "> ")

		if !scanner.Scan() {
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())

		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "help":
			fmt.Fprintln(out, helpText)
			continue
		}

		cmd, key, value, err := utils.SplitStringIntoCommandAndArguments(line)
		if err != nil {
			fmt.Fprintln(out, "parse error:", err)
			continue
		}

		resp, err := client.Execute(cmd, key, value)
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownCommand) {
				fmt.Fprintln(out, "parse error:", err)
				continue
			}
			return err
		}

		fmt.Fprintln(out, FormatResponse(resp))
	}
}

// FormatResponse renders a reply for the terminal.
func FormatResponse(resp *protocol.Response) string {
	switch resp.Kind {
	case protocol.GetSuccess:
		return fmt.Sprintf("%q", resp.Payload)
	case protocol.SetSuccess:
		return string(resp.Payload)
	default:
		return "(error) " + string(resp.Payload)
	}
}
