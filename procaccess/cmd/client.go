package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sarchlab/procaccess/access"
	"github.com/sarchlab/procaccess/client"
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Send requests to a running access server.",
}

func init() {
	clientCmd.PersistentFlags().String("addr",
		net.JoinHostPort("localhost", strconv.Itoa(access.DefaultPort)),
		"address of the access server")
	clientCmd.PersistentFlags().Duration("timeout", 0,
		"give up after this long, 0 to wait forever")
	clientCmd.PersistentFlags().Bool("verbose", false, "log every frame")

	clientCmd.AddCommand(
		flashCmd, dumpCmd, startCmd, stopCmd, unpauseCmd,
		waitCmd, statusCmd, serialCmd,
	)

	dumpCmd.Flags().String("address", "", "first RAM address, defaults to RAM start")
	dumpCmd.Flags().Int("bytes", 0, "number of bytes, defaults to the rest of RAM")
	startCmd.Flags().Bool("single-step", false, "pause after every instruction")
	waitCmd.Flags().Bool("stopped", false, "return once the processor is stopped")
	waitCmd.Flags().Bool("paused", false, "return once the processor is paused")
	serialCmd.Flags().String("direction", access.DirectionBoth,
		"both, tx (to the processor only) or rx (from the processor only)")
	serialCmd.Flags().Bool("stop-on-halt", false,
		"end with an error once the processor stops")
	serialCmd.Flags().Bool("disconnect-on-halt", false,
		"disconnect once the processor stops")

	rootCmd.AddCommand(clientCmd)
}

var flashCmd = &cobra.Command{
	Use:   "flash <file>",
	Short: "Flash an image into ROM.",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(func(ctx context.Context, c *client.Client,
		_ *cobra.Command, args []string,
	) (string, error) {
		return c.Flash(ctx, args[0])
	}),
}

var dumpCmd = &cobra.Command{
	Use:   "dump <file>",
	Short: "Dump RAM into a file.",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(func(ctx context.Context, c *client.Client,
		cmd *cobra.Command, args []string,
	) (string, error) {
		var opts client.DumpOptions

		if s, _ := cmd.Flags().GetString("address"); s != "" {
			v, err := strconv.ParseUint(s, 0, 32)
			if err != nil {
				return "", fmt.Errorf("invalid address %q: %w", s, err)
			}

			address := uint32(v)
			opts.Address = &address
		}

		if cmd.Flags().Changed("bytes") {
			n, _ := cmd.Flags().GetInt("bytes")
			opts.Bytes = &n
		}

		return c.Dump(ctx, args[0], opts)
	}),
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Power the processor.",
	Args:  cobra.NoArgs,
	RunE: withClient(func(ctx context.Context, c *client.Client,
		cmd *cobra.Command, _ []string,
	) (string, error) {
		singleStep, _ := cmd.Flags().GetBool("single-step")
		return c.Start(ctx, singleStep)
	}),
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Remove power from the processor.",
	Args:  cobra.NoArgs,
	RunE: withClient(func(ctx context.Context, c *client.Client,
		_ *cobra.Command, _ []string,
	) (string, error) {
		return c.Stop(ctx)
	}),
}

var unpauseCmd = &cobra.Command{
	Use:   "unpause",
	Short: "Resume a paused processor.",
	Args:  cobra.NoArgs,
	RunE: withClient(func(ctx context.Context, c *client.Client,
		_ *cobra.Command, _ []string,
	) (string, error) {
		return c.Unpause(ctx)
	}),
}

var waitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Block until the processor stops or pauses.",
	Args:  cobra.NoArgs,
	RunE: withClient(func(ctx context.Context, c *client.Client,
		cmd *cobra.Command, _ []string,
	) (string, error) {
		stopped, _ := cmd.Flags().GetBool("stopped")
		paused, _ := cmd.Flags().GetBool("paused")

		if !stopped && !paused {
			return "", errors.New("at least one of --stopped and --paused is required")
		}

		return c.Wait(ctx, stopped, paused)
	}),
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print a snapshot of the processor.",
	Args:  cobra.NoArgs,
	RunE: withClient(func(ctx context.Context, c *client.Client,
		_ *cobra.Command, _ []string,
	) (string, error) {
		s, err := c.Status(ctx)
		if err != nil {
			return "", err
		}

		text, err := json.MarshalIndent(s, "", "  ")

		return string(text), err
	}),
}

var serialCmd = &cobra.Command{
	Use:   "serial <device>",
	Short: "Attach the terminal to a serial port such as uart0.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialFromFlags(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		f := cmd.Flags()
		direction, _ := f.GetString("direction")
		stopOnHalt, _ := f.GetBool("stop-on-halt")
		disconnectOnHalt, _ := f.GetBool("disconnect-on-halt")

		stream, err := c.Serial(access.SerialRequest{
			Device:           args[0],
			Direction:        direction,
			StopOnHalt:       stopOnHalt,
			DisconnectOnHalt: disconnectOnHalt,
		})
		if err != nil {
			return err
		}

		return pipeTerminal(stream)
	},
}

// pipeTerminal connects stdin and stdout to stream until the server closes
// it. An interactive terminal is switched to raw mode and Ctrl+] detaches.
func pipeTerminal(stream io.ReadWriteCloser) error {
	fd := int(os.Stdin.Fd())
	raw := term.IsTerminal(fd)

	if raw {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return err
		}
		defer term.Restore(fd, state)

		fmt.Fprint(os.Stderr, "Connected, press Ctrl+] to detach.\r\n")
	}

	go func() {
		buf := make([]byte, 256)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				return
			}

			data := buf[:n]
			if raw {
				for i, b := range data {
					if b == 0x1d {
						_, _ = stream.Write(data[:i])
						stream.Close()
						return
					}
				}
			}

			if _, err := stream.Write(data); err != nil {
				return
			}
		}
	}()

	_, err := io.Copy(os.Stdout, stream)
	if errors.Is(err, net.ErrClosed) {
		return nil
	}

	return err
}

type clientFunc func(
	ctx context.Context,
	c *client.Client,
	cmd *cobra.Command,
	args []string,
) (string, error)

// withClient dials the server, runs fn and prints its result.
func withClient(fn clientFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := dialFromFlags(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		ctx := cmd.Context()
		if timeout, _ := cmd.Flags().GetDuration("timeout"); timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		msg, err := fn(ctx, c, cmd, args)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), msg)

		return nil
	}
}

func dialFromFlags(cmd *cobra.Command) (*client.Client, error) {
	addr, _ := cmd.Flags().GetString("addr")
	verbose, _ := cmd.Flags().GetBool("verbose")

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	c, err := client.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}

	if verbose {
		c.WithLogger(client.DefaultLogger())
	}

	return c, nil
}
