package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/srg/btwiz/bridge"
	"github.com/srg/btwiz/connector"
	"github.com/srg/btwiz/internal/device"
	"golang.org/x/term"
)

// connectCmd streams stdin/stdout over a connection
var connectCmd = &cobra.Command{
	Use:   "connect <device-address>",
	Short: "Connect to a device and stream stdin/stdout over the link",
	Long: `Connects to the device and copies stdin to the link and the link to stdout.

Without --service the connection tries, in order: the first service id the
device advertises, the serial port profile, and a direct RFCOMM channel.

Example:
  btwiz connect 00:11:22:33:44:55
  btwiz connect --service spp --insecure 00:11:22:33:44:55
  btwiz connect --raw 00:11:22:33:44:55`,
	Args: cobra.ExactArgs(1),
	RunE: runConnect,
}

var (
	connectInsecure bool
	connectService  string
	connectRaw      bool
)

func init() {
	connectCmd.Flags().BoolVar(&connectInsecure, "insecure", false, "Use an unauthenticated, unencrypted link")
	connectCmd.Flags().StringVar(&connectService, "service", "", "Explicit service id (UUID, short form or 'spp'); disables the fallback chain")
	connectCmd.Flags().BoolVar(&connectRaw, "raw", false, "Put the terminal in raw mode while connected")
}

// connectOptions builds ConnectOptions from the --insecure and --service flags.
func connectOptions(insecure bool, service string) (connector.ConnectOptions, error) {
	opts := connector.ConnectOptions{Mode: device.Secure}
	if insecure {
		opts.Mode = device.Insecure
	}
	if service != "" {
		ids, err := device.ValidateServiceIDs(service)
		if err != nil {
			return opts, fmt.Errorf("invalid service id: %w", err)
		}
		opts.ServiceID = &ids[0]
	}
	return opts, nil
}

func runConnect(cmd *cobra.Command, args []string) error {
	opts, err := connectOptions(connectInsecure, connectService)
	if err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	c, err := a.wiz.Connect(ctx, device.DeviceRef{Address: args[0]}, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Connected to %s\n", c.RemoteDevice().DisplayName())

	in := cmd.InOrStdin()
	if connectRaw {
		if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			state, err := term.MakeRaw(int(f.Fd()))
			if err != nil {
				return fmt.Errorf("failed to set raw mode: %w", err)
			}
			defer func() { _ = term.Restore(int(f.Fd()), state) }()
		}
	}

	err = bridge.Pipe(ctx, c, struct {
		io.Reader
		io.Writer
	}{in, cmd.OutOrStdout()}, bridge.DefaultChunkSize, a.logger)
	if errors.Is(err, bridge.ErrRemoteClosed) {
		fmt.Fprintln(cmd.ErrOrStderr(), "Connection closed by remote")
		return nil
	}
	return err
}
