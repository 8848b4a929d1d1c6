package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/btwiz/bridge"
)

// bridgeCmd represents the bridge command
var bridgeCmd = &cobra.Command{
	Use:   "bridge <device-address>",
	Short: "Create a PTY bridge to a remote device",
	Long: `Creates a bidirectional PTY (pseudoterminal) bridge to a remote device,
allowing applications that expect a serial port to talk to it.

The bridge creates a virtual serial device (e.g., /dev/pts/3). Data written to
the PTY is sent over the link, and data received from the device is written
to the PTY.

Example:
  btwiz bridge 00:11:22:33:44:55
  btwiz bridge --symlink /tmp/bt-modem 00:11:22:33:44:55`,
	Args: cobra.ExactArgs(1),
	RunE: runBridge,
}

var (
	bridgeInsecure bool
	bridgeService  string
	bridgeSymlink  string
)

func init() {
	bridgeCmd.Flags().BoolVar(&bridgeInsecure, "insecure", false, "Use an unauthenticated, unencrypted link")
	bridgeCmd.Flags().StringVar(&bridgeService, "service", "", "Explicit service id; disables the fallback chain")
	bridgeCmd.Flags().StringVar(&bridgeSymlink, "symlink", "", "Create a symlink to the PTY device (e.g., /tmp/bt-device)")
}

func runBridge(cmd *cobra.Command, args []string) error {
	opts, err := connectOptions(bridgeInsecure, bridgeService)
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

	stderr := cmd.ErrOrStderr()
	err = bridge.RunPTY(ctx, a.wiz, bridge.Options{
		Address:        args[0],
		Connect:        opts,
		TTYSymlinkPath: bridgeSymlink,
		Logger:         a.logger,
	}, func(phase string) {
		a.logger.WithField("phase", phase).Debug("Bridge phase")
	}, func(b *bridge.Bridge) {
		fmt.Fprintf(stderr, "Bridging %s to %s\n", args[0], b.TTYName())
		if b.Symlink != "" {
			fmt.Fprintf(stderr, "Symlink: %s\n", b.Symlink)
		}
	})
	if err == nil || ctx.Err() != nil {
		return nil
	}
	return err
}
