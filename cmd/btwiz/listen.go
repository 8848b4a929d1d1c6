package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"
	"github.com/srg/btwiz/bridge"
	"github.com/srg/btwiz/internal/device"
	"github.com/srg/btwiz/internal/groutine"
	"github.com/srg/btwiz/pkg/conn"
	"github.com/srg/btwiz/server"
)

// listenCmd runs the accept loop
var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Accept inbound connections",
	Long: `Registers a service and accepts inbound connections until Ctrl+C.

The service id comes from service_id in the config file; without one a
random id is generated and printed.`,
	RunE: runListen,
}

var (
	listenName     string
	listenInsecure bool
	listenEcho     bool
	listenSPP      bool
)

func init() {
	listenCmd.Flags().StringVar(&listenName, "name", "", "Service name (default server_name from config)")
	listenCmd.Flags().BoolVar(&listenInsecure, "insecure", false, "Accept unauthenticated, unencrypted links")
	listenCmd.Flags().BoolVar(&listenEcho, "echo", false, "Echo received bytes back to each client")
	listenCmd.Flags().BoolVar(&listenSPP, "spp", false, "Listen on the serial port profile id")
}

// echo copies everything c receives back to it until the remote closes.
func echo(c *conn.Conn, chunk int) error {
	buf := make([]byte, chunk)
	for {
		n, err := c.Read(buf)
		if n > 0 {
			if _, werr := c.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func runListen(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	name := listenName
	if name == "" {
		name = a.cfg.ServerName
	}
	mode, err := a.cfg.Mode()
	if err != nil {
		return err
	}
	if listenInsecure {
		mode = device.Insecure
	}
	if listenSPP {
		a.wiz.UseSerialPortProfile()
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	out := cmd.OutOrStdout()
	var mu sync.Mutex
	printf := func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, format, args...)
	}

	var sessions sync.WaitGroup
	l := server.AcceptFuncs{
		Accepted: func(c *conn.Conn) {
			printf("Accepted connection from %s\n", c.RemoteDevice())
			if !listenEcho {
				return
			}
			sessions.Add(1)
			groutine.Go(ctx, "echo-"+c.RemoteDevice().Address, func(context.Context) {
				defer sessions.Done()
				if err := echo(c, bridge.DefaultChunkSize); err != nil {
					a.logger.WithError(err).Warn("Echo session ended")
				}
				_ = c.Close()
				printf("Closed connection from %s\n", c.RemoteDevice().Address)
			})
		},
	}

	printf("Listening as %q on %s (%s)\n", name, a.wiz.ServiceID(), mode)
	err = a.wiz.Serve(ctx, name, mode, l)

	waited := make(chan struct{})
	go func() {
		sessions.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		// Closing the connections ends the sessions
		a.close()
		<-waited
	}
	return err
}
