package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/btwiz/pkg/btwiz"
	"github.com/srg/btwiz/pkg/config"
)

// app is what every command needs after flag validation.
type app struct {
	cfg    *config.Config
	logger *logrus.Logger
	wiz    *btwiz.Wiz
}

// newApp loads config, configures logging and initializes the transport.
// The caller must call close.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	w := btwiz.New(cfg, logger)
	if err := w.Init(); err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, wiz: w}, nil
}

func (a *app) close() {
	a.wiz.Cleanup()
}

// signalContext is canceled on Ctrl+C or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
