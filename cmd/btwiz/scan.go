package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/btwiz/internal/device"
	"github.com/srg/btwiz/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover nearby Bluetooth devices",
	Long: `Runs one discovery session and prints the devices found.

Discovery ends when the adapter finishes its inquiry, when --duration
elapses, or on Ctrl+C; whatever was found so far is printed.`,
	RunE: runScan,
}

var (
	scanDuration    time.Duration
	scanFormat      string
	scanMajor       string
	scanNoDuplicate bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (0 = scan_timeout from config)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().StringVar(&scanMajor, "major", "", "Only show devices of this class (e.g. PHONE, COMPUTER)")
	scanCmd.Flags().BoolVar(&scanNoDuplicate, "no-duplicates", false, "Collapse devices with the same name and class")
}

func runScan(cmd *cobra.Command, args []string) error {
	if err := validateFormat(scanFormat); err != nil {
		return err
	}
	var filter device.Filter
	if scanMajor != "" {
		major, err := device.ParseMajorClass(scanMajor)
		if err != nil {
			return err
		}
		filter = device.ByMajor(major)
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if scanNoDuplicate || a.cfg.ProtectAgainstDuplicates {
		a.wiz.SetProtectAgainstDuplicates(true)
	}

	timeout := a.cfg.ScanTimeout
	if scanDuration > 0 {
		timeout = scanDuration
	}
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	devs, err := a.wiz.Scan(ctx, filter)
	if err != nil && !errors.Is(err, scanner.ErrScanInterrupted) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(cmd.ErrOrStderr(), "Scan cancelled")
	}
	return displayDevices(cmd.OutOrStdout(), devs, scanFormat)
}
