package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/btwiz/internal/device"
)

// ErrDeviceNotFound is returned when lookup finds no matching device.
var ErrDeviceNotFound = errors.New("device not found")

// lookupCmd finds one device, bonded first
var lookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Find a device among bonded devices, optionally by discovery",
	Long: `Looks for the first device matching the given criteria. Bonded devices
are checked first; with --discover a discovery session runs when none match
and stops at the first match.

Example:
  btwiz lookup --major PHONE --discover
  btwiz lookup --name "My Laptop" --major COMPUTER`,
	RunE: runLookup,
}

var (
	lookupAddress  string
	lookupName     string
	lookupMajor    string
	lookupDiscover bool
	lookupFormat   string
)

func init() {
	lookupCmd.Flags().StringVar(&lookupAddress, "address", "", "Device address")
	lookupCmd.Flags().StringVar(&lookupName, "name", "", "Device name")
	lookupCmd.Flags().StringVar(&lookupMajor, "major", "", "Device class (e.g. PHONE)")
	lookupCmd.Flags().BoolVar(&lookupDiscover, "discover", false, "Run discovery when no bonded device matches")
	lookupCmd.Flags().StringVarP(&lookupFormat, "format", "f", "table", "Output format (table, json)")
}

// lookupFilter builds a filter from --address, --name and --major.
func lookupFilter(address, name, major string) (device.Filter, error) {
	if address != "" {
		if name != "" || major != "" {
			return nil, fmt.Errorf("--address cannot be combined with --name or --major")
		}
		return device.ByAddress(address), nil
	}
	m := device.MajorAny
	if major != "" {
		var err error
		if m, err = device.ParseMajorClass(major); err != nil {
			return nil, err
		}
	}
	switch {
	case name != "":
		return device.ByMajorAndName(m, name), nil
	case major != "":
		return device.ByMajor(m), nil
	default:
		return nil, fmt.Errorf("one of --address, --name or --major is required")
	}
}

func runLookup(cmd *cobra.Command, args []string) error {
	if err := validateFormat(lookupFormat); err != nil {
		return err
	}
	filter, err := lookupFilter(lookupAddress, lookupName, lookupMajor)
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

	res, err := a.wiz.Lookup(ctx, filter, lookupDiscover)
	if err != nil {
		return err
	}
	if !res.Found {
		return ErrDeviceNotFound
	}

	source := "bonded"
	if res.ByDiscovery {
		source = "discovery"
	}
	a.logger.WithField("source", source).Info("Device found")
	if lookupFormat == "table" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Found via %s\n", source)
	}
	return displayDevices(cmd.OutOrStdout(), []device.DeviceRef{res.Device}, lookupFormat)
}
