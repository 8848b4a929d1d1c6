package main

import (
	"github.com/spf13/cobra"
)

// bondedCmd lists paired devices without scanning
var bondedCmd = &cobra.Command{
	Use:   "bonded",
	Short: "List bonded (paired) devices",
	RunE:  runBonded,
}

var bondedFormat string

func init() {
	bondedCmd.Flags().StringVarP(&bondedFormat, "format", "f", "table", "Output format (table, json)")
}

func runBonded(cmd *cobra.Command, args []string) error {
	if err := validateFormat(bondedFormat); err != nil {
		return err
	}
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	devs, err := a.wiz.BondedDevices()
	if err != nil {
		return err
	}
	return displayDevices(cmd.OutOrStdout(), devs, bondedFormat)
}
