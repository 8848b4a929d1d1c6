package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/srg/btwiz/internal/device"
)

var validFormats = []string{"table", "json"}

func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format '%s': must be one of %v", format, validFormats)
}

type deviceJSON struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Major   string `json:"major"`
}

func sortDevices(devs []device.DeviceRef) []device.DeviceRef {
	out := append([]device.DeviceRef(nil), devs...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Address < out[j].Address
	})
	return out
}

func displayDevices(w io.Writer, devs []device.DeviceRef, format string) error {
	devs = sortDevices(devs)
	if format == "json" {
		return displayDevicesJSON(w, devs)
	}
	if len(devs) == 0 {
		fmt.Fprintln(w, "No devices found")
		return nil
	}
	return displayDevicesTable(w, devs)
}

func displayDevicesTable(w io.Writer, devs []device.DeviceRef) error {
	var buf bytes.Buffer
	tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tCLASS")
	fmt.Fprintln(tw, "----\t-------\t-----")

	for _, d := range devs {
		name := d.Name
		if name == "" {
			name = "(unknown)"
		}
		if len(name) > 24 {
			name = name[:21] + "..."
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, d.Address, d.Major)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	// Bold after alignment; escape codes would skew the column widths
	header, rest, _ := strings.Cut(buf.String(), "\n")
	fmt.Fprintln(w, color.New(color.Bold).Sprint(header))
	_, err := io.WriteString(w, rest)
	return err
}

func displayDevicesJSON(w io.Writer, devs []device.DeviceRef) error {
	out := make([]deviceJSON, 0, len(devs))
	for _, d := range devs {
		out = append(out, deviceJSON{Address: d.Address, Name: d.Name, Major: d.Major.String()})
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}
