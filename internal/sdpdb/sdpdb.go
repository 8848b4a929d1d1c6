// Package sdpdb is a small table of well-known classic Bluetooth service classes
// (the 16-bit SDP service class identifiers under the Bluetooth SIG base UUID)
// together with helpers that normalize and expand UUID strings.
package sdpdb

import (
	"fmt"
	"strings"
)

// BaseUUIDSuffix is the tail shared by every identifier derived from a 16-bit SIG short form.
const BaseUUIDSuffix = "-0000-1000-8000-00805f9b34fb"

// Entry describes one well-known service class.
type Entry struct {
	Short uint16
	Name  string
	Alias string // short command-line friendly alias
}

// UUID returns the full 128-bit form, e.g. "00001101-0000-1000-8000-00805f9b34fb".
func (e Entry) UUID() string {
	return fmt.Sprintf("%08x%s", uint32(e.Short), BaseUUIDSuffix)
}

var entries = []Entry{
	{Short: 0x1101, Name: "Serial Port", Alias: "spp"},
	{Short: 0x1102, Name: "LAN Access Using PPP", Alias: "lap"},
	{Short: 0x1103, Name: "Dialup Networking", Alias: "dun"},
	{Short: 0x1104, Name: "IrMC Sync", Alias: "sync"},
	{Short: 0x1105, Name: "OBEX Object Push", Alias: "opp"},
	{Short: 0x1106, Name: "OBEX File Transfer", Alias: "ftp"},
	{Short: 0x1108, Name: "Headset", Alias: "hsp"},
	{Short: 0x110a, Name: "Audio Source", Alias: "a2dp-source"},
	{Short: 0x110b, Name: "Audio Sink", Alias: "a2dp-sink"},
	{Short: 0x110c, Name: "A/V Remote Control Target", Alias: "avrcp-target"},
	{Short: 0x110e, Name: "A/V Remote Control", Alias: "avrcp"},
	{Short: 0x1112, Name: "Headset Audio Gateway", Alias: "hsp-ag"},
	{Short: 0x1115, Name: "PAN User", Alias: "panu"},
	{Short: 0x1116, Name: "Network Access Point", Alias: "nap"},
	{Short: 0x1117, Name: "Group Ad-hoc Network", Alias: "gn"},
	{Short: 0x111e, Name: "Handsfree", Alias: "hfp"},
	{Short: 0x111f, Name: "Handsfree Audio Gateway", Alias: "hfp-ag"},
	{Short: 0x1124, Name: "Human Interface Device", Alias: "hid"},
	{Short: 0x112f, Name: "Phonebook Access Server", Alias: "pbap"},
	{Short: 0x1132, Name: "Message Access Server", Alias: "map"},
	{Short: 0x1200, Name: "PnP Information", Alias: "pnp"},
}

var (
	byShort = make(map[string]Entry, len(entries))
	byAlias = make(map[string]Entry, len(entries))
)

func init() {
	for _, e := range entries {
		byShort[fmt.Sprintf("%04x", e.Short)] = e
		byAlias[e.Alias] = e
	}
}

// Entries returns the table in identifier order.
func Entries() []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// NormalizeUUID converts a UUID string to lowercase hex without dashes, braces or 0x prefix.
// Full identifiers under the SIG base UUID collapse to their 16-bit short form.
func NormalizeUUID(uuid string) string {
	s := strings.ToLower(strings.TrimSpace(uuid))
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")
	s = strings.TrimPrefix(s, "0x")
	s = strings.ReplaceAll(s, "-", "")

	base := strings.ReplaceAll(BaseUUIDSuffix, "-", "")
	if len(s) == 32 && strings.HasSuffix(s, base) && strings.HasPrefix(s, "0000") {
		return s[4:8]
	}
	return s
}

// Expand returns the canonical dashed 128-bit form of an alias, a 16/32-bit
// short form, or a full UUID. The second result is false if s is none of those.
func Expand(s string) (string, bool) {
	if e, ok := byAlias[strings.ToLower(strings.TrimSpace(s))]; ok {
		return e.UUID(), true
	}
	n := NormalizeUUID(s)
	if !isHex(n) {
		return "", false
	}
	switch len(n) {
	case 4:
		return "0000" + n + BaseUUIDSuffix, true
	case 8:
		return n + BaseUUIDSuffix, true
	case 32:
		return n[0:8] + "-" + n[8:12] + "-" + n[12:16] + "-" + n[16:20] + "-" + n[20:32], true
	default:
		return "", false
	}
}

// Lookup finds the well-known entry for any accepted UUID form.
func Lookup(uuid string) (Entry, bool) {
	if e, ok := byAlias[strings.ToLower(strings.TrimSpace(uuid))]; ok {
		return e, true
	}
	e, ok := byShort[NormalizeUUID(uuid)]
	return e, ok
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
