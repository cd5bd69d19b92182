// Package wpacli implements radio.Driver on top of wpa_supplicant's
// command line client.
package wpacli

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rjsadow/camrelay/internal/radio"
)

const defaultScanSettle = 3 * time.Second

// Runner executes a command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
			return out, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(ee.Stderr)))
		}
		return out, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return out, nil
}

// Driver talks to wpa_supplicant for one interface.
type Driver struct {
	Interface string
	Binary    string
	Run       Runner

	// ScanSettle is how long to wait between triggering a scan and reading
	// its results.
	ScanSettle time.Duration
}

// New creates a Driver for iface using the wpa_cli found on PATH.
func New(iface string) *Driver {
	return &Driver{
		Interface:  iface,
		Binary:     "wpa_cli",
		Run:        ExecRunner,
		ScanSettle: defaultScanSettle,
	}
}

var _ radio.Driver = (*Driver)(nil)

func (d *Driver) cli(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"-i", d.Interface}, args...)
	out, err := d.Run(ctx, d.Binary, full...)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// expectOK runs a command whose only output is OK or FAIL.
func (d *Driver) expectOK(ctx context.Context, args ...string) error {
	out, err := d.cli(ctx, args...)
	if err != nil {
		return err
	}
	if strings.TrimSpace(out) != "OK" {
		return fmt.Errorf("wpa_cli %s: %s", strings.Join(args, " "), strings.TrimSpace(out))
	}
	return nil
}

// KnownNetworks implements radio.Driver using list_networks.
func (d *Driver) KnownNetworks(ctx context.Context) ([]radio.Network, error) {
	out, err := d.cli(ctx, "list_networks")
	if err != nil {
		return nil, err
	}
	return parseNetworks(out), nil
}

// Scan implements radio.Driver using scan followed by scan_results.
func (d *Driver) Scan(ctx context.Context) ([]string, error) {
	if err := d.expectOK(ctx, "scan"); err != nil {
		// FAIL-BUSY means a scan is already running; its results will do.
		if !strings.Contains(err.Error(), "FAIL-BUSY") {
			return nil, err
		}
	}

	if d.ScanSettle > 0 {
		timer := time.NewTimer(d.ScanSettle)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	out, err := d.cli(ctx, "scan_results")
	if err != nil {
		return nil, err
	}
	return parseScanResults(out), nil
}

// Select implements radio.Driver using select_network.
func (d *Driver) Select(ctx context.Context, id string) error {
	return d.expectOK(ctx, "select_network", id)
}

// Reassociate implements radio.Driver. select_network disables every other
// network, so they are re-enabled before reassociating.
func (d *Driver) Reassociate(ctx context.Context) error {
	if err := d.expectOK(ctx, "enable_network", "all"); err != nil {
		return err
	}
	return d.expectOK(ctx, "reassociate")
}

// Status implements radio.Driver. Only wpa_state=COMPLETED counts as associated.
func (d *Driver) Status(ctx context.Context) (radio.Status, error) {
	out, err := d.cli(ctx, "status")
	if err != nil {
		return radio.Status{}, err
	}
	return parseStatus(out), nil
}

// parseNetworks reads list_networks output:
//
//	network id / ssid / bssid / flags
//	0	home	any	[CURRENT]
func parseNetworks(out string) []radio.Network {
	var networks []radio.Network
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "network id") || strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			continue
		}
		n := radio.Network{ID: fields[0], SSID: fields[1]}
		if len(fields) >= 4 {
			n.Current = strings.Contains(fields[3], "[CURRENT]")
		}
		networks = append(networks, n)
	}
	return networks
}

// parseScanResults reads scan_results output and returns the visible SSIDs.
// Hidden networks have no SSID column and are dropped.
func parseScanResults(out string) []string {
	var ssids []string
	seen := make(map[string]bool)
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "bssid") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 5 || fields[4] == "" || seen[fields[4]] {
			continue
		}
		seen[fields[4]] = true
		ssids = append(ssids, fields[4])
	}
	return ssids
}

func parseStatus(out string) radio.Status {
	var st radio.Status
	var state string
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		switch key {
		case "wpa_state":
			state = value
		case "ssid":
			st.SSID = value
		}
	}
	st.Associated = state == "COMPLETED"
	if !st.Associated {
		st.SSID = ""
	}
	return st
}
