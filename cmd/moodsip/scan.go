package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/moodsip/internal/device"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List nearby MoodSip bottles",
	Long: `Scan for Bluetooth Low Energy peripherals whose advertised name matches the
configured device filters and list them, strongest signal first.`,
	Example: `  moodsip scan
  moodsip scan --duration 5s --format json
  moodsip scan --all`,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
	scanAll      bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (default from config)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "List every peripheral, ignoring the device filters")
}

// peripheralScanner is implemented by transports that can list every match
// instead of picking one.
type peripheralScanner interface {
	Scan(ctx context.Context, filters []device.Filter) ([]device.Peripheral, error)
}

type scanOptions struct {
	format string
	all    bool
}

type peripheralInfo struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	ID      string `json:"id"`
	RSSI    int    `json:"rssi"`
}

func runScan(cmd *cobra.Command, args []string) error {
	if err := validateFormat(scanFormat); err != nil {
		return err
	}
	env, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	if scanDuration > 0 {
		env.cfg.ScanTimeout = scanDuration
	}

	cmd.SilenceUsage = true

	ctx, stop := interruptible(context.Background(), env.out, "cancelling scan")
	defer stop()

	return listPeripherals(ctx, env, scanOptions{format: scanFormat, all: scanAll})
}

func listPeripherals(ctx context.Context, env *appEnv, opts scanOptions) error {
	t := newTransport(env.cfg, env.logger)
	if !t.IsAvailable() {
		return device.NewError(device.TransportUnavailable, nil, "radio stack %s", t.Capability())
	}
	if !t.IsAdapterReady() {
		return device.NewError(device.AdapterUnavailable, nil, "adapter %s", t.Capability())
	}

	filters := env.cfg.DeviceFilters()
	if opts.all {
		filters = []device.Filter{}
	}

	progress := newCountdown(env.out, "Scanning for MoodSip devices", env.cfg.ScanTimeout)
	progress.Start()

	var found []device.Peripheral
	var err error
	if sc, ok := t.(peripheralScanner); ok {
		found, err = sc.Scan(ctx, filters)
	} else {
		var p device.Peripheral
		if p, err = t.RequestDevice(ctx, filters); err == nil {
			found = []device.Peripheral{p}
		}
	}
	progress.Stop()

	switch {
	case err == nil:
	case ctx.Err() != nil:
		env.logger.WithError(err).Debug("Scan interrupted")
	case device.KindOf(err) == device.NoDeviceFound:
		found = nil
	default:
		env.logger.WithError(err).Error("scan failed")
		return err
	}

	return displayPeripherals(env.out, found, opts.format)
}

func displayPeripherals(w io.Writer, found []device.Peripheral, format string) error {
	infos := make([]peripheralInfo, 0, len(found))
	for _, p := range found {
		infos = append(infos, peripheralInfo{Name: p.Name(), Address: p.Address(), ID: p.ID(), RSSI: p.RSSI()})
	}

	if format == "json" {
		data, err := json.MarshalIndent(infos, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal peripherals: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	if len(infos) == 0 {
		_, err := fmt.Fprintln(w, "No MoodSip devices found.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tRSSI")
	for _, p := range infos {
		name := p.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d dBm\n", name, p.Address, p.RSSI)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d device(s) found\n", len(infos))
	return err
}
