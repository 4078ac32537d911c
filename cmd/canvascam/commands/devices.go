package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/CanvasCamera/internal/app"
	"github.com/bryanchriswhite/CanvasCamera/internal/gpio"
)

var devicesFormat string

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List configured cameras",
	Long:  `List the cameras of the configured backend with their capabilities.`,
	Example: `  # List cameras
  canvascam devices

  # List V4L2 cameras as JSON
  canvascam devices --backend v4l2 --format json`,
	RunE: runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
	devicesCmd.Flags().StringVarP(&devicesFormat, "format", "f", "table", "output format (table or json)")
}

func runDevices(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Listing never touches flash hardware
	router, err := app.BuildRouter(cfg, gpio.NewMockDriver())
	if err != nil {
		return err
	}
	devices := router.Devices()

	switch devicesFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(devices)
	case "table":
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", devicesFormat)
	}

	if len(devices) == 0 {
		fmt.Println("No cameras configured")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "POSITION\tID\tNAME\tMIRRORED\tFLASH\n")
	for _, d := range devices {
		flash := make([]string, 0, len(d.Capabilities.FlashModes))
		for _, m := range d.Capabilities.FlashModes {
			flash = append(flash, string(m))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", d.Position, d.ID, d.Name, d.Mirrored, strings.Join(flash, ","))
	}
	return w.Flush()
}
