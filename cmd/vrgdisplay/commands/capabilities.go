package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/uvstream/vrgdisplay/internal/api"
	"github.com/uvstream/vrgdisplay/internal/display"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var capabilitiesCmd = &cobra.Command{
	Use:   "capabilities",
	Short: "List display kinds and their capabilities",
	Long: `List every display kind with the devices it can discover. With --open the
selected display is initialized and its property values are printed.`,
	Example: `  # List kinds in table format (default)
  vrgdisplay capabilities

  # Query the properties of the mjpeg display as JSON
  vrgdisplay capabilities --open -d mjpeg --format json`,
	RunE: runCapabilities,
}

var (
	capsFormat string
	capsOpen   bool
)

// capabilityReport is what the command prints.
type capabilityReport struct {
	Kinds      []api.KindInfo `json:"kinds"`
	Display    string         `json:"display,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

var queriedProperties = []display.PropertyID{
	display.PropertyCodecs,
	display.PropertyRGBShift,
	display.PropertyBufPitch,
	display.PropertyVideoMode,
}

func init() {
	rootCmd.AddCommand(capabilitiesCmd)

	capabilitiesCmd.Flags().AddFlagSet(displayFlags())
	capabilitiesCmd.Flags().StringVarP(&capsFormat, "format", "f", "table", "output format (table or json)")
	capabilitiesCmd.Flags().BoolVar(&capsOpen, "open", false, "initialize the display and query its properties")
}

func runCapabilities(cmd *cobra.Command, args []string) error {
	if err := bindFlags(cmd.Flags(), displayFlagKeys); err != nil {
		return err
	}
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	registry, err := newRegistry(cfg)
	if err != nil {
		return err
	}

	report := capabilityReport{}
	for _, k := range registry.Kinds() {
		report.Kinds = append(report.Kinds, api.KindInfo{
			Name:        k.Name(),
			Description: k.Description(),
			Devices:     k.Probe(),
		})
	}

	if capsOpen {
		props, err := queryDisplay(registry, cfg.Display.Kind, cfg.Display.Spec)
		if errors.Is(err, display.ErrInitNoErr) {
			return nil
		}
		if err != nil {
			return err
		}
		report.Display = cfg.Display.Kind
		report.Properties = props
	}

	switch capsFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	case "table":
		return printCapabilities(os.Stdout, report)
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", capsFormat)
	}
}

// queryDisplay opens one instance, reads every property and stops it.
func queryDisplay(registry *display.Registry, kind, spec string) (map[string]any, error) {
	disp, err := registry.Open(kind, nil, spec, display.InitNone)
	if err != nil {
		return nil, err
	}
	defer disp.Done()

	props := make(map[string]any, len(queriedProperties))
	for _, id := range queriedProperties {
		value, err := api.QueryProperty(disp, id)
		if errors.Is(err, display.ErrPropertyNotSupported) {
			continue
		}
		if err != nil {
			return nil, err
		}
		props[id.String()] = value
	}
	return props, nil
}

func printCapabilities(out io.Writer, report capabilityReport) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tDEVICE\tDESCRIPTION")
	for _, k := range report.Kinds {
		if len(k.Devices) == 0 {
			fmt.Fprintf(w, "%s\t-\t%s\n", k.Name, k.Description)
			continue
		}
		for _, d := range k.Devices {
			fmt.Fprintf(w, "%s\t%s\t%s\n", k.Name, d.ID, d.Name)
		}
	}

	if report.Properties != nil {
		fmt.Fprintf(w, "\nPROPERTY (%s)\tVALUE\t\n", report.Display)
		for _, id := range queriedProperties {
			if value, ok := report.Properties[id.String()]; ok {
				fmt.Fprintf(w, "%s\t%v\t\n", id, value)
			}
		}
	}
	return w.Flush()
}
