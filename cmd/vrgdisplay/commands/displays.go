package commands

import (
	"github.com/spf13/pflag"

	"github.com/uvstream/vrgdisplay/internal/config"
	"github.com/uvstream/vrgdisplay/internal/display"
	"github.com/uvstream/vrgdisplay/internal/display/mjpeg"
	"github.com/uvstream/vrgdisplay/internal/display/vrg"
	"github.com/uvstream/vrgdisplay/internal/display/x11"
	"github.com/uvstream/vrgdisplay/internal/vrgstream"
)

// displayFlags are shared by every command that opens a display.
func displayFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("display", pflag.ExitOnError)
	fs.StringP("display", "d", "", "display kind (vrg, mjpeg, x11; default from config)")
	fs.String("spec", "", "display options, e.g. quality=90 or display=:1,size=1280x720; 'help' for usage")
	fs.String("endpoint", "", "streaming service websocket URL for the vrg display")
	return fs
}

var displayFlagKeys = map[string]string{
	"display.kind":    "display",
	"display.spec":    "spec",
	"stream.endpoint": "endpoint",
}

// newRegistry registers every display kind, the vrg kind dialing the
// configured streaming service.
func newRegistry(cfg *config.Config) (*display.Registry, error) {
	streamCfg := vrgstream.ClientConfig{
		Endpoint:         cfg.Stream.Endpoint,
		HandshakeTimeout: cfg.Stream.HandshakeTimeout,
		SubmitTimeout:    cfg.Stream.SubmitTimeout,
	}
	interval := cfg.Display.ReportInterval

	return display.NewRegistry(
		vrg.Kind{
			NewStream: func() (vrgstream.Stream, error) {
				c, err := vrgstream.NewClient(streamCfg)
				if err != nil {
					return nil, err
				}
				return c, nil
			},
			ReportInterval: interval,
		},
		mjpeg.Kind{ReportInterval: interval},
		x11.Kind{ReportInterval: interval},
	)
}
