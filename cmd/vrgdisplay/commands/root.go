package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/uvstream/vrgdisplay/internal/config"
	"github.com/uvstream/vrgdisplay/internal/logger"
)

var (
	cfgFile string
	v       = config.NewViper()
	rootCmd = &cobra.Command{
		Use:   "vrgdisplay",
		Short: "vrgdisplay - video output modules for a VR streaming service",
		Long: `vrgdisplay receives video frames, negotiates a pixel format with an
output display and hands every frame to it.

Displays:
  • vrg    forward frames to a VR streaming service over a websocket
  • mjpeg  serve frames as a Motion JPEG HTTP stream
  • x11    show frames in an X11 window

A reference sender, a stand-in streaming service and a REST API are
included for testing end to end.`,
		SilenceUsage: true,
	}
)

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/vrgdisplay/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-pretty", false, "human readable console logs")

	// Bind flags to viper
	v.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	v.BindPFlag("log_pretty", rootCmd.PersistentFlags().Lookup("log-pretty"))
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// bindFlags maps viper keys to the named flags of one command. Several
// commands share keys, so binding happens when a command runs rather
// than in init.
func bindFlags(flags *pflag.FlagSet, keys map[string]string) error {
	for key, name := range keys {
		f := flags.Lookup(name)
		if f == nil {
			return fmt.Errorf("unknown flag %q", name)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}

// loadConfig reads the config file, applies environment and flag
// overrides and initializes logging.
func loadConfig() (*config.Manager, *config.Config, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg, err := configMgr.Resolve(v)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger.Init(cfg.LogLevel, cfg.LogPretty)
	return configMgr, cfg, nil
}
