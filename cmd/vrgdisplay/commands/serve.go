package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/uvstream/vrgdisplay/internal/api"
	"github.com/uvstream/vrgdisplay/internal/display"
	"github.com/uvstream/vrgdisplay/internal/host"
	"github.com/uvstream/vrgdisplay/internal/logger"
	"github.com/uvstream/vrgdisplay/internal/pipeline"
	"github.com/uvstream/vrgdisplay/internal/receiver"
	"github.com/uvstream/vrgdisplay/internal/video"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Receive frames and drive a display",
	Long: `Listen for RTP frames from a sender, negotiate a format with the selected
display and forward every frame to it. The REST API reports display and
receiver statistics; with the mjpeg display it also serves the preview.`,
	Example: `  # Forward to the streaming service configured in the config file
  vrgdisplay serve

  # Preview in a browser at http://localhost:8080
  vrgdisplay serve -d mjpeg

  # Show frames in an X11 window on :1
  vrgdisplay serve -d x11 --spec display=:1,size=1280x720

  # Print the usage of a display
  vrgdisplay serve -d mjpeg --spec help`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().AddFlagSet(displayFlags())
	serveCmd.Flags().StringP("listen", "l", "", "UDP address for incoming frames (default :5004)")
	serveCmd.Flags().Int("api-port", 0, "HTTP API port, 0 disables the API (default 8080)")
}

func runServe(cmd *cobra.Command, args []string) error {
	keys := map[string]string{
		"receiver.listen": "listen",
		"api_port":        "api-port",
	}
	for k, f := range displayFlagKeys {
		keys[k] = f
	}
	if err := bindFlags(cmd.Flags(), keys); err != nil {
		return err
	}

	configMgr, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.WithComponent("serve")

	codec, err := video.ParseCodec(cfg.Display.Codec)
	if err != nil {
		return err
	}
	sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	h := host.New(sigCtx, host.Settings{
		Desc: cfg.Display.Desc(codec),
		Argv: os.Args,
	})

	registry, err := newRegistry(cfg)
	if err != nil {
		return err
	}
	disp, err := registry.Open(cfg.Display.Kind, h, cfg.Display.Spec, display.InitNone)
	if errors.Is(err, display.ErrInitNoErr) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open display %q: %w", cfg.Display.Kind, err)
	}

	pipe := pipeline.New(disp)
	defer pipe.Close()

	recv, err := receiver.Listen(cfg.Receiver.Listen, pipe)
	if err != nil {
		return fmt.Errorf("failed to start receiver: %w", err)
	}

	ctx := h.Context()
	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := recv.Run(ctx); err != nil {
			errCh <- fmt.Errorf("receiver: %w", err)
			h.Exit(1)
		}
	}()

	if cfg.APIPort > 0 {
		server := api.NewServer(api.Options{
			Registry: registry,
			Config:   configMgr,
			Display:  disp,
			Sections: map[string]func() any{
				"receiver": func() any { return recv.Stats() },
				"pipeline": func() any { return pipe.Stats() },
			},
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Start(ctx, cfg.APIPort); err != nil {
				errCh <- fmt.Errorf("api: %w", err)
				h.Exit(1)
			}
		}()
	}

	log.Info().
		Str("display", disp.Kind()).
		Str("display_id", disp.ID()).
		Str("listen", recv.Addr().String()).
		Int("api_port", cfg.APIPort).
		Msg("vrgdisplay is running, press Ctrl+C to stop")

	// Displays with UI work need the calling goroutine.
	if err := disp.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Display stopped")
	}
	h.Exit(0)

	log.Info().Msg("Shutting down gracefully...")
	wg.Wait()
	close(errCh)

	st := recv.Stats()
	log.Info().
		Int64("frames", st.Frames).
		Int64("failed", st.Failed).
		Int64("lost", st.Lost).
		Msg("Receiver totals")

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	status := h.ExitStatus()
	log.Info().Int("status", status).Msg("Exited")
	return exitError(status, errs)
}

// exitError folds the collected worker errors and the host exit status
// into the command result.
func exitError(status int, errs []error) error {
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if status != 0 {
		return fmt.Errorf("exited with status %d", status)
	}
	return nil
}
