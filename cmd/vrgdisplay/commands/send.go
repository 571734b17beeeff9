package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/uvstream/vrgdisplay/internal/logger"
	"github.com/uvstream/vrgdisplay/internal/rtpframe"
	"github.com/uvstream/vrgdisplay/internal/sender"
)

var sendCmd = &cobra.Command{
	Use:   "send [receiver[:port]]",
	Short: "Send a test pattern to a receiver",
	Long: `Send a gray ramp with a frame counter to a vrgdisplay receiver at a fixed
frame rate. Render packets returned by the receiver are logged.`,
	Example: `  # Uncompressed 1920x1080 at 30 fps to localhost:5004
  vrgdisplay send

  # JPEG compressed to another host
  vrgdisplay send -j 192.168.1.20

  # Smaller frames for ten seconds
  vrgdisplay send --size 640x360 --fps 60 --duration 10s localhost:6000`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().BoolP("jpeg", "j", false, "JPEG compress frames")
	sendCmd.Flags().Int("quality", 0, "JPEG quality 1-100")
	sendCmd.Flags().Float64("fps", 0, "frames per second")
	sendCmd.Flags().String("size", "", "frame size WxH")
	sendCmd.Flags().Duration("duration", 0, "stop after this long (0 runs until interrupted)")
}

func runSend(cmd *cobra.Command, args []string) error {
	if err := bindFlags(cmd.Flags(), map[string]string{
		"sender.quality": "quality",
		"sender.fps":     "fps",
	}); err != nil {
		return err
	}
	if jpeg, _ := cmd.Flags().GetBool("jpeg"); jpeg {
		v.Set("sender.compression", rtpframe.JPEG.String())
	}
	if size, _ := cmd.Flags().GetString("size"); size != "" {
		var w, h int
		if _, err := fmt.Sscanf(size, "%dx%d", &w, &h); err != nil {
			return fmt.Errorf("invalid size %q (use WxH)", size)
		}
		v.Set("sender.width", w)
		v.Set("sender.height", h)
	}
	if len(args) == 1 {
		v.Set("sender.receiver", args[0])
	}

	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.WithComponent("sender")

	compression, err := rtpframe.ParseCompression(cfg.Sender.Compression)
	if err != nil {
		return err
	}

	s, err := sender.New(sender.Config{
		Receiver:    cfg.Sender.Receiver,
		Port:        cfg.Sender.Port,
		Compression: compression,
		Quality:     cfg.Sender.Quality,
		Width:       cfg.Sender.Width,
		Height:      cfg.Sender.Height,
		FPS:         cfg.Sender.FPS,
		OnRenderPacket: func(p rtpframe.RenderPacket) {
			ev := log.Debug()
			if !p.OK {
				ev = log.Warn().Str("error", p.Error)
			}
			ev.Int64("frame", p.Frame).
				Str("display", p.Display).
				Int64("latency_us", p.LatencyMicros).
				Msg("Render packet")
		},
	})
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if d, _ := cmd.Flags().GetDuration("duration"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	log.Info().
		Str("receiver", cfg.Sender.Receiver).
		Str("compression", compression.String()).
		Int("width", cfg.Sender.Width).
		Int("height", cfg.Sender.Height).
		Float64("fps", cfg.Sender.FPS).
		Msg("Sending test pattern")

	start := time.Now()
	err = s.Run(ctx)
	log.Info().
		Int64("sent", s.Sent()).
		Int64("feedback", s.Feedback()).
		Dur("elapsed", time.Since(start)).
		Msg("Sender stopped")
	return err
}
