package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/uvstream/vrgdisplay/internal/logger"
	"github.com/uvstream/vrgdisplay/internal/stats"
	"github.com/uvstream/vrgdisplay/internal/vrgstream"
)

var rendererCmd = &cobra.Command{
	Use:   "renderer",
	Short: "Run a stand-in streaming service",
	Long: `Accept vrg display connections and log the frames they submit. The
websocket is served at the path of stream.endpoint.`,
	Example: `  # Serve ws://localhost:9000/vrg
  vrgdisplay renderer

  # Listen elsewhere
  vrgdisplay renderer --listen :9100`,
	RunE: runRenderer,
}

func init() {
	rootCmd.AddCommand(rendererCmd)

	rendererCmd.Flags().String("listen", "", "listen address (default :9000)")
	rendererCmd.Flags().String("endpoint", "", "websocket URL whose path is served")
}

func runRenderer(cmd *cobra.Command, args []string) error {
	if err := bindFlags(cmd.Flags(), map[string]string{
		"stream.renderer_listen": "listen",
		"stream.endpoint":        "endpoint",
	}); err != nil {
		return err
	}
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.WithComponent("vrgstream")

	endpoint, err := url.Parse(cfg.Stream.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid stream.endpoint: %w", err)
	}
	path := endpoint.Path
	if path == "" {
		path = "/"
	}

	var (
		mu        sync.Mutex
		renderers []*vrgstream.LoggingRenderer
	)
	service := vrgstream.NewServer(func() vrgstream.Renderer {
		r := vrgstream.NewLoggingRenderer(stats.NewReporter(cfg.Display.ReportInterval, nil))
		mu.Lock()
		renderers = append(renderers, r)
		mu.Unlock()
		return r
	})

	router := mux.NewRouter()
	router.Handle(path, service)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "ok sessions=%d\n", service.Sessions())
	})

	srv := &http.Server{
		Addr:              cfg.Stream.RendererListen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("listen", cfg.Stream.RendererListen).
			Str("path", path).
			Msg("Renderer listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	var frames int64
	mu.Lock()
	for _, r := range renderers {
		frames += r.Frames()
	}
	mu.Unlock()
	log.Info().
		Int("sessions", len(renderers)).
		Int64("frames", frames).
		Msg("Renderer stopped")
	return nil
}
