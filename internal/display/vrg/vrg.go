// Package vrg is the display module that forwards finished frames to a VR
// streaming service through vrgstream.
package vrg

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/uvstream/vrgdisplay/internal/display"
	"github.com/uvstream/vrgdisplay/internal/host"
	"github.com/uvstream/vrgdisplay/internal/logger"
	"github.com/uvstream/vrgdisplay/internal/stats"
	"github.com/uvstream/vrgdisplay/internal/video"
	"github.com/uvstream/vrgdisplay/internal/vrgstream"
)

const moduleName = "vrg"

// The service accepts exactly two layouts.
var capabilities = display.NewCapabilities(
	[]video.Codec{video.I420, video.RGBA},
	[3]int{0, 8, 16},
	display.PitchDefault,
)

// Capabilities returns the table shared by all vrg instances.
func Capabilities() display.Capabilities {
	return capabilities
}

// StreamFactory opens the connection to the streaming service for a new
// instance.
type StreamFactory func() (vrgstream.Stream, error)

// Kind creates vrg displays.
type Kind struct {
	NewStream      StreamFactory
	ReportInterval time.Duration
	// Clock is used for latency and throughput; nil means time.Now.
	Clock stats.Clock
	// Usage receives the help text; nil means stdout.
	Usage io.Writer
}

var _ display.Kind = Kind{}

func (Kind) Name() string { return moduleName }

func (Kind) Description() string {
	return "Forward frames to a VR streaming service"
}

// Probe returns no devices: the service is not discoverable.
func (Kind) Probe() []display.DeviceInfo {
	return []display.DeviceInfo{}
}

// Init opens the service connection. spec "help" prints usage instead.
func (k Kind) Init(h *host.Context, spec string, flags display.InitFlags) (display.Display, error) {
	if spec == "help" {
		w := k.Usage
		if w == nil {
			w = os.Stdout
		}
		fmt.Fprintf(w, "%s: %s\n\tusage: -d %s\n", moduleName, k.Description(), moduleName)
		return nil, display.ErrInitNoErr
	}
	if err := display.CheckInitFlags(moduleName, flags); err != nil {
		return nil, err
	}
	if k.NewStream == nil {
		return nil, &display.Error{Op: "init", Module: moduleName, Err: fmt.Errorf("%w: no stream factory", display.ErrResource)}
	}

	stream, err := k.NewStream()
	if err != nil {
		return nil, &display.Error{Op: "init", Module: moduleName, Err: fmt.Errorf("%w: %v", display.ErrResource, err)}
	}

	ctx := context.Background()
	if h != nil {
		ctx = h.Context()
	}
	return New(ctx, stream, Options{ReportInterval: k.ReportInterval, Clock: k.Clock}), nil
}

// Options tune a Display.
type Options struct {
	ReportInterval time.Duration
	Clock          stats.Clock
}

// Display forwards each frame to the service as it is put. It is not
// reentrant; see package display for the calling contract.
type Display struct {
	id     string
	ctx    context.Context
	stream vrgstream.Stream
	lc     *display.Lifecycle
	now    stats.Clock
	log    zerolog.Logger

	reporter *stats.Reporter

	// counter is the frame index handed to the service; it advances for
	// every forwarded frame, delivered or not.
	counter   atomic.Int64
	submitted atomic.Int64
	dropped   atomic.Int64
	discarded atomic.Int64
	rejected  atomic.Int64
}

var _ display.Display = (*Display)(nil)

// New wraps an open stream. ctx bounds every call into the service.
func New(ctx context.Context, stream vrgstream.Stream, opts Options) *Display {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	id := uuid.NewString()
	return &Display{
		id:       id,
		ctx:      ctx,
		stream:   stream,
		lc:       display.NewLifecycle(moduleName, id),
		now:      now,
		log:      logger.WithComponent(moduleName).With().Str("display_id", id).Logger(),
		reporter: stats.NewReporter(opts.ReportInterval, now),
	}
}

func (d *Display) ID() string   { return d.id }
func (d *Display) Kind() string { return moduleName }

// State returns the lifecycle state.
func (d *Display) State() display.State {
	return d.lc.State()
}

// Run has nothing to do on the caller's goroutine; it waits for ctx.
func (d *Display) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// Reconfigure validates desc and re-initialises the service for its
// color mode. On a failed handshake no format is valid until the next
// successful Reconfigure.
func (d *Display) Reconfigure(desc video.Desc) error {
	if d.lc.State() == display.StateStopped {
		return &display.Error{Op: "reconfigure", Module: moduleName, Err: display.ErrStopped}
	}
	mode, ok := colorMode(desc.Codec)
	if !ok {
		return &display.Error{Op: "reconfigure", Module: moduleName,
			Err: fmt.Errorf("%w: %s", display.ErrUnsupportedCodec, desc.Codec)}
	}
	if err := desc.Validate(); err != nil {
		return &display.Error{Op: "reconfigure", Module: moduleName, Err: err}
	}

	if st := d.stream.Init(d.ctx, mode); !st.OK() {
		d.lc.Unconfigure()
		d.log.Error().
			Str("status", st.String()).
			Str("desc", desc.String()).
			Msg("Initialization failed")
		return &display.Error{Op: "reconfigure", Module: moduleName,
			Err: fmt.Errorf("%w: %w", display.ErrHandshake, st.Err())}
	}

	if err := d.lc.Configure(desc); err != nil {
		return err
	}
	d.log.Info().
		Str("desc", desc.String()).
		Str("color_mode", mode.String()).
		Msg("Reconfigured")
	return nil
}

// GetFrame allocates a frame for the negotiated format.
func (d *Display) GetFrame() (*video.Frame, error) {
	desc, err := d.lc.CheckAcquire()
	if err != nil {
		return nil, err
	}
	frame, err := video.NewOwnedFrame(desc, d.id)
	if err != nil {
		return nil, &display.Error{Op: "getf", Module: moduleName, Err: fmt.Errorf("%w: %v", display.ErrResource, err)}
	}
	return frame, nil
}

// PutFrame forwards frame to the service, or drops it when flags is
// PutDiscard. PutNonblock is handled like PutBlocking; the submit is
// bounded by the submit timeout either way. The frame is released on
// every path. A service failure drops this frame only and is not
// returned: the next frame is tried as usual.
func (d *Display) PutFrame(frame *video.Frame, flags display.PutFlags) error {
	if frame == nil {
		return d.lc.CheckFrame(nil)
	}

	if flags == display.PutDiscard {
		if err := d.lc.ReleaseFrame(frame); err != nil {
			return err
		}
		d.discarded.Add(1)
		return nil
	}

	if err := d.lc.CheckFrame(frame); err != nil {
		d.rejected.Add(1)
		_ = frame.Release()
		d.log.Error().Err(err).Msg("Refusing frame")
		return err
	}
	d.lc.MarkRunning()

	counter := d.counter.Add(1) - 1
	start := d.now()
	st := d.stream.SubmitFrame(d.ctx, counter, frame.Data())
	latency := d.now().Sub(start)
	d.reporter.ObserveLatency(latency)

	if st.OK() {
		d.submitted.Add(1)
	} else {
		d.dropped.Add(1)
		d.log.Error().
			Int64("frame", counter).
			Str("status", st.String()).
			Dur("latency", latency).
			Msg("Submit Frame failed")
	}
	d.log.Debug().
		Int64("frame", counter).
		Dur("latency", latency).
		Msg("Frame submit finished")

	if s, ok := d.reporter.Frame(); ok {
		d.log.Info().
			Int64("frames", s.Frames).
			Dur("elapsed", s.Elapsed).
			Float64("fps", s.FPS).
			Dur("avg_submit", s.AvgLatency).
			Int64("dropped_total", d.dropped.Load()).
			Msgf("%d frames in %.2f seconds = %.2f FPS", s.Frames, s.Elapsed.Seconds(), s.FPS)
	}

	return d.lc.ReleaseFrame(frame)
}

// GetProperty answers capability queries from the shared table.
func (d *Display) GetProperty(id display.PropertyID, capacity int) (any, int, error) {
	v, n, err := capabilities.Property(id, capacity)
	if err != nil {
		return nil, n, &display.Error{Op: "get_property", Module: moduleName, Err: err}
	}
	return v, n, nil
}

// PutAudioFrame ignores audio; this display has no audio path.
func (d *Display) PutAudioFrame(*display.AudioFrame) {}

// ReconfigureAudio always fails so the pipeline routes audio elsewhere.
func (d *Display) ReconfigureAudio(quantSamples, channels, sampleRate int) error {
	return &display.Error{Op: "reconfigure_audio", Module: moduleName, Err: display.ErrNoAudio}
}

// Stats returns counters and the last throughput sample.
func (d *Display) Stats() display.Stats {
	s := display.Stats{
		ID:        d.id,
		Kind:      moduleName,
		State:     d.lc.State(),
		Submitted: d.submitted.Load(),
		Dropped:   d.dropped.Load(),
		Discarded: d.discarded.Load(),
		Rejected:  d.rejected.Load(),
	}
	if desc, ok := d.lc.Desc(); ok {
		s.Desc = &desc
	}
	if sample, ok := d.reporter.Last(); ok {
		s.LastSample = &sample
	}
	return s
}

// Done stops the display and closes the service connection once.
func (d *Display) Done() error {
	if !d.lc.Stop() {
		return nil
	}
	err := d.stream.Close()
	d.log.Info().
		Int64("submitted", d.submitted.Load()).
		Int64("dropped", d.dropped.Load()).
		Int64("discarded", d.discarded.Load()).
		Msg("Display stopped")
	if err != nil {
		return &display.Error{Op: "done", Module: moduleName, Err: err}
	}
	return nil
}

func colorMode(codec video.Codec) (vrgstream.ColorMode, bool) {
	switch codec {
	case video.RGBA:
		return vrgstream.ColorModeRGBA, true
	case video.I420:
		return vrgstream.ColorModeYUV420, true
	default:
		return 0, false
	}
}
