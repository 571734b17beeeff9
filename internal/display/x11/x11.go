// Package x11 is a display that draws frames into a window on an X server.
package x11

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/uvstream/vrgdisplay/internal/display"
	"github.com/uvstream/vrgdisplay/internal/host"
	"github.com/uvstream/vrgdisplay/internal/logger"
	"github.com/uvstream/vrgdisplay/internal/stats"
	"github.com/uvstream/vrgdisplay/internal/video"
)

const moduleName = "x11"

// Only packed RGBA is drawn; X wants BGRx and the swizzle is done per put.
var capabilities = display.NewCapabilities(
	[]video.Codec{video.RGBA},
	[3]int{0, 8, 16},
	display.PitchDefault,
)

// Options are parsed from the init spec, "display=:0,size=1280x720".
type Options struct {
	Display string
	Width   int
	Height  int
	Title   string
}

// ParseOptions parses an init spec. Empty fields keep their defaults.
func ParseOptions(spec string) (Options, error) {
	return parseOptions(defaultOptions(nil), spec)
}

// defaultOptions sizes the window from the host's default format when it
// names one, 1280x720 otherwise.
func defaultOptions(h *host.Context) Options {
	opts := Options{Width: 1280, Height: 720, Title: "vrgdisplay"}
	if h == nil {
		return opts
	}
	if desc := h.Settings().Desc; desc.Width > 0 && desc.Width <= 0xffff && desc.Height > 0 && desc.Height <= 0xffff {
		opts.Width, opts.Height = desc.Width, desc.Height
	}
	return opts
}

func parseOptions(opts Options, spec string) (Options, error) {
	if spec == "" {
		return opts, nil
	}
	for _, kv := range strings.Split(spec, ",") {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return opts, fmt.Errorf("option %q: expected key=value", kv)
		}
		switch key {
		case "display":
			opts.Display = value
		case "title":
			opts.Title = value
		case "size":
			w, h, ok := strings.Cut(value, "x")
			if !ok {
				return opts, fmt.Errorf("size %q: expected WIDTHxHEIGHT", value)
			}
			var err error
			if opts.Width, err = strconv.Atoi(w); err != nil || opts.Width <= 0 || opts.Width > 0xffff {
				return opts, fmt.Errorf("size %q: invalid width", value)
			}
			if opts.Height, err = strconv.Atoi(h); err != nil || opts.Height <= 0 || opts.Height > 0xffff {
				return opts, fmt.Errorf("size %q: invalid height", value)
			}
		default:
			return opts, fmt.Errorf("unknown option %q", key)
		}
	}
	return opts, nil
}

// Kind creates X11 window displays.
type Kind struct {
	ReportInterval time.Duration
	Usage          io.Writer
}

var _ display.Kind = Kind{}

func (Kind) Name() string { return moduleName }

func (Kind) Description() string {
	return "Draw frames into an X11 window"
}

// Probe reports the X display named by $DISPLAY, if any. It does not
// connect.
func (Kind) Probe() []display.DeviceInfo {
	name := os.Getenv("DISPLAY")
	if name == "" {
		return []display.DeviceInfo{}
	}
	return []display.DeviceInfo{{
		ID:          name,
		Name:        "X11 window",
		Description: "window on X display " + name,
	}}
}

func (k Kind) Init(h *host.Context, spec string, flags display.InitFlags) (display.Display, error) {
	if spec == "help" {
		w := k.Usage
		if w == nil {
			w = os.Stdout
		}
		fmt.Fprintf(w, "%s: %s\n\tusage: -d %s [--spec display=<name>,size=<W>x<H>,title=<text>]\n",
			moduleName, k.Description(), moduleName)
		return nil, display.ErrInitNoErr
	}
	if err := display.CheckInitFlags(moduleName, flags); err != nil {
		return nil, err
	}
	opts, err := parseOptions(defaultOptions(h), spec)
	if err != nil {
		return nil, &display.Error{Op: "init", Module: moduleName, Err: err}
	}
	d, err := Open(opts, k.ReportInterval)
	if err != nil {
		return nil, &display.Error{Op: "init", Module: moduleName, Err: fmt.Errorf("%w: %v", display.ErrResource, err)}
	}
	return d, nil
}

// Display owns one X connection and one window.
type Display struct {
	id     string
	lc     *display.Lifecycle
	log    zerolog.Logger
	width  int
	height int

	mu     sync.Mutex
	conn   *xgb.Conn
	screen *xproto.ScreenInfo
	window xproto.Window
	gc     xproto.Gcontext
	format pixmapFormat
	// maxRequest is the largest request the server takes, in bytes.
	maxRequest int

	reporter  *stats.Reporter
	submitted atomic.Int64
	dropped   atomic.Int64
	discarded atomic.Int64
	rejected  atomic.Int64
}

var _ display.Display = (*Display)(nil)

// Open connects to the X server and maps the window.
func Open(opts Options, reportInterval time.Duration) (*Display, error) {
	conn, err := xgb.NewConnDisplay(opts.Display)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	id := uuid.NewString()
	d := &Display{
		id:         id,
		lc:         display.NewLifecycle(moduleName, id),
		log:        logger.WithComponent(moduleName).With().Str("display_id", id).Logger(),
		width:      opts.Width,
		height:     opts.Height,
		conn:       conn,
		screen:     screen,
		maxRequest: int(setup.MaximumRequestLength) * 4,
		reporter:   stats.NewReporter(reportInterval, nil),
	}

	format, ok := findPixmapFormat(setup.PixmapFormats, screen.RootDepth)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("no pixmap format for depth %d", screen.RootDepth)
	}
	d.format = format

	if err := d.createWindow(opts.Title); err != nil {
		conn.Close()
		return nil, err
	}
	return d, nil
}

func (d *Display) createWindow(title string) error {
	windowID, err := xproto.NewWindowId(d.conn)
	if err != nil {
		return fmt.Errorf("failed to create window ID: %w", err)
	}
	d.window = windowID

	// Create window with black background
	mask := uint32(xproto.CwBackPixel | xproto.CwEventMask)
	values := []uint32{
		0x000000,
		xproto.EventMaskExposure | xproto.EventMaskStructureNotify,
	}
	err = xproto.CreateWindowChecked(
		d.conn,
		d.screen.RootDepth,
		d.window,
		d.screen.Root,
		0, 0,
		uint16(d.width), uint16(d.height),
		0,
		xproto.WindowClassInputOutput,
		d.screen.RootVisual,
		mask,
		values,
	).Check()
	if err != nil {
		return fmt.Errorf("failed to create window: %w", err)
	}

	if err := d.setWindowTitle(title); err != nil {
		d.log.Warn().Err(err).Msg("Failed to set window title")
	}
	if err := d.setWindowClass("vrgdisplay", "VRGDisplay"); err != nil {
		d.log.Warn().Err(err).Msg("Failed to set window class")
	}

	if err := xproto.MapWindowChecked(d.conn, d.window).Check(); err != nil {
		return fmt.Errorf("failed to map window: %w", err)
	}

	gc, err := xproto.NewGcontextId(d.conn)
	if err != nil {
		return fmt.Errorf("failed to create graphics context: %w", err)
	}
	if err := xproto.CreateGCChecked(d.conn, gc, xproto.Drawable(d.window), 0, nil).Check(); err != nil {
		return fmt.Errorf("failed to create GC: %w", err)
	}
	d.gc = gc
	d.conn.Sync()

	d.log.Info().
		Int("width", d.width).
		Int("height", d.height).
		Uint32("window_id", uint32(d.window)).
		Msg("Window created")
	return nil
}

func (d *Display) ID() string   { return d.id }
func (d *Display) Kind() string { return moduleName }

// Run services window events until ctx is done or the window goes away.
func (d *Display) Run(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		for {
			d.mu.Lock()
			if d.conn == nil {
				d.mu.Unlock()
				return nil
			}
			ev, xerr := d.conn.PollForEvent()
			d.mu.Unlock()
			if ev == nil && xerr == nil {
				break
			}
			if xerr != nil {
				d.log.Debug().Str("error", xerr.Error()).Msg("X error")
				continue
			}
			if destroy, ok := ev.(xproto.DestroyNotifyEvent); ok && destroy.Window == d.window {
				d.log.Info().Msg("Window destroyed")
				return nil
			}
		}
	}
}

func (d *Display) Reconfigure(desc video.Desc) error {
	if !capabilities.Supports(desc.Codec) {
		return &display.Error{Op: "reconfigure", Module: moduleName,
			Err: fmt.Errorf("%w: %s", display.ErrUnsupportedCodec, desc.Codec)}
	}
	if err := desc.Validate(); err != nil {
		return &display.Error{Op: "reconfigure", Module: moduleName, Err: err}
	}
	if err := d.lc.Configure(desc); err != nil {
		return err
	}
	d.log.Info().Str("desc", desc.String()).Msg("Reconfigured")
	return nil
}

func (d *Display) GetFrame() (*video.Frame, error) {
	desc, err := d.lc.CheckAcquire()
	if err != nil {
		return nil, err
	}
	return video.NewOwnedFrame(desc, d.id)
}

// PutFrame letterboxes the frame into the window. The draw is a single
// synchronous request, so PutNonblock is handled like PutBlocking.
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

	start := time.Now()
	err := d.render(frame)
	d.reporter.ObserveLatency(time.Since(start))
	if err != nil {
		d.dropped.Add(1)
		d.log.Error().Err(err).Msg("Failed to render frame")
	} else {
		d.submitted.Add(1)
	}
	if s, ok := d.reporter.Frame(); ok {
		d.log.Info().
			Int64("frames", s.Frames).
			Float64("fps", s.FPS).
			Dur("avg_render", s.AvgLatency).
			Msg("Throughput")
	}
	return d.lc.ReleaseFrame(frame)
}

func (d *Display) render(frame *video.Frame) error {
	img, err := frame.Image()
	if err != nil {
		return err
	}
	rgba, ok := img.(*image.RGBA)
	if !ok {
		return fmt.Errorf("unexpected image type %T", img)
	}

	out := letterbox(rgba, d.width, d.height)
	data, stride, err := toZPixmap(out, d.format, d.screen.RootDepth)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return display.ErrStopped
	}
	for _, strip := range strips(d.height, stride, d.maxRequest) {
		err := xproto.PutImageChecked(
			d.conn,
			xproto.ImageFormatZPixmap,
			xproto.Drawable(d.window),
			d.gc,
			uint16(d.width),
			uint16(strip.rows),
			0, int16(strip.y),
			0,
			d.screen.RootDepth,
			data[strip.y*stride:(strip.y+strip.rows)*stride],
		).Check()
		if err != nil {
			return fmt.Errorf("failed to put image: %w", err)
		}
	}
	return nil
}

func (d *Display) GetProperty(id display.PropertyID, capacity int) (any, int, error) {
	v, n, err := capabilities.Property(id, capacity)
	if err != nil {
		return nil, n, &display.Error{Op: "get_property", Module: moduleName, Err: err}
	}
	return v, n, nil
}

func (d *Display) PutAudioFrame(*display.AudioFrame) {}

func (d *Display) ReconfigureAudio(quantSamples, channels, sampleRate int) error {
	return &display.Error{Op: "reconfigure_audio", Module: moduleName, Err: display.ErrNoAudio}
}

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

// Done destroys the window and closes the connection.
func (d *Display) Done() error {
	if !d.lc.Stop() {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gc != 0 {
		xproto.FreeGC(d.conn, d.gc)
	}
	if d.window != 0 {
		xproto.DestroyWindow(d.conn, d.window)
		d.conn.Sync()
	}
	d.conn.Close()
	d.conn = nil
	d.log.Info().Int64("frames", d.submitted.Load()).Msg("Window closed")
	return nil
}

func (d *Display) setWindowTitle(title string) error {
	titleAtom, err := d.getAtom("_NET_WM_NAME")
	if err != nil {
		return err
	}
	utf8Atom, err := d.getAtom("UTF8_STRING")
	if err != nil {
		return err
	}
	return xproto.ChangePropertyChecked(d.conn, xproto.PropModeReplace, d.window,
		titleAtom, utf8Atom, 8, uint32(len(title)), []byte(title)).Check()
}

func (d *Display) setWindowClass(instance, class string) error {
	classAtom, err := d.getAtom("WM_CLASS")
	if err != nil {
		return err
	}
	// WM_CLASS format: instance\0class\0
	classStr := instance + "\x00" + class + "\x00"
	return xproto.ChangePropertyChecked(d.conn, xproto.PropModeReplace, d.window,
		classAtom, xproto.AtomString, 8, uint32(len(classStr)), []byte(classStr)).Check()
}

func (d *Display) getAtom(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(d.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	return reply.Atom, nil
}
