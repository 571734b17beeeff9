// Package mjpeg is a preview display that serves frames as Motion JPEG
// over HTTP. Open the stream in a browser to watch what the pipeline
// produces.
package mjpeg

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/uvstream/vrgdisplay/internal/display"
	"github.com/uvstream/vrgdisplay/internal/host"
	"github.com/uvstream/vrgdisplay/internal/logger"
	"github.com/uvstream/vrgdisplay/internal/stats"
	"github.com/uvstream/vrgdisplay/internal/video"
)

const (
	moduleName     = "mjpeg"
	defaultQuality = 90
	// per-client frame buffer; a slow client skips frames beyond this
	clientBuffer = 2
)

var capabilities = display.NewCapabilities(
	[]video.Codec{video.RGBA, video.I420},
	[3]int{0, 8, 16},
	display.PitchDefault,
)

// Kind creates MJPEG displays.
type Kind struct {
	ReportInterval time.Duration
	Usage          io.Writer
}

var _ display.Kind = Kind{}

func (Kind) Name() string { return moduleName }

func (Kind) Description() string {
	return "Serve frames as a Motion JPEG HTTP stream"
}

func (Kind) Probe() []display.DeviceInfo {
	return []display.DeviceInfo{{
		ID:          "http",
		Name:        "MJPEG HTTP Stream",
		Description: "mounted at /stream by the API server",
	}}
}

// Init accepts "quality=N" (1-100) as spec.
func (k Kind) Init(h *host.Context, spec string, flags display.InitFlags) (display.Display, error) {
	quality := defaultQuality
	switch {
	case spec == "help":
		w := k.Usage
		if w == nil {
			w = os.Stdout
		}
		fmt.Fprintf(w, "%s: %s\n\tusage: -d %s [--spec quality=<1-100>]\n", moduleName, k.Description(), moduleName)
		return nil, display.ErrInitNoErr
	case len(spec) > len("quality=") && spec[:len("quality=")] == "quality=":
		q, err := strconv.Atoi(spec[len("quality="):])
		if err != nil || q < 1 || q > 100 {
			return nil, display.Errorf(moduleName, "init", "invalid quality %q", spec)
		}
		quality = q
	case spec != "":
		return nil, display.Errorf(moduleName, "init", "unknown option %q", spec)
	}
	if err := display.CheckInitFlags(moduleName, flags); err != nil {
		return nil, err
	}
	return New(quality, k.ReportInterval), nil
}

// Display streams JPEG-encoded frames to every connected HTTP client.
type Display struct {
	id      string
	quality int
	lc      *display.Lifecycle

	// Connected clients
	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}

	lastUpdate atomic.Int64 // unix nanos
	startTime  time.Time
	reporter   *stats.Reporter

	submitted atomic.Int64
	dropped   atomic.Int64
	discarded atomic.Int64
	rejected  atomic.Int64
}

var _ display.Display = (*Display)(nil)

// New creates a display encoding at quality.
func New(quality int, reportInterval time.Duration) *Display {
	id := uuid.NewString()
	return &Display{
		id:        id,
		quality:   quality,
		lc:        display.NewLifecycle(moduleName, id),
		clients:   make(map[chan []byte]struct{}),
		startTime: time.Now(),
		reporter:  stats.NewReporter(reportInterval, nil),
	}
}

func (m *Display) ID() string   { return m.id }
func (m *Display) Kind() string { return moduleName }

func (m *Display) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (m *Display) Reconfigure(desc video.Desc) error {
	if !capabilities.Supports(desc.Codec) {
		return &display.Error{Op: "reconfigure", Module: moduleName,
			Err: fmt.Errorf("%w: %s", display.ErrUnsupportedCodec, desc.Codec)}
	}
	if err := desc.Validate(); err != nil {
		return &display.Error{Op: "reconfigure", Module: moduleName, Err: err}
	}
	if err := m.lc.Configure(desc); err != nil {
		return err
	}
	logger.WithComponent(moduleName).Info().
		Str("desc", desc.String()).
		Msg("[MJPEG] Output configured")
	return nil
}

func (m *Display) GetFrame() (*video.Frame, error) {
	desc, err := m.lc.CheckAcquire()
	if err != nil {
		return nil, err
	}
	return video.NewOwnedFrame(desc, m.id)
}

// PutFrame encodes the frame and offers it to every client. Offers never
// wait on a slow client, so PutBlocking and PutNonblock behave the same.
func (m *Display) PutFrame(frame *video.Frame, flags display.PutFlags) error {
	if frame == nil {
		return m.lc.CheckFrame(nil)
	}
	if flags == display.PutDiscard {
		if err := m.lc.ReleaseFrame(frame); err != nil {
			return err
		}
		m.discarded.Add(1)
		return nil
	}
	if err := m.lc.CheckFrame(frame); err != nil {
		m.rejected.Add(1)
		_ = frame.Release()
		logger.WithComponent(moduleName).Error().Err(err).Msg("[MJPEG] Refusing frame")
		return err
	}
	m.lc.MarkRunning()

	start := time.Now()
	jpegData, err := m.encode(frame)
	m.reporter.ObserveLatency(time.Since(start))
	if err != nil {
		m.dropped.Add(1)
		logger.WithComponent(moduleName).Error().Err(err).Msg("[MJPEG] Failed to encode frame")
	} else {
		m.submitted.Add(1)
		m.lastUpdate.Store(time.Now().UnixNano())
		m.broadcast(jpegData)
	}

	if s, ok := m.reporter.Frame(); ok {
		logger.WithComponent(moduleName).Info().
			Int64("frames", s.Frames).
			Float64("fps", s.FPS).
			Int("clients", m.clientCount()).
			Msg("[MJPEG] Throughput")
	}
	return m.lc.ReleaseFrame(frame)
}

func (m *Display) encode(frame *video.Frame) ([]byte, error) {
	img, err := frame.Image()
	if err != nil {
		return nil, err
	}
	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: m.quality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

func (m *Display) broadcast(jpegData []byte) {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	for ch := range m.clients {
		select {
		case ch <- jpegData:
		default:
			// Client is slow, skip this frame
		}
	}
}

func (m *Display) clientCount() int {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	return len(m.clients)
}

func (m *Display) GetProperty(id display.PropertyID, capacity int) (any, int, error) {
	v, n, err := capabilities.Property(id, capacity)
	if err != nil {
		return nil, n, &display.Error{Op: "get_property", Module: moduleName, Err: err}
	}
	return v, n, nil
}

func (m *Display) PutAudioFrame(*display.AudioFrame) {}

func (m *Display) ReconfigureAudio(quantSamples, channels, sampleRate int) error {
	return &display.Error{Op: "reconfigure_audio", Module: moduleName, Err: display.ErrNoAudio}
}

func (m *Display) Stats() display.Stats {
	s := display.Stats{
		ID:        m.id,
		Kind:      moduleName,
		State:     m.lc.State(),
		Submitted: m.submitted.Load(),
		Dropped:   m.dropped.Load(),
		Discarded: m.discarded.Load(),
		Rejected:  m.rejected.Load(),
	}
	if desc, ok := m.lc.Desc(); ok {
		s.Desc = &desc
	}
	if sample, ok := m.reporter.Last(); ok {
		s.LastSample = &sample
	}
	return s
}

// Done disconnects all clients.
func (m *Display) Done() error {
	if !m.lc.Stop() {
		return nil
	}

	m.clientsMu.Lock()
	for ch := range m.clients {
		close(ch)
	}
	m.clients = make(map[chan []byte]struct{})
	m.clientsMu.Unlock()

	logger.WithComponent(moduleName).Info().Msgf("[MJPEG] Output stopped after %d frames", m.submitted.Load())
	return nil
}
