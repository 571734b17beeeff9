// Package sender is the reference frame producer: it paces a test
// pattern to a receiver over UDP and reports what it sent.
package sender

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image/jpeg"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"

	"github.com/uvstream/vrgdisplay/internal/logger"
	"github.com/uvstream/vrgdisplay/internal/rtpframe"
	"github.com/uvstream/vrgdisplay/internal/stats"
	"github.com/uvstream/vrgdisplay/internal/video"
)

const (
	DefaultWidth   = 1920
	DefaultHeight  = 1080
	DefaultFPS     = 30.0
	DefaultQuality = 80
	DefaultHost    = "localhost"
)

// ParseReceiver splits "host[:port]". A missing host means localhost and
// a missing port means defaultPort. Bare IPv6 addresses need brackets to
// carry a port.
func ParseReceiver(addr string, defaultPort int) (string, int, error) {
	if addr == "" {
		return DefaultHost, defaultPort, nil
	}
	if strings.Count(addr, ":") > 1 && !strings.HasPrefix(addr, "[") {
		return addr, defaultPort, nil
	}
	if !strings.Contains(addr, ":") {
		return addr, defaultPort, nil
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("receiver %q: %w", addr, err)
	}
	if host == "" {
		host = DefaultHost
	}
	if portStr == "" {
		return host, defaultPort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("receiver %q: invalid port %q", addr, portStr)
	}
	return host, port, nil
}

// Config for a Sender. Zero values take the defaults.
type Config struct {
	// Receiver is "host[:port]".
	Receiver    string
	Port        int
	Compression rtpframe.Compression
	Quality     int
	Width       int
	Height      int
	FPS         float64
	// OnRenderPacket is called from the feedback goroutine for each
	// render packet the receiver returns.
	OnRenderPacket func(rtpframe.RenderPacket)
	// ReportInterval spaces the "sent N frames" log lines.
	ReportInterval time.Duration
	Clock          stats.Clock
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = rtpframe.DefaultPort
	}
	if c.Quality == 0 {
		c.Quality = DefaultQuality
	}
	if c.Width == 0 {
		c.Width = DefaultWidth
	}
	if c.Height == 0 {
		c.Height = DefaultHeight
	}
	if c.FPS == 0 {
		c.FPS = DefaultFPS
	}
	if c.ReportInterval == 0 {
		c.ReportInterval = time.Second
	}
}

// Sender owns one UDP socket connected to the receiver.
type Sender struct {
	cfg  Config
	conn *net.UDPConn
	pack *rtpframe.Packetizer
	log  *zerolog.Logger

	reporter *stats.Reporter
	start    time.Time

	sent     atomic.Int64
	feedback atomic.Int64
	wg       sync.WaitGroup
	closing  sync.Once
}

// New dials the receiver and starts listening for render packets.
func New(cfg Config) (*Sender, error) {
	cfg.applyDefaults()
	if cfg.FPS < 0 || cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > 0xffff || cfg.Height > 0xffff {
		return nil, fmt.Errorf("invalid sender format %dx%d @ %.2f", cfg.Width, cfg.Height, cfg.FPS)
	}
	host, port, err := ParseReceiver(cfg.Receiver, cfg.Port)
	if err != nil {
		return nil, err
	}
	raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("resolve receiver: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial receiver: %w", err)
	}

	id := uuid.New()
	s := &Sender{
		cfg:      cfg,
		conn:     conn,
		pack:     rtpframe.NewPacketizer(binary.BigEndian.Uint32(id[:4])),
		log:      logger.WithComponent("sender"),
		reporter: stats.NewReporter(cfg.ReportInterval, cfg.Clock),
		start:    time.Now(),
	}
	s.wg.Add(1)
	go s.readFeedback()

	s.log.Info().
		Str("receiver", raddr.String()).
		Str("compression", cfg.Compression.String()).
		Uint32("ssrc", s.pack.SSRC()).
		Msg("Sender ready")
	return s, nil
}

// SendFrame sends one frame of RGBA or I420 data.
func (s *Sender) SendFrame(data []byte, codec video.Codec, width, height int) error {
	desc := video.NewDesc(width, height, codec, s.cfg.FPS)
	if err := desc.Validate(); err != nil {
		return err
	}
	if want := video.DataLen(codec, width, height); len(data) != want {
		return fmt.Errorf("frame is %d bytes, %s needs %d", len(data), desc, want)
	}

	payload := data
	if s.cfg.Compression == rtpframe.JPEG {
		img, err := video.WrapImage(desc, data)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: s.cfg.Quality}); err != nil {
			return fmt.Errorf("encode jpeg: %w", err)
		}
		payload = buf.Bytes()
	}

	h := rtpframe.Header{
		Width:       width,
		Height:      height,
		Codec:       codec,
		Compression: s.cfg.Compression,
		FPS:         s.cfg.FPS,
	}
	_, err := s.pack.PacketizeAndWrite(h, payload, time.Since(s.start), func(pkt *rtp.Packet) error {
		raw, err := pkt.Marshal()
		if err != nil {
			return err
		}
		_, err = s.conn.Write(raw)
		return err
	})
	if err != nil {
		return fmt.Errorf("send frame: %w", err)
	}

	s.sent.Add(1)
	if sample, ok := s.reporter.Frame(); ok {
		secs := sample.Elapsed.Round(time.Second)
		plural := "s"
		if secs <= time.Second {
			plural = ""
		}
		s.log.Info().
			Int64("frames", sample.Frames).
			Float64("fps", sample.FPS).
			Msgf("Sent %d frames in last %.0f second%s.", sample.Frames, secs.Seconds(), plural)
	}
	return nil
}

// Run sends the test pattern at the configured rate until ctx is done.
// Send failures are logged and the next frame is tried.
func (s *Sender) Run(ctx context.Context) error {
	pattern := NewPattern(s.cfg.Width, s.cfg.Height)
	interval := time.Duration(float64(time.Second) / s.cfg.FPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var n int64
	for {
		img := pattern.Render(n)
		if err := s.SendFrame(img.Pix, video.RGBA, s.cfg.Width, s.cfg.Height); err != nil {
			s.log.Warn().Err(err).Int64("frame", n).Msg("Send failed")
		}
		n++

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Sender) readFeedback() {
	defer s.wg.Done()
	buf := make([]byte, 4096)
	for {
		n, err := s.conn.Read(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			// ICMP port unreachable surfaces here while no receiver listens
			s.log.Debug().Err(err).Msg("Feedback read failed")
			continue
		}
		p, err := rtpframe.UnmarshalRenderPacket(buf[:n])
		if err != nil {
			s.log.Debug().Err(err).Msg("Ignoring datagram")
			continue
		}
		s.feedback.Add(1)
		s.log.Debug().
			Int64("frame", p.Frame).
			Bool("ok", p.OK).
			Msg("Received RenderPacket")
		if s.cfg.OnRenderPacket != nil {
			s.cfg.OnRenderPacket(p)
		}
	}
}

// Sent is the number of frames handed to the socket.
func (s *Sender) Sent() int64 { return s.sent.Load() }

// Feedback is the number of render packets received.
func (s *Sender) Feedback() int64 { return s.feedback.Load() }

// Close stops the sender and waits for the feedback goroutine.
func (s *Sender) Close() error {
	var err error
	s.closing.Do(func() {
		err = s.conn.Close()
		s.wg.Wait()
		s.log.Info().Int64("sent", s.sent.Load()).Msg("Sender closed")
	})
	return err
}
