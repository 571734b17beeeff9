package config

import (
	"fmt"
	"time"

	"github.com/uvstream/vrgdisplay/internal/rtpframe"
	"github.com/uvstream/vrgdisplay/internal/stats"
	"github.com/uvstream/vrgdisplay/internal/video"
)

// Config represents the application configuration
type Config struct {
	LogLevel  string `json:"log_level" yaml:"log_level"`
	LogPretty bool   `json:"log_pretty" yaml:"log_pretty"`
	// APIPort 0 disables the HTTP API.
	APIPort int `json:"api_port" yaml:"api_port"`

	Display  DisplayConfig  `json:"display" yaml:"display"`
	Stream   StreamConfig   `json:"stream" yaml:"stream"`
	Receiver ReceiverConfig `json:"receiver" yaml:"receiver"`
	Sender   SenderConfig   `json:"sender" yaml:"sender"`
}

// DisplayConfig selects the display kind and the host's default format.
type DisplayConfig struct {
	Kind           string        `json:"kind" yaml:"kind"`
	Spec           string        `json:"spec,omitempty" yaml:"spec,omitempty"`
	Width          int           `json:"width" yaml:"width"`
	Height         int           `json:"height" yaml:"height"`
	Codec          string        `json:"codec" yaml:"codec"`
	FPS            float64       `json:"fps" yaml:"fps"`
	ReportInterval time.Duration `json:"report_interval" yaml:"report_interval"`
}

// StreamConfig is the connection to the VR streaming service.
type StreamConfig struct {
	Endpoint         string        `json:"endpoint" yaml:"endpoint"`
	HandshakeTimeout time.Duration `json:"handshake_timeout" yaml:"handshake_timeout"`
	SubmitTimeout    time.Duration `json:"submit_timeout" yaml:"submit_timeout"`
	// RendererListen is where the stand-in renderer serves.
	RendererListen string `json:"renderer_listen" yaml:"renderer_listen"`
}

type ReceiverConfig struct {
	Listen string `json:"listen" yaml:"listen"`
}

type SenderConfig struct {
	Receiver    string  `json:"receiver" yaml:"receiver"`
	Port        int     `json:"port" yaml:"port"`
	Compression string  `json:"compression" yaml:"compression"`
	Quality     int     `json:"quality" yaml:"quality"`
	Width       int     `json:"width" yaml:"width"`
	Height      int     `json:"height" yaml:"height"`
	FPS         float64 `json:"fps" yaml:"fps"`
}

// Defaults returns the configuration used when no file exists.
func Defaults() *Config {
	return &Config{
		LogLevel: "info",
		APIPort:  8080,
		Display: DisplayConfig{
			Kind:           "vrg",
			Width:          1920,
			Height:         1080,
			Codec:          video.RGBA.String(),
			FPS:            30,
			ReportInterval: stats.DefaultInterval,
		},
		Stream: StreamConfig{
			Endpoint:         "ws://localhost:9000/vrg",
			HandshakeTimeout: 5 * time.Second,
			SubmitTimeout:    time.Second,
			RendererListen:   ":9000",
		},
		Receiver: ReceiverConfig{
			Listen: fmt.Sprintf(":%d", rtpframe.DefaultPort),
		},
		Sender: SenderConfig{
			Receiver:    "localhost",
			Port:        rtpframe.DefaultPort,
			Compression: rtpframe.Uncompressed.String(),
			Quality:     80,
			Width:       1920,
			Height:      1080,
			FPS:         30,
		},
	}
}

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (use: debug, info, warn, error)", c.LogLevel)
	}
	if c.APIPort < 0 || c.APIPort > 65535 {
		return fmt.Errorf("invalid api_port: %d", c.APIPort)
	}

	if c.Display.Kind == "" {
		return fmt.Errorf("display.kind is required")
	}
	codec, err := video.ParseCodec(c.Display.Codec)
	if err != nil {
		return fmt.Errorf("display.codec: %w", err)
	}
	if err := c.Display.Desc(codec).Validate(); err != nil {
		return fmt.Errorf("display: %w", err)
	}
	if c.Display.FPS <= 0 {
		return fmt.Errorf("display.fps must be positive")
	}
	if c.Display.ReportInterval <= 0 {
		return fmt.Errorf("display.report_interval must be positive")
	}

	if c.Stream.HandshakeTimeout <= 0 || c.Stream.SubmitTimeout <= 0 {
		return fmt.Errorf("stream timeouts must be positive")
	}

	if _, err := rtpframe.ParseCompression(c.Sender.Compression); err != nil {
		return fmt.Errorf("sender.compression: %w", err)
	}
	if c.Sender.Port <= 0 || c.Sender.Port > 65535 {
		return fmt.Errorf("invalid sender.port: %d", c.Sender.Port)
	}
	if c.Sender.Quality < 1 || c.Sender.Quality > 100 {
		return fmt.Errorf("sender.quality must be 1-100")
	}
	if c.Sender.Width <= 0 || c.Sender.Height <= 0 || c.Sender.FPS <= 0 {
		return fmt.Errorf("invalid sender format %dx%d @ %.2f", c.Sender.Width, c.Sender.Height, c.Sender.FPS)
	}
	return nil
}

// Desc is the configured display format with the given codec.
func (d DisplayConfig) Desc(codec video.Codec) video.Desc {
	return video.NewDesc(d.Width, d.Height, codec, d.FPS)
}
