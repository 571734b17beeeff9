// Package pipeline feeds decoded source frames into a display, handling
// codec negotiation and format changes.
package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"image/jpeg"
	"slices"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/uvstream/vrgdisplay/internal/display"
	"github.com/uvstream/vrgdisplay/internal/logger"
	"github.com/uvstream/vrgdisplay/internal/rtpframe"
	"github.com/uvstream/vrgdisplay/internal/video"
)

// ErrNoCommonCodec is returned when the display accepts nothing the
// pipeline can produce.
var ErrNoCommonCodec = errors.New("no codec in common with display")

// ErrPayloadMismatch is returned when a payload cannot fill the picture its
// header describes.
var ErrPayloadMismatch = errors.New("payload does not match frame header")

// Codecs the pipeline can convert into.
var producible = []video.Codec{video.RGBA, video.I420}

// Input is one source frame. Desc describes Data when uncompressed; for
// JPEG input only its size and FPS are used and Codec is a preference.
type Input struct {
	Desc        video.Desc
	Compression rtpframe.Compression
	Data        []byte
}

// Stats counts pipeline outcomes.
type Stats struct {
	Delivered    int64 `json:"delivered"`
	Failed       int64 `json:"failed"`
	Reconfigures int64 `json:"reconfigures"`
}

// Pipeline drives one display from one goroutine.
type Pipeline struct {
	disp display.Display
	log  zerolog.Logger

	codecs  []video.Codec
	current *video.Desc

	delivered    atomic.Int64
	failed       atomic.Int64
	reconfigures atomic.Int64
}

// New wraps disp. The pipeline owns it from here on and stops it in Close.
func New(disp display.Display) *Pipeline {
	return &Pipeline{
		disp: disp,
		log:  logger.WithComponent("pipeline").With().Str("display", disp.Kind()).Logger(),
	}
}

// Display returns the wrapped display.
func (p *Pipeline) Display() display.Display { return p.disp }

// Codecs queries the display's accepted codecs, sizing the buffer from
// the first answer.
func (p *Pipeline) Codecs() ([]video.Codec, error) {
	if p.codecs != nil {
		return p.codecs, nil
	}
	v, size, err := p.disp.GetProperty(display.PropertyCodecs, 0)
	if errors.Is(err, display.ErrBufferTooSmall) {
		v, _, err = p.disp.GetProperty(display.PropertyCodecs, size)
	}
	if err != nil {
		return nil, fmt.Errorf("query codecs: %w", err)
	}
	codecs, ok := v.([]video.Codec)
	if !ok {
		return nil, fmt.Errorf("query codecs: unexpected value %T", v)
	}
	p.codecs = codecs
	return codecs, nil
}

// Negotiate picks the codec to hand the display: the preferred one when
// accepted, otherwise the first accepted codec the pipeline can produce.
func (p *Pipeline) Negotiate(preferred video.Codec) (video.Codec, error) {
	codecs, err := p.Codecs()
	if err != nil {
		return video.CodecNone, err
	}
	if slices.Contains(codecs, preferred) && slices.Contains(producible, preferred) {
		return preferred, nil
	}
	for _, c := range codecs {
		if slices.Contains(producible, c) {
			return c, nil
		}
	}
	return video.CodecNone, fmt.Errorf("%w: display takes %v", ErrNoCommonCodec, codecs)
}

// Push converts in and puts it on the display. A failed reconfigure is
// retried on the next push.
func (p *Pipeline) Push(in Input) error {
	err := p.push(in)
	if err != nil {
		p.failed.Add(1)
		return err
	}
	p.delivered.Add(1)
	return nil
}

func (p *Pipeline) push(in Input) error {
	// Headers arrive from the network; nothing is allocated or handshaked
	// for a payload that cannot fill the picture.
	if err := checkPayload(in); err != nil {
		return err
	}
	codec, err := p.Negotiate(in.Desc.Codec)
	if err != nil {
		return err
	}
	target := video.NewDesc(in.Desc.Width, in.Desc.Height, codec, in.Desc.FPS)

	if p.current == nil || *p.current != target {
		if err := p.disp.Reconfigure(target); err != nil {
			p.current = nil
			p.log.Error().Err(err).Str("desc", target.String()).Msg("Reconfigure failed")
			return err
		}
		p.current = &target
		p.reconfigures.Add(1)
		p.log.Info().Str("desc", target.String()).Msg("Display reconfigured")
	}

	frame, err := p.disp.GetFrame()
	if err != nil {
		return err
	}
	if err := fill(frame, in); err != nil {
		if derr := p.disp.PutFrame(frame, display.PutDiscard); derr != nil {
			p.log.Error().Err(derr).Msg("Discard failed")
		}
		return err
	}
	return p.disp.PutFrame(frame, display.PutBlocking)
}

func checkPayload(in Input) error {
	w, h := in.Desc.Width, in.Desc.Height
	switch in.Compression {
	case rtpframe.JPEG:
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(in.Data))
		if err != nil {
			return fmt.Errorf("%w: decode jpeg header: %v", ErrPayloadMismatch, err)
		}
		if cfg.Width != w || cfg.Height != h {
			return fmt.Errorf("%w: jpeg is %dx%d, header says %dx%d", ErrPayloadMismatch, cfg.Width, cfg.Height, w, h)
		}
	case rtpframe.Uncompressed:
		want := video.DataLen(in.Desc.Codec, w, h)
		if want == 0 || len(in.Data) != want {
			return fmt.Errorf("%w: frame is %d bytes, %s needs %d", ErrPayloadMismatch, len(in.Data), in.Desc, want)
		}
	default:
		return fmt.Errorf("unsupported compression %s", in.Compression)
	}
	return nil
}

func fill(frame *video.Frame, in Input) error {
	switch in.Compression {
	case rtpframe.JPEG:
		img, err := jpeg.Decode(bytes.NewReader(in.Data))
		if err != nil {
			return fmt.Errorf("decode jpeg: %w", err)
		}
		return video.Fill(frame.Desc, frame.Data(), img)
	case rtpframe.Uncompressed:
		if in.Desc.Codec == frame.Desc.Codec {
			copy(frame.Data(), in.Data)
			return nil
		}
		img, err := video.WrapImage(in.Desc, in.Data)
		if err != nil {
			return err
		}
		return video.Fill(frame.Desc, frame.Data(), img)
	default:
		return fmt.Errorf("unsupported compression %s", in.Compression)
	}
}

// Stats returns counters safe to read from any goroutine.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Delivered:    p.delivered.Load(),
		Failed:       p.failed.Load(),
		Reconfigures: p.reconfigures.Load(),
	}
}

// Close stops the display.
func (p *Pipeline) Close() error {
	return p.disp.Done()
}
