package display

import (
	"fmt"

	"github.com/uvstream/vrgdisplay/internal/video"
)

// PropertyID selects a capability query.
type PropertyID int

const (
	// PropertyCodecs yields []video.Codec in preference order.
	PropertyCodecs PropertyID = iota + 1
	// PropertyRGBShift yields [3]int bit shifts of R, G and B in a pixel.
	PropertyRGBShift
	// PropertyBufPitch yields the preferred row pitch in bytes, or
	// PitchDefault to let the pipeline use the natural line size.
	PropertyBufPitch
	// PropertyVideoMode yields the tiling mode; single-tile displays
	// answer VideoModeNormal.
	PropertyVideoMode
)

func (p PropertyID) String() string {
	switch p {
	case PropertyCodecs:
		return "codecs"
	case PropertyRGBShift:
		return "rgb_shift"
	case PropertyBufPitch:
		return "buf_pitch"
	case PropertyVideoMode:
		return "video_mode"
	default:
		return fmt.Sprintf("property(%d)", int(p))
	}
}

const (
	// PitchDefault asks for tightly packed rows.
	PitchDefault = -1

	// VideoModeNormal is a single tile covering the picture.
	VideoModeNormal = 0

	intSize = 4
)

// Format is one (codec, channel layout) pair a display accepts.
type Format struct {
	Codec    video.Codec `json:"codec"`
	RGBShift [3]int      `json:"rgb_shift"`
}

// Capabilities is a kind's read-only capability table. Instances share
// one value; nothing mutates it after package init.
type Capabilities struct {
	codecs   []video.Codec
	rgbShift [3]int
	pitch    int
}

// NewCapabilities builds a table. codecs is copied.
func NewCapabilities(codecs []video.Codec, rgbShift [3]int, pitch int) Capabilities {
	return Capabilities{
		codecs:   append([]video.Codec(nil), codecs...),
		rgbShift: rgbShift,
		pitch:    pitch,
	}
}

// Codecs returns the accepted codecs in preference order.
func (c Capabilities) Codecs() []video.Codec {
	return append([]video.Codec(nil), c.codecs...)
}

// Supports reports whether codec is accepted.
func (c Capabilities) Supports(codec video.Codec) bool {
	for _, cc := range c.codecs {
		if cc == codec {
			return true
		}
	}
	return false
}

// SupportedFormats lists (codec, shift) pairs in preference order.
func (c Capabilities) SupportedFormats() []Format {
	out := make([]Format, 0, len(c.codecs))
	for _, codec := range c.codecs {
		out = append(out, Format{Codec: codec, RGBShift: c.rgbShift})
	}
	return out
}

// Property answers a query for a caller buffer of capacity bytes. It
// returns the value and its serialized size, or an error when the
// property is unknown or does not fit.
func (c Capabilities) Property(id PropertyID, capacity int) (any, int, error) {
	var (
		value any
		size  int
	)

	switch id {
	case PropertyCodecs:
		value, size = c.Codecs(), len(c.codecs)*video.CodecSize
	case PropertyRGBShift:
		value, size = c.rgbShift, len(c.rgbShift)*intSize
	case PropertyBufPitch:
		value, size = c.pitch, intSize
	case PropertyVideoMode:
		value, size = VideoModeNormal, intSize
	default:
		return nil, 0, fmt.Errorf("%w: %s", ErrPropertyNotSupported, id)
	}

	if capacity < size {
		return nil, size, fmt.Errorf("%w: %s needs %d bytes, have %d", ErrBufferTooSmall, id, size, capacity)
	}
	return value, size, nil
}
