package video

import (
	"fmt"
	"strings"
)

// Codec identifies the pixel encoding of an uncompressed picture.
type Codec uint32

const (
	CodecNone Codec = iota
	// I420 is planar 8-bit luma followed by quarter-size Cb and Cr planes.
	I420
	// RGBA is packed 8-bit R, G, B, A.
	RGBA
	// UYVY is packed 4:2:2. Listed so the pipeline can describe sources
	// that no display accepts.
	UYVY
	// RGB is packed 8-bit R, G, B without alpha.
	RGB
)

// CodecSize is the serialized size of one Codec in a property block.
const CodecSize = 4

var codecNames = map[Codec]string{
	CodecNone: "none",
	I420:      "I420",
	RGBA:      "RGBA",
	UYVY:      "UYVY",
	RGB:       "RGB",
}

func (c Codec) String() string {
	if name, ok := codecNames[c]; ok {
		return name
	}
	return fmt.Sprintf("codec(%d)", uint32(c))
}

// ParseCodec resolves a codec by its case-insensitive name.
func ParseCodec(name string) (Codec, error) {
	for c, n := range codecNames {
		if c != CodecNone && strings.EqualFold(n, name) {
			return c, nil
		}
	}
	return CodecNone, fmt.Errorf("unknown codec %q", name)
}

// MarshalText lets codecs appear by name in YAML and JSON.
func (c Codec) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (c *Codec) UnmarshalText(text []byte) error {
	parsed, err := ParseCodec(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Desc describes a negotiated video format. It is a value type: a new
// format replaces the old one, it is never edited in place.
type Desc struct {
	Width       int     `json:"width" yaml:"width"`
	Height      int     `json:"height" yaml:"height"`
	Codec       Codec   `json:"codec" yaml:"codec"`
	BitDepth    int     `json:"bit_depth" yaml:"bit_depth"`
	Progressive bool    `json:"progressive" yaml:"progressive"`
	FPS         float64 `json:"fps" yaml:"fps"`
}

// NewDesc returns a progressive 8-bit descriptor.
func NewDesc(width, height int, codec Codec, fps float64) Desc {
	return Desc{
		Width:       width,
		Height:      height,
		Codec:       codec,
		BitDepth:    8,
		Progressive: true,
		FPS:         fps,
	}
}

// Validate checks the descriptor describes an allocatable picture.
func (d Desc) Validate() error {
	if d.Width <= 0 || d.Height <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", d.Width, d.Height)
	}
	if DataLen(d.Codec, d.Width, d.Height) <= 0 {
		return fmt.Errorf("unsupported codec %s", d.Codec)
	}
	return nil
}

func (d Desc) String() string {
	scan := "i"
	if d.Progressive {
		scan = "p"
	}
	return fmt.Sprintf("%dx%d%s %s @ %.2f", d.Width, d.Height, scan, d.Codec, d.FPS)
}

// DataLen returns the number of bytes one picture occupies, or 0 for
// codecs without a fixed layout.
func DataLen(codec Codec, width, height int) int {
	switch codec {
	case RGBA:
		return width * height * 4
	case RGB:
		return width * height * 3
	case UYVY:
		return ((width + 1) / 2) * 4 * height
	case I420:
		cw, ch := (width+1)/2, (height+1)/2
		return width*height + 2*cw*ch
	default:
		return 0
	}
}

// Linesize returns the byte length of one row of the first plane.
func Linesize(codec Codec, width int) int {
	switch codec {
	case RGBA:
		return width * 4
	case RGB:
		return width * 3
	case UYVY:
		return ((width + 1) / 2) * 4
	case I420:
		return width
	default:
		return 0
	}
}
