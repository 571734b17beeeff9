package video

import (
	"errors"
	"fmt"
	"image"
	"sync/atomic"
)

// ErrReleased is returned when a frame is used or released after its
// lifetime ended.
var ErrReleased = errors.New("video: frame already released")

// Tile is one independently addressable region of a frame. Displays in
// this module always use a single tile covering the whole picture.
type Tile struct {
	Width  int
	Height int
	Data   []byte
}

// Frame is one picture plus the format it was allocated for.
//
// A frame is owned by exactly one side at a time: the producer fills it,
// then hands it to a display which releases it. After Release the tile
// data is gone and the frame must not be touched again.
type Frame struct {
	Desc  Desc
	Tiles []Tile

	owner    string
	released atomic.Bool
}

// NewFrame allocates a zeroed single-tile frame for desc.
func NewFrame(desc Desc) (*Frame, error) {
	return NewOwnedFrame(desc, "")
}

// NewOwnedFrame allocates a frame tagged with the identity of the display
// that handed it out.
func NewOwnedFrame(desc Desc, owner string) (*Frame, error) {
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("allocate frame: %w", err)
	}
	return &Frame{
		Desc: desc,
		Tiles: []Tile{{
			Width:  desc.Width,
			Height: desc.Height,
			Data:   make([]byte, DataLen(desc.Codec, desc.Width, desc.Height)),
		}},
		owner: owner,
	}, nil
}

// Owner returns the identity tag of the display that allocated the frame.
func (f *Frame) Owner() string {
	return f.owner
}

// Data returns the first tile's bytes.
func (f *Frame) Data() []byte {
	if len(f.Tiles) == 0 {
		return nil
	}
	return f.Tiles[0].Data
}

// Released reports whether Release has been called.
func (f *Frame) Released() bool {
	return f.released.Load()
}

// Release ends the frame's lifetime. A second call returns ErrReleased.
func (f *Frame) Release() error {
	if !f.released.CompareAndSwap(false, true) {
		return ErrReleased
	}
	for i := range f.Tiles {
		f.Tiles[i].Data = nil
	}
	return nil
}

// Image wraps the frame data without copying. RGBA frames become
// *image.RGBA and I420 frames *image.YCbCr.
func (f *Frame) Image() (image.Image, error) {
	if f.Released() {
		return nil, ErrReleased
	}
	return WrapImage(f.Desc, f.Data())
}

// WrapImage interprets data laid out for desc as an image.
func WrapImage(desc Desc, data []byte) (image.Image, error) {
	if len(data) < DataLen(desc.Codec, desc.Width, desc.Height) {
		return nil, fmt.Errorf("short %s buffer: %d bytes", desc.Codec, len(data))
	}
	rect := image.Rect(0, 0, desc.Width, desc.Height)

	switch desc.Codec {
	case RGBA:
		return &image.RGBA{Pix: data, Stride: Linesize(RGBA, desc.Width), Rect: rect}, nil
	case I420:
		lumaLen := desc.Width * desc.Height
		cw, ch := (desc.Width+1)/2, (desc.Height+1)/2
		chromaLen := cw * ch
		return &image.YCbCr{
			Y:              data[:lumaLen],
			Cb:             data[lumaLen : lumaLen+chromaLen],
			Cr:             data[lumaLen+chromaLen : lumaLen+2*chromaLen],
			YStride:        Linesize(I420, desc.Width),
			CStride:        cw,
			SubsampleRatio: image.YCbCrSubsampleRatio420,
			Rect:           rect,
		}, nil
	default:
		return nil, fmt.Errorf("no image mapping for %s", desc.Codec)
	}
}
