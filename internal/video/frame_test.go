package video

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataLen(t *testing.T) {
	assert.Equal(t, 1920*1080*4, DataLen(RGBA, 1920, 1080))
	assert.Equal(t, 1920*1080*3/2, DataLen(I420, 1920, 1080))
	// odd sizes round chroma up
	assert.Equal(t, 3*3+2*2*2, DataLen(I420, 3, 3))
	assert.Equal(t, 0, DataLen(CodecNone, 10, 10))
}

func TestParseCodec(t *testing.T) {
	c, err := ParseCodec("rgba")
	require.NoError(t, err)
	assert.Equal(t, RGBA, c)

	_, err = ParseCodec("none")
	assert.Error(t, err)
	_, err = ParseCodec("h264")
	assert.Error(t, err)
}

func TestNewFrameMatchesDesc(t *testing.T) {
	desc := NewDesc(64, 48, I420, 30)
	f, err := NewOwnedFrame(desc, "disp-1")
	require.NoError(t, err)

	assert.Equal(t, desc, f.Desc)
	assert.Equal(t, "disp-1", f.Owner())
	require.Len(t, f.Tiles, 1)
	assert.Len(t, f.Data(), DataLen(I420, 64, 48))
}

func TestNewFrameRejectsInvalidDesc(t *testing.T) {
	_, err := NewFrame(Desc{Width: 0, Height: 10, Codec: RGBA})
	assert.Error(t, err)
	_, err = NewFrame(Desc{Width: 10, Height: 10})
	assert.Error(t, err)
}

func TestReleaseTwice(t *testing.T) {
	f, err := NewFrame(NewDesc(4, 4, RGBA, 0))
	require.NoError(t, err)

	require.NoError(t, f.Release())
	assert.True(t, f.Released())
	assert.Nil(t, f.Data())
	assert.ErrorIs(t, f.Release(), ErrReleased)

	_, err = f.Image()
	assert.ErrorIs(t, err, ErrReleased)
}

func TestFillRGBAFromRGBA(t *testing.T) {
	desc := NewDesc(2, 2, RGBA, 0)
	src := image.NewRGBA(image.Rect(0, 0, 2, 2))
	src.Set(1, 1, color.RGBA{10, 20, 30, 255})

	data := make([]byte, DataLen(RGBA, 2, 2))
	require.NoError(t, Fill(desc, data, src))
	assert.Equal(t, []byte{10, 20, 30, 255}, data[12:16])
}

func TestFillI420FromGray(t *testing.T) {
	desc := NewDesc(4, 4, I420, 0)
	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := range src.Pix {
		src.Pix[i] = 255
	}

	data := make([]byte, DataLen(I420, 4, 4))
	require.NoError(t, Fill(desc, data, src))
	// white: full luma, neutral chroma
	assert.Equal(t, uint8(255), data[0])
	assert.Equal(t, uint8(128), data[16])
	assert.Equal(t, uint8(128), data[20])
}

func TestFillScales(t *testing.T) {
	desc := NewDesc(8, 8, RGBA, 0)
	src := image.NewRGBA(image.Rect(0, 0, 2, 2))
	data := make([]byte, DataLen(RGBA, 8, 8))
	assert.NoError(t, Fill(desc, data, src))
}

func TestWrapImageI420Planes(t *testing.T) {
	desc := NewDesc(4, 2, I420, 0)
	data := make([]byte, DataLen(I420, 4, 2))
	img, err := WrapImage(desc, data)
	require.NoError(t, err)

	ycc, ok := img.(*image.YCbCr)
	require.True(t, ok)
	assert.Len(t, ycc.Y, 8)
	assert.Len(t, ycc.Cb, 2)
	assert.Len(t, ycc.Cr, 2)
	assert.Equal(t, 4, ycc.YStride)
}

func TestLinesize(t *testing.T) {
	assert.Equal(t, 1280*4, Linesize(RGBA, 1280))
	assert.Equal(t, 1280*3, Linesize(RGB, 1280))
	assert.Equal(t, 4*4, Linesize(UYVY, 7))
	assert.Equal(t, 1280, Linesize(I420, 1280))
	assert.Equal(t, 0, Linesize(CodecNone, 1280))

	img, err := WrapImage(NewDesc(5, 3, RGBA, 0), make([]byte, DataLen(RGBA, 5, 3)))
	require.NoError(t, err)
	assert.Equal(t, Linesize(RGBA, 5), img.(*image.RGBA).Stride)
}
