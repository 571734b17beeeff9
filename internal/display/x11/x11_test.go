package x11

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uvstream/vrgdisplay/internal/display"
	"github.com/uvstream/vrgdisplay/internal/host"
	"github.com/uvstream/vrgdisplay/internal/video"
)

func TestParseOptions(t *testing.T) {
	opts, err := ParseOptions("")
	require.NoError(t, err)
	assert.Equal(t, 1280, opts.Width)
	assert.Equal(t, 720, opts.Height)

	opts, err = ParseOptions("display=:1,size=640x480,title=preview")
	require.NoError(t, err)
	assert.Equal(t, Options{Display: ":1", Width: 640, Height: 480, Title: "preview"}, opts)

	for _, bad := range []string{"size=640", "size=0x10", "size=axb", "colour=red", "display"} {
		_, err := ParseOptions(bad)
		assert.Error(t, err, bad)
	}
}

func TestDefaultOptionsFollowHostDesc(t *testing.T) {
	h := host.New(context.Background(), host.Settings{Desc: video.NewDesc(1920, 1080, video.RGBA, 30)})
	opts, err := parseOptions(defaultOptions(h), "title=preview")
	require.NoError(t, err)
	assert.Equal(t, Options{Width: 1920, Height: 1080, Title: "preview"}, opts)

	opts, err = parseOptions(defaultOptions(h), "size=640x480")
	require.NoError(t, err)
	assert.Equal(t, 640, opts.Width)

	unsized := host.New(context.Background(), host.Settings{})
	assert.Equal(t, defaultOptions(nil), defaultOptions(unsized))
}

func TestProbeFollowsDisplayEnv(t *testing.T) {
	t.Setenv("DISPLAY", "")
	assert.Empty(t, Kind{}.Probe())

	t.Setenv("DISPLAY", ":7")
	devices := Kind{}.Probe()
	require.Len(t, devices, 1)
	assert.Equal(t, ":7", devices[0].ID)
}

func TestInitHelpAndBadSpec(t *testing.T) {
	var out bytes.Buffer
	_, err := Kind{Usage: &out}.Init(nil, "help", display.InitNone)
	assert.ErrorIs(t, err, display.ErrInitNoErr)
	assert.Contains(t, out.String(), "size=")

	_, err = Kind{}.Init(nil, "size=nope", display.InitNone)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, display.ErrResource)

	_, err = Kind{}.Init(nil, "", display.InitAudio)
	assert.ErrorIs(t, err, display.ErrNoAudio)
}

func TestFindPixmapFormat(t *testing.T) {
	formats := []xproto.Format{
		{Depth: 1, BitsPerPixel: 1, ScanlinePad: 32},
		{Depth: 24, BitsPerPixel: 32, ScanlinePad: 32},
	}
	f, ok := findPixmapFormat(formats, 24)
	require.True(t, ok)
	assert.Equal(t, pixmapFormat{bitsPerPixel: 32, scanlinePad: 32}, f)

	_, ok = findPixmapFormat(formats, 16)
	assert.False(t, ok)
}

func TestToZPixmapSwizzlesAndPads(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	img.SetRGBA(0, 0, color.RGBA{R: 1, G: 2, B: 3, A: 4})
	img.SetRGBA(2, 1, color.RGBA{R: 5, G: 6, B: 7, A: 8})

	data, stride, err := toZPixmap(img, pixmapFormat{bitsPerPixel: 32, scanlinePad: 32}, 24)
	require.NoError(t, err)
	assert.Equal(t, 12, stride)
	assert.Equal(t, []byte{3, 2, 1, 0}, data[0:4])
	assert.Equal(t, []byte{7, 6, 5, 0}, data[stride+8:stride+12])

	data, stride, err = toZPixmap(img, pixmapFormat{bitsPerPixel: 32, scanlinePad: 32}, 32)
	require.NoError(t, err)
	assert.Equal(t, byte(4), data[3])

	// 24bpp rows of 9 bytes pad to 12
	data, stride, err = toZPixmap(img, pixmapFormat{bitsPerPixel: 24, scanlinePad: 32}, 24)
	require.NoError(t, err)
	assert.Equal(t, 12, stride)
	assert.Len(t, data, 24)
	assert.Equal(t, []byte{7, 6, 5}, data[stride+6:stride+9])

	_, _, err = toZPixmap(img, pixmapFormat{bitsPerPixel: 16, scanlinePad: 32}, 16)
	assert.Error(t, err)
}

func TestLetterbox(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 100, 100))
	for i := range src.Pix {
		src.Pix[i] = 0xff
	}

	out := letterbox(src, 200, 100)
	assert.Equal(t, image.Rect(0, 0, 200, 100), out.Bounds())
	// side bars stay black, centre is the source
	assert.Equal(t, color.RGBA{A: 0xff}, out.RGBAAt(10, 50))
	assert.Equal(t, color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}, out.RGBAAt(100, 50))

	assert.Same(t, src, letterbox(src, 100, 100))
}

func TestStrips(t *testing.T) {
	// 1080 rows of 7680 bytes into 256 KiB requests
	s := strips(1080, 7680, 262140)
	require.NotEmpty(t, s)
	total := 0
	for i, st := range s {
		assert.LessOrEqual(t, st.rows*7680+putImageHeader, 262140)
		assert.Equal(t, total, st.y, "strip %d", i)
		total += st.rows
	}
	assert.Equal(t, 1080, total)

	// a row larger than a request still goes one row at a time
	s = strips(3, 1000, 100)
	assert.Len(t, s, 3)
}
