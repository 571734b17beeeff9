package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uvstream/vrgdisplay/internal/display"
	"github.com/uvstream/vrgdisplay/internal/display/vrg"
	"github.com/uvstream/vrgdisplay/internal/rtpframe"
	"github.com/uvstream/vrgdisplay/internal/video"
	"github.com/uvstream/vrgdisplay/internal/vrgstream"
	"github.com/uvstream/vrgdisplay/internal/vrgstream/vrgstreamtest"
)

func newVRGPipeline(t *testing.T, sink *vrgstreamtest.Fake) *Pipeline {
	t.Helper()
	p := New(vrg.New(context.Background(), sink, vrg.Options{}))
	t.Cleanup(func() { p.Close() })
	return p
}

func rgbaInput(w, h int, fill byte) Input {
	desc := video.NewDesc(w, h, video.RGBA, 30)
	data := bytes.Repeat([]byte{fill}, video.DataLen(video.RGBA, w, h))
	return Input{Desc: desc, Data: data}
}

func TestNegotiate(t *testing.T) {
	p := newVRGPipeline(t, &vrgstreamtest.Fake{})

	codecs, err := p.Codecs()
	require.NoError(t, err)
	assert.Equal(t, []video.Codec{video.I420, video.RGBA}, codecs)

	c, err := p.Negotiate(video.RGBA)
	require.NoError(t, err)
	assert.Equal(t, video.RGBA, c)

	// unsupported preference falls back to the display's first choice
	c, err = p.Negotiate(video.UYVY)
	require.NoError(t, err)
	assert.Equal(t, video.I420, c)
}

func TestPushUncompressed(t *testing.T) {
	sink := &vrgstreamtest.Fake{}
	p := newVRGPipeline(t, sink)

	require.NoError(t, p.Push(rgbaInput(64, 32, 0x7f)))
	require.NoError(t, p.Push(rgbaInput(64, 32, 0x80)))

	subs := sink.Submissions()
	require.Len(t, subs, 2)
	assert.Equal(t, video.DataLen(video.RGBA, 64, 32), subs[0].Len)
	assert.Equal(t, byte(0x7f), subs[0].First)
	assert.Equal(t, byte(0x80), subs[1].First)
	assert.Equal(t, []vrgstream.ColorMode{vrgstream.ColorModeRGBA}, sink.Inits())

	assert.Equal(t, Stats{Delivered: 2, Reconfigures: 1}, p.Stats())
}

func TestPushReconfiguresOnFormatChange(t *testing.T) {
	sink := &vrgstreamtest.Fake{}
	p := newVRGPipeline(t, sink)

	require.NoError(t, p.Push(rgbaInput(64, 32, 1)))
	require.NoError(t, p.Push(rgbaInput(32, 32, 1)))
	require.NoError(t, p.Push(rgbaInput(32, 32, 1)))

	assert.Len(t, sink.Inits(), 2)
	assert.Equal(t, int64(2), p.Stats().Reconfigures)
	assert.Equal(t, video.DataLen(video.RGBA, 32, 32), sink.Submissions()[2].Len)
}

func TestPushJPEG(t *testing.T) {
	sink := &vrgstreamtest.Fake{}
	p := newVRGPipeline(t, sink)

	img := image.NewRGBA(image.Rect(0, 0, 48, 32))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.SetRGBA(0, 0, color.RGBA{A: 0xff})
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))

	in := Input{
		Desc:        video.NewDesc(48, 32, video.I420, 25),
		Compression: rtpframe.JPEG,
		Data:        buf.Bytes(),
	}
	require.NoError(t, p.Push(in))

	subs := sink.Submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, video.DataLen(video.I420, 48, 32), subs[0].Len)
	assert.Equal(t, []vrgstream.ColorMode{vrgstream.ColorModeYUV420}, sink.Inits())
}

func TestPushConvertsToNegotiatedCodec(t *testing.T) {
	sink := &vrgstreamtest.Fake{}
	p := newVRGPipeline(t, sink)

	// UYVY is not producible, so the display's first codec is used and
	// the RGBA source converted
	p.codecs = []video.Codec{video.UYVY, video.I420}
	in := rgbaInput(16, 16, 0xff)
	in.Desc.Codec = video.RGBA
	require.NoError(t, p.Push(in))
	assert.Equal(t, video.DataLen(video.I420, 16, 16), sink.Submissions()[0].Len)
}

func TestPushRetriesAfterHandshakeFailure(t *testing.T) {
	sink := &vrgstreamtest.Fake{InitStatus: vrgstream.StatusConnection}
	p := newVRGPipeline(t, sink)

	err := p.Push(rgbaInput(16, 16, 1))
	assert.ErrorIs(t, err, display.ErrHandshake)
	assert.Empty(t, sink.Submissions())

	sink.InitStatus = vrgstream.StatusOK
	require.NoError(t, p.Push(rgbaInput(16, 16, 1)))
	assert.Len(t, sink.Inits(), 2)
	assert.Equal(t, Stats{Delivered: 1, Failed: 1, Reconfigures: 1}, p.Stats())
}

func TestPushRejectsMismatchedPayload(t *testing.T) {
	sink := &vrgstreamtest.Fake{}
	p := newVRGPipeline(t, sink)

	short := rgbaInput(16, 16, 1)
	short.Data = short.Data[:10]
	assert.ErrorIs(t, p.Push(short), ErrPayloadMismatch)

	huge := Input{Desc: video.NewDesc(8000, 8000, video.RGBA, 30), Data: make([]byte, 10)}
	assert.ErrorIs(t, p.Push(huge), ErrPayloadMismatch)

	notJPEG := rgbaInput(16, 16, 1)
	notJPEG.Compression = rtpframe.JPEG
	assert.ErrorIs(t, p.Push(notJPEG), ErrPayloadMismatch)

	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	wrongSize := Input{Desc: video.NewDesc(4000, 4000, video.RGBA, 30), Compression: rtpframe.JPEG, Data: buf.Bytes()}
	assert.ErrorIs(t, p.Push(wrongSize), ErrPayloadMismatch)

	assert.Empty(t, sink.Inits())
	assert.Empty(t, sink.Submissions())
	assert.Equal(t, Stats{Failed: 4}, p.Stats())
	assert.Equal(t, display.StateInitialized, p.Display().Stats().State)
}

func TestPushUndecodableJPEGIsDiscarded(t *testing.T) {
	sink := &vrgstreamtest.Fake{}
	p := newVRGPipeline(t, sink)

	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	// header intact, scan data cut short
	data := buf.Bytes()[:buf.Len()/2]

	in := Input{Desc: video.NewDesc(16, 16, video.RGBA, 30), Compression: rtpframe.JPEG, Data: data}
	assert.Error(t, p.Push(in))
	assert.Empty(t, sink.Submissions())
	assert.Equal(t, int64(1), p.Display().Stats().Discarded)
}

func TestNoCommonCodec(t *testing.T) {
	p := newVRGPipeline(t, &vrgstreamtest.Fake{})
	p.codecs = []video.Codec{video.UYVY}
	_, err := p.Negotiate(video.RGBA)
	assert.ErrorIs(t, err, ErrNoCommonCodec)
}
