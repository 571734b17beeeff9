package vrg

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uvstream/vrgdisplay/internal/display"
	"github.com/uvstream/vrgdisplay/internal/host"
	"github.com/uvstream/vrgdisplay/internal/video"
	"github.com/uvstream/vrgdisplay/internal/vrgstream"
	"github.com/uvstream/vrgdisplay/internal/vrgstream/vrgstreamtest"
)

type fakeClock struct {
	t    time.Time
	step time.Duration
}

// Now advances by step on every reading, so each submit "takes" one step.
func (c *fakeClock) Now() time.Time {
	c.t = c.t.Add(c.step)
	return c.t
}

func newTestDisplay(t *testing.T, sink *vrgstreamtest.Fake) *Display {
	t.Helper()
	d := New(context.Background(), sink, Options{})
	t.Cleanup(func() { d.Done() })
	return d
}

func TestProbeIsEmpty(t *testing.T) {
	devices := Kind{}.Probe()
	assert.NotNil(t, devices)
	assert.Empty(t, devices)
}

func TestInitStartsInitialized(t *testing.T) {
	sink := &vrgstreamtest.Fake{}
	k := Kind{NewStream: func() (vrgstream.Stream, error) { return sink, nil }}

	d, err := k.Init(host.New(context.Background(), host.Settings{}), "", display.InitNone)
	require.NoError(t, err)
	defer d.Done()

	assert.Equal(t, display.StateInitialized, d.Stats().State)
	assert.Equal(t, "vrg", d.Kind())
	assert.NotEmpty(t, d.ID())

	_, err = d.GetFrame()
	assert.ErrorIs(t, err, display.ErrNotConfigured)
}

func TestInitResourceFailure(t *testing.T) {
	k := Kind{NewStream: func() (vrgstream.Stream, error) { return nil, errors.New("no sockets") }}
	d, err := k.Init(nil, "", display.InitNone)
	assert.Nil(t, d)
	assert.ErrorIs(t, err, display.ErrResource)
}

func TestInitHelp(t *testing.T) {
	var out bytes.Buffer
	d, err := Kind{Usage: &out}.Init(nil, "help", display.InitNone)
	assert.Nil(t, d)
	assert.ErrorIs(t, err, display.ErrInitNoErr)
	assert.Contains(t, out.String(), "vrg")
}

func TestInitRefusesAudio(t *testing.T) {
	opened := false
	k := Kind{NewStream: func() (vrgstream.Stream, error) {
		opened = true
		return &vrgstreamtest.Fake{}, nil
	}}
	d, err := k.Init(nil, "", display.InitAudio)
	assert.Nil(t, d)
	assert.ErrorIs(t, err, display.ErrNoAudio)
	assert.False(t, opened)
}

func TestReconfigureThenGetFrameMatchesFormat(t *testing.T) {
	for _, codec := range Capabilities().Codecs() {
		sink := &vrgstreamtest.Fake{}
		d := newTestDisplay(t, sink)

		desc := video.NewDesc(1280, 720, codec, 60)
		require.NoError(t, d.Reconfigure(desc))
		assert.Equal(t, display.StateConfigured, d.State())

		f, err := d.GetFrame()
		require.NoError(t, err)
		assert.Equal(t, desc, f.Desc)
		assert.Len(t, f.Data(), video.DataLen(codec, 1280, 720))
	}
}

func TestReconfigureSelectsColorMode(t *testing.T) {
	sink := &vrgstreamtest.Fake{}
	d := newTestDisplay(t, sink)

	require.NoError(t, d.Reconfigure(video.NewDesc(64, 64, video.RGBA, 30)))
	require.NoError(t, d.Reconfigure(video.NewDesc(64, 64, video.I420, 30)))

	assert.Equal(t, []vrgstream.ColorMode{vrgstream.ColorModeRGBA, vrgstream.ColorModeYUV420}, sink.Inits())
}

func TestReconfigureUnsupportedCodec(t *testing.T) {
	sink := &vrgstreamtest.Fake{}
	d := newTestDisplay(t, sink)

	err := d.Reconfigure(video.NewDesc(64, 64, video.UYVY, 30))
	assert.ErrorIs(t, err, display.ErrUnsupportedCodec)
	assert.Empty(t, sink.Inits(), "handshake must not run for a rejected codec")

	// still usable
	require.NoError(t, d.Reconfigure(video.NewDesc(64, 64, video.RGBA, 30)))
}

func TestReconfigureHandshakeFailure(t *testing.T) {
	sink := &vrgstreamtest.Fake{}
	d := newTestDisplay(t, sink)

	require.NoError(t, d.Reconfigure(video.NewDesc(64, 64, video.RGBA, 30)))
	old, err := d.GetFrame()
	require.NoError(t, err)

	sink.InitStatus = vrgstream.StatusInvalidColorMode
	err = d.Reconfigure(video.NewDesc(64, 64, video.I420, 30))
	assert.ErrorIs(t, err, display.ErrHandshake)
	var stErr *vrgstream.StatusError
	require.ErrorAs(t, err, &stErr)
	assert.Equal(t, vrgstream.StatusInvalidColorMode, stErr.Status)

	assert.Equal(t, display.StateInitialized, d.State())
	_, err = d.GetFrame()
	assert.ErrorIs(t, err, display.ErrNotConfigured)

	// a frame from before the failed handshake cannot be submitted
	err = d.PutFrame(old, display.PutBlocking)
	assert.ErrorIs(t, err, display.ErrNotConfigured)
	assert.True(t, old.Released())
	assert.Empty(t, sink.Submissions())

	// retry with a format the service accepts
	sink.InitStatus = vrgstream.StatusOK
	require.NoError(t, d.Reconfigure(video.NewDesc(64, 64, video.RGBA, 30)))
	assert.Equal(t, display.StateConfigured, d.State())
}

func TestSubmitRGBA1080p(t *testing.T) {
	sink := &vrgstreamtest.Fake{}
	d := newTestDisplay(t, sink)

	desc := video.NewDesc(1920, 1080, video.RGBA, 30)
	require.NoError(t, d.Reconfigure(desc))

	f, err := d.GetFrame()
	require.NoError(t, err)
	for i := range f.Data() {
		f.Data()[i] = 0x7f
	}

	require.NoError(t, d.PutFrame(f, display.PutBlocking))
	assert.True(t, f.Released())
	assert.Equal(t, display.StateRunning, d.State())

	st := d.Stats()
	assert.Equal(t, int64(1), st.Submitted)
	assert.Equal(t, int64(0), st.Dropped)

	subs := sink.Submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, int64(0), subs[0].Counter)
	assert.Equal(t, 1920*1080*4, subs[0].Len)
	assert.Equal(t, byte(0x7f), subs[0].First)
}

func TestCountersAreSequential(t *testing.T) {
	sink := &vrgstreamtest.Fake{}
	d := newTestDisplay(t, sink)
	require.NoError(t, d.Reconfigure(video.NewDesc(16, 16, video.RGBA, 30)))

	for _, flags := range []display.PutFlags{display.PutBlocking, display.PutNonblock, display.PutBlocking} {
		f, err := d.GetFrame()
		require.NoError(t, err)
		require.NoError(t, d.PutFrame(f, flags))
	}

	subs := sink.Submissions()
	require.Len(t, subs, 3)
	for i, sub := range subs {
		assert.Equal(t, int64(i), sub.Counter)
	}
	assert.Equal(t, int64(3), d.Stats().Submitted)
}

func TestStaleFormatIsContractViolation(t *testing.T) {
	sink := &vrgstreamtest.Fake{}
	d := newTestDisplay(t, sink)

	require.NoError(t, d.Reconfigure(video.NewDesc(1920, 1080, video.RGBA, 30)))
	stale, err := d.GetFrame()
	require.NoError(t, err)

	require.NoError(t, d.Reconfigure(video.NewDesc(1920, 1080, video.I420, 30)))

	err = d.PutFrame(stale, display.PutBlocking)
	assert.ErrorIs(t, err, display.ErrContractViolation)
	assert.True(t, stale.Released())
	assert.Empty(t, sink.Submissions())
	assert.Equal(t, int64(1), d.Stats().Rejected)
}

func TestForeignFrameIsContractViolation(t *testing.T) {
	a := newTestDisplay(t, &vrgstreamtest.Fake{})
	sinkB := &vrgstreamtest.Fake{}
	b := newTestDisplay(t, sinkB)

	desc := video.NewDesc(32, 32, video.RGBA, 30)
	require.NoError(t, a.Reconfigure(desc))
	require.NoError(t, b.Reconfigure(desc))

	f, err := a.GetFrame()
	require.NoError(t, err)
	assert.ErrorIs(t, b.PutFrame(f, display.PutBlocking), display.ErrContractViolation)
	assert.Empty(t, sinkB.Submissions())
}

func TestDoublePutIsContractViolation(t *testing.T) {
	sink := &vrgstreamtest.Fake{}
	d := newTestDisplay(t, sink)
	require.NoError(t, d.Reconfigure(video.NewDesc(32, 32, video.RGBA, 30)))

	f, err := d.GetFrame()
	require.NoError(t, err)
	require.NoError(t, d.PutFrame(f, display.PutBlocking))

	assert.ErrorIs(t, d.PutFrame(f, display.PutBlocking), display.ErrContractViolation)
	assert.ErrorIs(t, d.PutFrame(f, display.PutDiscard), display.ErrContractViolation)
	assert.ErrorIs(t, d.PutFrame(nil, display.PutBlocking), display.ErrContractViolation)
	assert.Len(t, sink.Submissions(), 1)
}

func TestDiscardNeverReachesSink(t *testing.T) {
	sink := &vrgstreamtest.Fake{}
	d := newTestDisplay(t, sink)
	require.NoError(t, d.Reconfigure(video.NewDesc(32, 32, video.I420, 30)))

	for i := 0; i < 10; i++ {
		f, err := d.GetFrame()
		require.NoError(t, err)
		require.NoError(t, d.PutFrame(f, display.PutDiscard))
		assert.True(t, f.Released())
	}

	assert.Empty(t, sink.Submissions())
	assert.Equal(t, int64(10), d.Stats().Discarded)
	assert.Equal(t, display.StateConfigured, d.State(), "discards do not start the display")
}

func TestFailingSinkCountsDrops(t *testing.T) {
	sink := &vrgstreamtest.Fake{
		// every third frame fails
		SubmitStatus: func(counter int64) vrgstream.Status {
			if counter%3 == 0 {
				return vrgstream.StatusTimeout
			}
			return vrgstream.StatusOK
		},
	}
	d := newTestDisplay(t, sink)
	require.NoError(t, d.Reconfigure(video.NewDesc(16, 16, video.RGBA, 30)))

	const n = 30
	for i := 0; i < n; i++ {
		f, err := d.GetFrame()
		require.NoError(t, err)
		require.NoError(t, d.PutFrame(f, display.PutBlocking), "a dropped frame is not an error for the caller")
	}

	st := d.Stats()
	assert.Equal(t, int64(10), st.Dropped)
	assert.Equal(t, int64(20), st.Submitted)

	subs := sink.Submissions()
	require.Len(t, subs, n)
	for i, s := range subs {
		assert.Equal(t, int64(i), s.Counter, "frames are forwarded in order")
	}
}

func TestSlowSinkIsBoundedByContext(t *testing.T) {
	sink := &vrgstreamtest.Fake{Delay: time.Hour}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	d := New(ctx, sink, Options{})
	defer d.Done()
	require.NoError(t, d.Reconfigure(video.NewDesc(16, 16, video.RGBA, 30)))

	f, err := d.GetFrame()
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- d.PutFrame(f, display.PutBlocking) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("PutFrame blocked past its context")
	}
	assert.Equal(t, int64(1), d.Stats().Dropped)
}

func TestStopTwice(t *testing.T) {
	sink := &vrgstreamtest.Fake{}
	d := New(context.Background(), sink, Options{})
	require.NoError(t, d.Reconfigure(video.NewDesc(16, 16, video.RGBA, 30)))

	f, err := d.GetFrame()
	require.NoError(t, err)
	require.NoError(t, d.PutFrame(f, display.PutBlocking))

	require.NoError(t, d.Done())
	require.NoError(t, d.Done())

	assert.Equal(t, 1, sink.Closed())
	assert.Equal(t, display.StateStopped, d.State())

	_, err = d.GetFrame()
	assert.ErrorIs(t, err, display.ErrStopped)
	assert.ErrorIs(t, d.Reconfigure(video.NewDesc(16, 16, video.RGBA, 30)), display.ErrStopped)
}

func TestStopFromConfigured(t *testing.T) {
	sink := &vrgstreamtest.Fake{}
	d := New(context.Background(), sink, Options{})
	require.NoError(t, d.Reconfigure(video.NewDesc(16, 16, video.RGBA, 30)))

	f, err := d.GetFrame()
	require.NoError(t, err)
	require.NoError(t, d.Done())

	assert.ErrorIs(t, d.PutFrame(f, display.PutBlocking), display.ErrStopped)
	assert.True(t, f.Released())
}

func TestThroughputSamples(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0), step: 25 * time.Millisecond}
	sink := &vrgstreamtest.Fake{}
	d := New(context.Background(), sink, Options{Clock: clock.Now, ReportInterval: 5 * time.Second})
	defer d.Done()
	require.NoError(t, d.Reconfigure(video.NewDesc(8, 8, video.RGBA, 30)))

	// Each PutFrame reads the clock twice around the submit, and the
	// reporter once: 75ms per frame.
	for i := 0; i < 100; i++ {
		f, err := d.GetFrame()
		require.NoError(t, err)
		require.NoError(t, d.PutFrame(f, display.PutBlocking))
	}

	st := d.Stats()
	require.NotNil(t, st.LastSample)
	assert.Equal(t, 25*time.Millisecond, st.LastSample.AvgLatency)
	assert.InDelta(t, 1000.0/75.0, st.LastSample.FPS, 0.5)
}

func TestAudioIsRefused(t *testing.T) {
	d := newTestDisplay(t, &vrgstreamtest.Fake{})
	d.PutAudioFrame(&display.AudioFrame{Channels: 2})
	assert.ErrorIs(t, d.ReconfigureAudio(16, 2, 48000), display.ErrNoAudio)
}

func TestGetProperty(t *testing.T) {
	d := newTestDisplay(t, &vrgstreamtest.Fake{})

	v, n, err := d.GetProperty(display.PropertyCodecs, 64)
	require.NoError(t, err)
	assert.Equal(t, []video.Codec{video.I420, video.RGBA}, v)
	assert.Equal(t, 8, n)

	v, n, err = d.GetProperty(display.PropertyRGBShift, 12)
	require.NoError(t, err)
	assert.Equal(t, [3]int{0, 8, 16}, v)
	assert.Equal(t, 12, n)

	v, _, err = d.GetProperty(display.PropertyBufPitch, 4)
	require.NoError(t, err)
	assert.Equal(t, display.PitchDefault, v)

	_, _, err = d.GetProperty(display.PropertyCodecs, 4)
	assert.ErrorIs(t, err, display.ErrBufferTooSmall)

	_, _, err = d.GetProperty(display.PropertyID(99), 64)
	assert.ErrorIs(t, err, display.ErrPropertyNotSupported)
}

func TestRunReturnsOnCancel(t *testing.T) {
	d := newTestDisplay(t, &vrgstreamtest.Fake{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, d.Run(ctx))
}
