package vrgstream

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedRenderer struct {
	submitStatus Status
	delay        *atomic.Int64
	frames       *atomic.Int64
}

func (r *scriptedRenderer) Init(mode ColorMode) Status { return StatusOK }

func (r *scriptedRenderer) Submit(counter int64, data []byte) Status {
	if d := r.delay.Load(); d > 0 {
		time.Sleep(time.Duration(d))
	}
	r.frames.Add(1)
	return r.submitStatus
}

func newTestService(t *testing.T, newRenderer func() Renderer) string {
	t.Helper()
	srv := httptest.NewServer(NewServer(newRenderer))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		Endpoint:         endpoint,
		HandshakeTimeout: 2 * time.Second,
		SubmitTimeout:    200 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientInitAndSubmit(t *testing.T) {
	renderer := NewLoggingRenderer(nil)
	endpoint := newTestService(t, func() Renderer { return renderer })
	c := newTestClient(t, endpoint)
	ctx := context.Background()

	assert.Equal(t, StatusNotInitialized, c.QueryStatus())
	require.Equal(t, StatusOK, c.Init(ctx, ColorModeRGBA))
	require.Equal(t, StatusOK, c.SubmitFrame(ctx, 0, []byte{1, 2, 3, 4}))
	require.Equal(t, StatusOK, c.SubmitFrame(ctx, 1, []byte{5, 6, 7, 8}))

	assert.Equal(t, int64(2), renderer.Frames())
	assert.Equal(t, StatusOK, c.QueryStatus())
}

func TestClientSubmitBeforeInit(t *testing.T) {
	endpoint := newTestService(t, func() Renderer { return NewLoggingRenderer(nil) })
	c := newTestClient(t, endpoint)

	assert.Equal(t, StatusNotInitialized, c.SubmitFrame(context.Background(), 0, []byte{1}))
}

func TestClientPassesServiceStatus(t *testing.T) {
	var delay, frames atomic.Int64
	endpoint := newTestService(t, func() Renderer {
		return &scriptedRenderer{submitStatus: StatusInvalidFrame, delay: &delay, frames: &frames}
	})
	c := newTestClient(t, endpoint)
	ctx := context.Background()

	require.Equal(t, StatusOK, c.Init(ctx, ColorModeYUV420))
	assert.Equal(t, StatusInvalidFrame, c.SubmitFrame(ctx, 7, []byte{1}))
	// the session survives a rejected frame
	assert.Equal(t, StatusInvalidFrame, c.SubmitFrame(ctx, 8, []byte{1}))
	assert.Equal(t, int64(2), frames.Load())
}

func TestClientUnreachable(t *testing.T) {
	c := newTestClient(t, "ws://127.0.0.1:1/stream")
	assert.Equal(t, StatusConnection, c.Init(context.Background(), ColorModeRGBA))
	assert.Equal(t, StatusConnection, c.QueryStatus())
}

func TestClientTimeoutThenRecovers(t *testing.T) {
	var delay, frames atomic.Int64
	endpoint := newTestService(t, func() Renderer {
		return &scriptedRenderer{submitStatus: StatusOK, delay: &delay, frames: &frames}
	})
	c := newTestClient(t, endpoint)
	ctx := context.Background()

	require.Equal(t, StatusOK, c.Init(ctx, ColorModeRGBA))

	delay.Store(int64(time.Second))
	start := time.Now()
	assert.Equal(t, StatusTimeout, c.SubmitFrame(ctx, 0, []byte{1}))
	assert.Less(t, time.Since(start), 900*time.Millisecond)

	delay.Store(0)
	assert.Equal(t, StatusOK, c.SubmitFrame(ctx, 1, []byte{1}))
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	assert.Error(t, err)
}

func TestParseColorMode(t *testing.T) {
	m, err := ParseColorMode("I420")
	require.NoError(t, err)
	assert.Equal(t, ColorModeYUV420, m)

	_, err = ParseColorMode("bgr")
	assert.Error(t, err)
}

func TestStatusErr(t *testing.T) {
	assert.NoError(t, StatusOK.Err())
	err := StatusTimeout.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Timeout")
}

func TestFrameCodec(t *testing.T) {
	counter, data, err := decodeFrame(encodeFrame(42, []byte{9, 8}))
	require.NoError(t, err)
	assert.Equal(t, int64(42), counter)
	assert.Equal(t, []byte{9, 8}, data)

	_, _, err = decodeFrame([]byte{1, 2})
	assert.ErrorIs(t, err, errShortFrame)
}
