package sender

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"net"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uvstream/vrgdisplay/internal/rtpframe"
	"github.com/uvstream/vrgdisplay/internal/video"
)

func TestParseReceiver(t *testing.T) {
	tests := []struct {
		in   string
		host string
		port int
		err  bool
	}{
		{in: "", host: "localhost", port: 5004},
		{in: "example.org", host: "example.org", port: 5004},
		{in: "example.org:6000", host: "example.org", port: 6000},
		{in: ":6000", host: "localhost", port: 6000},
		{in: "10.0.0.1:", host: "10.0.0.1", port: 5004},
		{in: "[::1]:6000", host: "::1", port: 6000},
		{in: "::1", host: "::1", port: 5004},
		{in: "host:notaport", err: true},
		{in: "host:70000", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			host, port, err := ParseReceiver(tt.in, rtpframe.DefaultPort)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.port, port)
		})
	}
}

func TestPattern(t *testing.T) {
	p := NewPattern(320, 64)
	img := p.Render(42)

	// ramp outside the label
	assert.Equal(t, color.RGBA{44, 44, 44, 255}, img.RGBAAt(300, 60))
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, img.RGBAAt(0, 60))

	// label changes the corner but not the base ramp
	assert.NotEqual(t, p.Plain()[(20*320+20)*4:(20*320+20)*4+4], img.Pix[(20*320+20)*4:(20*320+20)*4+4])
	assert.Equal(t, byte(20), p.Plain()[(20*320+20)*4])

	a := append([]byte(nil), p.Render(1).Pix...)
	b := p.Render(2).Pix
	assert.NotEqual(t, a, b)
}

func TestLabelBox(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 50))
	box := Label{X: 10, Y: 5, Padding: 5, Color: color.RGBA{255, 255, 255, 255}}.Draw(img, "abc")
	// 3 glyphs of 7px plus padding
	assert.Equal(t, image.Rect(10, 5, 10+21+10, 5+13+10), box)
	assert.Equal(t, image.Rectangle{}, Label{}.Draw(img, ""))
}

// listen returns a UDP socket standing in for the receiver.
func listen(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *net.UDPConn) (*rtpframe.Frame, *net.UDPAddr) {
	t.Helper()
	d := rtpframe.NewDepacketizer()
	buf := make([]byte, 64*1024)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		n, from, err := conn.ReadFromUDP(buf)
		require.NoError(t, err)
		var pkt rtp.Packet
		require.NoError(t, pkt.Unmarshal(buf[:n]))
		f, err := d.Push(&pkt)
		require.NoError(t, err)
		if f != nil {
			return f, from
		}
	}
}

func TestSendFrameUncompressed(t *testing.T) {
	rx := listen(t)
	s, err := New(Config{Receiver: rx.LocalAddr().String(), Width: 64, Height: 32, FPS: 25})
	require.NoError(t, err)
	defer s.Close()

	pattern := NewPattern(64, 32)
	require.NoError(t, s.SendFrame(pattern.Plain(), video.RGBA, 64, 32))

	f, _ := readFrame(t, rx)
	assert.Equal(t, rtpframe.Header{Width: 64, Height: 32, Codec: video.RGBA, FPS: 25}, f.Header)
	assert.True(t, bytes.Equal(pattern.Plain(), f.Data))
	assert.Equal(t, int64(1), s.Sent())
}

func TestSendFrameJPEGAndFeedback(t *testing.T) {
	rx := listen(t)
	got := make(chan rtpframe.RenderPacket, 1)
	s, err := New(Config{
		Receiver:       rx.LocalAddr().String(),
		Compression:    rtpframe.JPEG,
		Width:          64,
		Height:         32,
		OnRenderPacket: func(p rtpframe.RenderPacket) { got <- p },
	})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SendFrame(NewPattern(64, 32).Plain(), video.RGBA, 64, 32))

	f, from := readFrame(t, rx)
	assert.Equal(t, rtpframe.JPEG, f.Header.Compression)
	img, err := jpeg.Decode(bytes.NewReader(f.Data))
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())

	b, err := rtpframe.MarshalRenderPacket(rtpframe.RenderPacket{SSRC: f.SSRC, Frame: 1, OK: true})
	require.NoError(t, err)
	_, err = rx.WriteToUDP(b, from)
	require.NoError(t, err)

	select {
	case p := <-got:
		assert.True(t, p.OK)
		assert.Equal(t, int64(1), p.Frame)
	case <-time.After(5 * time.Second):
		t.Fatal("no render packet")
	}
	assert.Equal(t, int64(1), s.Feedback())
}

func TestSendFrameRejectsBadInput(t *testing.T) {
	rx := listen(t)
	s, err := New(Config{Receiver: rx.LocalAddr().String(), Width: 16, Height: 16})
	require.NoError(t, err)
	defer s.Close()

	assert.Error(t, s.SendFrame(make([]byte, 10), video.RGBA, 16, 16))
	assert.Error(t, s.SendFrame(nil, video.RGBA, 0, 16))
	assert.Equal(t, int64(0), s.Sent())
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{Receiver: "host:notaport"})
	assert.Error(t, err)

	_, err = New(Config{FPS: -1})
	assert.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	rx := listen(t)
	s, err := New(Config{Receiver: rx.LocalAddr().String()})
	require.NoError(t, err)
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}
