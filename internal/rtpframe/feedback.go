package rtpframe

import (
	"errors"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RenderPacket is sent back to the sender for every frame the receiver
// handled. It travels as a JSON datagram on the same socket as the media.
type RenderPacket struct {
	SSRC      uint32 `json:"ssrc"`
	Timestamp uint32 `json:"timestamp"`
	// Frame is the receiver's running count of frames from this sender.
	Frame   int64  `json:"frame"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Display string `json:"display,omitempty"`
	// LatencyMicros is the time from last packet to display hand-off.
	LatencyMicros int64 `json:"latency_us"`
}

var errNotFeedback = errors.New("rtpframe: not a render packet")

// IsRenderPacket tells feedback datagrams from RTP, whose first byte
// carries version 2 in the top bits.
func IsRenderPacket(b []byte) bool {
	return len(b) > 0 && b[0] == '{'
}

// MarshalRenderPacket encodes p for the wire.
func MarshalRenderPacket(p RenderPacket) ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalRenderPacket decodes a feedback datagram.
func UnmarshalRenderPacket(b []byte) (RenderPacket, error) {
	var p RenderPacket
	if !IsRenderPacket(b) {
		return p, errNotFeedback
	}
	err := json.Unmarshal(b, &p)
	return p, err
}
