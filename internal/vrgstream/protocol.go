package vrgstream

import (
	"encoding/binary"
	"errors"
)

// Wire protocol over a websocket:
//
//	client -> server  text    {"type":"init","color_mode":"rgba"}
//	client -> server  binary  [8 byte big-endian counter][picture bytes]
//	server -> client  text    {"type":"ack","op":"init"|"submit","counter":N,"status":S}
//
// Every request gets exactly one ack, in order.

const (
	msgInit = "init"
	msgAck  = "ack"

	opInit   = "init"
	opSubmit = "submit"

	frameHeaderLen = 8
)

type controlMessage struct {
	Type      string `json:"type"`
	ColorMode string `json:"color_mode,omitempty"`
}

type ackMessage struct {
	Type    string `json:"type"`
	Op      string `json:"op"`
	Counter int64  `json:"counter"`
	Status  Status `json:"status"`
}

var errShortFrame = errors.New("vrgstream: frame message shorter than header")

func encodeFrame(counter int64, data []byte) []byte {
	buf := make([]byte, frameHeaderLen+len(data))
	binary.BigEndian.PutUint64(buf, uint64(counter))
	copy(buf[frameHeaderLen:], data)
	return buf
}

func decodeFrame(msg []byte) (int64, []byte, error) {
	if len(msg) < frameHeaderLen {
		return 0, nil, errShortFrame
	}
	return int64(binary.BigEndian.Uint64(msg)), msg[frameHeaderLen:], nil
}
