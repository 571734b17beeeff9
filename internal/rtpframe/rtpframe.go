// Package rtpframe carries whole video frames over RTP. A frame is split
// across packets sharing one timestamp; the first packet starts with a
// small header describing the frame, the last has the marker bit set.
//
// Payload layout:
//
//	byte 0      descriptor, 0x10 on the first packet of a frame
//	bytes 1-16  frame header (first packet only)
//	rest        frame data
//
// Frame header, big endian:
//
//	width u16 | height u16 | codec u32 | compression u8 | reserved [3] | fps*1000 u32
package rtpframe

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/pion/rtp"

	"github.com/uvstream/vrgdisplay/internal/video"
)

const (
	// DefaultPort is the receiver's UDP port unless configured otherwise.
	DefaultPort = 5004
	PayloadType = 96
	ClockRate   = 90000
	// MaxPayload keeps packets under a typical 1500 byte MTU.
	MaxPayload = 1200

	headerLen      = 16
	descriptorLen  = 1
	startOfFrame   = 0x10
	fpsScale       = 1000
	rtpVersion     = 2
	maxFrameLength = 64 << 20
)

var (
	ErrShortPayload = errors.New("rtpframe: short payload")
	ErrFrameTooLong = errors.New("rtpframe: frame exceeds maximum size")
)

// Compression of the frame data.
type Compression uint8

const (
	Uncompressed Compression = iota
	JPEG
)

func (c Compression) String() string {
	switch c {
	case Uncompressed:
		return "none"
	case JPEG:
		return "jpeg"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression accepts "none", "uncompressed" or "jpeg".
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none", "uncompressed", "":
		return Uncompressed, nil
	case "jpeg", "jpg":
		return JPEG, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

// Header describes one frame.
type Header struct {
	Width       int
	Height      int
	Codec       video.Codec
	Compression Compression
	FPS         float64
}

// Desc is the format the frame decodes to.
func (h Header) Desc() video.Desc {
	return video.NewDesc(h.Width, h.Height, h.Codec, h.FPS)
}

func (h Header) marshal(b []byte) {
	binary.BigEndian.PutUint16(b[0:], uint16(h.Width))
	binary.BigEndian.PutUint16(b[2:], uint16(h.Height))
	binary.BigEndian.PutUint32(b[4:], uint32(h.Codec))
	b[8] = byte(h.Compression)
	b[9], b[10], b[11] = 0, 0, 0
	binary.BigEndian.PutUint32(b[12:], uint32(math.Round(h.FPS*fpsScale)))
}

func unmarshalHeader(b []byte) (Header, error) {
	if len(b) < headerLen {
		return Header{}, ErrShortPayload
	}
	return Header{
		Width:       int(binary.BigEndian.Uint16(b[0:])),
		Height:      int(binary.BigEndian.Uint16(b[2:])),
		Codec:       video.Codec(binary.BigEndian.Uint32(b[4:])),
		Compression: Compression(b[8]),
		FPS:         float64(binary.BigEndian.Uint32(b[12:])) / fpsScale,
	}, nil
}

// Packetizer splits frames into RTP packets for one stream.
type Packetizer struct {
	sequenceNumber uint16
	ssrc           uint32
	maxPayload     int
}

func NewPacketizer(ssrc uint32) *Packetizer {
	return &Packetizer{ssrc: ssrc, maxPayload: MaxPayload}
}

// SSRC identifies the stream.
func (p *Packetizer) SSRC() uint32 { return p.ssrc }

// Packetize returns the packets for one frame. pts is the frame's
// presentation time from stream start.
func (p *Packetizer) Packetize(h Header, data []byte, pts time.Duration) []*rtp.Packet {
	var packets []*rtp.Packet
	_, _ = p.PacketizeAndWrite(h, data, pts, func(pkt *rtp.Packet) error {
		packets = append(packets, pkt)
		return nil
	})
	return packets
}

// PacketizeAndWrite hands each packet to writePacket as it is built and
// returns how many were written.
func (p *Packetizer) PacketizeAndWrite(h Header, data []byte, pts time.Duration, writePacket func(*rtp.Packet) error) (int, error) {
	// ms to 90kHz
	timestamp := uint32(pts.Milliseconds() * ClockRate / 1000)

	remaining := data
	first := true
	sent := 0
	for first || len(remaining) > 0 {
		room := p.maxPayload - descriptorLen
		if first {
			room -= headerLen
		}
		n := min(len(remaining), room)

		var payload []byte
		if first {
			payload = make([]byte, descriptorLen+headerLen+n)
			payload[0] = startOfFrame
			h.marshal(payload[descriptorLen:])
			copy(payload[descriptorLen+headerLen:], remaining[:n])
		} else {
			payload = make([]byte, descriptorLen+n)
			copy(payload[descriptorLen:], remaining[:n])
		}
		remaining = remaining[n:]

		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        rtpVersion,
				Marker:         len(remaining) == 0,
				PayloadType:    PayloadType,
				SequenceNumber: p.sequenceNumber,
				Timestamp:      timestamp,
				SSRC:           p.ssrc,
			},
			Payload: payload,
		}
		p.sequenceNumber++
		if err := writePacket(pkt); err != nil {
			return sent, err
		}
		sent++
		first = false
	}
	return sent, nil
}

// Frame is a reassembled frame.
type Frame struct {
	Header    Header
	Data      []byte
	SSRC      uint32
	Timestamp uint32
}

// Depacketizer reassembles frames from packets of one or more streams.
// Packets must arrive in order; a gap drops the frame in progress.
type Depacketizer struct {
	inFrame   bool
	header    Header
	buf       []byte
	ssrc      uint32
	timestamp uint32
	nextSeq   uint16

	lost int64
}

func NewDepacketizer() *Depacketizer {
	return &Depacketizer{}
}

// Lost counts frames abandoned because of gaps or malformed packets.
func (d *Depacketizer) Lost() int64 { return d.lost }

// Push adds a packet and returns a frame once its last packet arrives.
func (d *Depacketizer) Push(pkt *rtp.Packet) (*Frame, error) {
	if len(pkt.Payload) < descriptorLen {
		d.abandon()
		return nil, ErrShortPayload
	}

	if pkt.Payload[0]&startOfFrame != 0 {
		if d.inFrame {
			d.abandon()
		}
		h, err := unmarshalHeader(pkt.Payload[descriptorLen:])
		if err != nil {
			return nil, err
		}
		d.inFrame = true
		d.header = h
		d.ssrc = pkt.SSRC
		d.timestamp = pkt.Timestamp
		d.buf = append(d.buf[:0], pkt.Payload[descriptorLen+headerLen:]...)
	} else {
		if !d.inFrame {
			// mid-frame packet after a loss; wait for the next start
			return nil, nil
		}
		if pkt.SSRC != d.ssrc || pkt.Timestamp != d.timestamp || pkt.SequenceNumber != d.nextSeq {
			d.abandon()
			return nil, nil
		}
		if len(d.buf)+len(pkt.Payload)-descriptorLen > maxFrameLength {
			d.abandon()
			return nil, ErrFrameTooLong
		}
		d.buf = append(d.buf, pkt.Payload[descriptorLen:]...)
	}
	d.nextSeq = pkt.SequenceNumber + 1

	if !pkt.Marker {
		return nil, nil
	}
	d.inFrame = false
	data := make([]byte, len(d.buf))
	copy(data, d.buf)
	return &Frame{Header: d.header, Data: data, SSRC: d.ssrc, Timestamp: d.timestamp}, nil
}

func (d *Depacketizer) abandon() {
	if d.inFrame {
		d.lost++
	}
	d.inFrame = false
	d.buf = d.buf[:0]
}
