// Package receiver accepts frames from senders over UDP and feeds them
// through a pipeline to a display.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"

	"github.com/uvstream/vrgdisplay/internal/logger"
	"github.com/uvstream/vrgdisplay/internal/pipeline"
	"github.com/uvstream/vrgdisplay/internal/rtpframe"
)

const (
	maxDatagram = 64 * 1024
	readBuffer  = 8 << 20
)

// Stats counts receiver activity.
type Stats struct {
	Packets  int64 `json:"packets"`
	Frames   int64 `json:"frames"`
	Lost     int64 `json:"lost"`
	Failed   int64 `json:"failed"`
	Invalid  int64 `json:"invalid"`
	Senders  int   `json:"senders"`
	Feedback int64 `json:"feedback"`
}

// Receiver reads datagrams on one socket. Run drives the pipeline; it is
// the pipeline's only caller.
type Receiver struct {
	conn *net.UDPConn
	pipe *pipeline.Pipeline
	log  *zerolog.Logger

	// per sender address, touched only by Run
	senders map[string]*senderState
	nsender atomic.Int32

	packets  atomic.Int64
	frames   atomic.Int64
	failed   atomic.Int64
	invalid  atomic.Int64
	lost     atomic.Int64
	feedback atomic.Int64
}

type senderState struct {
	depack *rtpframe.Depacketizer
	frames int64
	lost   int64
}

// Listen binds addr, e.g. ":5004".
func Listen(addr string, pipe *pipeline.Pipeline) (*Receiver, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	// uncompressed frames arrive in bursts of thousands of packets
	if err := conn.SetReadBuffer(readBuffer); err != nil {
		logger.WithComponent("receiver").Debug().Err(err).Msg("Failed to size read buffer")
	}
	r := &Receiver{
		conn:    conn,
		pipe:    pipe,
		log:     logger.WithComponent("receiver"),
		senders: make(map[string]*senderState),
	}
	r.log.Info().Str("addr", conn.LocalAddr().String()).Msg("Listening for senders")
	return r, nil
}

// Addr is the bound address.
func (r *Receiver) Addr() net.Addr {
	return r.conn.LocalAddr()
}

// Run reads until ctx is done or the socket fails. It closes the socket
// on return.
func (r *Receiver) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { r.conn.Close() })
	defer stop()
	defer r.conn.Close()

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		r.packets.Add(1)
		r.handle(buf[:n], from)
	}
}

func (r *Receiver) handle(datagram []byte, from *net.UDPAddr) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(datagram); err != nil || pkt.PayloadType != rtpframe.PayloadType {
		r.invalid.Add(1)
		return
	}

	key := from.String()
	st, ok := r.senders[key]
	if !ok {
		st = &senderState{depack: rtpframe.NewDepacketizer()}
		r.senders[key] = st
		r.nsender.Store(int32(len(r.senders)))
		r.log.Info().Str("sender", key).Uint32("ssrc", pkt.SSRC).Msg("New sender")
	}

	frame, err := st.depack.Push(&pkt)
	if lost := st.depack.Lost(); lost != st.lost {
		r.lost.Add(lost - st.lost)
		st.lost = lost
	}
	if err != nil {
		r.invalid.Add(1)
		r.log.Debug().Err(err).Str("sender", key).Msg("Bad packet")
		return
	}
	if frame == nil {
		return
	}

	st.frames++
	r.frames.Add(1)
	start := time.Now()
	perr := r.pipe.Push(pipeline.Input{
		Desc:        frame.Header.Desc(),
		Compression: frame.Header.Compression,
		Data:        frame.Data,
	})
	if perr != nil {
		r.failed.Add(1)
		r.log.Warn().Err(perr).Str("sender", key).Msg("Frame not displayed")
	}

	r.sendFeedback(from, rtpframe.RenderPacket{
		SSRC:          frame.SSRC,
		Timestamp:     frame.Timestamp,
		Frame:         st.frames,
		OK:            perr == nil,
		Error:         errString(perr),
		Display:       r.pipe.Display().Kind(),
		LatencyMicros: time.Since(start).Microseconds(),
	})
}

func (r *Receiver) sendFeedback(to *net.UDPAddr, p rtpframe.RenderPacket) {
	b, err := rtpframe.MarshalRenderPacket(p)
	if err != nil {
		r.log.Error().Err(err).Msg("Failed to encode render packet")
		return
	}
	if _, err := r.conn.WriteToUDP(b, to); err != nil {
		r.log.Debug().Err(err).Str("sender", to.String()).Msg("Failed to send render packet")
		return
	}
	r.feedback.Add(1)
}

// Stats is safe to call while Run is active.
func (r *Receiver) Stats() Stats {
	return Stats{
		Packets:  r.packets.Load(),
		Frames:   r.frames.Load(),
		Lost:     r.lost.Load(),
		Failed:   r.failed.Load(),
		Invalid:  r.invalid.Load(),
		Senders:  int(r.nsender.Load()),
		Feedback: r.feedback.Load(),
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
