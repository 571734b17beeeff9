package vrgstream

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/uvstream/vrgdisplay/internal/logger"
	"github.com/uvstream/vrgdisplay/internal/stats"
)

// Renderer consumes frames on the service side of the websocket.
type Renderer interface {
	Init(mode ColorMode) Status
	Submit(counter int64, data []byte) Status
}

// Server is an http.Handler speaking the service side of the protocol. It
// stands in for the real streaming service in demos and tests.
type Server struct {
	newRenderer func() Renderer
	upgrader    websocket.Upgrader

	sessions atomic.Int64
}

// NewServer creates a handler. newRenderer is called once per connection.
func NewServer(newRenderer func() Renderer) *Server {
	return &Server{
		newRenderer: newRenderer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Sessions returns the number of open connections.
func (s *Server) Sessions() int64 {
	return s.sessions.Load()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithComponent("vrgstream").Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	s.sessions.Add(1)
	defer s.sessions.Add(-1)

	log := logger.WithComponent("vrgstream")
	log.Info().Str("remote", r.RemoteAddr).Msg("Streaming client connected")

	renderer := s.newRenderer()
	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("Streaming client read failed")
			}
			log.Info().Str("remote", r.RemoteAddr).Msg("Streaming client disconnected")
			return
		}

		var ack ackMessage
		switch kind {
		case websocket.TextMessage:
			ack = handleControl(renderer, msg)
		case websocket.BinaryMessage:
			ack = ackMessage{Type: msgAck, Op: opSubmit}
			counter, data, err := decodeFrame(msg)
			if err != nil {
				ack.Status = StatusInvalidFrame
			} else {
				ack.Counter = counter
				ack.Status = renderer.Submit(counter, data)
			}
		default:
			continue
		}

		payload, err := json.Marshal(ack)
		if err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Debug().Err(err).Msg("Streaming client write failed")
			return
		}
	}
}

func handleControl(renderer Renderer, msg []byte) ackMessage {
	ack := ackMessage{Type: msgAck, Op: opInit}

	var ctrl controlMessage
	if err := json.Unmarshal(msg, &ctrl); err != nil || ctrl.Type != msgInit {
		ack.Status = StatusInternal
		return ack
	}
	mode, err := ParseColorMode(ctrl.ColorMode)
	if err != nil {
		ack.Status = StatusInvalidColorMode
		return ack
	}
	ack.Status = renderer.Init(mode)
	return ack
}

// LoggingRenderer accepts every well-formed frame after Init and logs
// throughput. It is the renderer behind the `renderer` command.
type LoggingRenderer struct {
	mu       sync.Mutex
	mode     ColorMode
	frames   int64
	bytes    int64
	reporter *stats.Reporter
}

// NewLoggingRenderer creates a renderer reporting once per window.
func NewLoggingRenderer(reporter *stats.Reporter) *LoggingRenderer {
	if reporter == nil {
		reporter = stats.NewReporter(stats.DefaultInterval, nil)
	}
	return &LoggingRenderer{reporter: reporter}
}

func (r *LoggingRenderer) Init(mode ColorMode) Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.mode = mode
	logger.WithComponent("vrgstream").Info().
		Str("color_mode", mode.String()).
		Msg("Renderer initialized")
	return StatusOK
}

func (r *LoggingRenderer) Submit(counter int64, data []byte) Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mode == 0 {
		return StatusNotInitialized
	}
	if len(data) == 0 {
		return StatusInvalidFrame
	}

	r.frames++
	r.bytes += int64(len(data))
	if s, ok := r.reporter.Frame(); ok {
		logger.WithComponent("vrgstream").Info().
			Int64("frames", s.Frames).
			Float64("fps", s.FPS).
			Int64("last_counter", counter).
			Int64("total_bytes", r.bytes).
			Msg("Renderer throughput")
	}
	return StatusOK
}

// Frames returns how many frames were accepted.
func (r *LoggingRenderer) Frames() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}
