package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/uvstream/vrgdisplay/internal/display"
	"github.com/uvstream/vrgdisplay/internal/logger"
)

var errNoDisplay = errors.New("no display is open")

// KindInfo describes one registered display kind.
type KindInfo struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Devices     []display.DeviceInfo `json:"devices"`
}

// Status is the document served by /api/display/status and pushed over
// /api/stats/ws.
type Status struct {
	Time     time.Time      `json:"time"`
	Display  *display.Stats `json:"display,omitempty"`
	Sections map[string]any `json:"sections,omitempty"`
}

// handleHealth returns health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": version,
	})
}

func (s *Server) handleKinds(w http.ResponseWriter, r *http.Request) {
	var kinds []KindInfo
	if s.opts.Registry != nil {
		for _, k := range s.opts.Registry.Kinds() {
			devices := k.Probe()
			if devices == nil {
				devices = []display.DeviceInfo{}
			}
			kinds = append(kinds, KindInfo{
				Name:        k.Name(),
				Description: k.Description(),
				Devices:     devices,
			})
		}
	}
	if kinds == nil {
		kinds = []KindInfo{}
	}
	writeJSON(w, http.StatusOK, kinds)
}

func (s *Server) status() Status {
	st := Status{Time: time.Now()}
	if s.opts.Display != nil {
		ds := s.opts.Display.Stats()
		st.Display = &ds
	}
	if len(s.opts.Sections) > 0 {
		st.Sections = make(map[string]any, len(s.opts.Sections))
		for name, fn := range s.opts.Sections {
			st.Sections[name] = fn()
		}
	}
	return st
}

func (s *Server) handleDisplayStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

// handleCapabilities answers every property query against the open display.
func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	if s.opts.Display == nil {
		writeError(w, http.StatusServiceUnavailable, errNoDisplay)
		return
	}

	props := make(map[string]any)
	for _, id := range []display.PropertyID{
		display.PropertyCodecs,
		display.PropertyRGBShift,
		display.PropertyBufPitch,
		display.PropertyVideoMode,
	} {
		value, err := QueryProperty(s.opts.Display, id)
		if errors.Is(err, display.ErrPropertyNotSupported) {
			continue
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		props[id.String()] = value
	}
	writeJSON(w, http.StatusOK, props)
}

// QueryProperty asks with an empty buffer first and retries with the size
// the display reports.
func QueryProperty(d display.Display, id display.PropertyID) (any, error) {
	value, size, err := d.GetProperty(id, 0)
	if errors.Is(err, display.ErrBufferTooSmall) {
		value, _, err = d.GetProperty(id, size)
	}
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", id, err)
	}
	return value, nil
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.opts.Config == nil {
		writeError(w, http.StatusNotFound, errors.New("configuration is not managed by this process"))
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Config.Get())
}

// handleUpdateConfig persists a new configuration. Running components
// pick it up on restart.
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	if s.opts.Config == nil {
		writeError(w, http.StatusNotFound, errors.New("configuration is not managed by this process"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cfg := s.opts.Config.Get()
	if err := json.Unmarshal(body, cfg); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid config: %w", err))
		return
	}
	if err := s.opts.Config.Update(cfg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Config.Get())
}

// handleStatsStream pushes a Status every StatsInterval until the client
// goes away.
func (s *Server) handleStatsStream(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reads only detect the close; clients send nothing.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	log.Debug().Str("remote", r.RemoteAddr).Msg("Stats client connected")
	ticker := time.NewTicker(s.opts.StatsInterval)
	defer ticker.Stop()

	for {
		data, err := json.Marshal(s.status())
		if err != nil {
			log.Error().Err(err).Msg("Failed to encode stats")
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Debug().Err(err).Msg("Stats client gone")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// handleIndex lists the endpoints when no preview is available.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
    <title>vrgdisplay</title>
    <style>
        body { font-family: monospace; background: #1a1a1a; color: #e0e0e0; padding: 20px; }
        a { color: #4a9eff; }
        pre { background: #2a2a2a; padding: 12px; border-radius: 4px; }
    </style>
</head>
<body>
    <h1>vrgdisplay</h1>
    <ul>
        <li><a href="/api/health">/api/health</a></li>
        <li><a href="/api/kinds">/api/kinds</a></li>
        <li><a href="/api/display/status">/api/display/status</a></li>
        <li><a href="/api/display/capabilities">/api/display/capabilities</a></li>
        <li><a href="/api/config">/api/config</a></li>
    </ul>
    <h2>Live</h2>
    <pre id="stats">connecting...</pre>
    <script>
        const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/api/stats/ws');
        ws.onmessage = (ev) => {
            document.getElementById('stats').textContent = JSON.stringify(JSON.parse(ev.data), null, 2);
        };
        ws.onclose = () => { document.getElementById('stats').textContent = 'disconnected'; };
    </script>
</body>
</html>
`
