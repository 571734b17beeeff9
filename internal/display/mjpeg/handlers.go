package mjpeg

import (
	"fmt"
	"net/http"
	"time"

	"github.com/uvstream/vrgdisplay/internal/display"
	"github.com/uvstream/vrgdisplay/internal/logger"
)

// StreamHandler serves the multipart MJPEG stream. Mount it at /stream.
func (m *Display) StreamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Register client
		frameChan := make(chan []byte, clientBuffer)
		m.clientsMu.Lock()
		if m.lc.State() == display.StateStopped {
			m.clientsMu.Unlock()
			http.Error(w, "display stopped", http.StatusServiceUnavailable)
			return
		}
		m.clients[frameChan] = struct{}{}
		clientCount := len(m.clients)
		m.clientsMu.Unlock()

		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		w.Header().Set("Connection", "close")
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}

		log := logger.WithComponent(moduleName)
		log.Info().Msgf("[MJPEG] New client connected (total: %d)", clientCount)

		// Cleanup on disconnect. Done may already have closed and removed
		// the channel.
		defer func() {
			m.clientsMu.Lock()
			delete(m.clients, frameChan)
			clientCount := len(m.clients)
			m.clientsMu.Unlock()
			log.Info().Msgf("[MJPEG] Client disconnected (remaining: %d)", clientCount)
		}()

		for {
			select {
			case <-r.Context().Done():
				return
			case jpegData, ok := <-frameChan:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpegData)); err != nil {
					return
				}
				if _, err := w.Write(jpegData); err != nil {
					return
				}
				if _, err := fmt.Fprintf(w, "\r\n"); err != nil {
					return
				}
				if f, ok := w.(http.Flusher); ok {
					f.Flush()
				}
			}
		}
	}
}

// ViewerHandler serves a minimal page showing the stream full-window.
func (m *Display) ViewerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(viewerHTML))
	}
}

const viewerHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>vrgdisplay preview</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            background: #000;
            overflow: hidden;
            display: flex;
            justify-content: center;
            align-items: center;
            min-height: 100vh;
        }
        img {
            width: 100vw;
            height: 100vh;
            object-fit: contain;
            display: block;
            background: #000;
        }
        .nav {
            position: fixed;
            bottom: 16px;
            left: 16px;
            opacity: 0;
            transition: opacity 0.2s ease;
        }
        .nav:hover { opacity: 1; }
        .nav a {
            padding: 8px 14px;
            background: rgba(40, 40, 40, 0.9);
            color: #ccc;
            text-decoration: none;
            border-radius: 20px;
            font-family: system-ui, -apple-system, sans-serif;
            font-size: 13px;
        }
    </style>
</head>
<body>
    <img src="/stream" alt="vrgdisplay preview">
    <div class="nav"><a href="/stats">Stats</a></div>
</body>
</html>`

// StatsHandler serves a plain HTML page with stream statistics.
func (m *Display) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := m.Stats()
		clientCount := m.clientCount()

		resolution := "not configured"
		if st.Desc != nil {
			resolution = st.Desc.String()
		}
		var fps float64
		if st.LastSample != nil {
			fps = st.LastSample.FPS
		}
		lastUpdate := "Never"
		if ns := m.lastUpdate.Load(); ns != 0 {
			lastUpdate = time.Since(time.Unix(0, ns)).Round(time.Millisecond).String() + " ago"
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>vrgdisplay - MJPEG Stats</title>
    <style>
        body { font-family: monospace; padding: 20px; background: #1e1e1e; color: #d4d4d4; }
        .stat { margin: 10px 0; }
        .label { color: #569cd6; }
        .value { color: #4ec9b0; }
    </style>
</head>
<body>
    <h1>MJPEG Stream Stats</h1>
    <div class="stat"><span class="label">State:</span> <span class="value">%s</span></div>
    <div class="stat"><span class="label">Format:</span> <span class="value">%s</span></div>
    <div class="stat"><span class="label">Last window FPS:</span> <span class="value">%.2f</span></div>
    <div class="stat"><span class="label">Frames:</span> <span class="value">%d sent, %d dropped, %d discarded</span></div>
    <div class="stat"><span class="label">Connected Clients:</span> <span class="value">%d</span></div>
    <div class="stat"><span class="label">Last Update:</span> <span class="value">%s</span></div>
    <div class="stat"><span class="label">Uptime:</span> <span class="value">%s</span></div>
    <p><a href="/stream" style="color: #569cd6;">View Stream</a></p>
</body>
</html>`,
			st.State, resolution, fps,
			st.Submitted, st.Dropped, st.Discarded,
			clientCount, lastUpdate,
			time.Since(m.startTime).Round(time.Second),
		)
	}
}
