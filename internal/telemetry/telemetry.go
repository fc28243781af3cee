// ABOUTME: HTTP/WebSocket telemetry surface for processing metrics
// ABOUTME: Serves JSON snapshots and pushes live updates to subscribers
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tald-unia/unia-go/internal/monitor"
)

// DefaultPushInterval paces the websocket stream.
const DefaultPushInterval = time.Second

// Source is anything that exposes processing metrics. The engine
// satisfies it.
type Source interface {
	Metrics() (monitor.ProcessingMetrics, bool)
	MetricsHistory() []monitor.ProcessingMetrics
}

// Config holds telemetry server configuration.
type Config struct {
	Port         int
	PushInterval time.Duration
}

// Server exposes a Source over HTTP: GET /metrics and /metrics/history
// return JSON, /stream upgrades to a websocket pushing snapshots at the
// configured interval.
type Server struct {
	config   Config
	source   Source
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	httpServer *http.Server
	stopChan   chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// New creates a telemetry server for the given source.
func New(config Config, source Source) *Server {
	if config.PushInterval <= 0 {
		config.PushInterval = DefaultPushInterval
	}
	s := &Server{
		config: config,
		source: source,
		upgrader: websocket.Upgrader{
			// Local-network monitoring surface; no origin restrictions.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		mux:      http.NewServeMux(),
		stopChan: make(chan struct{}),
	}
	s.mux.HandleFunc("/metrics", s.handleMetrics)
	s.mux.HandleFunc("/metrics/history", s.handleHistory)
	s.mux.HandleFunc("/stream", s.handleStream)
	return s
}

// Handler returns the route table, for embedding in another server.
func (s *Server) Handler() http.Handler { return s.mux }

// Start begins serving and returns once the listener is up.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.mux}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// Give the listener a beat to fail fast on a taken port.
	select {
	case err := <-errChan:
		return fmt.Errorf("telemetry: listen on %s: %w", addr, err)
	case <-time.After(50 * time.Millisecond):
	}
	log.Printf("Telemetry listening on %s", addr)
	return nil
}

// Stop shuts the server down and disconnects all stream subscribers.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("Telemetry shutdown error: %v", err)
		}
	}
	s.wg.Wait()
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap, ok := s.source.Metrics()
	if !ok {
		// The monitor has not completed a sampling interval yet.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, snap)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	history := s.source.MetricsHistory()
	if history == nil {
		history = []monitor.ProcessingMetrics{}
	}
	writeJSON(w, history)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Telemetry encode error: %v", err)
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Telemetry upgrade failed: %v", err)
		return
	}
	log.Printf("Telemetry subscriber connected: %s", r.RemoteAddr)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.push(conn)
	}()
}

// push writes snapshots until the subscriber goes away or the server
// stops. The read pump exists only to observe the close handshake.
func (s *Server) push(conn *websocket.Conn) {
	defer conn.Close()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.config.PushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"))
			return
		case <-gone:
			return
		case <-ticker.C:
			snap, ok := s.source.Metrics()
			if !ok {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(snap); err != nil {
				log.Printf("Telemetry subscriber dropped: %v", err)
				return
			}
		}
	}
}
