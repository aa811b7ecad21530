package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"lecca.io/axelar-watchtower/internal/alerts"
	"lecca.io/axelar-watchtower/internal/logger"
	"lecca.io/axelar-watchtower/internal/state"
	"lecca.io/axelar-watchtower/internal/types"
)

type SnapshotSource interface {
	Snapshot() state.Snapshot
}

type Options struct {
	Port         int
	EVMMaturity  time.Duration
	AMPDMaturity time.Duration
	// Gatherer backs /metrics. Nil disables the route.
	Gatherer prometheus.Gatherer
}

// Server serves the state API and pushes updates, alerts and logs to websocket clients.
type Server struct {
	source SnapshotSource
	opts   Options
	now    func() time.Time

	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	logChan   chan logger.LogEntry
	mu        sync.Mutex
}

type message struct {
	Type  string             `json:"type"`
	State *state.Snapshot    `json:"state,omitempty"`
	Alert *alerts.AlertEvent `json:"alert,omitempty"`
	Log   *logger.LogEntry   `json:"log,omitempty"`
}

func NewServer(source SnapshotSource, opts Options) *Server {
	s := &Server{
		source: source,
		opts:   opts,
		now:    time.Now,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, 64),
		logChan:   make(chan logger.LogEntry, 100),
	}
	logger.SetLogChannel(s.logChan)
	return s
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/state", s.handleState).Methods(http.MethodGet)
	r.HandleFunc("/api/chains/{kind}/{chain}", s.handleChain).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleConnections)
	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// Start serves until ctx ends. A zero port disables the server.
func (s *Server) Start(ctx context.Context) error {
	if s.opts.Port <= 0 {
		return nil
	}
	go s.handleMessages(ctx)
	go s.handleLogs(ctx)

	addr := fmt.Sprintf(":%d", s.opts.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
		logger.Info("DASH", "HTTP server shutting down")
	}()

	logger.Info("DASH", "HTTP server listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("dashboard on %s: %w", addr, err)
	}
	return nil
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("DASH", "WS upgrade failed: %v", err)
		return
	}

	snap := s.source.Snapshot()
	initial, err := json.Marshal(message{Type: "update", State: &snap})
	if err != nil {
		ws.Close()
		return
	}

	s.mu.Lock()
	s.clients[ws] = true
	err = ws.WriteMessage(websocket.TextMessage, initial)
	s.mu.Unlock()
	if err != nil {
		s.drop(ws)
		return
	}

	// Reads only detect the peer going away.
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				s.drop(ws)
				return
			}
		}
	}()
}

func (s *Server) drop(ws *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients[ws] {
		delete(s.clients, ws)
		ws.Close()
	}
}

func (s *Server) handleMessages(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			for client := range s.clients {
				client.Close()
				delete(s.clients, client)
			}
			s.mu.Unlock()
			return
		case msg := <-s.broadcast:
			s.mu.Lock()
			for client := range s.clients {
				client.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := client.WriteMessage(websocket.TextMessage, msg); err != nil {
					client.Close()
					delete(s.clients, client)
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *Server) handleLogs(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-s.logChan:
			s.send(message{Type: "log", Log: &entry})
		}
	}
}

// send queues a message and drops it when the queue is full.
func (s *Server) send(msg message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case s.broadcast <- data:
	default:
	}
}

// BroadcastUpdate pushes the current snapshot to all connected clients.
func (s *Server) BroadcastUpdate() {
	snap := s.source.Snapshot()
	s.send(message{Type: "update", State: &snap})
}

// Notify forwards an alert to connected clients.
func (s *Server) Notify(_ context.Context, event alerts.AlertEvent) error {
	event.Snapshot = nil
	s.send(message{Type: "alert", Alert: &event})
	return nil
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.source.Snapshot())
}

type chainResponse struct {
	Kind              types.RecordKind   `json:"kind"`
	Chain             string             `json:"chain"`
	Rate              float64            `json:"rate"`
	Outstanding       int                `json:"outstanding"`
	ConsecutiveMissed int                `json:"consecutive_missed"`
	Polls             []types.PollRecord `json:"polls,omitempty"`
	Ampd              []types.AmpdRecord `json:"ampd,omitempty"`
}

func (s *Server) handleChain(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	kind := types.RecordKind(vars["kind"])
	chain := vars["chain"]

	snap := s.source.Snapshot()
	records, maturity := snap.AMPD, s.opts.AMPDMaturity
	if kind == types.RecordEVMPoll {
		records, maturity = snap.EVM, s.opts.EVMMaturity
	}
	for _, rec := range records {
		if rec.Kind != kind || rec.Chain != chain {
			continue
		}
		st := state.ComputeChainStats(rec, maturity, s.now())
		writeJSON(w, http.StatusOK, chainResponse{
			Kind:              rec.Kind,
			Chain:             rec.Chain,
			Rate:              st.Rate,
			Outstanding:       st.Outstanding,
			ConsecutiveMissed: st.ConsecutiveMissed,
			Polls:             rec.Polls,
			Ampd:              rec.Ampd,
		})
		return
	}
	http.Error(w, fmt.Sprintf("no %s records for %s", kind, chain), http.StatusNotFound)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
