package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"lecca.io/axelar-watchtower/internal/logger"
	"lecca.io/axelar-watchtower/internal/ws"
)

var ErrReconnectSkipped = errors.New("reconnection skipped")

func sanitizeRPCError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if strings.Contains(msg, "<html") || strings.Contains(msg, "<HTML") {
		// Keep the status line before HTML payload, if present
		if idx := strings.Index(strings.ToLower(msg), "<html"); idx > 0 {
			return strings.TrimSpace(msg[:idx])
		}
		return "HTTP error response"
	}
	return msg
}

// NodeStatus is the result of one probe. Probe failures fold into Available=false.
type NodeStatus struct {
	Available   bool
	Synced      bool
	BlockHeight int64
	Error       error
}

// StreamClient is the event stream the supervisor keeps alive.
type StreamClient interface {
	Connect(ctx context.Context) error
	Disconnect()
	Signals() <-chan ws.Signal
}

// HeightSource reports the newest processed height.
type HeightSource interface {
	Height() (int64, time.Time)
}

// ConnectionSink receives connectivity changes.
type ConnectionSink interface {
	SetStreamState(connected bool, lastError string)
	// SetHeartbeatState mirrors the stream state. Heartbeat txs arrive over the
	// same subscription, so the two views always change together.
	SetHeartbeatState(connected bool, lastError string)
}

type Options struct {
	Timeout        time.Duration
	SyncInterval   time.Duration
	Cooldown       time.Duration
	StallInterval  time.Duration
	QuickReconnect time.Duration
}

// Supervisor decides when the stream client reconnects. All reconnection state lives
// on the instance, so several supervisors can share a process.
type Supervisor struct {
	endpoint string
	client   StreamClient
	heights  HeightSource
	sink     ConnectionSink
	opts     Options

	mu          sync.Mutex
	inProgress  bool
	lastAttempt time.Time

	lastHeight int64
	lastChange time.Time

	now func() time.Time
}

func NewSupervisor(endpoint string, client StreamClient, heights HeightSource, sink ConnectionSink, opts Options) *Supervisor {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = 5 * time.Second
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = 10 * time.Second
	}
	if opts.StallInterval <= 0 {
		opts.StallInterval = 5 * time.Second
	}
	if opts.QuickReconnect <= 0 {
		opts.QuickReconnect = 10 * time.Second
	}
	return &Supervisor{
		endpoint: HTTPEndpoint(endpoint),
		client:   client,
		heights:  heights,
		sink:     sink,
		opts:     opts,
		now:      time.Now,
	}
}

type statusResult struct {
	SyncInfo struct {
		LatestBlockHeight string `json:"latest_block_height"`
		CatchingUp        bool   `json:"catching_up"`
	} `json:"sync_info"`
}

// CheckNodeStatus performs one bounded status probe against endpoint.
func (s *Supervisor) CheckNodeStatus(ctx context.Context, endpoint string) NodeStatus {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	client, err := rpc.DialOptions(ctx, HTTPEndpoint(endpoint), rpc.WithHTTPClient(&http.Client{Timeout: s.opts.Timeout}))
	if err != nil {
		return NodeStatus{Error: err}
	}
	defer client.Close()

	var res statusResult
	if err := client.CallContext(ctx, &res, "status"); err != nil {
		return NodeStatus{Error: fmt.Errorf("status: %s", sanitizeRPCError(err))}
	}
	height, _ := strconv.ParseInt(res.SyncInfo.LatestBlockHeight, 10, 64)
	return NodeStatus{
		Available:   true,
		Synced:      !res.SyncInfo.CatchingUp,
		BlockHeight: height,
	}
}

// WaitForNodeToBeSynced probes endpoint every interval until it is available and
// synced. There is no attempt cap; only ctx cancellation ends the wait early.
func (s *Supervisor) WaitForNodeToBeSynced(ctx context.Context, endpoint string, interval time.Duration) (NodeStatus, error) {
	for attempt := 1; ; attempt++ {
		st := s.CheckNodeStatus(ctx, endpoint)
		if st.Available && st.Synced {
			if attempt > 1 {
				logger.Info("RPC", "Node synced at height %d after %d probe(s)", st.BlockHeight, attempt)
			}
			return st, nil
		}
		switch {
		case !st.Available:
			logger.Warn("RPC", "Node unavailable (probe %d): %v", attempt, st.Error)
		default:
			logger.Info("RPC", "Node catching up at height %d (probe %d)", st.BlockHeight, attempt)
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// CanAttemptReconnection reports whether no reconnection is running and the cooldown
// since the last attempt has passed.
func (s *Supervisor) CanAttemptReconnection() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canAttemptLocked()
}

func (s *Supervisor) canAttemptLocked() bool {
	if s.inProgress {
		return false
	}
	return s.lastAttempt.IsZero() || s.now().Sub(s.lastAttempt) >= s.opts.Cooldown
}

func (s *Supervisor) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.canAttemptLocked() {
		return false
	}
	s.inProgress = true
	s.lastAttempt = s.now()
	return true
}

func (s *Supervisor) finish() {
	s.mu.Lock()
	s.inProgress = false
	s.mu.Unlock()
}

// Reconnect drops the current stream, waits for the node to be synced and connects
// again. It returns ErrReconnectSkipped when another attempt runs or the cooldown holds.
func (s *Supervisor) Reconnect(ctx context.Context, reason string) error {
	if !s.begin() {
		logger.Info("RPC", "Reconnection (%s) skipped: in progress or cooling down", reason)
		return ErrReconnectSkipped
	}
	defer s.finish()

	logger.Warn("RPC", "Reconnecting: %s", reason)
	s.client.Disconnect()
	s.setState(false, reason)

	if _, err := s.WaitForNodeToBeSynced(ctx, s.endpoint, s.opts.SyncInterval); err != nil {
		return err
	}
	if err := s.client.Connect(ctx); err != nil {
		s.setState(false, sanitizeRPCError(err))
		logger.Error("RPC", "Reconnection failed: %v", err)
		return err
	}
	s.setState(true, "")
	s.resetStall()
	logger.Info("RPC", "Reconnected")
	return nil
}

func (s *Supervisor) setState(connected bool, lastError string) {
	if s.sink == nil {
		return
	}
	s.sink.SetStreamState(connected, lastError)
	s.sink.SetHeartbeatState(connected, lastError)
}

// Start waits for the node, connects, then supervises until ctx ends.
func (s *Supervisor) Start(ctx context.Context) error {
	st, err := s.WaitForNodeToBeSynced(ctx, s.endpoint, s.opts.SyncInterval)
	if err != nil {
		return err
	}
	logger.Info("RPC", "Node ready at height %d", st.BlockHeight)

	if err := s.client.Connect(ctx); err != nil {
		s.setState(false, sanitizeRPCError(err))
		logger.Warn("RPC", "Initial connect failed: %v", err)
		go s.Reconnect(ctx, "initial connect failed")
	} else {
		s.setState(true, "")
	}
	s.resetStall()

	ticker := time.NewTicker(s.opts.StallInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.client.Disconnect()
			return nil
		case sig := <-s.client.Signals():
			s.handleSignal(ctx, sig)
		case <-ticker.C:
			if s.checkStall() {
				go s.Reconnect(ctx, "no new block")
			}
		}
	}
}

func (s *Supervisor) handleSignal(ctx context.Context, sig ws.Signal) {
	switch sig {
	case ws.SignalConnected:
		s.setState(true, "")
	case ws.SignalDisconnect:
		s.setState(false, "stream disconnected")
		go s.Reconnect(ctx, "stream disconnected")
	case ws.SignalPermanentDisconnect:
		s.setState(false, "stream reconnect attempts exhausted")
		go s.Reconnect(ctx, "stream reconnect attempts exhausted")
	}
}

func (s *Supervisor) resetStall() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.heights != nil {
		s.lastHeight, _ = s.heights.Height()
	}
	s.lastChange = s.now()
}

// checkStall reports whether the height has not moved for longer than the quick
// reconnect threshold. A reported stall restarts the clock.
func (s *Supervisor) checkStall() bool {
	if s.heights == nil {
		return false
	}
	h, _ := s.heights.Height()

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if h != s.lastHeight {
		s.lastHeight = h
		s.lastChange = now
		return false
	}
	if now.Sub(s.lastChange) <= s.opts.QuickReconnect || s.inProgress {
		return false
	}
	logger.Warn("RPC", "Height %d unchanged for %v", h, now.Sub(s.lastChange).Round(time.Second))
	s.lastChange = now
	return true
}

// HTTPEndpoint maps a websocket or bare endpoint onto its HTTP JSON-RPC form.
func HTTPEndpoint(raw string) string {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(raw, "ws://"):
		raw = "http://" + strings.TrimPrefix(raw, "ws://")
	case strings.HasPrefix(raw, "wss://"):
		raw = "https://" + strings.TrimPrefix(raw, "wss://")
	case raw != "" && !strings.Contains(raw, "://"):
		raw = "http://" + raw
	}
	return strings.TrimSuffix(strings.TrimRight(raw, "/"), "/websocket")
}
