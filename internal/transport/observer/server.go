package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"worryrelay/internal/observerproto"
	"worryrelay/internal/sim/runner"
)

// Server streams run progress to websocket observers. It is a runner.Sink;
// publishing never blocks, a slow observer just misses messages.
type Server struct {
	log *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu    sync.Mutex
	subs  map[string]*subscriber
	run   *observerproto.RunParams
	round uint64
	last  []uint64
	done  bool
}

type subscriber struct {
	every uint64
	out   chan []byte
}

func NewServer(logger *log.Logger) *Server {
	return &Server{
		log:  logger,
		subs: map[string]*subscriber{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Handler mounts the bootstrap and stream endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/v1/observe", s.WSHandler())
	return mux
}

func (s *Server) BeginRun(info runner.RunInfo) error {
	params := observerproto.RunParams{
		RunID:           info.RunID,
		Source:          info.Source,
		Agents:          info.Agents,
		Relief:          info.Relief,
		Modulus:         info.Modulus,
		RoundsRequested: info.RoundsRequested,
	}
	s.mu.Lock()
	s.run = &params
	s.round = info.StartRound
	s.last = nil
	s.done = false
	s.mu.Unlock()

	s.broadcast(0, observerproto.RunStartMsg{
		Type:            observerproto.TypeRunStart,
		ProtocolVersion: observerproto.Version,
		Run:             params,
	})
	return nil
}

func (s *Server) WriteRound(e runner.RoundLogEntry) error {
	s.mu.Lock()
	s.round = e.Round
	s.last = e.Inspections
	s.mu.Unlock()

	s.broadcast(e.Round, observerproto.RoundMsg{
		Type:            observerproto.TypeRound,
		ProtocolVersion: observerproto.Version,
		RunID:           e.RunID,
		Round:           e.Round,
		Inspections:     e.Inspections,
		Delta:           e.Delta,
		QueueLens:       e.QueueLens,
		Digest:          e.Digest,
	})
	return nil
}

func (s *Server) FinishRun(sum runner.Summary) error {
	s.mu.Lock()
	s.round = sum.Rounds
	s.last = sum.Inspections
	s.done = true
	s.mu.Unlock()

	s.broadcast(0, observerproto.DoneMsg{
		Type:            observerproto.TypeDone,
		ProtocolVersion: observerproto.Version,
		RunID:           sum.RunID,
		Rounds:          sum.Rounds,
		Inspections:     sum.Inspections,
		Score:           sum.Score,
		ScoreErr:        sum.ScoreErr,
		Interrupted:     sum.Interrupted,
	})
	return nil
}

// broadcast sends v to every subscriber. A non-zero round is subject to each
// subscriber's thinning; lifecycle messages (round 0) always go out.
func (s *Server) broadcast(round uint64, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if round != 0 && round%sub.every != 0 {
			continue
		}
		trySend(sub.out, b)
	}
}

func trySend(ch chan []byte, b []byte) bool {
	select {
	case ch <- b:
		return true
	default:
		return false
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		s.mu.Lock()
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			Run:             s.run,
			Round:           s.round,
			Inspections:     s.last,
			Done:            s.done,
		}
		s.mu.Unlock()

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub observerproto.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad subscribe"), time.Now().Add(time.Second))
			return
		}
		if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}
		normalizeSubscribe(&sub)

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		out := make(chan []byte, 256)

		s.mu.Lock()
		s.subs[sid] = &subscriber{every: sub.Every, out: out}
		welcome := observerproto.WelcomeMsg{
			Type:            observerproto.TypeWelcome,
			ProtocolVersion: observerproto.Version,
			SessionID:       sid,
			Every:           sub.Every,
			Run:             s.run,
			Round:           s.round,
		}
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.subs, sid)
			s.mu.Unlock()
		}()
		if s.log != nil {
			s.log.Printf("observer %s subscribed every=%d", sid, sub.Every)
		}

		b, _ := json.Marshal(welcome)
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop: only used to notice the client going away.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func normalizeSubscribe(sub *observerproto.SubscribeMsg) {
	if sub.Every == 0 {
		sub.Every = 1
	}
	if sub.Every > 10000 {
		sub.Every = 10000
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
