package handlers

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

type realtimeHub struct {
	mu    sync.Mutex
	conns map[string]map[*websocket.Conn]struct{}
}

func newRealtimeHub() *realtimeHub {
	return &realtimeHub{
		conns: make(map[string]map[*websocket.Conn]struct{}),
	}
}

func (h *realtimeHub) add(creatorID string, c *websocket.Conn) {
	if h == nil || c == nil || strings.TrimSpace(creatorID) == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.conns[creatorID]
	if m == nil {
		m = make(map[*websocket.Conn]struct{})
		h.conns[creatorID] = m
	}
	m[c] = struct{}{}
}

func (h *realtimeHub) remove(creatorID string, c *websocket.Conn) {
	if h == nil || c == nil || strings.TrimSpace(creatorID) == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.conns[creatorID]
	if m == nil {
		return
	}
	delete(m, c)
	if len(m) == 0 {
		delete(h.conns, creatorID)
	}
}

func (h *realtimeHub) broadcast(creatorID string, msg []byte) {
	if h == nil || strings.TrimSpace(creatorID) == "" || len(msg) == 0 {
		return
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, 8)
	for c := range h.conns[creatorID] {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if err := websocket.Message.Send(c, string(msg)); err != nil {
			_ = c.Close()
			h.remove(creatorID, c)
		}
	}
}

func (h *realtimeHub) count(creatorID string) int {
	if h == nil || strings.TrimSpace(creatorID) == "" {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[creatorID])
}

func isLocalhostRemoteAddr(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil && h != "" {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}

// internalWSAllowed returns true if the request may open a backend WS
// connection. In production, set INTERNAL_WS_SECRET and send it via
// X-Internal-WS-Secret from the edge worker.
func internalWSAllowed(r *http.Request) bool {
	sec := strings.TrimSpace(os.Getenv("INTERNAL_WS_SECRET"))
	// Dev convenience: always allow localhost loopback connections.
	if isLocalhostRemoteAddr(r.RemoteAddr) {
		return true
	}
	if sec == "" {
		return false
	}
	return strings.TrimSpace(r.Header.Get("X-Internal-WS-Secret")) == sec
}

type realtimeEvent struct {
	Type string `json:"type"`

	CreatorID string `json:"creatorId"`
	SlotID    string `json:"slotId,omitempty"`
	WeekStart string `json:"weekStart,omitempty"`

	Status string `json:"status,omitempty"`
	At     string `json:"at"`
}

// EventsWebSocket streams planner events (week.saved, slot.updated,
// generation.completed) to the edge worker, which fans them out to browsers.
//
// URL: /api/events/ws?creatorId=...
// Auth: X-Internal-WS-Secret (or localhost-only if INTERNAL_WS_SECRET is unset)
func (h *Handler) EventsWebSocket(w http.ResponseWriter, r *http.Request) {
	if !internalWSAllowed(r) {
		log.Printf("[RealtimeWS] forbidden remote=%s host=%s", r.RemoteAddr, r.Host)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	creatorID := strings.TrimSpace(r.URL.Query().Get("creatorId"))
	if creatorID == "" {
		http.Error(w, "missing_creatorId", http.StatusBadRequest)
		return
	}

	// golang.org/x/net/websocket's default origin check 403s when Origin
	// doesn't match Host. This WS is internal (worker -> backend), so any
	// origin is accepted; auth happened above.
	wsServer := websocket.Server{
		Handshake: func(cfg *websocket.Config, req *http.Request) error {
			return nil
		},
		Handler: func(c *websocket.Conn) {
			log.Printf("[RealtimeWS] connect creatorId=%s remote=%s ua=%q", creatorID, r.RemoteAddr, truncate(r.UserAgent(), 120))
			if h != nil && h.rt != nil {
				h.rt.add(creatorID, c)
				defer h.rt.remove(creatorID, c)
			}
			defer log.Printf("[RealtimeWS] disconnect creatorId=%s remote=%s", creatorID, r.RemoteAddr)

			// Send a hello so clients can confirm the channel.
			hello := realtimeEvent{
				Type:      "hello",
				CreatorID: creatorID,
				At:        time.Now().UTC().Format(time.RFC3339),
			}
			if b, err := json.Marshal(hello); err == nil {
				_ = websocket.Message.Send(c, string(b))
			}

			// Read loop to keep the connection open and detect disconnects.
			for {
				var ignored string
				if err := websocket.Message.Receive(c, &ignored); err != nil {
					break
				}
			}
		},
	}

	wsServer.ServeHTTP(w, r)
}

func (h *Handler) emitEvent(creatorID string, ev realtimeEvent) {
	if h == nil || h.rt == nil || strings.TrimSpace(creatorID) == "" {
		return
	}
	ev.CreatorID = creatorID
	if strings.TrimSpace(ev.At) == "" {
		ev.At = time.Now().UTC().Format(time.RFC3339)
	}
	b, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[Realtime] marshal_failed creatorId=%s err=%v", creatorID, err)
		return
	}
	log.Printf("[Realtime] emit creatorId=%s type=%s slotId=%s status=%s subs=%d",
		creatorID, ev.Type, ev.SlotID, ev.Status, h.rt.count(creatorID))
	h.rt.broadcast(creatorID, b)
}
