package monitor

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// Handlers holds the HTTP handler dependencies for the monitor server.
type Handlers struct {
	broadcaster *Broadcaster
	allowed     map[string]struct{} // normalized scheme://host allowlist
	logger      *slog.Logger

	mu       sync.RWMutex
	latest   ProgressSnapshot
	haveData bool
}

// NewHandlers creates a Handlers instance that attaches websocket
// clients to broadcaster. allowedOrigins restricts upgrades to the
// listed origins; empty means "localhost plus the request's own host".
// The allowlist is normalized once here rather than re-parsed on every
// upgrade.
func NewHandlers(broadcaster *Broadcaster, allowedOrigins []string, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if key, ok := originKey(origin); ok {
			allowed[key] = struct{}{}
		}
	}
	return &Handlers{
		broadcaster: broadcaster,
		allowed:     allowed,
		logger:      logger.With("component", "monitor-handlers"),
	}
}

// originKey normalizes an origin to lowercase scheme://host form.
func originKey(origin string) (string, bool) {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), true
}

// SetLatest records the most recent progress snapshot, served by
// HandleSnapshot.
func (h *Handlers) SetLatest(s ProgressSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = s
	h.haveData = true
}

func (h *Handlers) snapshot() (ProgressSnapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest, h.haveData
}

// HandleHealth reports liveness.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// HandleSnapshot returns the most recent progress snapshot as JSON.
func (h *Handlers) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot()
	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		h.logger.Error("failed to encode snapshot", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// HandleWebSocket upgrades the connection and hands it to the
// broadcaster, which immediately sends the newest frame if one exists.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(req *http.Request) bool {
			return h.isOriginAllowed(req.Header.Get("Origin"), req.Host)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	h.broadcaster.Attach(conn)
}

func (h *Handlers) isOriginAllowed(origin, reqHost string) bool {
	if origin == "" {
		return true
	}
	key, ok := originKey(origin)
	if !ok {
		return false
	}
	if len(h.allowed) > 0 {
		_, ok := h.allowed[key]
		return ok
	}

	u, _ := url.Parse(origin)
	switch host := strings.ToLower(u.Hostname()); host {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return host != "" && host == requestHostname(reqHost)
	}
}

func requestHostname(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(hostport)
}
