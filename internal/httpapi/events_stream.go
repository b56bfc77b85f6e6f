package httpapi

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/owliabot/owliabot/internal/infra"
)

// eventStreamHub fans out newly inserted events to any devices currently
// connected to the /events/stream websocket, so a connected device sees a push the
// instant emitDeviceEvent runs instead of waiting for its next /events/poll.
// Devices with no open stream are unaffected — they keep relying on poll.
type eventStreamHub struct {
	mu      sync.Mutex
	conns   map[string]map[*websocket.Conn]struct{}
	upgrade websocket.Upgrader
}

func newEventStreamHub() *eventStreamHub {
	return &eventStreamHub{
		conns: make(map[string]map[*websocket.Conn]struct{}),
		upgrade: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Devices authenticate via requireDevice before the upgrade;
			// the origin check is not a security boundary here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *eventStreamHub) add(deviceID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[deviceID] == nil {
		h.conns[deviceID] = make(map[*websocket.Conn]struct{})
	}
	h.conns[deviceID][conn] = struct{}{}
}

func (h *eventStreamHub) remove(deviceID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns[deviceID], conn)
	if len(h.conns[deviceID]) == 0 {
		delete(h.conns, deviceID)
	}
}

// push writes ev to every open stream for deviceID, dropping (and closing)
// any connection whose write fails or blocks.
func (h *eventStreamHub) push(deviceID string, ev infra.Event) {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns[deviceID]))
	for c := range h.conns[deviceID] {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.WriteJSON(ev); err != nil {
			slog.Warn("httpapi.events_stream.push_failed", "device", deviceID, "error", err)
			c.Close()
			h.remove(deviceID, c)
		}
	}
}

// handleEventsStream implements GET /events/stream: upgrades to a
// websocket and pushes every event emitted for this device until the
// client disconnects. It is additive to /events/poll, not a replacement —
// a device that misses the stream (reconnecting, offline) still catches
// up via cursor-based polling.
func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	device := deviceFromContext(r.Context())
	conn, err := s.streamHub.upgrade.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("httpapi.events_stream.upgrade_failed", "device", device.DeviceID, "error", err)
		return
	}
	defer conn.Close()

	s.streamHub.add(device.DeviceID, conn)
	defer s.streamHub.remove(device.DeviceID, conn)

	// The client sends nothing meaningful on this connection; reading is
	// only how we detect it going away (close frame or network error).
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
