package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/owliabot/owliabot/pkg/protocol"
)

// handleEventsPoll implements GET /events/poll?since=<cursor>&ack=<id>:
// first ACKs all events up to ack for this device, then returns events
// strictly after since (or the device's ACK watermark), with an
// X-Events-Dropped header when the per-device cap discarded any.
func (s *Server) handleEventsPoll(w http.ResponseWriter, r *http.Request) {
	device := deviceFromContext(r.Context())
	now := time.Now()

	if ackParam := r.URL.Query().Get("ack"); ackParam != "" {
		ackID, err := strconv.ParseInt(ackParam, 10, 64)
		if err != nil {
			writeErrCode(w, protocol.ErrInvalidRequest, "ack must be an integer cursor")
			return
		}
		if err := s.infra.AckEvents(r.Context(), device.DeviceID, ackID, now); err != nil {
			writeErrCode(w, protocol.ErrInvalidRequest, err.Error())
			return
		}
	}

	var since int64
	if sinceParam := r.URL.Query().Get("since"); sinceParam != "" {
		v, err := strconv.ParseInt(sinceParam, 10, 64)
		if err != nil {
			writeErrCode(w, protocol.ErrInvalidRequest, "since must be an integer cursor")
			return
		}
		since = v
	}

	result, err := s.infra.PollEventsForDevice(r.Context(), device.DeviceID, since, s.cfg.PollBatchSize, now)
	if err != nil {
		writeErrCode(w, protocol.ErrInvalidRequest, err.Error())
		return
	}
	if result.Dropped > 0 {
		w.Header().Set("X-Events-Dropped", strconv.Itoa(result.Dropped))
	}
	writeData(w, http.StatusOK, map[string]any{
		"cursor": result.Cursor,
		"events": result.Events,
	})
}
