package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/net/websocket"

	"github.com/wolfman30/outreach-orchestrator/internal/eventbus"
	"github.com/wolfman30/outreach-orchestrator/pkg/logging"
)

const defaultHeartbeat = 15 * time.Second

// EventsHandler streams the event bus to observers: recent history first,
// then live events until the client goes away.
type EventsHandler struct {
	bus       *eventbus.Bus
	logger    *logging.Logger
	heartbeat time.Duration
}

func NewEventsHandler(bus *eventbus.Bus, logger *logging.Logger) *EventsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &EventsHandler{bus: bus, logger: logger, heartbeat: defaultHeartbeat}
}

// History returns the buffered events as JSON.
func (h *EventsHandler) History(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"events": h.bus.History()})
}

// Stream serves server-sent events.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// subscribe before reading history so nothing published in between is lost
	sub := h.bus.Subscribe()
	defer h.bus.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	for _, ev := range h.bus.History() {
		if err := writeSSE(w, ev); err != nil {
			return
		}
	}
	flusher.Flush()

	h.logger.Debug("event stream opened", "remote_ip", r.RemoteAddr, "subscribers", h.bus.SubscriberCount())

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("event stream closed", "remote_ip", r.RemoteAddr)
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev eventbus.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Level, data)
	return err
}

// WebSocket serves the same feed over a websocket, one JSON event per frame.
func (h *EventsHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(conn)
	}).ServeHTTP(w, r)
}

func (h *EventsHandler) serveWS(conn *websocket.Conn) {
	sub := h.bus.Subscribe()
	defer h.bus.Unsubscribe(sub)

	for _, ev := range h.bus.History() {
		if err := websocket.JSON.Send(conn, ev); err != nil {
			return
		}
	}

	// the feed is one-way; a failed read means the peer went away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		var discard json.RawMessage
		for {
			if err := websocket.JSON.Receive(conn, &discard); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			h.logger.Debug("event websocket closed")
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if err := websocket.JSON.Send(conn, ev); err != nil {
				return
			}
		}
	}
}
