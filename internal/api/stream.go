package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/flexinfer/mentatlab/services/repurpose-go/internal/metrics"
	"github.com/flexinfer/mentatlab/services/repurpose-go/pkg/types"
)

const (
	heartbeatInterval = 15 * time.Second
	wsWriteWait       = 10 * time.Second
	wsPongWait        = 60 * time.Second
	wsPingPeriod      = (wsPongWait * 9) / 10
)

// eventFeed yields a workflow's retained events after lastID followed by
// live ones. It subscribes before reading history so nothing falls in the
// gap, and drops live events already replayed.
type eventFeed struct {
	backlog []*types.Event
	live    <-chan *types.Event
	cleanup func()
	seen    int64
}

func (h *Handlers) openFeed(ctx context.Context, workflowID, lastID string) (*eventFeed, error) {
	live, cleanup, err := h.store.Subscribe(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	backlog, err := h.store.GetEventsSince(ctx, workflowID, lastID)
	if err != nil {
		cleanup()
		return nil, err
	}
	f := &eventFeed{backlog: backlog, live: live, cleanup: cleanup}
	if n, err := strconv.ParseInt(lastID, 10, 64); err == nil {
		f.seen = n
	}
	return f, nil
}

// fresh reports whether evt has not yet been delivered and records it.
func (f *eventFeed) fresh(evt *types.Event) bool {
	n, err := strconv.ParseInt(evt.ID, 10, 64)
	if err != nil {
		return true
	}
	if n <= f.seen {
		return false
	}
	f.seen = n
	return true
}

// StreamEvents handles GET /api/v1/workflows/{id}/events as Server-Sent
// Events. Last-Event-ID resumes after that event.
func (h *Handlers) StreamEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	workflowID := mux.Vars(r)["id"]
	startTime := time.Now()
	requestID := GetRequestID(ctx, r)

	if _, ok := h.loadWorkflow(w, r); !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.respondError(w, r, http.StatusInternalServerError, "streaming not supported", nil)
		return
	}

	feed, err := h.openFeed(ctx, workflowID, r.Header.Get("Last-Event-ID"))
	if err != nil {
		h.respondError(w, r, http.StatusInternalServerError, "failed to open event stream", err)
		return
	}
	defer feed.cleanup()

	// Streams outlive the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	metrics.StreamConnections.WithLabelValues("sse").Inc()
	defer metrics.StreamConnections.WithLabelValues("sse").Dec()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log := h.logger.With(slog.String("workflow_id", workflowID), slog.String("request_id", requestID))
	log.Info("SSE connection opened", slog.String("remote_addr", r.RemoteAddr))

	closed := func(reason string) {
		log.Info("SSE connection closed",
			slog.Duration("duration", time.Since(startTime)),
			slog.String("reason", reason),
		)
	}

	for _, evt := range feed.backlog {
		if !feed.fresh(evt) {
			continue
		}
		if !h.writeSSE(w, flusher, evt) {
			closed("write_error")
			return
		}
		if evt.Type == types.EventTypeStreamEnd {
			closed("workflow_finished")
			return
		}
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			closed("client_disconnect")
			return

		case evt, ok := <-feed.live:
			if !ok {
				closed("workflow_finished")
				return
			}
			if !feed.fresh(evt) {
				continue
			}
			if !h.writeSSE(w, flusher, evt) {
				closed("write_error")
				return
			}

		case <-heartbeat.C:
			if _, err := w.Write([]byte(": heartbeat\n\n")); err != nil {
				closed("write_error")
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSE writes an event in SSE format and flushes.
func (h *Handlers) writeSSE(w http.ResponseWriter, flusher http.Flusher, evt *types.Event) bool {
	if _, err := w.Write(evt.ToSSE()); err != nil {
		h.logger.Debug("failed to write SSE event", slog.Any("error", err))
		return false
	}
	flusher.Flush()
	return true
}

func (h *Handlers) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return h.originAllowed(origin)
		},
	}
}

// StreamWebSocket handles GET /api/v1/workflows/{id}/ws. Each event is
// sent as one JSON text message; ?last_event_id= resumes after that event.
func (h *Handlers) StreamWebSocket(w http.ResponseWriter, r *http.Request) {
	workflowID := mux.Vars(r)["id"]
	if _, ok := h.loadWorkflow(w, r); !ok {
		return
	}

	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("workflow_id", workflowID), slog.Any("error", err))
		return
	}
	defer conn.Close()

	metrics.StreamConnections.WithLabelValues("websocket").Inc()
	defer metrics.StreamConnections.WithLabelValues("websocket").Dec()

	// The request context is not cancelled by a websocket peer going away;
	// the reader goroutine owns that signal.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	feed, err := h.openFeed(ctx, workflowID, r.URL.Query().Get("last_event_id"))
	if err != nil {
		h.logger.Error("failed to open event stream", slog.String("workflow_id", workflowID), slog.Any("error", err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "event stream unavailable"),
			time.Now().Add(wsWriteWait))
		return
	}
	defer feed.cleanup()

	send := func(evt *types.Event) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(evt) == nil
	}
	finish := func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "workflow finished"),
			time.Now().Add(wsWriteWait))
	}

	for _, evt := range feed.backlog {
		if !feed.fresh(evt) {
			continue
		}
		if !send(evt) {
			return
		}
		if evt.Type == types.EventTypeStreamEnd {
			finish()
			return
		}
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-feed.live:
			if !ok {
				finish()
				return
			}
			if feed.fresh(evt) && !send(evt) {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
