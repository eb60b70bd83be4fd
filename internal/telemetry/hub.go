package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"TradeSentinel/internal/model"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Event is one message on the stream.
type Event struct {
	Type string `json:"type"` // "trade" or "skipped"
	Data any    `json:"data"`
}

// Hub streams trade and skipped-signal records to websocket clients. It
// satisfies recorder.Recorder so it can sit next to the persistent stores.
type Hub struct {
	clients map[*websocket.Conn]struct{}
	lock    sync.Mutex
	logger  zerolog.Logger
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]struct{}),
		logger:  log.With().Str("component", "telemetry").Logger(),
	}
}

// ServeHTTP upgrades the connection and registers the client. Clients are
// write-only; anything they send is discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("ws upgrade")
		return
	}
	h.lock.Lock()
	h.clients[conn] = struct{}{}
	h.lock.Unlock()
	h.logger.Debug().Str("remote", r.RemoteAddr).Msg("client connected")

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.drop(conn)
				return
			}
		}
	}()
}

// Len reports the number of connected clients.
func (h *Hub) Len() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.clients)
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
}

// Publish sends ev to every client. Slow or broken clients are dropped.
func (h *Hub) Publish(ev Event) error {
	msg, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}
	h.lock.Lock()
	defer h.lock.Unlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.logger.Debug().Err(err).Msg("dropping client")
			conn.Close()
			delete(h.clients, conn)
		}
	}
	return nil
}

func (h *Hub) RecordTrade(rec *model.TradeRecord) error {
	return h.Publish(Event{Type: "trade", Data: rec})
}

func (h *Hub) RecordSkipped(s *model.SkippedSignal) error {
	return h.Publish(Event{Type: "skipped", Data: s})
}

// Close disconnects all clients.
func (h *Hub) Close() error {
	h.lock.Lock()
	defer h.lock.Unlock()
	for conn := range h.clients {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		delete(h.clients, conn)
	}
	return nil
}

// Serve exposes the hub on addr at /ws until ctx is cancelled.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	h.logger.Info().Str("addr", addr).Msg("telemetry server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("telemetry server: %w", err)
	}
	return nil
}
