package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/pokeproto-project/pokeproto/internal/events"
	"github.com/pokeproto-project/pokeproto/internal/util"
)

// feedMessage is one entry on the live battle feed.
type feedMessage struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
	Time    time.Time   `json:"time"`
}

// feedHub fans battle events out to connected websocket observers.
type feedHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan feedMessage
	logger  zerolog.Logger
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is a read-only local observer surface.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func newFeedHub() *feedHub {
	return &feedHub{
		clients: make(map[*websocket.Conn]chan feedMessage),
		logger:  util.ComponentLogger("ws_feed"),
	}
}

// subscribe registers the hub on the event bus for every feed-worthy event.
func (h *feedHub) subscribe(bus *events.EventBus) {
	forward := func(_ context.Context, e events.Event) error {
		h.broadcast(feedMessage{
			Event:   string(e.Type),
			Payload: e.Payload,
			Time:    time.Now(),
		})
		return nil
	}

	for _, t := range []events.EventType{
		events.EventPeerConnected,
		events.EventBattleStarted,
		events.EventTurnResolved,
		events.EventDiscrepancy,
		events.EventGameOver,
		events.EventChatReceived,
		events.EventFrameSent,
		events.EventFrameReceived,
	} {
		bus.Subscribe(t, "ws_feed", forward)
	}
}

// handleWS upgrades the connection and streams the feed until the client
// goes away.
func (h *feedHub) handleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	ch := make(chan feedMessage, 64)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()

	h.logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("feed observer connected")

	// Reader: we ignore inbound frames but need the pump to detect close.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.drop(conn)
				return
			}
		}
	}()

	for msg := range ch {
		data, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.drop(conn)
			return
		}
	}
}

// broadcast queues a message for every connected observer. Slow clients
// lose messages rather than stall the feed.
func (h *feedHub) broadcast(msg feedMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn, ch := range h.clients {
		select {
		case ch <- msg:
		default:
			h.logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("feed observer is slow, dropping message")
		}
	}
}

// drop removes a client and closes its connection.
func (h *feedHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	ch, ok := h.clients[conn]
	if ok {
		delete(h.clients, conn)
		close(ch)
	}
	h.mu.Unlock()

	if ok {
		conn.Close()
		h.logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("feed observer disconnected")
	}
}
