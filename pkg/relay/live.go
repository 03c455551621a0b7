package relay

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ericvolp12/track-relay/pkg/event"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	subscriberBuffer = 64
	writeWait        = 10 * time.Second
)

// Hub fans stored events out to live feed subscribers. A subscriber that
// falls more than subscriberBuffer events behind is dropped.
type Hub struct {
	logger *slog.Logger

	lk   sync.Mutex
	subs map[*Subscriber]struct{}
}

type Subscriber struct {
	C <-chan []byte
	c chan []byte
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger.With("source", "live_hub"),
		subs:   make(map[*Subscriber]struct{}),
	}
}

func (h *Hub) Subscribe() *Subscriber {
	c := make(chan []byte, subscriberBuffer)
	s := &Subscriber{C: c, c: c}

	h.lk.Lock()
	h.subs[s] = struct{}{}
	h.lk.Unlock()

	liveSubscribers.Inc()
	return s
}

// Unsubscribe removes s and closes its channel. Safe to call more than once.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.lk.Lock()
	defer h.lk.Unlock()
	h.remove(s)
}

func (h *Hub) remove(s *Subscriber) {
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	close(s.c)
	liveSubscribers.Dec()
}

func (h *Hub) Len() int {
	h.lk.Lock()
	defer h.lk.Unlock()
	return len(h.subs)
}

func (h *Hub) Broadcast(ev *event.Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to marshal event for live feed", "err", err)
		return
	}

	h.lk.Lock()
	defer h.lk.Unlock()
	for s := range h.subs {
		select {
		case s.c <- b:
		default:
			h.logger.Warn("live subscriber fell behind, dropping")
			liveDropped.Inc()
			h.remove(s)
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleLive handles the GET /api/live websocket endpoint
func (r *Relay) HandleLive(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		r.logger.Error("failed to upgrade live connection", "err", err)
		return nil
	}
	defer conn.Close()

	sub := r.hub.Subscribe()
	defer r.hub.Unsubscribe(sub)

	logger := r.logger.With("source", "live", "remote_addr", c.RealIP())
	logger.Info("live subscriber connected")

	// Reads only detect the client going away.
	go func() {
		defer r.hub.Unsubscribe(sub)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for msg := range sub.C {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			logger.Info("live subscriber write failed", "err", err)
			return nil
		}
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	logger.Info("live subscriber disconnected")
	return nil
}
