package http

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"fleet-monitor/asset-tracking/internal/broadcast"
	"fleet-monitor/asset-tracking/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 4 * 1024
)

// wsObserver adapts a websocket connection to broadcast.Observer. Only the
// broadcast loop writes data frames; pings go through WriteControl.
type wsObserver struct {
	id   string
	conn *websocket.Conn

	// mu serializes data frames; close never takes it so a stalled write
	// can be interrupted.
	mu        sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
}

func (o *wsObserver) ID() string { return o.id }

// Send writes one frame. Any failure closes the connection so the read loop
// of the owning handler returns.
func (o *wsObserver) Send(ctx context.Context, msg broadcast.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed.Load() {
		return websocket.ErrCloseSent
	}
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := o.conn.SetWriteDeadline(deadline); err != nil {
		o.close()
		return err
	}
	if err := o.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		o.close()
		return err
	}
	return nil
}

// close is safe to call while a Send is blocked; closing the socket fails
// the pending write.
func (o *wsObserver) close() {
	o.closeOnce.Do(func() {
		o.closed.Store(true)
		_ = o.conn.Close()
	})
}

func (h *Handler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(h.origins) == 0 || slices.Contains(h.origins, "*") {
				return true
			}
			return slices.Contains(h.origins, origin)
		},
	}
}

// TrackSocket streams the live position of one asset until the client goes
// away or a send fails.
func (h *Handler) TrackSocket(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "asset_id")
	if _, err := h.svc.GetAsset(r.Context(), assetID); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}

	up := h.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		logging.Ctx(r.Context()).Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	obs := &wsObserver{id: uuid.NewString(), conn: conn}
	log := logging.Ctx(r.Context()).With().Str("asset_id", assetID).Str("observer", obs.id).Logger()

	if err := h.engine.Subscribe(assetID, obs); err != nil {
		log.Warn().Err(err).Msg("subscribe failed")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "unavailable"), time.Now().Add(writeWait))
		obs.close()
		return
	}
	log.Debug().Msg("observer connected")

	done := make(chan struct{})
	go h.pingLoop(obs, done)

	h.readLoop(obs)

	close(done)
	// a loop blocked in Send must fail before Unsubscribe waits on it
	obs.close()
	h.engine.Unsubscribe(assetID, obs.id)
	log.Debug().Msg("observer disconnected")
}

// readLoop discards inbound frames; they only keep the read deadline alive.
func (h *Handler) readLoop(obs *wsObserver) {
	conn := obs.conn
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(h.pingWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pingWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug().Err(err).Str("observer", obs.id).Msg("websocket closed")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.pingWait))
	}
}

func (h *Handler) pingLoop(obs *wsObserver, done <-chan struct{}) {
	ticker := time.NewTicker(h.pingWait * 9 / 10)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := obs.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				obs.close()
				return
			}
		}
	}
}
