package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/presencekit/relay-server/internal/core"
)

// WSHandler upgrades HTTP connections and bridges them to the relay core.
//
// The relay never pings or evicts a silent peer on its own: a connection
// leaves the registry only when the transport signals closure. Whether a
// production relay should time out silently-dead peers is an open
// question inherited from the reference behavior.
type WSHandler struct {
	registry *core.Registry
	presence *core.Presence
	router   *core.Router
	log      *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(registry *core.Registry, presence *core.Presence, router *core.Router, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{
		registry: registry,
		presence: presence,
		router:   router,
		log:      logger,
	}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer wsConn.Close(websocket.StatusInternalError, "internal error")

	conn := core.NewConn()
	h.registry.Add(conn)
	h.log.Debug().Str("conn_id", conn.ID).Msg("connection accepted")

	// Teardown order matters: the registry entry goes away (and the
	// offline notice goes out) before the socket stops draining, so no
	// broadcast races into a dead channel.
	defer h.presence.ClientGone(conn)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, wsConn, conn)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, wsConn, conn)
	}()

	err = <-errCh
	conn.MarkStale()
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("conn_id", conn.ID).Msg("ws connection closed with error")
		}
	}

	wsConn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, wsConn *websocket.Conn, conn *core.Conn) error {
	for {
		_, raw, err := wsConn.Read(ctx)
		if err != nil {
			return err
		}
		// A frame the router cannot decode is dropped inside Dispatch;
		// the connection itself stays up.
		h.router.Dispatch(ctx, conn, raw)
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, wsConn *websocket.Conn, conn *core.Conn) error {
	for {
		select {
		case payload := <-conn.Outbound:
			if err := wsConn.Write(ctx, websocket.MessageText, payload); err != nil {
				h.log.Warn().Err(err).Str("conn_id", conn.ID).Msg("write ws frame")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
