package server

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/tidwall/gjson"

	"github.com/nguyentranbao-ct/omni-inbox/internal/store"
	"github.com/nguyentranbao-ct/omni-inbox/internal/usecase"
	log "github.com/nguyentranbao-ct/omni-inbox/pkg/logger/log"
)

const streamWriteTimeout = 10 * time.Second

// StreamHandler pushes conversation views to the agent console over a
// websocket. The console sends typing frames back on the same socket.
type StreamHandler struct {
	store    *store.Store
	typing   *usecase.Typing
	upgrader websocket.Upgrader
}

func NewStreamHandler(st *store.Store, typing *usecase.Typing) *StreamHandler {
	return &StreamHandler{
		store:  st,
		typing: typing,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

type streamFrame struct {
	Event string        `json:"event"`
	Data  *viewResponse `json:"data"`
}

func (h *StreamHandler) Handle(c echo.Context) error {
	convID := c.Param("id")
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	views, unsubscribe := h.store.Subscribe(convID)
	defer unsubscribe()

	go h.readLoop(ctx, cancel, conn, convID)

	log.Infow(ctx, "stream opened", "conversation_id", convID)
	for {
		select {
		case <-ctx.Done():
			log.Infow(ctx, "stream closed", "conversation_id", convID)
			return nil
		case view, ok := <-views:
			if !ok {
				return nil
			}
			frame, err := json.Marshal(streamFrame{Event: "view", Data: toView(view)})
			if err != nil {
				return err
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Warnw(ctx, "stream write failed", "conversation_id", convID, "error", err)
				return nil
			}
		}
	}
}

// readLoop handles {"event":"typing","data":{"typing":true}} frames and ends
// the stream when the socket closes.
func (h *StreamHandler) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, convID string) {
	defer cancel()
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if gjson.GetBytes(frame, "event").String() != "typing" {
			log.Debugw(ctx, "ignored stream frame", "conversation_id", convID)
			continue
		}
		if gjson.GetBytes(frame, "data.typing").Bool() {
			h.typing.Keystroke(convID)
		} else {
			h.typing.Stop()
		}
	}
}
