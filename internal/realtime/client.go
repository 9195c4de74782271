// Package realtime keeps the websocket session with the CRM push service:
// room membership, typing emission and inbound event dispatch.
package realtime

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nguyentranbao-ct/omni-inbox/internal/config"
	"github.com/nguyentranbao-ct/omni-inbox/internal/models"
	"github.com/nguyentranbao-ct/omni-inbox/pkg/logger"
	"github.com/nguyentranbao-ct/omni-inbox/pkg/util"
)

// Dispatcher receives every decoded inbound event.
type Dispatcher interface {
	ApplyEvent(ev models.Event) error
}

// Refetcher catches up joined conversations over REST whenever the socket
// comes up, since nothing pushed while it was down is replayed.
type Refetcher interface {
	Refetch(ctx context.Context, conversationIDs []string) error
}

const sendBuffer = 64

var (
	connectedGauge = util.MustGaugeVec("realtime_connected")
	reconnects     = util.MustCounterVec("realtime_reconnects_total")
	eventsTotal    = util.MustCounterVec("realtime_events_total", "event")
)

type Client struct {
	cfg        config.RealtimeConfig
	dialer     *websocket.Dialer
	dispatcher Dispatcher
	log        *zap.SugaredLogger

	mu        sync.Mutex
	refetcher Refetcher
	rooms     map[string]bool
	out       chan []byte
	connected bool
}

func NewClient(conf *config.Config, dispatcher Dispatcher) *Client {
	cfg := conf.Realtime
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = cfg.MinBackoff
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Client{
		cfg:        cfg,
		dialer:     websocket.DefaultDialer,
		dispatcher: dispatcher,
		log:        logger.MustNamed("realtime"),
		rooms:      make(map[string]bool),
	}
}

func (c *Client) SetRefetcher(r Refetcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refetcher = r
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Rooms returns the joined conversations, sorted.
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomsLocked()
}

func (c *Client) roomsLocked() []string {
	out := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// JoinConversation subscribes to a room. Joining twice is a no-op.
func (c *Client) JoinConversation(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rooms[id] {
		return
	}
	c.rooms[id] = true
	c.emitLocked(EventJoinConversation, roomData{ConversationID: id})
}

// LeaveConversation unsubscribes. Leaving a room never joined is a no-op.
func (c *Client) LeaveConversation(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.rooms[id] {
		return
	}
	delete(c.rooms, id)
	c.emitLocked(EventLeaveConversation, roomData{ConversationID: id})
}

func (c *Client) SendTyping(conversationID string, typing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitLocked(EventTyping, typingData{ConversationID: conversationID, IsTyping: typing})
}

// emitLocked queues a frame on the live connection. While disconnected frames
// are dropped, room state is replayed on the next connect.
func (c *Client) emitLocked(event string, data any) {
	if c.out == nil {
		return
	}
	frame, err := encode(event, data)
	if err != nil {
		c.log.Errorw("encode frame", "event", event, "error", err)
		return
	}
	select {
	case c.out <- frame:
	default:
		c.log.Warnw("send buffer full, dropping frame", "event", event)
	}
}

// Run keeps the connection alive until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	everConnected := false
	for {
		conn, err := c.dial(ctx)
		if err == nil {
			if everConnected {
				reconnects.WithLabelValues().Inc()
			}
			attempt = 0
			c.serve(ctx, conn, everConnected)
			everConnected = true
		} else {
			c.log.Warnw("dial failed", "attempt", attempt, "error", err)
		}
		if ctx.Err() != nil {
			return nil
		}

		wait := Backoff(attempt, c.cfg.MinBackoff, c.cfg.MaxBackoff)
		attempt++
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// Backoff doubles from floor on every attempt and never exceeds ceiling.
func Backoff(attempt int, floor, ceiling time.Duration) time.Duration {
	d := floor
	for i := 0; i < attempt && d < ceiling; i++ {
		d *= 2
	}
	return min(d, ceiling)
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	return conn, err
}

// serve runs one connection: a writer goroutine and the read loop on the
// caller's goroutine, so events are dispatched in arrival order.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn, reconnected bool) {
	out := make(chan []byte, sendBuffer)

	c.mu.Lock()
	c.out = out
	c.connected = true
	rooms := c.roomsLocked()
	for _, id := range rooms {
		c.emitLocked(EventJoinConversation, roomData{ConversationID: id})
	}
	refetcher := c.refetcher
	c.mu.Unlock()
	connectedGauge.WithLabelValues().Set(1)
	c.log.Infow("connected", "rooms", len(rooms), "reconnected", reconnected)

	if refetcher != nil && len(rooms) > 0 {
		go func() {
			if err := refetcher.Refetch(ctx, rooms); err != nil {
				c.log.Warnw("refetch after connect failed", "error", err, "reconnected", reconnected)
			}
		}()
	}

	connCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop(connCtx, conn, out)
	}()

	c.readLoop(connCtx, conn)

	cancel()
	_ = conn.Close()
	wg.Wait()

	c.mu.Lock()
	c.out = nil
	c.connected = false
	c.mu.Unlock()
	connectedGauge.WithLabelValues().Set(0)
}

func (c *Client) writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan []byte) {
	var ping <-chan time.Time
	if c.cfg.PingInterval > 0 {
		t := time.NewTicker(c.cfg.PingInterval)
		defer t.Stop()
		ping = t.C
	}
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case frame := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Warnw("write failed", "error", err)
				_ = conn.Close()
				return
			}
		case <-ping:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warnw("connection lost", "error", err)
			}
			return
		}
		c.handle(frame)
	}
}

func (c *Client) handle(frame []byte) {
	ev, err := decode(frame)
	if err != nil {
		var unknown errUnknownEvent
		if errors.As(err, &unknown) {
			eventsTotal.WithLabelValues("unknown").Inc()
			c.log.Debugw("ignoring event", "event", string(unknown))
			return
		}
		c.log.Warnw("bad frame", "error", err)
		return
	}
	eventsTotal.WithLabelValues(string(ev.Type)).Inc()
	if err := c.dispatcher.ApplyEvent(ev); err != nil {
		c.log.Warnw("event rejected", "event", ev.Type, "conversation_id", ev.ConversationID, "error", err)
	}
}
