package client

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"rtchat/internal/errs"
	"rtchat/internal/models"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// State of the connection controller.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Disconnecting:
		return "disconnecting"
	default:
		return "disconnected"
	}
}

const (
	// Reconnection policy: bounded attempts with doubling delay up to a
	// ceiling.
	maxReconnectAttempts = 5
	reconnectBaseDelay   = 250 * time.Millisecond
	reconnectMaxDelay    = 5 * time.Second

	// Default deadline for a request-response exchange.
	requestTimeout = 10 * time.Second

	connWriteWait = 10 * time.Second
	connPongWait  = 60 * time.Second
	connPingEvery = (connPongWait * 9) / 10
)

// Event is an inbound server event as seen by listeners. Data stays raw so
// each listener decodes only the payload it understands.
type Event struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"roomId"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// inboundFrame covers both acks and events on the wire.
type inboundFrame struct {
	Type      string           `json:"type"`
	ID        string           `json:"id"`
	RoomID    string           `json:"roomId"`
	Timestamp int64            `json:"timestamp"`
	Error     *models.AckError `json:"error"`
	Data      json.RawMessage  `json:"data"`
}

// Handler consumes one inbound event.
type Handler func(Event)

// Conn owns exactly one live socket per authenticated client session: its
// handshake credential, its reconnection policy, the ack correlation table,
// and an event-listener registry with guaranteed cleanup.
type Conn struct {
	url    string
	dialer *websocket.Dialer

	mu         sync.Mutex
	state      State
	credential string
	ws         *websocket.Conn
	epoch      int // bumped on every (re)connect; stale read loops exit

	// in-flight connect shared by concurrent Connect calls
	inflight *connectAttempt

	// reconnection policy; the package constants unless shortened by tests
	maxAttempts int
	baseDelay   time.Duration

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan *inboundFrame

	listenerMu sync.Mutex
	listeners  map[string]map[int]Handler
	listenerID int

	// reconnection episode callbacks
	onRestored func()
	onFailed   func(error)
}

type connectAttempt struct {
	done chan struct{}
	err  error
}

// NewConn builds a controller for the given websocket endpoint, e.g.
// "ws://host:8080/ws". No connection is opened until Connect.
func NewConn(url string) *Conn {
	return &Conn{
		url:         url,
		dialer:      &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		pending:     make(map[string]chan *inboundFrame),
		listeners:   make(map[string]map[int]Handler),
		maxAttempts: maxReconnectAttempts,
		baseDelay:   reconnectBaseDelay,
	}
}

// OnRestored registers the callback fired once per successful reconnection
// episode (not once per attempt).
func (c *Conn) OnRestored(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRestored = fn
}

// OnFailed registers the callback fired when reconnection attempts are
// exhausted. The controller stays Disconnected afterwards.
func (c *Conn) OnFailed(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFailed = fn
}

// State reports the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect establishes the socket with the credential attached for server-side
// verification. Connecting while already connected with the same credential
// is a no-op; connecting while an attempt is in flight joins that attempt
// instead of opening a second socket.
func (c *Conn) Connect(ctx context.Context, credential string) error {
	c.mu.Lock()
	if c.state == Connected && c.credential == credential {
		c.mu.Unlock()
		return nil
	}
	if c.inflight != nil {
		attempt := c.inflight
		c.mu.Unlock()
		select {
		case <-attempt.done:
			return attempt.err
		case <-ctx.Done():
			return errs.ClassifyTransport(ctx.Err())
		}
	}

	// A stale socket from a previous credential is torn down first.
	if c.ws != nil {
		c.teardownLocked()
	}
	attempt := &connectAttempt{done: make(chan struct{})}
	c.inflight = attempt
	c.state = Connecting
	c.credential = credential
	c.mu.Unlock()

	err := c.dial(ctx, credential)

	c.mu.Lock()
	attempt.err = err
	c.inflight = nil
	if err != nil {
		c.state = Disconnected
	}
	c.mu.Unlock()
	close(attempt.done)
	return err
}

// dial opens the transport and starts the read loop on success. The socket is
// committed only if the controller still wants it: a Close or a newer connect
// landing while the dial is in flight bumps the epoch, and the late socket is
// discarded instead of resurrecting the connection.
func (c *Conn) dial(ctx context.Context, credential string) error {
	c.mu.Lock()
	startEpoch := c.epoch
	c.mu.Unlock()

	header := http.Header{"Authorization": []string{"Bearer " + credential}}
	ws, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return errs.Wrap(errs.KindAuth, "handshake rejected", err)
		}
		return errs.ClassifyTransport(err)
	}

	ws.SetReadDeadline(time.Now().Add(connPongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(connPongWait))
		return nil
	})

	c.mu.Lock()
	if c.epoch != startEpoch || (c.state != Connecting && c.state != Reconnecting) {
		c.mu.Unlock()
		ws.Close()
		return errs.New(errs.KindNetwork, "connection attempt abandoned")
	}
	c.ws = ws
	c.state = Connected
	c.epoch++
	epoch := c.epoch
	c.mu.Unlock()

	go c.readLoop(ws, epoch)
	go c.pingLoop(ws, epoch)
	slog.Debug("[CONN] Connected", "url", c.url)
	return nil
}

// Emit sends a fire-and-forget frame. It fails synchronously with a
// network-classified error when not connected; it never panics or throws.
func (c *Conn) Emit(event string, data interface{}) error {
	c.mu.Lock()
	ws := c.ws
	connected := c.state == Connected
	c.mu.Unlock()
	if !connected || ws == nil {
		return errs.New(errs.KindNetwork, "not connected")
	}

	payload, err := encodeFrame(models.Frame{Type: event}, data)
	if err != nil {
		return errs.Wrap(errs.KindValidation, "encode frame", err)
	}
	return c.write(ws, payload)
}

// Request sends a correlated frame and waits for the server's ack. The
// exchange always reaches a terminal outcome: an ack, a classified error, or
// a timeout. A disconnect while pending rejects it rather than leaving it
// hanging.
func (c *Conn) Request(ctx context.Context, event string, data interface{}) (json.RawMessage, error) {
	c.mu.Lock()
	ws := c.ws
	connected := c.state == Connected
	c.mu.Unlock()
	if !connected || ws == nil {
		return nil, errs.New(errs.KindNetwork, "not connected")
	}

	id := uuid.NewString()
	ch := make(chan *inboundFrame, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	payload, err := encodeFrame(models.Frame{Type: event, ID: id}, data)
	if err != nil {
		return nil, errs.Wrap(errs.KindValidation, "encode frame", err)
	}
	if err := c.write(ws, payload); err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, requestTimeout)
		defer cancel()
	}

	select {
	case ack := <-ch:
		if ack == nil {
			return nil, errs.New(errs.KindNetwork, "connection lost before acknowledgement")
		}
		if ack.Error != nil {
			return nil, errs.New(errs.Kind(ack.Error.Kind), ack.Error.Message)
		}
		return ack.Data, nil
	case <-ctx.Done():
		return nil, errs.ClassifyTransport(ctx.Err())
	}
}

// On registers a listener for the event name and returns its registration ID
// for Off. Every listener is tracked so Close can remove them all.
func (c *Conn) On(event string, fn Handler) int {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	c.listenerID++
	if c.listeners[event] == nil {
		c.listeners[event] = make(map[int]Handler)
	}
	c.listeners[event][c.listenerID] = fn
	return c.listenerID
}

// Off removes one listener registration.
func (c *Conn) Off(event string, id int) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	if m := c.listeners[event]; m != nil {
		delete(m, id)
		if len(m) == 0 {
			delete(c.listeners, event)
		}
	}
}

// Close is the client-initiated disconnect: every tracked listener is removed
// before the transport goes down, so no handler can fire against a disposed
// connection, and no reconnection is attempted.
func (c *Conn) Close() {
	c.listenerMu.Lock()
	c.listeners = make(map[string]map[int]Handler)
	c.listenerMu.Unlock()

	c.mu.Lock()
	c.state = Disconnecting
	c.teardownLocked()
	c.state = Disconnected
	c.credential = ""
	c.mu.Unlock()
}

// teardownLocked closes the socket and rejects every pending exchange with a
// network-classified outcome. Callers hold c.mu.
func (c *Conn) teardownLocked() {
	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
	}
	c.epoch++
	c.failPending()
}

func (c *Conn) failPending() {
	c.pendingMu.Lock()
	for id, ch := range c.pending {
		select {
		case ch <- nil:
		default:
		}
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}

func (c *Conn) write(ws *websocket.Conn, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(connWriteWait))
	if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		return errs.ClassifyTransport(err)
	}
	return nil
}

func (c *Conn) pingLoop(ws *websocket.Conn, epoch int) {
	ticker := time.NewTicker(connPingEvery)
	defer ticker.Stop()
	for range ticker.C {
		c.mu.Lock()
		stale := c.epoch != epoch || c.ws != ws
		c.mu.Unlock()
		if stale {
			return
		}
		c.writeMu.Lock()
		ws.SetWriteDeadline(time.Now().Add(connWriteWait))
		err := ws.WriteMessage(websocket.PingMessage, nil)
		c.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

// readLoop pumps inbound frames until the transport drops, then decides
// whether a reconnection episode starts.
func (c *Conn) readLoop(ws *websocket.Conn, epoch int) {
	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			c.handleDisconnect(ws, epoch, err)
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			slog.Warn("[CONN] Malformed frame", "error", err)
			continue
		}

		if frame.Type == models.EventAck {
			c.resolveAck(&frame)
			continue
		}
		c.dispatch(Event{
			Type:      frame.Type,
			RoomID:    frame.RoomID,
			Timestamp: frame.Timestamp,
			Data:      frame.Data,
		})
	}
}

func (c *Conn) resolveAck(frame *inboundFrame) {
	c.pendingMu.Lock()
	ch, ok := c.pending[frame.ID]
	if ok {
		delete(c.pending, frame.ID)
	}
	c.pendingMu.Unlock()
	if !ok {
		slog.Debug("[CONN] Ack with no pending request", "id", frame.ID)
		return
	}
	ch <- frame
}

// dispatch fans an event out to the registered listeners. The snapshot keeps
// handler execution outside the lock.
func (c *Conn) dispatch(ev Event) {
	c.listenerMu.Lock()
	handlers := make([]Handler, 0, len(c.listeners[ev.Type]))
	for _, fn := range c.listeners[ev.Type] {
		handlers = append(handlers, fn)
	}
	c.listenerMu.Unlock()

	for _, fn := range handlers {
		fn(ev)
	}
}

// handleDisconnect runs when the read loop exits. A stale epoch means the
// controller already moved on (Close or a newer connect); otherwise a
// reconnection episode starts.
func (c *Conn) handleDisconnect(ws *websocket.Conn, epoch int, cause error) {
	c.mu.Lock()
	if c.epoch != epoch || c.state == Disconnecting || c.state == Disconnected {
		c.mu.Unlock()
		return
	}
	credential := c.credential
	c.ws = nil
	c.state = Reconnecting
	c.epoch++
	c.mu.Unlock()

	ws.Close()
	c.failPending()
	slog.Warn("[CONN] Connection lost, reconnecting", "cause", cause)

	c.reconnect(credential)
}

// reconnect makes up to maxAttempts dials with doubling delay capped at
// reconnectMaxDelay. Success surfaces the restored notification exactly once;
// exhaustion surfaces the terminal failure and leaves the controller
// Disconnected.
func (c *Conn) reconnect(credential string) {
	delay := c.baseDelay
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		time.Sleep(delay)

		c.mu.Lock()
		if c.state != Reconnecting {
			// Close or a fresh Connect raced us; this episode is over.
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		err := c.dial(ctx, credential)
		cancel()
		if err == nil {
			c.mu.Lock()
			restored := c.onRestored
			c.mu.Unlock()
			slog.Info("[CONN] Connection restored", "attempt", attempt)
			if restored != nil {
				restored()
			}
			return
		}

		lastErr = err
		slog.Warn("[CONN] Reconnect attempt failed", "attempt", attempt, "error", err)
		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}

	c.mu.Lock()
	if c.state != Reconnecting {
		// Close ended the episode; it is not a failure to report.
		c.mu.Unlock()
		return
	}
	c.state = Disconnected
	failed := c.onFailed
	c.mu.Unlock()
	slog.Error("[CONN] Reconnection attempts exhausted", "error", lastErr)
	if failed != nil {
		failed(errs.Wrap(errs.KindNetwork, "reconnection attempts exhausted", lastErr))
	}
}

func encodeFrame(frame models.Frame, data interface{}) ([]byte, error) {
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		frame.Data = raw
	}
	return json.Marshal(frame)
}
