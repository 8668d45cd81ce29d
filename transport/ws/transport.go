package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// State is the transport's connection state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosedClean
	StateClosedRetry
)

// String returns the string representation of a connection state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosedClean:
		return "closed"
	case StateClosedRetry:
		return "closed-will-retry"
	default:
		return "unknown"
	}
}

const (
	defaultQueueLimit    = 256
	defaultReconnectBase = time.Second
	defaultMaxReconnects = 5
	defaultWriteTimeout  = 5 * time.Second
)

// Conn abstracts the underlying socket so tests can inject a fake.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// DialFunc establishes a Conn to the given endpoint.
type DialFunc func(ctx context.Context, endpoint string) (Conn, error)

// Handler receives the raw payload of a dispatched event.
type Handler func(data json.RawMessage)

// Options configures a Transport. Endpoint is the only required field: it is
// called on every connection attempt so reconnects always carry the current
// token, which may have rotated since the previous dial.
type Options struct {
	Endpoint      func() string
	Dial          DialFunc
	Log           *slog.Logger
	QueueLimit    int
	ReconnectBase time.Duration
	MaxReconnects int
	WriteTimeout  time.Duration
}

// Transport multiplexes named logical events over a single websocket.
// At most one live socket exists per instance.
type Transport struct {
	opts Options
	log  *slog.Logger

	mu         sync.Mutex
	state      State
	conn       Conn
	cancelRead context.CancelFunc
	queue      []Envelope
	handlers   map[string][]subscription
	nextSubID  uint64
	attempts   int
	suppress   bool // no automatic reconnection until next explicit Open
	retryTimer *time.Timer
	gen        uint64 // bumped whenever the current socket is invalidated
}

type subscription struct {
	id uint64
	fn Handler
}

// New creates a Transport with defaults applied.
func New(opts Options) *Transport {
	if opts.Dial == nil {
		opts.Dial = dialWebsocket
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.QueueLimit <= 0 {
		opts.QueueLimit = defaultQueueLimit
	}
	if opts.ReconnectBase <= 0 {
		opts.ReconnectBase = defaultReconnectBase
	}
	if opts.MaxReconnects <= 0 {
		opts.MaxReconnects = defaultMaxReconnects
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}

	return &Transport{
		opts:     opts,
		log:      opts.Log,
		state:    StateIdle,
		handlers: make(map[string][]subscription),
	}
}

// dialWebsocket is the production DialFunc built on coder/websocket.
func dialWebsocket(ctx context.Context, endpoint string) (Conn, error) {
	c, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Close(code websocket.StatusCode, reason string) error {
	return w.c.Close(code, reason)
}

// State returns the current connection state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Open starts connecting. It is idempotent while Connecting or Open, so two
// calls in quick succession create exactly one socket. An explicit Open
// re-arms automatic reconnection after Close, auth:error, or an exhausted
// reconnection budget.
func (t *Transport) Open(ctx context.Context) {
	t.mu.Lock()
	if t.state == StateConnecting || t.state == StateOpen {
		t.mu.Unlock()
		return
	}
	t.suppress = false
	t.attempts = 0
	t.stopRetryLocked()
	t.state = StateConnecting
	t.gen++
	gen := t.gen
	t.mu.Unlock()

	go t.connect(ctx, gen)
}

// connect dials and, on success, promotes the transport to Open.
func (t *Transport) connect(ctx context.Context, gen uint64) {
	endpoint := t.opts.Endpoint()
	conn, err := t.opts.Dial(ctx, endpoint)

	t.mu.Lock()
	if t.gen != gen || t.state != StateConnecting {
		t.mu.Unlock()
		if conn != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "superseded")
		}
		return
	}

	if err != nil {
		// Connect failures stay internal to the retry policy; only the
		// terminal reconnect-failed event is surfaced to callers.
		t.log.Warn("ws.dial.fail", "err", err, "attempt", t.attempts)
		t.scheduleRetryLocked(ctx)
		t.mu.Unlock()
		return
	}

	t.conn = conn
	t.state = StateOpen
	t.attempts = 0
	pending := t.queue
	t.queue = nil

	readCtx, cancel := context.WithCancel(context.Background())
	t.cancelRead = cancel
	t.mu.Unlock()

	// FIFO flush of everything queued while disconnected.
	for _, env := range pending {
		t.writeEnvelope(conn, env)
	}

	// The read loop must be live before connected fires so a handler that
	// issues a request can see its reply.
	go t.readLoop(readCtx, conn, gen)

	t.dispatch(EventConnected, nil)
	t.log.Info("ws.open", "endpoint_set", endpoint != "")
}

// readLoop parses inbound frames and dispatches them until the socket dies.
func (t *Transport) readLoop(ctx context.Context, conn Conn, gen uint64) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			break
		}

		var env Envelope
		if jsonErr := json.Unmarshal(data, &env); jsonErr != nil || env.Event == "" {
			// A single malformed frame must never take down the channel.
			t.log.Warn("ws.frame.drop", "err", jsonErr)
			continue
		}

		if env.Event == EventAuthError {
			t.mu.Lock()
			t.suppress = true
			t.mu.Unlock()
			t.log.Warn("ws.auth.rejected")
			t.dispatch(EventAuthError, env.Data)
			continue
		}

		t.dispatch(env.Event, env.Data)
	}

	t.mu.Lock()
	if t.gen != gen {
		// Superseded by Close or a newer Open; that path owns the state.
		t.mu.Unlock()
		return
	}
	t.conn = nil
	t.cancelRead = nil
	t.mu.Unlock()

	t.dispatch(EventDisconnected, nil)

	t.mu.Lock()
	t.scheduleRetryLocked(context.Background())
	t.mu.Unlock()
}

// scheduleRetryLocked applies the reconnection policy after an unclean close.
// Callers hold t.mu.
func (t *Transport) scheduleRetryLocked(ctx context.Context) {
	if t.suppress {
		t.state = StateClosedClean
		return
	}

	if t.attempts >= t.opts.MaxReconnects {
		t.state = StateIdle
		t.log.Error("ws.reconnect.exhausted", "attempts", t.attempts)
		go t.dispatch(EventReconnectFailed, nil)
		return
	}

	delay := t.opts.ReconnectBase << t.attempts
	t.attempts++
	t.state = StateClosedRetry
	t.log.Info("ws.reconnect.scheduled", "attempt", t.attempts, "delay", delay)

	t.retryTimer = time.AfterFunc(delay, func() {
		t.mu.Lock()
		if t.state != StateClosedRetry || t.suppress {
			t.mu.Unlock()
			return
		}
		t.state = StateConnecting
		t.gen++
		gen := t.gen
		t.mu.Unlock()

		t.connect(ctx, gen)
	})
}

func (t *Transport) stopRetryLocked() {
	if t.retryTimer != nil {
		t.retryTimer.Stop()
		t.retryTimer = nil
	}
}

// Publish sends a logical event now if the transport is Open, otherwise it
// queues the message for the FIFO flush on the next connect. It never fails:
// past the queue limit the oldest entry is dropped.
func (t *Transport) Publish(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		t.log.Warn("ws.publish.marshal.fail", "event", event, "err", err)
		return
	}
	env := Envelope{Event: event, Data: data}

	t.mu.Lock()
	if t.state == StateOpen && t.conn != nil {
		conn := t.conn
		t.mu.Unlock()
		t.writeEnvelope(conn, env)
		return
	}

	if len(t.queue) >= t.opts.QueueLimit {
		evicted := t.queue[0]
		t.queue = t.queue[1:]
		t.log.Warn("ws.queue.overflow", "dropped_event", evicted.Event, "limit", t.opts.QueueLimit)
	}
	t.queue = append(t.queue, env)
	t.mu.Unlock()
}

func (t *Transport) writeEnvelope(conn Conn, env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		t.log.Warn("ws.write.marshal.fail", "event", env.Event, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.opts.WriteTimeout)
	defer cancel()

	if err := conn.Write(ctx, data); err != nil {
		// The read loop observes the broken socket and drives reconnection.
		t.log.Warn("ws.write.fail", "event", env.Event, "err", err)
	}
}

// Subscribe registers a handler for a named event. Handlers for the same
// event fire synchronously in registration order. The returned function
// removes exactly this handler.
func (t *Transport) Subscribe(event string, h Handler) (unsubscribe func()) {
	t.mu.Lock()
	t.nextSubID++
	id := t.nextSubID
	t.handlers[event] = append(t.handlers[event], subscription{id: id, fn: h})
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		subs := t.handlers[event]
		for i, s := range subs {
			if s.id == id {
				t.handlers[event] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(t.handlers[event]) == 0 {
			delete(t.handlers, event)
		}
	}
}

// Unsubscribe removes all handlers for the named event.
func (t *Transport) Unsubscribe(event string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handlers, event)
}

// dispatch invokes all handlers registered for event, in registration order,
// outside the transport lock so handlers may call back into the transport.
func (t *Transport) dispatch(event string, data json.RawMessage) {
	t.mu.Lock()
	subs := t.handlers[event]
	entries := make([]subscription, len(subs))
	copy(entries, subs)
	t.mu.Unlock()

	for _, s := range entries {
		s.fn(data)
	}
}

// Close tears the connection down cleanly. It suppresses any further
// automatic reconnection, emits a final disconnected event, and clears all
// handlers and the outbound queue. The transport can be reused with Open.
func (t *Transport) Close() {
	t.mu.Lock()
	t.suppress = true
	t.stopRetryLocked()
	conn := t.conn
	cancel := t.cancelRead
	t.conn = nil
	t.cancelRead = nil
	t.gen++
	t.state = StateClosing
	t.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client close")
	}
	if cancel != nil {
		cancel()
	}

	t.dispatch(EventDisconnected, nil)

	t.mu.Lock()
	t.handlers = make(map[string][]subscription)
	t.queue = nil
	t.state = StateClosedClean
	t.mu.Unlock()
}

// QueueLen reports how many messages are waiting for the next connect.
func (t *Transport) QueueLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}
