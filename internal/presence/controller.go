// Package presence keeps a live view of who is viewing which canvas.
//
// A Controller owns one socket to the presence server. It joins canvas topics,
// relays the local cursor, folds the server's roster broadcasts into a
// per-canvas list of users and tells observers when users join, move or leave.
// All state lives on a single goroutine; the exported methods post work to it
// and never wait on the network.
package presence

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/omochice/canvas-presence/internal/metrics"
	"github.com/omochice/canvas-presence/internal/transport"
	"github.com/omochice/canvas-presence/pkg/protocol"
)

const (
	DefaultKeepaliveInterval = 20 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultDialTimeout       = 15 * time.Second
)

var (
	// ErrClosed is returned by methods called after Close.
	ErrClosed = errors.New("presence: controller closed")

	errNoUser   = errors.New("presence: account has no user id")
	errNoURL    = errors.New("presence: no server url")
	errNoDialer = errors.New("presence: no dialer")
)

// State is the connection state of a Controller.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Account is the identity the controller announces.
type Account struct {
	User protocol.User
}

// TrustProvider builds the TLS configuration for each connection attempt.
type TrustProvider interface {
	TLSConfig() (*tls.Config, error)
}

// Options configures a Controller.
type Options struct {
	// URL is the websocket endpoint, e.g. wss://presence.usecanvas.com/socket/websocket.
	URL string

	// Origin is sent as the Origin header of the handshake when set.
	Origin string

	Dialer transport.Dialer

	// Trust supplies the TLS configuration. Nil uses the system defaults.
	Trust TrustProvider

	Logger  *zap.Logger
	Metrics *metrics.Metrics

	KeepaliveInterval time.Duration
	WriteTimeout      time.Duration
	DialTimeout       time.Duration

	// MaxQueue bounds the outbound queue. Zero means unbounded.
	MaxQueue int

	// Refs issues message refs. Defaults to protocol.FixedRefs.
	Refs protocol.RefSource

	// Dispatcher runs observer callbacks. Defaults to a dedicated goroutine.
	// A dispatcher that runs callbacks inline must not call back into the
	// controller's query methods.
	Dispatcher Dispatcher

	// NewConnectionID names the client of each joined topic.
	// Defaults to a random UUID.
	NewConnectionID func() string
}

// Controller is the presence client.
type Controller struct {
	account  Account
	opts     Options
	log      *zap.Logger
	metrics  *metrics.Metrics
	hub      *Hub
	executor *serialExecutor

	ops       chan func()
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	state     atomic.Int32

	// Owned by the run goroutine.
	conn       transport.Conn
	gen        uint64
	background bool
	topics     *registry
	queue      *outbox
	keepalive  keepalive
}

// New creates a Controller. It does not connect until there is something
// to send or Connect is called.
func New(account Account, opts Options) (*Controller, error) {
	switch {
	case account.User.ID == "":
		return nil, errNoUser
	case opts.URL == "":
		return nil, errNoURL
	case opts.Dialer == nil:
		return nil, errNoDialer
	}

	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.Refs == nil {
		opts.Refs = protocol.FixedRefs{}
	}
	if opts.NewConnectionID == nil {
		opts.NewConnectionID = uuid.NewString
	}

	c := &Controller{
		account:   account,
		opts:      opts,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		ops:       make(chan func(), 64),
		done:      make(chan struct{}),
		topics:    newRegistry(),
		queue:     newOutbox(opts.MaxQueue),
		keepalive: keepalive{interval: opts.KeepaliveInterval},
	}

	dispatch := opts.Dispatcher
	if dispatch == nil {
		c.executor = newSerialExecutor()
		dispatch = c.executor.Execute
	}
	c.hub = NewHub(dispatch)
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.wg.Add(1)
	go c.run()
	return c, nil
}

// Connect opens the socket if it is not open or opening.
func (c *Controller) Connect() error {
	return c.post(c.connect)
}

// Disconnect leaves every joined canvas on the open socket and closes it.
// Joined canvases are kept and re-joined on the next connection.
func (c *Controller) Disconnect() error {
	return c.post(c.disconnect)
}

// Join starts tracking presence on a canvas. Joining a canvas twice is a no-op.
func (c *Controller) Join(canvasID string) error {
	return c.post(func() { c.join(canvasID) })
}

// Leave stops tracking presence on a canvas.
func (c *Controller) Leave(canvasID string) error {
	return c.post(func() { c.leave(canvasID) })
}

// UpdateCursor publishes the local cursor on a joined canvas. A nil cursor
// clears it.
func (c *Controller) UpdateCursor(canvasID string, cursor *protocol.Cursor) error {
	if cursor != nil {
		cp := *cursor
		cursor = &cp
	}
	return c.post(func() { c.updateCursor(canvasID, cursor) })
}

// OnBackground drops the socket without leaving. Messages sent while
// backgrounded are queued.
func (c *Controller) OnBackground() error {
	return c.post(c.enterBackground)
}

// OnForeground reconnects when any canvas is joined.
func (c *Controller) OnForeground() error {
	return c.post(c.enterForeground)
}

// UsersPresent returns the other users on a canvas, one entry per user, in the
// order they were first seen. It returns nil for canvases that are not joined.
func (c *Controller) UsersPresent(canvasID string) []protocol.User {
	var users []protocol.User
	c.call(func() {
		if t, ok := c.topics.get(canvasID); ok {
			users = t.Roster()
		}
	})
	return users
}

// Topics returns the joined canvas ids in join order.
func (c *Controller) Topics() []string {
	var ids []string
	c.call(func() { ids = c.topics.ids() })
	return ids
}

// IsConnected reports whether the socket is open.
func (c *Controller) IsConnected() bool {
	return c.State() == Connected
}

// State returns the current connection state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Register adds an observer.
func (c *Controller) Register(o Observer) *Subscription {
	return c.hub.Register(o)
}

// Close leaves every canvas, closes the socket and stops all goroutines.
// Observers receive nothing after Close returns.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.call(func() {
			c.disconnect()
			c.topics.clear()
			c.queue.drain()
			c.metrics.SetTopics(0)
			c.metrics.SetQueueDepth(0)
		})
		c.hub.clear()
		c.cancel()
		close(c.done)
		c.wg.Wait()
		if c.executor != nil {
			c.executor.Close()
		}
	})
}

func (c *Controller) post(fn func()) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.ops <- fn:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// call runs fn on the run goroutine and waits for it.
func (c *Controller) call(fn func()) bool {
	finished := make(chan struct{})
	if err := c.post(func() {
		defer close(finished)
		fn()
	}); err != nil {
		return false
	}
	select {
	case <-finished:
		return true
	case <-c.done:
		return false
	}
}

func (c *Controller) run() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			c.closeTransport()
			return
		case fn := <-c.ops:
			fn()
		case <-c.keepalive.C():
			c.ping()
		}
	}
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
	c.metrics.SetConnected(s == Connected)
}

func (c *Controller) connect() {
	if c.State() != Disconnected {
		return
	}

	var tlsConfig *tls.Config
	if c.opts.Trust != nil {
		var err error
		tlsConfig, err = c.opts.Trust.TLSConfig()
		if err != nil {
			c.log.Warn("failed to set up a websocket connection", zap.Error(err))
			c.metrics.ConnectAttempt("no_trust")
			return
		}
	}

	var header http.Header
	if c.opts.Origin != "" {
		header = http.Header{"Origin": []string{c.opts.Origin}}
	}

	c.gen++
	gen := c.gen
	c.setState(Connecting)
	c.log.Debug("connecting", zap.String("url", c.opts.URL))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(c.ctx, c.opts.DialTimeout)
		defer cancel()

		conn, err := c.opts.Dialer.Dial(ctx, c.opts.URL, transport.DialOptions{
			TLSConfig: tlsConfig,
			Header:    header,
		})
		if c.post(func() { c.handleDial(gen, conn, err) }) != nil && conn != nil {
			_ = conn.Close()
		}
	}()
}

func (c *Controller) handleDial(gen uint64, conn transport.Conn, err error) {
	if gen != c.gen || c.State() != Connecting {
		if conn != nil {
			c.closeAsync(conn)
		}
		return
	}
	if err != nil {
		c.log.Warn("failed to connect", zap.String("url", c.opts.URL), zap.Error(err))
		c.metrics.ConnectAttempt("error")
		c.setState(Disconnected)
		return
	}

	c.metrics.ConnectAttempt("ok")
	c.conn = conn
	c.setState(Connected)
	c.log.Info("connected", zap.String("remote_addr", conn.RemoteAddr()))

	c.wg.Add(1)
	go c.readLoop(gen, conn)

	if c.flush() {
		c.keepalive.start()
	}
}

// flush re-joins every topic, then sends what queued up while disconnected.
// The registry decides membership on a new socket, so queued joins and the
// queued leaves of re-joined topics are skipped.
func (c *Controller) flush() bool {
	for _, t := range c.topics.all() {
		msg, err := c.joinMessage(t)
		if err != nil {
			c.log.Error("failed to build join", zap.String("canvas_id", t.CanvasID), zap.Error(err))
			continue
		}
		if err := c.write(msg); err != nil {
			c.lost(err)
			return false
		}
	}

	pending := c.queue.drain()
	c.metrics.SetQueueDepth(0)
	for i, msg := range pending {
		if c.superseded(msg) {
			continue
		}
		if err := c.write(msg); err != nil {
			c.requeue(pending[i:]...)
			c.lost(err)
			return false
		}
	}
	return true
}

func (c *Controller) superseded(msg protocol.Message) bool {
	switch msg.Event {
	case protocol.EventJoin:
		return true
	case protocol.EventLeave:
		id, _ := msg.CanvasID()
		_, joined := c.topics.get(id)
		return joined
	default:
		return false
	}
}

func (c *Controller) readLoop(gen uint64, conn transport.Conn) {
	defer c.wg.Done()
	for {
		data, err := conn.Read(c.ctx)
		if err != nil {
			_ = c.post(func() { c.handleClosed(gen, err) })
			return
		}

		var msg protocol.Message
		if err := msg.Decode(data); err != nil {
			c.log.Debug("dropping frame", zap.Error(err))
			c.metrics.FrameDropped(metrics.DropMalformed)
			continue
		}
		if c.post(func() {
			if gen == c.gen {
				c.handleMessage(msg)
			}
		}) != nil {
			return
		}
	}
}

func (c *Controller) handleClosed(gen uint64, err error) {
	if gen != c.gen {
		return
	}
	c.log.Info("connection closed", zap.Error(err))
	c.closeTransport()
}

func (c *Controller) handleMessage(msg protocol.Message) {
	event := msg.Event.String()
	if !msg.Event.Known() {
		event = "unknown"
	}
	c.metrics.FrameReceived(event)

	canvasID, ok := msg.CanvasID()
	if !ok {
		c.log.Debug("dropping message for foreign topic", zap.String("topic", msg.Topic))
		c.metrics.FrameDropped(metrics.DropUnknownTopic)
		return
	}
	t, ok := c.topics.get(canvasID)
	if !ok {
		c.log.Debug("dropping message for canvas not joined", zap.String("canvas_id", canvasID))
		c.metrics.FrameDropped(metrics.DropUnknownTopic)
		return
	}

	c.publish(t.Apply(msg, c.account.User))
}

func (c *Controller) publish(notes []Notification) {
	for _, n := range notes {
		c.metrics.Notification(n.Kind.String())
	}
	c.hub.Publish(notes)
}

func (c *Controller) join(canvasID string) {
	if canvasID == "" {
		return
	}
	if _, ok := c.topics.get(canvasID); ok {
		return
	}

	t := newTopic(canvasID, c.opts.NewConnectionID())
	c.topics.add(t)
	c.metrics.SetTopics(c.topics.len())

	msg, err := c.joinMessage(t)
	if err != nil {
		c.log.Error("failed to build join", zap.String("canvas_id", canvasID), zap.Error(err))
		return
	}
	c.send(msg)
}

// leave sends phx_leave and drops the topic. Anything still queued for the
// canvas is discarded first.
func (c *Controller) leave(canvasID string) {
	if _, ok := c.topics.get(canvasID); !ok {
		return
	}

	msg, err := protocol.NewMessage(protocol.EventLeave, canvasID, protocol.Empty{}, c.opts.Refs.Ref(protocol.EventLeave))
	if err != nil {
		c.log.Error("failed to build leave", zap.String("canvas_id", canvasID), zap.Error(err))
	} else {
		if c.State() != Connected {
			c.queue.discard(canvasID)
		}
		c.send(msg)
	}

	c.topics.remove(canvasID)
	c.metrics.SetTopics(c.topics.len())
}

func (c *Controller) updateCursor(canvasID string, cursor *protocol.Cursor) {
	t, ok := c.topics.get(canvasID)
	if !ok {
		return
	}
	t.Cursor = cursor

	msg, err := protocol.NewMessage(protocol.EventUpdateMeta, canvasID,
		protocol.UpdateMetaPayload{Cursor: cursor}, c.opts.Refs.Ref(protocol.EventUpdateMeta))
	if err != nil {
		c.log.Error("failed to build update_meta", zap.String("canvas_id", canvasID), zap.Error(err))
		return
	}
	c.send(msg)
}

// joinMessage announces the local client on t, carrying its last cursor.
func (c *Controller) joinMessage(t *Topic) (protocol.Message, error) {
	record := protocol.NewClientRecord(protocol.Client{
		ID:     t.ConnectionID,
		User:   c.account.User,
		Cursor: t.Cursor,
	})
	return protocol.NewMessage(protocol.EventJoin, t.CanvasID, record, c.opts.Refs.Ref(protocol.EventJoin))
}

func (c *Controller) ping() {
	if c.State() != Connected {
		return
	}
	for _, t := range c.topics.all() {
		msg, err := protocol.NewMessage(protocol.EventPing, t.CanvasID, protocol.Empty{}, c.opts.Refs.Ref(protocol.EventPing))
		if err != nil {
			continue
		}
		if err := c.write(msg); err != nil {
			c.lost(err)
			return
		}
	}
}

func (c *Controller) disconnect() {
	if c.State() == Connected {
		for _, t := range c.topics.all() {
			msg, err := protocol.NewMessage(protocol.EventLeave, t.CanvasID, protocol.Empty{}, c.opts.Refs.Ref(protocol.EventLeave))
			if err != nil {
				continue
			}
			if err := c.write(msg); err != nil {
				c.log.Debug("failed to send leave", zap.String("canvas_id", t.CanvasID), zap.Error(err))
				break
			}
		}
	}
	if c.State() != Disconnected {
		c.log.Info("disconnected")
	}
	c.closeTransport()
}

func (c *Controller) enterBackground() {
	c.background = true
	c.closeTransport()
}

// enterForeground reconnects, or re-joins every topic on a socket that stayed
// open.
func (c *Controller) enterForeground() {
	c.background = false
	if c.topics.len() == 0 {
		return
	}
	if c.State() != Connected {
		c.connect()
		return
	}
	for _, t := range c.topics.all() {
		msg, err := c.joinMessage(t)
		if err != nil {
			c.log.Error("failed to build join", zap.String("canvas_id", t.CanvasID), zap.Error(err))
			continue
		}
		c.send(msg)
		if c.State() != Connected {
			return
		}
	}
}

// send writes msg on the open socket, or queues it and starts connecting.
func (c *Controller) send(msg protocol.Message) {
	if c.State() == Connected {
		if err := c.write(msg); err != nil {
			c.requeue(msg)
			c.lost(err)
		}
		return
	}

	if dropped := c.queue.push(msg); dropped > 0 {
		c.log.Warn("outbound queue full, dropped oldest messages", zap.Int("dropped", dropped))
		for range dropped {
			c.metrics.QueueDropped()
		}
	}
	c.metrics.SetQueueDepth(c.queue.len())
	if !c.background {
		c.connect()
	}
}

func (c *Controller) write(msg protocol.Message) error {
	data, err := msg.Encode()
	if err != nil {
		c.log.Error("failed to encode message", zap.Stringer("event", msg.Event), zap.Error(err))
		return nil
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.opts.WriteTimeout)
	defer cancel()
	if err := c.conn.Write(ctx, data); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.Event, err)
	}
	c.metrics.FrameSent(msg.Event.String())
	return nil
}

func (c *Controller) requeue(msgs ...protocol.Message) {
	if dropped := c.queue.pushFront(msgs...); dropped > 0 {
		c.log.Warn("outbound queue full, dropped oldest messages", zap.Int("dropped", dropped))
		for range dropped {
			c.metrics.QueueDropped()
		}
	}
	c.metrics.SetQueueDepth(c.queue.len())
}

// lost handles a failed write on the open socket.
func (c *Controller) lost(err error) {
	c.log.Warn("connection lost", zap.Error(err))
	c.closeTransport()
}

// closeTransport forgets the socket and bumps the generation so callbacks
// from it are ignored.
func (c *Controller) closeTransport() {
	c.keepalive.stop()
	if c.conn != nil {
		c.closeAsync(c.conn)
		c.conn = nil
	}
	c.gen++
	c.setState(Disconnected)
}

// closeAsync closes conn off the run goroutine; a websocket close handshake
// can take seconds.
func (c *Controller) closeAsync(conn transport.Conn) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := conn.Close(); err != nil {
			c.log.Debug("failed to close connection", zap.Error(err))
		}
	}()
}
