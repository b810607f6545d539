package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"rabbitx/config"
	"rabbitx/logger"
	"rabbitx/models"
)

// clientName is the name field sent with the authenticate request.
const clientName = "go"

// Mode selects how decoded frames are handed to consumers.
type Mode string

const (
	// ModeWorker reads frames on one goroutine and runs callbacks on a
	// second one draining a queue, so a stalled handler cannot stall frame
	// ingestion or heartbeat latency.
	ModeWorker Mode = config.DispatchWorker
	// ModeInline runs callbacks on the read goroutine itself. Ordering is
	// strictly frame-arrival order, and a slow handler delays every
	// following frame, heartbeats included.
	ModeInline Mode = config.DispatchInline
)

// ErrAlreadyRunning is returned by Start on a session that is running or has
// already been stopped. Sessions are single use: after a stop or a dropped
// link, construct a new Client.
var ErrAlreadyRunning = errors.New("session already started")

const (
	stateIdle = iota
	stateRunning
	stateStopped
)

// Options configures a Client. Either URL or Network must be set, not both.
type Options struct {
	// Token is the opaque session token used to authenticate. When empty
	// the session stays unauthenticated and desired channels are
	// subscribed right after connecting.
	Token   string
	Network string
	URL     string

	// Channels are subscribed automatically once the session is
	// authenticated.
	Channels []string

	// OnMessage and OnSubscribe are the global callbacks, invoked before
	// the per-channel handlers.
	OnMessage   func(channel string, data json.RawMessage)
	OnSubscribe func(channel string, data json.RawMessage)

	Mode             Mode
	QueueSize        int
	SkipTLSVerify    bool
	HandshakeTimeout time.Duration

	// RequestsPerSecond and RequestBurst throttle outbound correlated
	// requests so a caller subscribing hundreds of channels cannot trip
	// the venue's connection limits.
	RequestsPerSecond float64
	RequestBurst      int
}

type eventKind int

const (
	eventSubscribe eventKind = iota
	eventData
)

type dispatchJob struct {
	kind    eventKind
	channel string
	data    json.RawMessage
}

// Client is the session controller: it owns the link, correlates requests,
// and fans pushed data out to the registered consumers.
type Client struct {
	opts Options
	url  string
	log  *logger.Entry

	conn    *Conn
	corr    *correlator
	reg     *registry
	limiter *rate.Limiter

	queue chan dispatchJob
	quit  chan struct{}
	done  chan struct{}
	wg    sync.WaitGroup

	ctx     context.Context
	cancel  context.CancelFunc
	errOnce sync.Once

	mu         sync.Mutex
	state      int
	connected  bool
	authorized bool
	err        error
}

// New validates the options and builds a session. The connection is not
// established until Start.
func New(opts Options) (*Client, error) {
	if opts.URL == "" && opts.Network == "" {
		return nil, fmt.Errorf("either url or network must be provided")
	}
	if opts.URL != "" && opts.Network != "" {
		return nil, fmt.Errorf("url and network cannot both be provided")
	}

	url := opts.URL
	if url == "" {
		resolved, err := config.WebsocketURL(opts.Network)
		if err != nil {
			return nil, err
		}
		url = resolved
	}

	switch opts.Mode {
	case "":
		opts.Mode = ModeWorker
	case ModeWorker, ModeInline:
	default:
		return nil, fmt.Errorf("invalid dispatch mode '%s'", opts.Mode)
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 10
	}
	if opts.RequestBurst <= 0 {
		opts.RequestBurst = 20
	}

	c := &Client{
		opts:    opts,
		url:     url,
		corr:    newCorrelator(),
		reg:     newRegistry(),
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.RequestBurst),
		queue:   make(chan dispatchJob, opts.QueueSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		log: logger.GetLogger().WithComponent("ws").WithFields(logger.Fields{
			"session": uuid.NewString(),
		}),
	}
	for _, channel := range opts.Channels {
		c.reg.markDesired(channel)
	}
	return c, nil
}

// RegisterHandler appends a handler to the channel's list. Before the session
// is connected the channel is also marked desired, so it will be subscribed
// automatically on authentication; once connected, registering alone does not
// subscribe.
func (c *Client) RegisterHandler(channel string, h ChannelHandler) {
	c.reg.addHandler(channel, h)

	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		c.reg.markDesired(channel)
	}
}

// Start connects, authenticates and subscribes every desired channel, then
// returns with the read (and, in worker mode, dispatch) goroutines running.
// Transport failures after Start are terminal: the session closes Done and
// records the error.
func (c *Client) Start() error {
	c.mu.Lock()
	if c.state != stateIdle {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.state = stateRunning
	c.mu.Unlock()

	conn, err := Dial(c.url, DialOptions{
		HandshakeTimeout: c.opts.HandshakeTimeout,
		SkipTLSVerify:    c.opts.SkipTLSVerify,
	})
	if err != nil {
		c.mu.Lock()
		c.state = stateStopped
		c.mu.Unlock()
		return fmt.Errorf("connect: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.ctx = ctx
	c.cancel = cancel
	c.mu.Unlock()

	c.log.WithFields(logger.Fields{"url": c.url, "mode": string(c.opts.Mode)}).Info("connected")

	if c.opts.Mode == ModeWorker {
		c.wg.Add(1)
		go c.dispatchWorker()
	}
	c.wg.Add(1)
	go c.readLoop()

	if c.opts.Token != "" {
		if err := c.authenticate(); err != nil {
			c.Stop()
			return fmt.Errorf("authenticate: %w", err)
		}
	} else {
		c.subscribeDesired()
	}
	return nil
}

// Stop closes the link and waits for the session goroutines to drain. After
// Stop returns no new handler invocation starts; one already running is
// allowed to finish first. Safe to call concurrently with an in-flight read.
func (c *Client) Stop() {
	c.mu.Lock()
	if c.state != stateRunning {
		c.mu.Unlock()
		return
	}
	c.state = stateStopped
	conn := c.conn
	cancel := c.cancel
	c.mu.Unlock()

	close(c.quit)
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	c.wg.Wait()

	c.mu.Lock()
	c.connected = false
	c.authorized = false
	c.mu.Unlock()

	c.log.WithFields(logger.Fields{"pending_requests": c.corr.outstanding()}).Info("session stopped")
}

// Done is closed when the session dies from a transport failure or a rejected
// authentication. Err reports the cause.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the session, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Subscribed reports whether the server has acknowledged the channel.
func (c *Client) Subscribed(channel string) bool {
	return c.reg.isAcked(channel)
}

// Subscribe asks the server for a channel. Before the session is connected it
// only marks the channel desired; the subscribe request goes out on
// authentication. Once connected the request is sent immediately, even while
// the authenticate response is still in flight. Subscribing a channel that is
// already requested or acknowledged is a no-op.
func (c *Client) Subscribe(channel string) error {
	c.reg.markDesired(channel)

	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		return nil
	}
	return c.subscribeNow(channel)
}

func (c *Client) subscribeDesired() {
	for _, channel := range c.reg.desiredChannels() {
		if err := c.subscribeNow(channel); err != nil {
			c.log.WithError(err).WithFields(logger.Fields{"channel": channel}).Error("subscribe request failed")
		}
	}
}

func (c *Client) subscribeNow(channel string) error {
	if !c.reg.markRequested(channel) {
		return nil
	}
	return c.request(&models.Request{Subscribe: &models.SubscribeParams{Channel: channel}}, func(env *models.Envelope) {
		if env.Error != nil {
			c.log.WithError(env.Error).WithFields(logger.Fields{"channel": channel, "code": env.Error.Code}).Error("subscribe rejected")
			return
		}
		c.reg.markAcked(channel)
		logger.IncrementSubscribeAck(channel)
		c.log.WithFields(logger.Fields{"channel": channel}).Debug("subscribed")

		var data json.RawMessage
		if env.Subscribe != nil {
			data = env.Subscribe.Data
		}
		c.dispatch(eventSubscribe, channel, data)
	})
}

func (c *Client) authenticate() error {
	connect := &models.ConnectParams{Token: c.opts.Token, Name: clientName}
	return c.request(&models.Request{Connect: connect}, func(env *models.Envelope) {
		if env.Error != nil {
			c.log.WithError(env.Error).WithFields(logger.Fields{"code": env.Error.Code}).Error("authentication rejected")
			c.fail(fmt.Errorf("authenticate: %w", env.Error))
			return
		}

		c.mu.Lock()
		c.authorized = true
		c.mu.Unlock()
		c.log.Debug("authorized")

		c.subscribeDesired()
	})
}

// request stamps the payload with the next correlation id and sends it. The
// continuation runs on the read goroutine when the matching response arrives;
// a response that never comes leaves the continuation pending until Stop.
func (c *Client) request(req *models.Request, fn continuation) error {
	if err := c.limiter.Wait(c.ctx); err != nil {
		return fmt.Errorf("request throttled: %w", err)
	}

	req.ID = c.corr.register(fn)
	payload, err := json.Marshal(req)
	if err != nil {
		c.corr.unregister(req.ID)
		return fmt.Errorf("encode request: %w", err)
	}
	if err := c.conn.Send(payload); err != nil {
		// The request never left the process, so no response can arrive.
		c.corr.unregister(req.ID)
		return err
	}
	return nil
}

func (c *Client) readLoop() {
	defer c.wg.Done()

	for {
		frame, err := c.conn.Receive()
		if err != nil {
			select {
			case <-c.quit:
			default:
				c.log.WithError(err).Error("link dropped")
				c.fail(err)
			}
			return
		}
		logger.IncrementFrameRead(len(frame))

		// Frames may arrive batched, newline separated. Each is decoded
		// and routed independently, in arrival order.
		for _, raw := range bytes.Split(frame, []byte{'\n'}) {
			raw = bytes.TrimSpace(raw)
			if len(raw) == 0 {
				continue
			}
			c.handleFrame(raw)
		}
	}
}

func (c *Client) handleFrame(raw []byte) {
	if bytes.Equal(raw, models.Heartbeat) {
		// Echoed inline: queuing the reply behind dispatch work risks the
		// server closing an apparently dead link.
		if err := c.conn.Send(models.Heartbeat); err != nil {
			c.log.WithError(err).Warn("heartbeat reply failed")
		}
		logger.IncrementHeartbeat()
		return
	}

	env := &models.Envelope{}
	if err := json.Unmarshal(raw, env); err != nil {
		logger.IncrementDecodeError()
		c.log.WithError(err).WithFields(logger.Fields{"frame": truncateFrame(raw)}).Warn("dropping undecodable frame")
		return
	}
	c.route(env, raw)
}

// route applies the envelope routing rules in order: correlation response,
// push update, server-initiated subscribe acknowledgement, else dropped.
func (c *Client) route(env *models.Envelope, raw []byte) {
	if c.corr.resolve(env) {
		return
	}
	if env.Push != nil && env.Push.Channel != "" && env.Push.Pub != nil {
		c.dispatch(eventData, env.Push.Channel, env.Push.Pub.Data)
		return
	}
	if env.Subscribe != nil && env.Subscribe.Channel != "" {
		c.reg.markAcked(env.Subscribe.Channel)
		logger.IncrementSubscribeAck(env.Subscribe.Channel)
		c.dispatch(eventSubscribe, env.Subscribe.Channel, env.Subscribe.Data)
		return
	}
	c.log.WithFields(logger.Fields{"frame": truncateFrame(raw)}).Warn("dropping unroutable frame")
}

func (c *Client) dispatch(kind eventKind, channel string, data json.RawMessage) {
	if c.opts.Mode == ModeInline {
		c.deliver(kind, channel, data)
		return
	}
	select {
	case c.queue <- dispatchJob{kind: kind, channel: channel, data: data}:
	case <-c.quit:
	}
}

func (c *Client) dispatchWorker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.quit:
			return
		case job := <-c.queue:
			c.deliver(job.kind, job.channel, job.data)
		}
	}
}

// deliver runs the global callback and then every registered handler for the
// channel, in registration order. A panicking consumer is logged and skipped;
// its siblings still run.
func (c *Client) deliver(kind eventKind, channel string, data json.RawMessage) {
	select {
	case <-c.quit:
		return
	default:
	}

	switch kind {
	case eventSubscribe:
		if c.opts.OnSubscribe != nil {
			c.invoke(channel, "on_subscribe", func() { c.opts.OnSubscribe(channel, data) })
		}
		for _, h := range c.reg.handlersFor(channel) {
			h := h
			c.invoke(channel, fmt.Sprintf("%T", h), func() { h.OnSubscribe(data) })
		}
	case eventData:
		logger.IncrementPushDispatched(channel, len(data))
		if c.opts.OnMessage != nil {
			c.invoke(channel, "on_message", func() { c.opts.OnMessage(channel, data) })
		}
		for _, h := range c.reg.handlersFor(channel) {
			h := h
			c.invoke(channel, fmt.Sprintf("%T", h), func() { h.OnData(data) })
		}
	}
}

func (c *Client) invoke(channel, handler string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.IncrementHandlerError()
			c.log.WithFields(logger.Fields{
				"channel": channel,
				"handler": handler,
			}).Error(fmt.Sprintf("handler panic: %v", r))
		}
	}()
	fn()
}

// fail records the first terminal error and closes Done.
func (c *Client) fail(err error) {
	c.errOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

func truncateFrame(raw []byte) string {
	const max = 256
	if len(raw) <= max {
		return string(raw)
	}
	return string(raw[:max]) + "..."
}
