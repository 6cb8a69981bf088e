package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"net/url"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// Config configures a Client.
type Config struct {
	// URL is the realtime endpoint, e.g. wss://<project>/realtime/v1.
	URL    string
	APIKey string
	// Token returns the user's access token sent with every join.
	Token func() (string, error)

	HeartbeatInterval  time.Duration
	JoinTimeout        time.Duration
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration

	Dialer *websocket.Dialer
	Logger *zap.Logger
}

func (c *Config) defaults() {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.JoinTimeout == 0 {
		c.JoinTimeout = 10 * time.Second
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Client multiplexes channels over one websocket and keeps it connected.
type Client struct {
	cfg    Config
	logger *zap.Logger
	recon  *reconnector

	ref atomic.Uint64

	mu           sync.Mutex
	conn         *websocket.Conn
	channels     map[string]*Channel
	heartbeatRef string
	onConnChange []func(connected bool)
	started      bool
	cancel       context.CancelFunc
	done         chan struct{}

	writeMu sync.Mutex
}

// NewClient creates a client. Call Start to begin connecting.
func NewClient(cfg Config) *Client {
	cfg.defaults()
	return &Client{
		cfg:      cfg,
		logger:   cfg.Logger,
		recon:    newReconnector(cfg.ReconnectBaseDelay, cfg.ReconnectMaxDelay),
		channels: make(map[string]*Channel),
	}
}

// Start launches the connect/reconnect loop.
func (c *Client) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx)
}

// Close leaves every channel, closes the socket and stops reconnecting.
func (c *Client) Close() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	chans := make([]*Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		chans = append(chans, ch)
	}
	c.mu.Unlock()

	for _, ch := range chans {
		ch.Unsubscribe()
	}

	c.mu.Lock()
	c.started = false
	cancel, done, conn := c.cancel, c.done, c.conn
	c.mu.Unlock()

	cancel()
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
	<-done
	return nil
}

// Connected reports whether the socket is up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// OnConnectionChange registers fn for socket up/down transitions.
func (c *Client) OnConnectionChange(fn func(connected bool)) {
	c.mu.Lock()
	c.onConnChange = append(c.onConnChange, fn)
	c.mu.Unlock()
}

// Channel returns the channel named name, creating it if needed.
func (c *Client) Channel(name string, opts ChannelOptions) *Channel {
	topic := topicPrefix + name
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.channels[topic]; ok {
		return ch
	}
	ch := newChannel(c, topic, opts)
	c.channels[topic] = ch
	return ch
}

// Open is Channel behind the PresenceChannel interface.
func (c *Client) Open(name string, opts ChannelOptions) PresenceChannel {
	return c.Channel(name, opts)
}

// RefreshAuth pushes the current access token to every joined channel.
func (c *Client) RefreshAuth() {
	token, err := c.token()
	if err != nil {
		return
	}
	c.mu.Lock()
	chans := make([]*Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		chans = append(chans, ch)
	}
	c.mu.Unlock()
	for _, ch := range chans {
		if ch.Joined() {
			_ = ch.push(EventAuth, map[string]any{"access_token": token})
		}
	}
}

func (c *Client) removeChannel(ch *Channel) {
	c.mu.Lock()
	if c.channels[ch.topic] == ch {
		delete(c.channels, ch.topic)
	}
	c.mu.Unlock()
}

func (c *Client) nextRef() string {
	return strconv.FormatUint(c.ref.Add(1), 10)
}

func (c *Client) token() (string, error) {
	if c.cfg.Token == nil {
		return "", nil
	}
	return c.cfg.Token()
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	u = u.JoinPath("websocket")
	q := u.Query()
	q.Set("apikey", c.cfg.APIKey)
	q.Set("vsn", protocolVsn)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) send(msg Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := c.recon.nextDelay()
			c.logger.Warn("realtime connect failed", zap.Error(err), zap.Duration("retry_in", delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		c.recon.markConnected()
		c.setConn(conn)
		c.logger.Info("realtime connected")
		c.rejoinAll()

		hbCtx, hbCancel := context.WithCancel(ctx)
		go c.heartbeatLoop(hbCtx, conn)
		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		c.readLoop(conn)
		stop()
		hbCancel()

		c.clearConn(conn)
		if ctx.Err() != nil {
			return
		}
		delay := c.recon.nextDelay()
		c.logger.Warn("realtime disconnected", zap.Duration("retry_in", delay))
		if !sleep(ctx, delay) {
			return
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	endpoint, err := c.endpoint()
	if err != nil {
		return nil, err
	}
	conn, _, err := c.cfg.Dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial realtime: %w", err)
	}
	return conn, nil
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.heartbeatRef = ""
	fns := slices.Clone(c.onConnChange)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(true)
	}
}

func (c *Client) clearConn(conn *websocket.Conn) {
	_ = conn.Close()
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	chans := make([]*Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		chans = append(chans, ch)
	}
	fns := slices.Clone(c.onConnChange)
	c.mu.Unlock()

	for _, ch := range chans {
		ch.connectionLost()
	}
	for _, fn := range fns {
		fn(false)
	}
}

func (c *Client) rejoinAll() {
	c.mu.Lock()
	chans := make([]*Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		chans = append(chans, ch)
	}
	c.mu.Unlock()
	for _, ch := range chans {
		ch.rejoin()
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("realtime read failed", zap.Error(err))
			}
			return
		}
		var msg Message
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg Message) {
	if msg.Topic == phoenixTopic {
		if msg.Event == EventReply {
			c.mu.Lock()
			if msg.Ref == c.heartbeatRef {
				c.heartbeatRef = ""
			}
			c.mu.Unlock()
		}
		return
	}
	c.mu.Lock()
	ch := c.channels[msg.Topic]
	c.mu.Unlock()
	if ch != nil {
		ch.handle(msg)
	}
}

func (c *Client) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			pending := c.heartbeatRef
			c.mu.Unlock()
			if pending != "" {
				c.logger.Warn("realtime heartbeat timeout")
				_ = conn.Close()
				return
			}
			ref := c.nextRef()
			c.mu.Lock()
			c.heartbeatRef = ref
			c.mu.Unlock()
			err := c.send(Message{Topic: phoenixTopic, Event: EventHeartbeat, Payload: json.RawMessage(`{}`), Ref: ref})
			if err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

type reconnector struct {
	mu          sync.Mutex
	baseDelay   time.Duration
	maxDelay    time.Duration
	attempt     int
	connectedAt time.Time
}

func newReconnector(base, maxDelay time.Duration) *reconnector {
	return &reconnector{baseDelay: base, maxDelay: maxDelay}
}

func (r *reconnector) markConnected() {
	r.mu.Lock()
	r.connectedAt = time.Now()
	r.mu.Unlock()
}

func (r *reconnector) nextDelay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	r.connectedAt = time.Time{}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}
