package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/immxrtalbeast/mentorlink/internal/config"
	"github.com/immxrtalbeast/mentorlink/internal/domain"
	"github.com/immxrtalbeast/mentorlink/lib/logger/sl"
)

var ErrDisconnected = errors.New("signaling channel is reconnecting")

type WSOptions struct {
	// URL is the signaling server base, e.g. ws://localhost:8080.
	URL  string
	Join Join

	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	Backoff        time.Duration
	MaxMessageSize int64
	InboxSize      int

	// OnStatus is called on every connection status change.
	OnStatus func(Status)
	Dialer   *websocket.Dialer
}

// WSOptionsFromConfig points join at the configured signaling server.
func WSOptionsFromConfig(cfg config.SignalingConfig, join Join) WSOptions {
	return WSOptions{
		URL:            cfg.URL,
		Join:           join,
		PingInterval:   cfg.PingInterval,
		PongWait:       cfg.PongWait,
		WriteWait:      cfg.WriteWait,
		Backoff:        cfg.ReconnectBackoff,
		MaxMessageSize: cfg.MaxMessageSize,
		InboxSize:      cfg.OutboxSize,
	}
}

func (o *WSOptions) setDefaults() {
	if o.PingInterval <= 0 {
		o.PingInterval = 20 * time.Second
	}
	if o.PongWait <= o.PingInterval {
		o.PongWait = o.PingInterval * 3 / 2
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 1 << 20
	}
	if o.InboxSize <= 0 {
		o.InboxSize = 64
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.Join.ParticipantID == "" {
		o.Join.ParticipantID = uuid.NewString()
	}
}

// WSChannel is a Channel over the server websocket. A dropped connection is
// redialed with a fixed backoff under the same participant id; the server
// treats every redial as a fresh join.
type WSChannel struct {
	opts     WSOptions
	endpoint string
	log      *slog.Logger

	messages chan domain.SignalMessage
	ctx      context.Context
	cancel   context.CancelFunc

	mu     sync.Mutex
	conn   *websocket.Conn
	status Status

	closeOnce sync.Once
	done      chan struct{}
}

var _ Channel = (*WSChannel)(nil)

// DialWS connects to the session. Only the first dial is reported as an
// error; later drops are retried in the background.
func DialWS(ctx context.Context, opts WSOptions, log *slog.Logger) (*WSChannel, error) {
	opts.setDefaults()
	endpoint, err := Endpoint(opts.URL, opts.Join)
	if err != nil {
		return nil, err
	}

	c := &WSChannel{
		opts:     opts,
		endpoint: endpoint,
		log: log.With(
			slog.String("session_id", opts.Join.SessionID),
			slog.String("participant_id", opts.Join.ParticipantID),
		),
		messages: make(chan domain.SignalMessage, opts.InboxSize),
		done:     make(chan struct{}),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.setStatus(StatusConnecting)

	conn, err := c.dial(ctx)
	if err != nil {
		c.cancel()
		c.setStatus(StatusClosed)
		return nil, err
	}
	c.attach(conn)
	go c.run(conn)

	return c, nil
}

// Endpoint builds the websocket URL for join under base.
func Endpoint(base string, join Join) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse signaling url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported signaling scheme %q", u.Scheme)
	}
	u.Path = path.Join(u.Path, "/api/sessions", url.PathEscape(join.SessionID), "ws")

	q := u.Query()
	q.Set("id", join.ParticipantID)
	q.Set("name", join.DisplayName)
	q.Set("role", string(join.Role))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *WSChannel) ID() string { return c.opts.Join.ParticipantID }

func (c *WSChannel) Messages() <-chan domain.SignalMessage { return c.messages }

func (c *WSChannel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Send writes msg on the current connection. It fails fast with
// ErrDisconnected while a redial is in progress; nothing is queued.
func (c *WSChannel) Send(ctx context.Context, msg domain.SignalMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := domain.EncodeMessage(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.status == StatusClosed:
		return ErrClosed
	case c.conn == nil:
		return ErrDisconnected
	}
	deadline := time.Now().Add(c.opts.WriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", msg.Type, err)
	}
	return nil
}

// Close leaves the session and stops reconnecting. Messages is closed once
// the background loop has exited.
func (c *WSChannel) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.opts.WriteWait))
			_ = conn.Close()
		}
		<-c.done
	})
	return nil
}

func (c *WSChannel) run(conn *websocket.Conn) {
	defer func() {
		c.setStatus(StatusClosed)
		close(c.messages)
		close(c.done)
	}()

	for {
		err := c.readLoop(conn)
		c.detach(conn)
		if c.ctx.Err() != nil {
			return
		}
		c.log.Warn("signaling connection lost, reconnecting", sl.Err(err))
		c.setStatus(StatusReconnecting)

		conn = c.redial()
		if conn == nil {
			return
		}
		c.attach(conn)
		c.log.Info("signaling connection restored")
	}
}

func (c *WSChannel) redial() *websocket.Conn {
	retry := NewRetry(c.opts.Backoff, 0)
	for retry.Fail(c.ctx) {
		conn, err := c.dial(c.ctx)
		if err == nil {
			return conn
		}
		c.log.Debug("redial failed", slog.Int("attempt", retry.Failures()), sl.Err(err))
	}
	return nil
}

func (c *WSChannel) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := c.opts.Dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial signaling: %w", err)
	}
	return conn, nil
}

// readLoop pumps inbound messages until the connection fails.
func (c *WSChannel) readLoop(conn *websocket.Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	go c.ping(conn, stop)

	conn.SetReadLimit(c.opts.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.opts.WriteWait))
	})
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))

		msg, err := domain.DecodeMessage(data)
		if err != nil {
			c.log.Debug("dropping malformed message", sl.Err(err))
			continue
		}
		select {
		case c.messages <- msg:
		case <-c.ctx.Done():
			return c.ctx.Err()
		}
	}
}

func (c *WSChannel) ping(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait)); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func (c *WSChannel) attach(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setStatus(StatusConnected)
}

func (c *WSChannel) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *WSChannel) setStatus(status Status) {
	c.mu.Lock()
	if c.status == status || c.status == StatusClosed {
		c.mu.Unlock()
		return
	}
	c.status = status
	c.mu.Unlock()

	if c.opts.OnStatus != nil {
		c.opts.OnStatus(status)
	}
}
