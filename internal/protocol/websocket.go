package protocol

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/River-unknown/kit/internal/errors"
	"github.com/River-unknown/kit/pkg/log"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultReconnectTimeout = 2 * time.Minute
)

// Handler receives the messages the queue server pushes without a request, e.g. attempt:abort.
type Handler func(msg *Message)

type result struct {
	msg *Message
	err error
}

// Client is a Channel over a persistent websocket connection. Lost connections are re-established
// with exponential backoff; when that fails for longer than the reconnect timeout the client shuts
// down and Done is closed. Writes issued while reconnecting wait for the new connection, and
// requests whose reply was lost with the old connection are sent again.
type Client struct {
	logger           log.Logger
	handler          Handler
	dialer           *websocket.Dialer
	header           http.Header
	pending          *xsync.MapOf[string, chan result]
	conn             *websocket.Conn
	ready            chan struct{}
	ctx              context.Context
	err              error
	cancel           context.CancelFunc
	done             chan struct{}
	url              string
	reconnectTimeout time.Duration
	connMu           sync.RWMutex
	writeMu          sync.Mutex
	doneOnce         sync.Once
	closed           atomic.Bool
}

// Option configures a Client.
type Option func(*Client)

func WithLogger(logger log.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSecret authenticates the worker with a bearer token.
func WithSecret(secret string) Option {
	return func(c *Client) {
		if secret != "" {
			c.header.Set("Authorization", "Bearer "+secret)
		}
	}
}

func WithHandler(handler Handler) Option {
	return func(c *Client) {
		c.handler = handler
	}
}

func WithReconnectTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.reconnectTimeout = timeout
	}
}

// Dial connects to the queue server at url, retrying with backoff until the reconnect timeout.
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	client := &Client{
		url:              url,
		logger:           log.Default(),
		header:           make(http.Header),
		dialer:           &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: defaultHandshakeTimeout},
		pending:          xsync.NewMapOf[string, chan result](),
		done:             make(chan struct{}),
		reconnectTimeout: defaultReconnectTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	client.ctx, client.cancel = context.WithCancel(context.WithoutCancel(ctx))

	conn, err := client.connect(ctx)
	if err != nil {
		client.cancel()
		return nil, err
	}

	client.ready = make(chan struct{})
	client.setConnection(conn)

	go client.readLoop(conn)

	return client, nil
}

// Done is closed once the client is closed or the connection could not be re-established.
func (client *Client) Done() <-chan struct{} {
	return client.done
}

// Err returns the reason the client shut down, nil after Close.
func (client *Client) Err() error {
	<-client.done
	return client.err
}

func (client *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = client.reconnectTimeout

	var conn *websocket.Conn

	operation := func() error {
		var (
			resp *http.Response
			err  error
		)

		conn, resp, err = client.dialer.DialContext(ctx, client.url, client.header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close() //nolint:errcheck
		}

		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		return err
	}

	notify := func(err error, next time.Duration) {
		client.logger.Warnf("Unable to connect to queue server %s: %v. Retrying in %s.", client.url, err, next)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify); err != nil {
		return nil, ProtocolError{Err: errors.Errorf("connect to %s: %w", client.url, err)}
	}

	client.logger.Debugf("Connected to queue server %s", client.url)

	return conn, nil
}

func (client *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if client.closed.Load() {
				return
			}

			client.logger.Warnf("Lost connection to queue server: %v", err)
			client.dropConnection(conn)
			client.failPending(ProtocolError{Err: err})

			if conn, err = client.connect(client.ctx); err != nil {
				if client.closed.Load() {
					return
				}

				client.logger.Errorf("Giving up on queue server: %v", err)
				client.shutdown(err)

				return
			}

			client.setConnection(conn)

			// Close may have run while the connection was being swapped in.
			if client.closed.Load() {
				conn.Close() //nolint:errcheck
				return
			}

			continue
		}

		msg, err := DecodeMessage(data)
		if err != nil {
			client.logger.Warnf("Ignoring queue message: %v", err)
			continue
		}

		if msg.IsReply() {
			if replies, ok := client.pending.LoadAndDelete(msg.Ref); ok {
				replies <- result{msg: msg}
			} else {
				client.logger.Debugf("Ignoring reply to unknown ref %q", msg.Ref)
			}

			continue
		}

		if client.handler != nil {
			client.handler(msg)
		} else {
			client.logger.Warnf("Ignoring unexpected %s event on %s", msg.Event, msg.Topic)
		}
	}
}

func (client *Client) failPending(err error) {
	client.pending.Range(func(ref string, _ chan result) bool {
		if replies, ok := client.pending.LoadAndDelete(ref); ok {
			replies <- result{err: err}
		}

		return true
	})
}

// connection returns the live connection, or nil and a channel that is closed once a new one is up.
func (client *Client) connection() (*websocket.Conn, <-chan struct{}) {
	client.connMu.RLock()
	defer client.connMu.RUnlock()

	return client.conn, client.ready
}

// dropConnection marks conn as lost. Later writes wait until setConnection.
func (client *Client) dropConnection(conn *websocket.Conn) {
	client.connMu.Lock()
	defer client.connMu.Unlock()

	if client.conn == conn {
		client.conn = nil
		client.ready = make(chan struct{})
	}
}

func (client *Client) setConnection(conn *websocket.Conn) {
	client.connMu.Lock()
	defer client.connMu.Unlock()

	client.conn = conn
	close(client.ready)
}

func (client *Client) isDone() bool {
	select {
	case <-client.done:
		return true
	default:
		return false
	}
}

// write sends msg, waiting for a reconnect when the connection is down. It fails with
// ConnectionClosedError once the client is closed or has given up on the queue server.
func (client *Client) write(ctx context.Context, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.New(err)
	}

	for {
		if client.closed.Load() || client.isDone() {
			return ConnectionClosedError{}
		}

		conn, ready := client.connection()
		if conn == nil {
			select {
			case <-ready:
				continue
			case <-client.done:
				return ConnectionClosedError{}
			case <-ctx.Done():
				return errors.New(ctx.Err())
			}
		}

		client.writeMu.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		client.writeMu.Unlock()

		if err == nil {
			return nil
		}

		if client.closed.Load() {
			return ConnectionClosedError{}
		}

		client.logger.Debugf("Unable to send %s, waiting for reconnect: %v", msg.Event, err)

		// Closing conn wakes readLoop up so it reconnects.
		client.dropConnection(conn)
		conn.Close() //nolint:errcheck
	}
}

// Push implements Channel.
func (client *Client) Push(ctx context.Context, topic, event string, payload any) error {
	msg, err := NewMessage(topic, event, "", payload)
	if err != nil {
		return err
	}

	return client.write(ctx, msg)
}

// Request implements Channel.
func (client *Client) Request(ctx context.Context, topic, event string, payload, reply any) error {
	ref := uuid.NewString()

	msg, err := NewMessage(topic, event, ref, payload)
	if err != nil {
		return err
	}

	defer client.pending.Delete(ref)

	for {
		replies := make(chan result, 1)
		client.pending.Store(ref, replies)

		if err := client.write(ctx, msg); err != nil {
			return err
		}

		select {
		case res := <-replies:
			if res.err == nil {
				return decodeReply(event, res.msg, reply)
			}

			// The connection dropped before the reply arrived: send again on the next one.
			var lost ProtocolError
			if errors.As(res.err, &lost) {
				client.logger.Debugf("Resending %s %s after reconnect", event, ref)
				continue
			}

			return res.err
		case <-ctx.Done():
			return errors.New(ctx.Err())
		case <-client.done:
			return ConnectionClosedError{}
		}
	}
}

func decodeReply(event string, msg *Message, reply any) error {
	var payload ReplyPayload
	if err := msg.Decode(&payload); err != nil {
		return err
	}

	if payload.Status != ReplyOK {
		return RequestRejectedError{Event: event, Response: string(payload.Response)}
	}

	if reply == nil || len(payload.Response) == 0 {
		return nil
	}

	if err := json.Unmarshal(payload.Response, reply); err != nil {
		return ProtocolError{Event: event, Err: err}
	}

	return nil
}

// Close implements Channel.
func (client *Client) Close() error {
	if !client.closed.CompareAndSwap(false, true) {
		return nil
	}

	client.cancel()

	var err error

	// conn is nil while a reconnect is in progress; readLoop closes the new one.
	if conn, _ := client.connection(); conn != nil {
		client.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		client.writeMu.Unlock()

		err = conn.Close()
	}

	client.failPending(ConnectionClosedError{})
	client.shutdown(nil)

	if err != nil {
		return errors.New(err)
	}

	return nil
}

func (client *Client) shutdown(err error) {
	client.doneOnce.Do(func() {
		client.err = err
		close(client.done)
	})
}
