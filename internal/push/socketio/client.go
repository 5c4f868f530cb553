package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/i474232898/live-weather-tracker/internal/common"
	"github.com/i474232898/live-weather-tracker/internal/push"
)

const (
	writeWait        = 10 * time.Second
	handshakeTimeout = 10 * time.Second
	defaultLiveness  = 45 * time.Second
	maxMessageSize   = 1 << 20
)

// Client is a receive-only Socket.IO client speaking Engine.IO v4 over a
// websocket. Every event is handed to the Sink from the read loop, so events
// are delivered one at a time in arrival order.
type Client struct {
	url       string
	namespace string
	sink      push.Sink
	logger    *slog.Logger
	dialer    *websocket.Dialer

	mu        sync.Mutex
	ws        *websocket.Conn
	connected bool

	writeMu  sync.Mutex
	done     chan struct{}
	stopOnce sync.Once
}

var _ push.Transport = (*Client)(nil)

// NewClient prepares a client for the server at rawURL (http, https, ws or wss).
// A URL without a path connects to /socket.io/.
func NewClient(rawURL string, sink push.Sink, logger *slog.Logger) (*Client, error) {
	endpoint, err := endpointURL(rawURL)
	if err != nil {
		return nil, err
	}
	return &Client{
		url:       endpoint,
		namespace: "/",
		sink:      sink,
		logger:    logger.With("transport", "socketio"),
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
		},
		done: make(chan struct{}),
	}, nil
}

func endpointURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid push url %q: %w", rawURL, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid push url %q: unsupported scheme %q", rawURL, u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/socket.io/"
	}
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect dials the server, completes the Engine.IO handshake, joins the
// namespace and starts the read loop. There is no reconnect: once the
// connection drops, Done is closed and the loss is logged.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.done:
		return fmt.Errorf("%w: client closed", common.ErrConnection)
	default:
	}

	ws, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", common.ErrConnection, c.url, err)
	}
	ws.SetReadLimit(maxMessageSize)

	hs, err := readHandshake(ws)
	if err != nil {
		ws.Close()
		return err
	}

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()

	if err := c.write(encodeConnect(c.namespace)); err != nil {
		ws.Close()
		return fmt.Errorf("%w: namespace connect: %v", common.ErrConnection, err)
	}

	c.logger.Info("push channel handshake complete", "sid", hs.SID, "pingInterval", hs.PingInterval)
	go c.readLoop(ws, hs.liveness())
	return nil
}

func readHandshake(ws *websocket.Conn) (handshake, error) {
	ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, frame, err := ws.ReadMessage()
	if err != nil {
		return handshake{}, fmt.Errorf("%w: read handshake: %v", common.ErrConnection, err)
	}
	p, err := decodePacket(frame)
	if err != nil {
		return handshake{}, err
	}
	if p.eio != eioOpen {
		return handshake{}, fmt.Errorf("%w: expected open packet, got %q", common.ErrParse, p.eio)
	}
	var hs handshake
	if err := json.Unmarshal(p.data, &hs); err != nil {
		return handshake{}, fmt.Errorf("%w: handshake body: %v", common.ErrParse, err)
	}
	return hs, nil
}

func (c *Client) readLoop(ws *websocket.Conn, liveness time.Duration) {
	defer func() {
		c.setConnected(false)
		ws.Close()
		c.stop()
	}()

	for {
		ws.SetReadDeadline(time.Now().Add(liveness))
		_, frame, err := ws.ReadMessage()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			c.logger.Warn("push channel closed", "error", fmt.Errorf("%w: %v", common.ErrConnection, err))
			return
		}

		if !c.handleFrame(frame) {
			return
		}
	}
}

// handleFrame processes one frame and reports whether the loop should continue.
func (c *Client) handleFrame(frame []byte) bool {
	p, err := decodePacket(frame)
	if err != nil {
		c.logger.Warn("dropping push packet", "error", err, "frame", string(frame))
		return true
	}

	switch p.eio {
	case eioPing:
		if err := c.write([]byte{eioPong}); err != nil {
			c.logger.Warn("failed to answer ping", "error", fmt.Errorf("%w: %v", common.ErrConnection, err))
			return false
		}
	case eioClose:
		c.logger.Warn("push channel closed by server", "error", common.ErrConnection)
		return false
	case eioMessage:
		return c.handleMessage(p)
	}
	return true
}

func (c *Client) handleMessage(p packet) bool {
	if p.namespace != c.namespace {
		c.logger.Debug("ignoring packet for other namespace", "namespace", p.namespace)
		return true
	}

	switch p.sio {
	case sioConnect:
		c.setConnected(true)
		c.logger.Info("push channel connected", "namespace", p.namespace)
	case sioDisconnect:
		c.logger.Warn("push channel disconnected by server", "namespace", p.namespace, "error", common.ErrConnection)
		return false
	case sioConnectError:
		c.logger.Error("push channel refused namespace", "namespace", p.namespace,
			"error", fmt.Errorf("%w: %s", common.ErrConnection, string(p.data)))
		return false
	case sioEvent:
		name, payload, err := p.event()
		if err != nil {
			c.logger.Warn("dropping push event", "error", err, "data", string(p.data))
			return true
		}
		c.logger.Debug("push event received", "event", name, "size", len(payload))
		c.sink.Dispatch(name, payload)
	default:
		c.logger.Debug("ignoring socket.io packet", "type", string(p.sio))
	}
	return true
}

func (c *Client) write(frame []byte) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return errors.New("not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(websocket.TextMessage, frame)
}

// IsConnected reports whether the namespace connect was acknowledged and the
// connection is still up.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Done is closed when the read loop exits or Close is called.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close leaves the namespace and closes the websocket. Idempotent.
func (c *Client) Close() error {
	_ = c.write([]byte{eioMessage, sioDisconnect})

	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	var err error
	if ws != nil {
		c.writeMu.Lock()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = ws.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
	}
	c.setConnected(false)
	c.stop()
	c.logger.Info("push channel closed")
	return err
}

func (c *Client) stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}
