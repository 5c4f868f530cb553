package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/i474232898/live-weather-tracker/internal/common"
)

var errAlreadyStarted = errors.New("feed listener already started")

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
)

// Listener holds one websocket connection and accumulates the elements of every
// JSON array it receives, in receipt order.
type Listener struct {
	url      string
	maxItems int
	logger   *slog.Logger
	dialer   *websocket.Dialer

	mu      sync.RWMutex
	items   []json.RawMessage
	conn    *websocket.Conn
	started bool

	done      chan struct{}
	closeOnce sync.Once
}

// NewListener creates a listener for url. maxItems caps the accumulated
// sequence, evicting the oldest items first; 0 keeps everything.
func NewListener(url string, maxItems int, logger *slog.Logger) *Listener {
	return &Listener{
		url:      url,
		maxItems: maxItems,
		logger:   logger.With("component", "feed", "url", url),
		dialer:   websocket.DefaultDialer,
		done:     make(chan struct{}),
	}
}

// Start dials the endpoint and starts reading in the background. A listener
// holds a single connection: Start succeeds at most once.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	switch {
	case l.closed():
		l.mu.Unlock()
		return fmt.Errorf("%w: listener closed", common.ErrConnection)
	case l.started:
		l.mu.Unlock()
		return errAlreadyStarted
	}
	l.started = true
	l.mu.Unlock()

	if l.maxItems <= 0 {
		l.logger.Warn("feed retention is unbounded; memory grows with every message")
	}

	conn, _, err := l.dialer.DialContext(ctx, l.url, nil)
	if err != nil {
		l.mu.Lock()
		l.started = false
		l.mu.Unlock()
		return fmt.Errorf("%w: dial %s: %v", common.ErrConnection, l.url, err)
	}
	conn.SetReadLimit(maxMessageSize)

	l.mu.Lock()
	if l.closed() {
		l.mu.Unlock()
		conn.Close()
		return fmt.Errorf("%w: listener closed", common.ErrConnection)
	}
	l.conn = conn
	l.mu.Unlock()

	l.logger.Info("feed connected")
	go l.readLoop(conn)
	return nil
}

func (l *Listener) closed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

func (l *Listener) readLoop(conn *websocket.Conn) {
	defer func() {
		conn.Close()
		l.mu.Lock()
		if l.conn == conn {
			l.conn = nil
		}
		l.mu.Unlock()
		l.closeOnce.Do(func() { close(l.done) })
		l.logger.Info("feed disconnected")
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) &&
				websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.logger.Error("feed read error", "error", fmt.Errorf("%w: %v", common.ErrConnection, err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		l.logger.Debug("feed message received", "size", len(data))
		if err := l.handleMessage(data); err != nil {
			l.logger.Warn("dropping feed message", "error", err, "payload", string(data))
		}
	}
}

// handleMessage appends the elements of a JSON array message.
func (l *Listener) handleMessage(data []byte) error {
	var batch []json.RawMessage
	if err := json.Unmarshal(data, &batch); err != nil {
		return fmt.Errorf("%w: %v", common.ErrParse, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.items = append(l.items, batch...)
	if l.maxItems > 0 && len(l.items) > l.maxItems {
		over := len(l.items) - l.maxItems
		l.items = append([]json.RawMessage(nil), l.items[over:]...)
	}
	return nil
}

// Items returns a copy of the accumulated sequence.
func (l *Listener) Items() []json.RawMessage {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]json.RawMessage, len(l.items))
	copy(out, l.items)
	return out
}

// Conn returns the live connection, or nil before Start and once it is gone.
func (l *Listener) Conn() *websocket.Conn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.conn
}

// Done is closed once the connection is gone.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Close closes the connection. Idempotent.
func (l *Listener) Close() error {
	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()

	defer l.closeOnce.Do(func() { close(l.done) })
	if conn == nil {
		return nil
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	err := conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
