package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kamalbuilds/aptos-markets/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// TickHandler is called for every normalized price reading.
type TickHandler func(domain.SourceReading)

// WSClient is a websocket client for a streaming price provider. It manages
// the connection lifecycle, subscriptions, and dispatches normalized
// readings to registered handlers.
type WSClient struct {
	name  string
	wsURL string
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool

	// Subscriptions to restore on reconnect.
	symbols []string

	handlerMu sync.RWMutex
	handlers  []TickHandler

	// done is closed when the client is shut down.
	done chan struct{}
}

// NewWSClient creates a websocket client for the given provider endpoint.
// The name is attached to every reading as its source.
func NewWSClient(name, wsURL string) *WSClient {
	return &WSClient{
		name:  name,
		wsURL: wsURL,
		done:  make(chan struct{}),
	}
}

// Name returns the source name attached to readings from this client.
func (w *WSClient) Name() string { return w.name }

// Connect establishes the websocket connection.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("pricefeed/ws: client closed")
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("pricefeed/ws: connect %s: %w", w.name, err)
	}

	w.conn = conn

	// Set up pong handler for keep-alive.
	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop()
	go w.pingLoop()

	// Restore the subscription after reconnect.
	if len(w.symbols) > 0 {
		if err := w.sendCommand(subscribeCommand{Type: "subscribe", Symbols: w.symbols}); err != nil {
			return fmt.Errorf("pricefeed/ws: restore subscription: %w", err)
		}
	}

	return nil
}

// Subscribe subscribes to price updates for the given symbols.
func (w *WSClient) Subscribe(ctx context.Context, symbols []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("pricefeed/ws: not connected")
	}

	if err := w.sendCommand(subscribeCommand{Type: "subscribe", Symbols: symbols}); err != nil {
		return fmt.Errorf("pricefeed/ws: subscribe: %w", err)
	}

	// Track for reconnection.
	w.symbols = append(w.symbols, symbols...)
	return nil
}

// OnTick registers a handler called for every price reading.
func (w *WSClient) OnTick(handler TickHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.handlers = append(w.handlers, handler)
}

// Close shuts down the websocket connection and stops the read loop.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}

	return nil
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// sendCommand sends a JSON command over the websocket. Caller must hold w.mu.
func (w *WSClient) sendCommand(cmd subscribeCommand) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop continuously reads messages from the websocket and dispatches
// them to handlers. On disconnect it attempts to reconnect with exponential
// backoff.
func (w *WSClient) readLoop() {
	defer func() {
		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}

			w.reconnect()
			return // readLoop is restarted by reconnect -> Connect
		}

		w.handleMessage(message)
	}
}

// pingLoop sends periodic ping messages to keep the websocket alive.
func (w *WSClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.RLock()
			conn := w.conn
			w.mu.RUnlock()

			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw websocket message and dispatches tick messages.
// Non-tick messages (acks, heartbeats) are silently dropped.
func (w *WSClient) handleMessage(raw []byte) {
	var tick TickMessage
	if err := json.Unmarshal(raw, &tick); err != nil {
		return
	}
	if tick.Type != "" && tick.Type != "tick" {
		return
	}
	if tick.Symbol == "" || tick.Price == 0 {
		return
	}

	reading := tick.ToReading(w.name, time.Now())

	w.handlerMu.RLock()
	handlers := w.handlers
	w.handlerMu.RUnlock()

	for _, h := range handlers {
		h(reading)
	}
}

// reconnect attempts to re-establish the websocket connection with
// exponential backoff. It blocks until successful or the client is closed.
func (w *WSClient) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
