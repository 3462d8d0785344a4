package bithumb

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/bithumbbot/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	// DefaultWSURL is the Bithumb public websocket endpoint.
	DefaultWSURL = "wss://pubwss.bithumb.com/pub/ws"

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

// TickerHandler is called for every ticker update received on the stream.
// symbol is the bare coin symbol (e.g. "BTC"), price is the close price in KRW.
type TickerHandler func(symbol string, price float64, ts time.Time)

// wsCommand is the subscription message for the Bithumb public stream.
type wsCommand struct {
	Type      string   `json:"type"`
	Symbols   []string `json:"symbols"`
	TickTypes []string `json:"tickTypes,omitempty"`
}

// wsEnvelope is the outer shape of every inbound message. Control acks carry
// status/resmsg, data messages carry type/content.
type wsEnvelope struct {
	Status  string          `json:"status"`
	ResMsg  string          `json:"resmsg"`
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

// wsTickerContent is the payload of a "ticker" message.
type wsTickerContent struct {
	Symbol     string `json:"symbol"`
	TickType   string `json:"tickType"`
	ClosePrice string `json:"closePrice"`
	Date       string `json:"date"`
	Time       string `json:"time"`
}

// WSClient is a WebSocket client for the Bithumb public real-time data feed.
// It manages the connection lifecycle, subscriptions, and dispatches ticker
// updates to registered handlers.
type WSClient struct {
	wsURL string
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool

	// Subscriptions to restore on reconnect.
	subscriptions []wsCommand

	tickerHandlers []TickerHandler
	handlerMu      sync.RWMutex

	// done is closed when the client is shut down.
	done chan struct{}
}

// NewWSClient creates a new WebSocket client for the given endpoint. Pass
// DefaultWSURL for production use.
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL: wsURL,
		done:  make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the read loop.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("bithumb/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("bithumb/ws: connect: %w", err)
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

	// Restore any previous subscriptions after reconnect.
	for _, cmd := range w.subscriptions {
		if err := w.sendCommand(cmd); err != nil {
			return fmt.Errorf("bithumb/ws: restore subscription: %w", err)
		}
	}

	return nil
}

// SubscribeTicker subscribes to 24H ticker updates for the given coin symbols
// (e.g. "BTC", "ETH"). Symbols are sent to the exchange paired with KRW.
func (w *WSClient) SubscribeTicker(ctx context.Context, symbols []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("bithumb/ws: not connected")
	}

	pairs := make([]string, len(symbols))
	for i, sym := range symbols {
		pairs[i] = sym + "_KRW"
	}

	cmd := wsCommand{
		Type:      "ticker",
		Symbols:   pairs,
		TickTypes: []string{"24H"},
	}
	if err := w.sendCommand(cmd); err != nil {
		return fmt.Errorf("bithumb/ws: subscribe ticker: %w", err)
	}

	w.subscriptions = append(w.subscriptions, cmd)
	return nil
}

// Close shuts down the WebSocket connection and stops the read loop.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	close(w.done)

	if w.conn != nil {
		// Send a close message to the server.
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}

	return nil
}

// OnTicker registers a handler that is called for every ticker update.
func (w *WSClient) OnTicker(handler TickerHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.tickerHandlers = append(w.tickerHandlers, handler)
}

// sendCommand sends a JSON command to the WebSocket. Caller must hold w.mu.
func (w *WSClient) sendCommand(cmd wsCommand) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop continuously reads messages from the WebSocket and dispatches
// them to the registered handlers. It runs in its own goroutine.
// On disconnect, it attempts to reconnect with exponential backoff.
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
			// Check if we've been shut down.
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

// pingLoop sends periodic ping messages to keep the WebSocket alive.
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

// handleMessage parses a raw WebSocket message and dispatches ticker updates.
// Subscription acks (status/resmsg) and unknown message types are dropped.
func (w *WSClient) handleMessage(raw []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return // Silently drop unparseable messages.
	}

	if env.Type != "ticker" || len(env.Content) == 0 {
		return
	}

	var tick wsTickerContent
	if err := json.Unmarshal(env.Content, &tick); err != nil {
		return
	}

	price, err := strconv.ParseFloat(tick.ClosePrice, 64)
	if err != nil || price <= 0 {
		return
	}

	symbol := tick.Symbol
	if i := len(symbol) - len("_KRW"); i > 0 && symbol[i:] == "_KRW" {
		symbol = symbol[:i]
	}

	w.handlerMu.RLock()
	handlers := w.tickerHandlers
	w.handlerMu.RUnlock()

	now := time.Now()
	for _, h := range handlers {
		h(symbol, price, now)
	}
}

// reconnect attempts to re-establish the WebSocket connection with
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

		// Exponential backoff.
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
