// Package signal is the client side of the messaging transport: a websocket
// connection carrying destination-routed JSON frames.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/jmorel/visio/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

const sendBuffer = 32

// Client is one authenticated transport connection. Handlers registered with
// Subscribe run on the single reader goroutine, so delivery order per
// destination is the order frames arrived in.
type Client struct {
	conn *websocket.Conn
	send chan []byte

	mu       sync.RWMutex
	handlers map[string][]func(body []byte)
	closed   bool
	done     chan struct{}
}

// Dial connects and authenticates against the server's websocket endpoint.
func Dial(ctx context.Context, url, token string) (*Client, error) {
	header := http.Header{}
	if token != "" {
		header.Add("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("connect signal transport: %w", err)
	}

	c := &Client{
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		handlers: make(map[string][]func([]byte)),
		done:     make(chan struct{}),
	}
	go c.writePump()
	go c.readPump()
	log.Info().Str("module", "signal").Str("url", url).Msg("transport connected")
	return c, nil
}

// Publish delivers a JSON-encoded payload to a server destination.
// Fire-and-forget: returns ErrBackpressure instead of blocking when the
// outbound buffer is full.
func (c *Client) Publish(destination string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return c.trySend(domain.Frame{Command: domain.FrameSend, Destination: destination, Body: body})
}

// Subscribe registers a handler for a delivery destination and announces the
// subscription to the server.
func (c *Client) Subscribe(destination string, fn func(body []byte)) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.handlers[destination] = append(c.handlers[destination], fn)
	c.mu.Unlock()
	return c.trySend(domain.Frame{Command: domain.FrameSubscribe, Destination: destination})
}

func (c *Client) trySend(f domain.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

// Done is closed when the connection is gone, however it ended.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (c *Client) writePump() {
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
			return
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.Close()
		close(c.done)
		log.Info().Str("module", "signal").Msg("readPump closing")
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.RLock()
			closed := c.closed
			c.mu.RUnlock()
			if !closed {
				log.Error().Err(err).Str("module", "signal").Msg("readPump read error")
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var f domain.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad frame")
		return
	}
	if f.Command != domain.FrameMessage {
		log.Warn().Str("module", "signal").Str("command", string(f.Command)).Msg("unexpected frame")
		return
	}
	c.mu.RLock()
	handlers := c.handlers[f.Destination]
	c.mu.RUnlock()
	if len(handlers) == 0 {
		log.Warn().Str("module", "signal").Str("destination", f.Destination).Msg("message with no subscriber")
		return
	}
	for _, fn := range handlers {
		fn(f.Body)
	}
}
