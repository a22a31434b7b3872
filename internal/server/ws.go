package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrBackpressure = errors.New("backpressure")

const sendBuffer = 32

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient is one user's websocket connection plus the destinations it
// subscribed to.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	subs   map[string]bool
	closed bool
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		subs: make(map[string]bool),
	}
}

func (c *wsClient) subscribe(destination string) {
	c.mu.Lock()
	c.subs[destination] = true
	c.mu.Unlock()
}

func (c *wsClient) subscribed(destination string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[destination]
}

func (c *wsClient) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsClient) Close() {
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

const defaultPingPeriod = 54 * time.Second

// HandleWS authenticates the upgrade request and runs the connection pumps.
// The token comes from the Authorization header, or from the "token" query
// param for clients that cannot set headers on the websocket handshake.
// Idle connections are kept alive with pings every pingPeriod; a peer that
// misses the pong window is read-timed out.
func (h *Hub) HandleWS(auth *Auth, readLimit int64, pingPeriod time.Duration) gin.HandlerFunc {
	if pingPeriod <= 0 {
		pingPeriod = defaultPingPeriod
	}
	pongWait := pingPeriod * 10 / 9
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("token")
		}
		username, ok := auth.Principal(token)
		if !ok {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Error().Err(err).Str("module", "server.ws").Msg("ws upgrade")
			return
		}
		if readLimit > 0 {
			ws.SetReadLimit(readLimit)
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})

		conn := newWSClient(ws)
		h.register(username, conn)

		// The request context dies when the handler returns; the hijacked
		// connection outlives it.
		ctx, cancel := context.WithCancel(context.Background())
		go h.writePump(ctx, conn, pingPeriod)
		go h.readPump(ctx, cancel, username, conn)
	}
}

func (h *Hub) writePump(ctx context.Context, c *wsClient, pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("module", "server.ws").Msg("writePump ping error")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "server.ws").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "server.ws").Msg("writePump write error")
				return
			}
		}
	}
}

func (h *Hub) readPump(ctx context.Context, cancel context.CancelFunc, username string, c *wsClient) {
	defer func() {
		cancel()
		h.unregister(username, c)
		c.Close()
		log.Info().Str("module", "server.ws").Str("username", username).Msg("readPump closing")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				return
			}
			h.handleFrame(username, c, data)
		}
	}
}
