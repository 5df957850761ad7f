package infra

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// StreamFunc writes to conn until ctx is done or it fails. ctx is cancelled
// once the peer goes away or stops answering pings.
type StreamFunc func(ctx context.Context, conn *websocket.Conn) error

// Websocket upgrader with heartbeat settings
type Websocket struct {
	upgrader     websocket.Upgrader
	writeWait    time.Duration
	pongWait     time.Duration
	pingInterval time.Duration
}

// NewWebsocket .
func NewWebsocket() *Websocket {
	pongWait := 30 * time.Second
	return &Websocket{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			HandshakeTimeout: 3 * time.Second,
		},
		writeWait:    10 * time.Second,
		pongWait:     pongWait,
		pingInterval: pongWait * 9 / 10,
	}
}

// WriteWait deadline for a single write
func (ws *Websocket) WriteWait() time.Duration {
	return ws.writeWait
}

// WithHeartbeat upgrade the request and run handler alongside ping/pong probing,
// the call blocks until the connection is done
func (ws *Websocket) WithHeartbeat(handler StreamFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		conn, err := ws.upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			// upgrader has already replied
			return nil
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(c.Request().Context())
		defer cancel()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			defer cancel()
			ws.readRoutine(conn)
		}()
		go func() {
			defer wg.Done()
			ws.heartbeatRoutine(ctx, conn)
		}()

		err = handler(ctx, conn)
		cancel()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(ws.writeWait))
		conn.Close()
		wg.Wait()
		return err
	}
}

// readRoutine drains inbound frames so control frames get processed
func (ws *Websocket) readRoutine(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(ws.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(ws.pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (ws *Websocket) heartbeatRoutine(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(ws.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ws.writeWait)); err != nil {
				return
			}
		}
	}
}
