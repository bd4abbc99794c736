package restapi

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"transitscope.dev/internal/logging"
	"transitscope.dev/internal/models"
)

const liveWriteTimeout = 10 * time.Second

var liveUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// liveClient ties one WebSocket connection to one snapshot subscription.
// Frames are written from the subscription's delivery goroutine, which
// serializes writes; the read loop only drains control frames and detects
// the client going away.
type liveClient struct {
	conn        *websocket.Conn
	logger      *slog.Logger
	unsubscribe func()
	onClose     func()
	closeOnce   sync.Once

	// ready is closed once unsubscribe is set, before any delivery runs.
	ready chan struct{}
}

func (api *RestAPI) liveHandler(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context()).With(slog.String("component", "live_stream"))

	conn, err := liveUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.LogError(logger, "websocket upgrade failed", err)
		return
	}

	if api.Metrics != nil {
		api.Metrics.LiveClients.Inc()
	}

	client := &liveClient{
		conn:   conn,
		logger: logger,
		ready:  make(chan struct{}),
	}
	if api.Metrics != nil {
		client.onClose = api.Metrics.LiveClients.Dec
	}

	client.unsubscribe = api.Cache.Subscribe(client.deliver)
	close(client.ready)

	logging.LogOperation(logger, "live_client_connected", slog.String("remote", r.RemoteAddr))
	go client.readLoop()
}

func (c *liveClient) deliver(snap models.Snapshot) {
	<-c.ready
	_ = c.conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
	if err := c.conn.WriteJSON(snap); err != nil {
		c.close()
	}
}

// readLoop discards inbound frames; its only job is noticing disconnects.
func (c *liveClient) readLoop() {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.close()
			return
		}
	}
}

func (c *liveClient) close() {
	c.closeOnce.Do(func() {
		<-c.ready
		c.unsubscribe()
		_ = c.conn.Close()
		if c.onClose != nil {
			c.onClose()
		}
		logging.LogOperation(c.logger, "live_client_disconnected")
	})
}
