package server

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/net/websocket"

	"github.com/tallyhq/tally/internal/hub"
)

// writeTimeout bounds one live event write. A viewer that stops reading hits
// the deadline, the send fails, and the hub drops the channel instead of
// blocking the mutation that triggered the broadcast.
const writeTimeout = 5 * time.Second

// clientMessage is what a connected viewer may send over the socket. The only
// recognized type is "subscribe", which switches the connection to another
// group's events.
type clientMessage struct {
	Type  string `json:"type"`
	Group string `json:"groupIdentifier"`
}

// wsChannel adapts a websocket connection to the hub's LiveChannel. JSON.Send
// serializes writes internally, so concurrent broadcasts are safe.
type wsChannel struct {
	conn *websocket.Conn
}

func (c *wsChannel) Send(ev hub.Event) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return websocket.JSON.Send(c.conn, ev)
}

// liveSocketHandler upgrades the request and serves the live event stream for
// the group addressed in the path.
func (s *Server) liveSocketHandler() http.Handler {
	return websocket.Handler(s.serveLiveSocket)
}

func (s *Server) serveLiveSocket(conn *websocket.Conn) {
	defer conn.Close()

	ch := &wsChannel{conn: conn}
	code := conn.Request().PathValue("code")

	// Track every group this connection subscribed to so close cleans up all
	// of them.
	subscribed := map[string]struct{}{}
	subscribe := func(code string) {
		if code == "" {
			return
		}
		s.hub.SubscribeLiveViewer(code, ch)
		subscribed[code] = struct{}{}
	}
	defer func() {
		for code := range subscribed {
			s.hub.UnsubscribeLiveViewer(code, ch)
		}
	}()

	subscribe(code)
	slog.Debug("Live viewer connected", "group", code, "remote_addr", conn.Request().RemoteAddr)

	for {
		var msg clientMessage
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			if err != io.EOF {
				slog.Debug("Live viewer read failed", "error", err)
			}
			return
		}
		if msg.Type == "subscribe" {
			subscribe(msg.Group)
		}
	}
}
