package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/BranchIntl/relayq/relay"
	"golang.org/x/net/websocket"
)

// wsConn adapts a websocket connection to relay.Conn. Each frame carries one
// JSON encoded event.
type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) ReadEvent() (relay.Event, error) {
	var ev relay.Event
	err := websocket.JSON.Receive(c.ws, &ev)
	return ev, err
}

func (c *wsConn) WriteEvent(ev relay.Event) error {
	return websocket.JSON.Send(c.ws, ev)
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

// websocketHandler serves the real-time channel. Any origin is accepted.
func websocketHandler(r *relay.Relay) http.Handler {
	return websocket.Server{
		Handshake: func(config *websocket.Config, req *http.Request) error {
			return nil
		},
		Handler: func(ws *websocket.Conn) {
			err := r.Serve(ws.Request().Context(), &wsConn{ws: ws})
			if err != nil && !errors.Is(err, io.EOF) {
				slog.Debug("Websocket closed", "remote", ws.Request().RemoteAddr, "error", err)
			}
		},
	}
}
