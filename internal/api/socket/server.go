// Package socket provides the WebSocket firehose.
//
// Clients connect to / and receive every queue event as a JSON envelope.
// There is no client-to-server protocol; inbound messages are drained and
// ignored. Delivery is best-effort: a slow or gone connection silently
// loses events.
package socket

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/TheBlackParrot/SpinRequests/internal/app/broadcast"
)

const (
	writeWait      = 5 * time.Second
	sendBufferSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The firehose is read-only telemetry on a local port; any origin
	// may subscribe.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server accepts firehose subscribers and feeds them from the broadcaster.
type Server struct {
	broadcaster *broadcast.Broadcaster
	httpServer  *http.Server
}

// New creates the firehose server listening on addr.
func New(addr string, broadcaster *broadcast.Broadcaster) *Server {
	s := &Server{broadcaster: broadcaster}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleConnection)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// ListenAndServe runs the accept loop until the server is shut down.
func (s *Server) ListenAndServe() error {
	zlog.Info().Str("addr", s.httpServer.Addr).Msg("WebSocket firehose started")
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting connections and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// connStream adapts one WebSocket connection to the broadcaster's Stream.
// Send never blocks; when the connection's buffer is full the event is
// dropped for that subscriber.
type connStream struct {
	send chan broadcast.Message
}

func (c *connStream) Send(msg broadcast.Message) error {
	select {
	case c.send <- msg:
		return nil
	default:
		return errors.New("subscriber send buffer full")
	}
}

// handleConnection upgrades the request and pumps events until the client
// goes away.
func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		zlog.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	zlog.Info().Str("remote", conn.RemoteAddr().String()).Msg("websocket connection opened")

	stream := &connStream{send: make(chan broadcast.Message, sendBufferSize)}
	subID := s.broadcaster.Subscribe(stream)

	done := make(chan struct{})

	// Reader: the client never sends anything meaningful, but reading is
	// how we notice the connection closing.
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Writer pump.
	go func() {
		defer func() {
			s.broadcaster.Unsubscribe(subID)
			_ = conn.Close()
			zlog.Info().Str("remote", conn.RemoteAddr().String()).Msg("websocket connection closed")
		}()

		for {
			select {
			case <-done:
				return
			case msg := <-stream.send:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
			}
		}
	}()
}
