package dashboard

import (
	"net/http"
	"time"

	"github.com/alpindale/smi-dashboard/internal/sampler"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	streamSnapshot = "snapshot"
	streamTimeline = "timeline"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// handleStream pushes every new snapshot (or timeline point) to the client
// as one JSON text message.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	stream := r.PathValue("stream")
	if stream != streamSnapshot && stream != streamTimeline {
		http.NotFound(w, r)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	updates, cancel := s.src.Subscribe()
	defer cancel()

	closed := make(chan struct{})
	go s.readPump(conn, closed)

	if err := s.sendInitial(conn, stream); err != nil {
		return
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-s.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if err := s.sendUpdate(conn, stream, u); err != nil {
				s.log.Debug("websocket write failed", zap.String("stream", stream), zap.Error(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// readPump drains client frames so control messages are processed; it
// closes done when the connection goes away.
func (s *Server) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

// sendInitial sends the latest snapshot; timeline pages render their
// history server side.
func (s *Server) sendInitial(conn *websocket.Conn, stream string) error {
	if stream != streamSnapshot {
		return nil
	}
	if snap, ok := s.src.Latest(); ok {
		return s.write(conn, snap)
	}
	return nil
}

func (s *Server) sendUpdate(conn *websocket.Conn, stream string, u sampler.Update) error {
	if stream == streamTimeline {
		if u.Point == nil {
			return nil
		}
		return s.write(conn, u.Point)
	}
	return s.write(conn, u.Snapshot)
}

func (s *Server) write(conn *websocket.Conn, v any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}
