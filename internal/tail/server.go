package tail

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server exposes a Hub over a single websocket endpoint, one connection
// per tailed job, selected by the "job" query parameter.
type Server struct {
	hub *Hub
	log *slog.Logger
}

// NewServer wraps hub in an http.Handler.
func NewServer(hub *Hub, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{hub: hub, log: log}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job")
	if jobID == "" {
		http.Error(w, "missing job query parameter", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("tail upgrade failed", "job_id", jobID, "error", err)
		return
	}
	defer conn.Close()

	sub := s.hub.Subscribe(jobID)
	defer s.hub.Unsubscribe(sub)

	// Detect client-initiated close without blocking the write loop below.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case chunk := <-sub.Chan():
			if err := conn.WriteJSON(chunk); err != nil {
				return
			}
		}
	}
}
