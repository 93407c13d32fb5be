package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/datallboy/serenity/internal/infra/logger"
	"github.com/datallboy/serenity/internal/progress"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	pongWait   = 2 * pingPeriod
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the UI may be served from another origin
	},
}

// ProgressStream pushes every progress event to connected websocket clients.
// A new client first receives the full current state.
type ProgressStream struct {
	tracker *progress.Tracker
	log     *logger.Logger
}

func NewProgressStream(tracker *progress.Tracker, log *logger.Logger) *ProgressStream {
	return &ProgressStream{tracker: tracker, log: log.With("WS")}
}

func (s *ProgressStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	events, cancel := s.tracker.Subscribe(64)
	defer cancel()

	var writeMu sync.Mutex
	send := func(ev progress.Event) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(ev)
	}

	for _, ev := range s.tracker.Events() {
		if err := send(ev); err != nil {
			return
		}
	}

	// Reader: clients only send control frames, but reading is what
	// surfaces a close from the other side.
	closed := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.log.Debug("websocket read error: %v", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := send(ev); err != nil {
				return
			}
		case <-ticker.C:
			writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
