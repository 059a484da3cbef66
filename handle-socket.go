package presence

import (
	"net/http"

	"github.com/gobwas/ws"
	"github.com/google/uuid"
)

type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// HandleSocket upgrades the request to a websocket session bound to one room.
// The session streams every matching write in the room to the client, accepts
// position frames from it, and accepts control frames that move leadership.
//
// Query parameters: room (required), client (stable producer id, assigned
// when absent), echo=1 to receive the client's own writes back, device to
// filter deliveries by device class, leader=1 to receive only the current
// leader's writes.
func (s *Store) HandleSocket(onError ErrorHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room := r.URL.Query().Get("room")
		if room == "" {
			onError(w, r, ErrInvalidRoom)
			return
		}
		clientID := r.URL.Query().Get("client")
		if clientID == "" {
			clientID = uuid.NewString()
		}

		opts := SubscribeOptions{
			DeviceClass: ParseDeviceClass(r.URL.Query().Get("device")),
			LeaderOnly:  r.URL.Query().Get("leader") == "1",
		}
		if r.URL.Query().Get("echo") != "1" {
			opts.ExcludeClient = clientID
		}

		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			onError(w, r, err)
			return
		}
		s.Slogger.Info("new socket session", "room", room, "client", clientID)

		sub, err := s.Subscribe(room, opts)
		if err != nil {
			// Too late for onError: the connection is already hijacked.
			s.Slogger.Error("subscribe failed", "room", room, "err", err)
			conn.Close()
			return
		}
		newSocketSession(s, conn, room, clientID, sub)
	}
}

// HandleSocketForRoom pins the room at registration time instead of reading
// it from the query, for routers that put the room in the path.
func (s *Store) HandleSocketForRoom(room string, onError ErrorHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		q.Set("room", room)
		r.URL.RawQuery = q.Encode()
		s.HandleSocket(onError)(w, r)
	}
}
