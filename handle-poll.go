package presence

import (
	"encoding/json"
	"errors"
	"net/http"
)

// The HTTP handlers are the poll-mode transport, for clients that cannot hold
// a socket open. The store keeps no per-poller state: a poller calls the poll
// endpoint on its own interval and discards records it has already seen by
// comparing updatedAt.

// HandleSubmit accepts one position record as a JSON body and writes it
// through the store. Query parameter: room (required).
func (s *Store) HandleSubmit(onError ErrorHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room := r.URL.Query().Get("room")
		var rec Record
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			onError(w, r, err)
			return
		}
		if err := s.Write(room, rec); err != nil {
			onError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandlePoll returns the most recent matching record in a room, or 204 when
// there is none (an unknown room is indistinguishable from an empty one).
// Query parameters: room (required), exclude (client id to suppress), device,
// leader=1, all=1 for every matching record instead of the newest.
func (s *Store) HandlePoll(onError ErrorHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		room := q.Get("room")
		if room == "" {
			onError(w, r, ErrInvalidRoom)
			return
		}
		filter := Filter{
			ExcludeClient: q.Get("exclude"),
			DeviceClass:   ParseDeviceClass(q.Get("device")),
			LeaderOnly:    q.Get("leader") == "1",
		}

		if q.Get("all") == "1" {
			jsonResponse(w, s.Latest(room, filter))
			return
		}

		rec, ok := s.LatestOne(room, filter)
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		jsonResponse(w, rec)
	}
}

type leaderPayload struct {
	Room   string `json:"room"`
	Leader string `json:"leader"`
}

// HandleLeader reads (GET) or replaces (POST/PUT) a room's leader. An empty
// leader in the POST body releases control. Query parameter: room (required).
func (s *Store) HandleLeader(onError ErrorHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room := r.URL.Query().Get("room")
		if room == "" {
			onError(w, r, ErrInvalidRoom)
			return
		}

		switch r.Method {
		case http.MethodGet:
			leader, _ := s.Leader(room)
			jsonResponse(w, leaderPayload{Room: room, Leader: leader})
		case http.MethodPost, http.MethodPut:
			var payload leaderPayload
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				onError(w, r, err)
				return
			}
			if err := s.SetLeader(room, payload.Leader); err != nil {
				onError(w, r, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

type roomPayload struct {
	Room    string `json:"room"`
	Clients int    `json:"clients"`
	Leader  string `json:"leader,omitempty"`
}

// HandleRoom is the diagnostics view of one room. Unlike the poll endpoint,
// which treats an unknown room as empty, this is an explicit existence check
// and answers 404 for a room that has never been referenced. Query parameter:
// room (required).
func (s *Store) HandleRoom(onError ErrorHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room := r.URL.Query().Get("room")
		if err := s.CheckRoom(room); err != nil {
			onError(w, r, err)
			return
		}
		leader, _ := s.Leader(room)
		jsonResponse(w, roomPayload{
			Room:    room,
			Clients: len(s.Latest(room, Filter{})),
			Leader:  leader,
		})
	}
}

// HandleRooms lists the rooms currently held by the store.
func (s *Store) HandleRooms() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, s.Rooms())
	}
}

// DefaultErrorHandler maps the error taxonomy onto HTTP status codes:
// validation failures are the caller's fault, everything else is a 500.
func DefaultErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidRoom),
		errors.Is(err, ErrInvalidClient),
		errors.Is(err, ErrInvalidPosition):
		status = http.StatusBadRequest
	case errors.Is(err, ErrRoomNotFound):
		status = http.StatusNotFound
	}
	http.Error(w, err.Error(), status)
}

func jsonResponse(w http.ResponseWriter, data interface{}) {
	buf, err := json.Marshal(data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(buf)
}
