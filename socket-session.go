package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

const (
	frameKindPosition = "position"
	frameKindControl  = "control"
)

// wireFrame is the JSON message exchanged over a socket session. Position
// frames carry one record in either direction; control frames move room
// leadership (an absent leader field clears it).
type wireFrame struct {
	Kind   string  `json:"kind"`
	Record *Record `json:"record,omitempty"`
	Leader string  `json:"leader,omitempty"`
}

// socketSession ties one websocket connection to a room: inbound frames are
// written through the store, and the session's subscription is streamed back
// out. Used by push-capable clients; pollers use the HTTP handlers instead.
type socketSession struct {
	conn     net.Conn
	clientID string
	room     string

	store *Store
	sub   *Subscription

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	sl *slog.Logger
}

func newSocketSession(store *Store, conn net.Conn, room, clientID string, sub *Subscription) *socketSession {
	ctx, cancel := context.WithCancel(context.Background())
	s := &socketSession{
		conn:     conn,
		clientID: clientID,
		room:     room,
		store:    store,
		sub:      sub,
		ctx:      ctx,
		cancel:   cancel,
		sl:       store.Slogger.With("room", room, "client", clientID),
	}

	// START
	s.wg.Add(1)
	go func() {
		s.readLoop()
		s.wg.Done()
	}()
	s.wg.Add(1)
	go func() {
		s.writeLoop()
		s.wg.Done()
	}()
	return s
}

func (s *socketSession) Close() {
	s.sub.Cancel()
	s.cancel()
	s.conn.Close()
	s.wg.Wait()
}

func (s *socketSession) readLoop() {
	sl := s.sl.With("func", "session.readLoop")
	sl.Debug("starting")
	defer func() {
		s.sub.Cancel()
		s.conn.Close()
		s.cancel()
		sl.Debug("readLoop exited")
	}()
	for {
		msg, _, err := wsutil.ReadClientData(s.conn)
		if err != nil {
			var er wsutil.ClosedError
			if errors.As(err, &er) {
				sl.Debug("readLoop closing", "reason", er.Reason)
			} else {
				sl.Error("readLoop error", "err", err)
			}
			return
		}

		var frame wireFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			sl.Error("bad frame", "err", err, "frame", fmt.Sprintf("%s", msg))
			continue
		}

		switch frame.Kind {
		case frameKindPosition:
			if frame.Record == nil {
				sl.Error("position frame without record")
				continue
			}
			rec := *frame.Record
			// The session authenticates the producer; frames cannot write on
			// behalf of another client.
			rec.ClientID = s.clientID
			if err := s.store.Write(s.room, rec); err != nil {
				sl.Error("write rejected", "err", err)
			}
		case frameKindControl:
			if err := s.store.SetLeader(s.room, frame.Leader); err != nil {
				sl.Error("control rejected", "err", err)
			}
		default:
			sl.Debug("unknown frame kind", "kind", frame.Kind)
		}
	}
}

func (s *socketSession) writeLoop() {
	sl := s.sl.With("func", "session.writeLoop")
	sl.Debug("starting")
	ticker := time.NewTicker(time.Second * 10)
	defer func() {
		ticker.Stop()
		s.conn.Close()
		s.cancel()
		sl.Debug("writeLoop exited")
	}()
	for {
		select {
		case rec, ok := <-s.sub.Updates():
			if !ok {
				return
			}
			buf, err := json.Marshal(wireFrame{Kind: frameKindPosition, Record: &rec})
			if err != nil {
				sl.Error("marshal", "err", err)
				continue
			}
			if err := wsutil.WriteServerText(s.conn, buf); err != nil {
				sl.Error("writeLoop error", "err", err)
				return
			}
		case err := <-s.sub.Errors():
			sl.Warn("delivery failure", "err", err)
		case <-ticker.C:
			wsutil.WriteServerMessage(s.conn, ws.OpPing, []byte("ping"))
		case <-s.ctx.Done():
			return
		}
	}
}
