package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultSweepInterval = time.Second * 10
	defaultMaxAge        = time.Second * 30
)

// Options configure a Store. The zero value gets defaults.
type Options struct {
	// SweepInterval is how often the eviction sweep runs.
	SweepInterval time.Duration
	// MaxAge is how old a record may grow before the sweep evicts it.
	MaxAge time.Duration

	Slogger *slog.Logger
}

// Store is the process-wide presence state: room name to room state, created
// lazily on first reference and torn down by the sweep once empty and idle.
// All state is in memory; TTL eviction is the only form of persistence bound.
type Store struct {
	opts Options

	mu    sync.RWMutex
	rooms map[string]*roomState

	sweepInterval time.Duration
	maxAge        time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	Slogger *slog.Logger
}

func NewStore(parentCtx context.Context, options Options) *Store {
	ctx, cancel := context.WithCancel(parentCtx)
	s := &Store{
		opts:   options,
		rooms:  make(map[string]*roomState),
		ctx:    ctx,
		cancel: cancel,
	}
	if options.SweepInterval == 0 {
		s.sweepInterval = defaultSweepInterval
	} else {
		s.sweepInterval = options.SweepInterval
	}
	if options.MaxAge == 0 {
		s.maxAge = defaultMaxAge
	} else {
		s.maxAge = options.MaxAge
	}

	if options.Slogger != nil {
		s.Slogger = options.Slogger
	} else {
		s.Slogger = slog.Default().With("component", "presence")
	}

	return s
}

// Start runs the eviction sweep until the store is stopped. Run it on its own
// goroutine.
func (s *Store) Start() {
	sl := s.Slogger.With("func", "store.Start")
	sl.Debug("starting", "sweepInterval", s.sweepInterval, "maxAge", s.maxAge)
	ticker := time.NewTicker(s.sweepInterval)
	defer func() {
		ticker.Stop()
		sl.Info("stopped")
	}()
	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.ctx.Done():
			sl.Debug("stopping")
			return
		}
	}
}

// Stop halts the sweep loop and cancels every live subscription.
func (s *Store) Stop() {
	sl := s.Slogger.With("func", "store.Stop")
	sl.Debug("closing")

	s.mu.RLock()
	subsToCancel := make([]*Subscription, 0)
	for _, rs := range s.rooms {
		rs.mu.RLock()
		for sub := range rs.subs {
			subsToCancel = append(subsToCancel, sub)
		}
		rs.mu.RUnlock()
	}
	s.mu.RUnlock()

	for _, sub := range subsToCancel {
		sub.Cancel()
	}
	s.cancel()
	sl.Debug("closed")
}

// Write validates rec and stores it as the latest position for its client in
// room, creating the room on first reference. Records that do not advance the
// stored UpdatedAt for their client are dropped silently: late network
// deliveries must never overwrite a newer position. Every applied write is
// fanned out to the room's subscribers off the caller's critical path.
func (s *Store) Write(room string, rec Record) error {
	if room == "" {
		return ErrInvalidRoom
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	var stored Record
	var applied bool
	for {
		rs := s.getOrCreateRoom(room)
		var ok bool
		stored, applied, ok = rs.write(rec, time.Now())
		if ok {
			break
		}
		// The sweep deleted the room between the lookup and the write; take
		// a fresh room state.
	}

	sl := s.Slogger.With("func", "store.Write")
	if !applied {
		sl.Debug("dropped stale write", "room", room, "client", rec.ClientID,
			"incoming", rec.UpdatedAt, "stored", stored.UpdatedAt)
		return nil
	}
	sl.Debug("write", "room", room, "client", rec.ClientID,
		"x", stored.X, "y", stored.Y, "updatedAt", stored.UpdatedAt)
	return nil
}

// Latest returns copies of the records in room that match filter. An unknown
// room or an empty match yields an empty slice, not an error.
func (s *Store) Latest(room string, filter Filter) []Record {
	rs, ok := s.room(room)
	if !ok {
		return []Record{}
	}
	return rs.latest(filter)
}

// LatestOne returns the single most recent matching record in room. This is
// the poll-mode read: a poller calls it on its own interval and discards
// records whose UpdatedAt it has already processed.
func (s *Store) LatestOne(room string, filter Filter) (Record, bool) {
	rs, ok := s.room(room)
	if !ok {
		return Record{}, false
	}
	return rs.latestOne(filter)
}

// SetLeader makes clientID the authoritative writer for room, creating the
// room on first reference. An empty clientID clears leadership. Last write
// wins; setting the current leader again is a no-op.
func (s *Store) SetLeader(room, clientID string) error {
	if room == "" {
		return ErrInvalidRoom
	}
	for {
		rs := s.getOrCreateRoom(room)
		if rs.setLeader(clientID, time.Now()) {
			break
		}
	}
	s.Slogger.Debug("leader set", "func", "store.SetLeader", "room", room, "leader", clientID)
	return nil
}

// Leader reports the current leader of room, if any.
func (s *Store) Leader(room string) (string, bool) {
	rs, ok := s.room(room)
	if !ok {
		return "", false
	}
	return rs.leader()
}

func (s *Store) IsLeader(room, clientID string) bool {
	leader, ok := s.Leader(room)
	return ok && clientID != "" && leader == clientID
}

// CheckRoom is the explicit existence check, the one place that reports
// ErrRoomNotFound; reads against unknown rooms just come back empty.
func (s *Store) CheckRoom(room string) error {
	if room == "" {
		return ErrInvalidRoom
	}
	if _, ok := s.room(room); !ok {
		return ErrRoomNotFound
	}
	return nil
}

func (s *Store) RoomExists(room string) bool {
	return s.CheckRoom(room) == nil
}

func (s *Store) Rooms() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.rooms))
	for name := range s.rooms {
		names = append(names, name)
	}
	s.mu.RUnlock()
	return names
}

// Subscribe registers a push subscription on room, creating the room on first
// reference. The returned subscription delivers every subsequent write that
// passes its options' filter, and must be cancelled when the consumer goes
// away.
func (s *Store) Subscribe(room string, opts SubscribeOptions) (*Subscription, error) {
	if room == "" {
		return nil, ErrInvalidRoom
	}
	var sub *Subscription
	for {
		rs := s.getOrCreateRoom(room)
		sub = newSubscription(s.ctx, rs, opts)
		if rs.addSub(sub) {
			break
		}
		// Room swept under us; discard the stillborn subscription and retry.
		sub.Cancel()
	}
	s.Slogger.Debug("subscribed", "func", "store.Subscribe", "room", room,
		"excludeClient", opts.ExcludeClient, "deviceClass", opts.DeviceClass.String())
	return sub, nil
}

// SubscribeFunc is the callback form of Subscribe: fn is invoked with one
// record per delivered update until the subscription is cancelled.
func (s *Store) SubscribeFunc(room string, opts SubscribeOptions, fn func(Record)) (*Subscription, error) {
	sub, err := s.Subscribe(room, opts)
	if err != nil {
		return nil, err
	}
	go func() {
		for rec := range sub.Updates() {
			fn(rec)
		}
	}()
	return sub, nil
}

// Sweep performs one eviction pass: stale records are removed from every
// room, then rooms left empty, subscriber-free and idle for longer than the
// sweep interval are dropped from the store. Record age is re-checked under
// each room's lock at removal time, so a record refreshed after the pass
// began survives it.
func (s *Store) Sweep() {
	sl := s.Slogger.With("func", "store.Sweep")
	now := time.Now()

	s.mu.RLock()
	snapshot := make(map[string]*roomState, len(s.rooms))
	for name, rs := range s.rooms {
		snapshot[name] = rs
	}
	s.mu.RUnlock()

	expired := make([]string, 0)
	for name, rs := range snapshot {
		removed, isExpired := rs.sweep(now, s.maxAge, s.sweepInterval)
		if removed > 0 {
			sl.Info("evicted stale records", "room", name, "count", removed)
		}
		if isExpired {
			expired = append(expired, name)
		}
	}

	if len(expired) == 0 {
		return
	}

	s.mu.Lock()
	for _, name := range expired {
		rs, ok := s.rooms[name]
		if !ok {
			continue
		}
		// A write or subscribe may have revived the room since the per-room
		// pass; markDead re-validates under the room lock and flags the room
		// so a mutator that already resolved the pointer retries instead of
		// landing in the orphan.
		if !rs.markDead(now, s.maxAge, s.sweepInterval) {
			continue
		}
		delete(s.rooms, name)
		sl.Info("removed idle room", "room", name)
	}
	s.mu.Unlock()
}

func (s *Store) getOrCreateRoom(room string) *roomState {
	s.mu.RLock()
	rs, ok := s.rooms[room]
	s.mu.RUnlock()
	if ok {
		return rs
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok = s.rooms[room]
	if !ok {
		rs = newRoomState(room, time.Now())
		s.rooms[room] = rs
		s.Slogger.Debug("room created", "func", "store.getOrCreateRoom", "room", room)
	}
	return rs
}

func (s *Store) room(room string) (*roomState, bool) {
	s.mu.RLock()
	rs, ok := s.rooms[room]
	s.mu.RUnlock()
	return rs, ok
}
