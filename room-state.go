package presence

import (
	"sync"
	"time"
)

// roomState is the unit of locking: one room's records, its leader and its
// push subscribers all live behind the same mutex. Room states are owned by
// the Store and never escape it; accessors hand out copies of records, not
// live references.
type roomState struct {
	name string

	mu         sync.RWMutex
	records    map[string]Record
	leaderID   string
	lastActive time.Time
	subs       map[*Subscription]struct{}

	// dead is set under both the store lock and this lock when the sweep
	// deletes the room. A mutator that resolved its pointer before the
	// deletion sees the flag and retries through the store, so no write or
	// subscription can land in an orphaned room.
	dead bool
}

func newRoomState(name string, now time.Time) *roomState {
	return &roomState{
		name:       name,
		records:    make(map[string]Record),
		lastActive: now,
		subs:       make(map[*Subscription]struct{}),
	}
}

// write applies the keep-max rule for a client's record and, when the write
// sticks, hands the stored record to every subscriber while still holding the
// lock so that one subscriber observes a client's updates in UpdatedAt order.
// It returns the stored record and whether the write was applied. ok=false
// means the room was deleted under the caller, which must retry on a fresh
// room state.
func (rs *roomState) write(rec Record, now time.Time) (stored Record, applied, ok bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.dead {
		return Record{}, false, false
	}

	prev, exists := rs.records[rec.ClientID]
	if rec.UpdatedAt == 0 {
		rec.UpdatedAt = now.UnixMilli()
		if exists && rec.UpdatedAt <= prev.UpdatedAt {
			// Two writes inside the same millisecond still advance the clock.
			rec.UpdatedAt = prev.UpdatedAt + 1
		}
	} else if exists && rec.UpdatedAt <= prev.UpdatedAt {
		// Stale or duplicate delivery. Keep the newer record.
		return prev, false, true
	}

	rs.records[rec.ClientID] = rec
	rs.lastActive = now

	for sub := range rs.subs {
		sub.deliver(rec, rs.leaderID)
	}
	return rec, true, true
}

func (rs *roomState) latest(f Filter) []Record {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	out := make([]Record, 0, len(rs.records))
	for _, rec := range rs.records {
		if f.matches(rec, rs.leaderID) {
			out = append(out, rec)
		}
	}
	return out
}

// latestOne returns the single most recent matching record.
func (rs *roomState) latestOne(f Filter) (Record, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	var best Record
	found := false
	for _, rec := range rs.records {
		if !f.matches(rec, rs.leaderID) {
			continue
		}
		if !found || rec.UpdatedAt > best.UpdatedAt {
			best = rec
			found = true
		}
	}
	return best, found
}

// setLeader is last-write-wins. Setting the current leader again is a no-op
// apart from the activity bump. It reports false when the room was deleted
// under the caller.
func (rs *roomState) setLeader(clientID string, now time.Time) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.dead {
		return false
	}
	rs.leaderID = clientID
	rs.lastActive = now
	return true
}

func (rs *roomState) leader() (string, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.leaderID, rs.leaderID != ""
}

// addSub reports false when the room was deleted under the caller, so the
// subscription never dangles off an orphaned room.
func (rs *roomState) addSub(sub *Subscription) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.dead {
		return false
	}
	rs.subs[sub] = struct{}{}
	return true
}

func (rs *roomState) removeSub(sub *Subscription) {
	rs.mu.Lock()
	delete(rs.subs, sub)
	rs.mu.Unlock()
}

// sweep removes records older than maxAge. The age check happens under the
// room lock against each record's current UpdatedAt, so a record refreshed
// after the sweep began survives. It reports whether the room is now empty of
// records and subscribers and idle for longer than idleFor.
func (rs *roomState) sweep(now time.Time, maxAge, idleFor time.Duration) (removed int, expired bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	removed = rs.evictStaleLocked(now.Add(-maxAge).UnixMilli())
	expired = rs.expiredLocked(now, idleFor)
	return removed, expired
}

// markDead re-validates expiry under the room lock and, when the room is
// still empty and idle, marks it dead so in-flight holders of the pointer
// retry through the store. The caller must hold the store lock, so no new
// lookup can resolve this room between the marking and its removal from the
// store map.
func (rs *roomState) markDead(now time.Time, maxAge, idleFor time.Duration) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.evictStaleLocked(now.Add(-maxAge).UnixMilli())
	if !rs.expiredLocked(now, idleFor) {
		return false
	}
	rs.dead = true
	return true
}

func (rs *roomState) evictStaleLocked(cutoff int64) int {
	removed := 0
	for clientID, rec := range rs.records {
		if rec.UpdatedAt < cutoff {
			delete(rs.records, clientID)
			removed++
		}
	}
	return removed
}

func (rs *roomState) expiredLocked(now time.Time, idleFor time.Duration) bool {
	return len(rs.records) == 0 && len(rs.subs) == 0 &&
		now.Sub(rs.lastActive) > idleFor
}
