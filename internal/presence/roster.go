// Package presence tracks which players are currently in which hall on this
// relay instance. The roster exists so a newly subscribed client can be
// brought up to date: on join, the relay replays every existing player in the
// hall to the new subscriber as a JOIN event. It also lets the relay
// synthesize a LEAVE broadcast when a connection dies without sending one.
package presence

import (
	"log"
	"sync"

	"github.com/expogarden/realtime/internal/protocol"
)

// Roster is a goroutine-safe map of hall occupants keyed by session ID. The
// stored value is the player's last published presence event, so Snapshot can
// replay each occupant at their most recent position.
type Roster struct {
	mu    sync.RWMutex
	halls map[int64]map[string]protocol.PlayerEvent // hallID -> sessionID -> last event
}

// NewRoster creates an empty roster.
func NewRoster() *Roster {
	return &Roster{
		halls: make(map[int64]map[string]protocol.PlayerEvent),
	}
}

// Add registers a player in a hall, replacing any previous entry for the
// same session.
func (r *Roster) Add(hallID int64, sessionID string, event protocol.PlayerEvent) {
	r.mu.Lock()
	players, ok := r.halls[hallID]
	if !ok {
		players = make(map[string]protocol.PlayerEvent)
		r.halls[hallID] = players
	}
	players[sessionID] = event
	total := len(players)
	r.mu.Unlock()

	log.Printf("[presence] hall=%d add session=%s user=%d nickname=%q total=%d",
		hallID, sessionID, event.UserID, event.Nickname, total)
}

// Update records a player's latest position. A session unknown to the hall is
// added rather than rejected: an UPDATE can arrive before the JOIN when the
// join raced the subscription, and first-UPDATE is treated as an implicit
// join.
func (r *Roster) Update(hallID int64, sessionID string, event protocol.PlayerEvent) {
	r.mu.Lock()
	players, ok := r.halls[hallID]
	if ok {
		if _, known := players[sessionID]; known {
			players[sessionID] = event
			r.mu.Unlock()
			return
		}
	}
	r.mu.Unlock()

	log.Printf("[presence] hall=%d update for unknown session=%s user=%d, adding",
		hallID, sessionID, event.UserID)
	r.Add(hallID, sessionID, event)
}

// Remove deletes a player from a hall. Empty halls are dropped from the map.
// Returns the last stored event and whether the session was present.
func (r *Roster) Remove(hallID int64, sessionID string) (protocol.PlayerEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	players, ok := r.halls[hallID]
	if !ok {
		return protocol.PlayerEvent{}, false
	}
	event, found := players[sessionID]
	if !found {
		return protocol.PlayerEvent{}, false
	}
	delete(players, sessionID)
	if len(players) == 0 {
		delete(r.halls, hallID)
	}
	return event, true
}

// RemoveBySession deletes a session from whichever hall holds it. It is
// called when a connection drops without an explicit leave, so the caller can
// broadcast a synthetic LEAVE for the player. Returns the hall, the last
// stored event, and whether the session was found anywhere.
func (r *Roster) RemoveBySession(sessionID string) (int64, protocol.PlayerEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for hallID, players := range r.halls {
		event, ok := players[sessionID]
		if !ok {
			continue
		}
		delete(players, sessionID)
		if len(players) == 0 {
			delete(r.halls, hallID)
		}
		return hallID, event, true
	}
	return 0, protocol.PlayerEvent{}, false
}

// Snapshot returns the last event of every player in the hall except the
// excluded session, rewritten as JOIN events so the receiver renders each
// occupant at their last known position. The result order is unspecified.
func (r *Roster) Snapshot(hallID int64, excludeSessionID string) []protocol.PlayerEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	players, ok := r.halls[hallID]
	if !ok {
		return nil
	}

	snapshot := make([]protocol.PlayerEvent, 0, len(players))
	for sessionID, event := range players {
		if sessionID == excludeSessionID {
			continue
		}
		event.Type = protocol.EventJoin
		snapshot = append(snapshot, event)
	}
	return snapshot
}

// Count returns the number of players currently in the hall.
func (r *Roster) Count(hallID int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.halls[hallID])
}
