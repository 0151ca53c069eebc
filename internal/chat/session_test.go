package chat

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSessionsGetOrCreate(t *testing.T) {
	ss := NewSessions(0)
	id := uuid.New()

	first := ss.GetOrCreate(id)
	second := ss.GetOrCreate(id)
	if first != second {
		t.Error("same id returned distinct sessions")
	}
	if ss.Count() != 1 {
		t.Errorf("Count = %d, want 1", ss.Count())
	}

	ss.GetOrCreate(uuid.New())
	if ss.Count() != 2 {
		t.Errorf("Count = %d, want 2", ss.Count())
	}
}

func TestSessionsSweepExpired(t *testing.T) {
	now := time.Now()
	ss := NewSessions(time.Minute)
	ss.now = func() time.Time { return now }

	stale := ss.GetOrCreate(uuid.New())

	// Advance past the TTL and touch a second session. The sweep runs on
	// the next registry access.
	now = now.Add(2 * time.Minute)
	fresh := ss.GetOrCreate(uuid.New())

	now = now.Add(time.Second)
	ss.GetOrCreate(uuid.New())

	if ss.Count() != 2 {
		t.Errorf("Count = %d after sweep, want 2", ss.Count())
	}
	ss.mu.RLock()
	_, staleAlive := ss.m[stale.ID]
	_, freshAlive := ss.m[fresh.ID]
	ss.mu.RUnlock()
	if staleAlive {
		t.Error("expired session survived sweep")
	}
	if !freshAlive {
		t.Error("live session was swept")
	}
}

func TestSessionHistoryCapped(t *testing.T) {
	s := &Session{ID: uuid.New()}

	s.lock()
	for i := 0; i < maxSessionTurns+5; i++ {
		s.append(TurnRecord{UserMessage: "m", At: time.Now()})
	}
	got := len(s.turns)
	s.unlock()

	if got != maxSessionTurns {
		t.Errorf("history length = %d, want %d", got, maxSessionTurns)
	}
}

func TestSessionRecentReturnsCopy(t *testing.T) {
	s := &Session{ID: uuid.New()}
	s.lock()
	s.append(TurnRecord{UserMessage: "first", At: time.Now()})
	s.append(TurnRecord{UserMessage: "second", At: time.Now()})
	s.append(TurnRecord{UserMessage: "third", At: time.Now()})

	recent := s.recent(2)
	if len(recent) != 2 {
		t.Fatalf("recent(2) returned %d records", len(recent))
	}
	if recent[0].UserMessage != "second" || recent[1].UserMessage != "third" {
		t.Errorf("recent(2) = %q, %q; want the two newest turns", recent[0].UserMessage, recent[1].UserMessage)
	}

	recent[0].UserMessage = "mutated"
	if s.turns[1].UserMessage != "second" {
		t.Error("mutating the returned slice changed session state")
	}
	s.unlock()

	s.lock()
	all := s.recent(10)
	s.unlock()
	if len(all) != 3 {
		t.Errorf("recent(10) returned %d records, want all 3", len(all))
	}
}
