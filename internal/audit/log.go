// Package audit keeps an in-memory, hash-chained record of actor state
// transitions for observability. It records actor kind, id, and the
// from/to of a transition — never payload contents, per the core's
// observability discipline.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"
)

// Entry is one immutable transition record.
type Entry struct {
	Index     uint64
	Timestamp time.Time
	ActorKind string
	ActorID   string
	Action    string
	From      string
	To        string
	PrevHash  string
	Hash      string
}

// Log is an append-only, hash-chained transition log.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{entries: make([]Entry, 0, 1024)}
}

// Record appends a transition and also emits it through slog at info level,
// matching the observability rule in spec section 9: log every state
// transition with actor kind and id, never the payload.
func (l *Log) Record(actorKind, actorID, action, from, to string) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := uint64(len(l.entries))
	prev := ""
	if idx > 0 {
		prev = l.entries[idx-1].Hash
	}

	e := Entry{
		Index:     idx,
		Timestamp: time.Now().UTC(),
		ActorKind: actorKind,
		ActorID:   actorID,
		Action:    action,
		From:      from,
		To:        to,
		PrevHash:  prev,
	}
	e.Hash = hashEntry(e)
	l.entries = append(l.entries, e)

	slog.Info("actor transition",
		"actor_kind", actorKind,
		"actor_id", actorID,
		"action", action,
		"from", from,
		"to", to,
	)
	return e
}

// Tail returns up to n most recent entries, newest last.
func (l *Log) Tail(n int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]Entry, n)
	copy(out, l.entries[len(l.entries)-n:])
	return out
}

// Verify checks the hash chain for tampering.
func (l *Log) Verify() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := range l.entries {
		if hashEntry(l.entries[i]) != l.entries[i].Hash {
			return false
		}
		if i > 0 && l.entries[i-1].Hash != l.entries[i].PrevHash {
			return false
		}
	}
	return true
}

func hashEntry(e Entry) string {
	h := sha256.New()
	h.Write([]byte(e.PrevHash))
	h.Write([]byte(e.Timestamp.Format(time.RFC3339Nano)))
	h.Write([]byte(e.ActorKind))
	h.Write([]byte(e.ActorID))
	h.Write([]byte(e.Action))
	h.Write([]byte(e.From))
	h.Write([]byte(e.To))
	return hex.EncodeToString(h.Sum(nil))
}
