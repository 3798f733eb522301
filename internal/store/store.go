package store

import (
	"context"
	"time"
)

// EntryKind names a session lifecycle transition.
type EntryKind string

const (
	EntryReserved    EntryKind = "reserved"
	EntryDropped     EntryKind = "dropped"
	EntryExpired     EntryKind = "expired"
	EntryActivated   EntryKind = "activated"
	EntryDeactivated EntryKind = "deactivated"
	EntryEvicted     EntryKind = "evicted"
	EntryRoomRemoved EntryKind = "room_removed"
)

// Entry is one journal record. SessionID and Nick are empty for room-level entries.
type Entry struct {
	ID        int64
	SessionID string
	Room      string
	Nick      string
	Kind      EntryKind
	CreatedAt time.Time
}

// Journal persists session lifecycle entries. Chat messages are never stored.
type Journal interface {
	// Append stores a single entry.
	Append(ctx context.Context, e *Entry) error

	// ListByRoom returns the most recent entries for a room, newest first.
	ListByRoom(ctx context.Context, room string, limit int) ([]*Entry, error)

	// ListBySession returns all entries for a session in insertion order.
	ListBySession(ctx context.Context, sessionID string) ([]*Entry, error)

	// Close closes the underlying database connection.
	Close() error
}
