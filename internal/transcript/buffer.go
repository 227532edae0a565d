// Package transcript maintains the rolling conversation history of a voice
// session.
//
// Every recognised user turn and every finished assistant reply is appended
// to a Buffer. The buffer is bounded: once it reaches capacity, the oldest
// entry is dropped for each new one, so the window always holds the most
// recent turns in insertion order. Retrieval reads a short tail of the buffer
// to give the knowledge base conversational context for follow-up questions.
package transcript

import (
	"strings"
	"sync"
	"time"
)

// Default sizing for a session buffer.
const (
	// DefaultCapacity bounds the number of retained entries.
	DefaultCapacity = 50

	// DefaultContextSize is how many trailing entries Context renders.
	DefaultContextSize = 10
)

// Entry is a single conversation turn.
type Entry struct {
	// Speaker is "user" or "assistant".
	Speaker string

	// Text is the turn's transcript text.
	Text string

	// Timestamp records when the turn completed.
	Timestamp time.Time
}

// Buffer is a bounded FIFO of conversation turns.
//
// All methods are safe for concurrent use.
type Buffer struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
}

// NewBuffer creates a buffer retaining at most capacity entries. A capacity
// of zero or less falls back to DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		entries:  make([]Entry, 0, capacity),
		capacity: capacity,
	}
}

// Append adds an entry, evicting the oldest one when the buffer is full.
// A zero Timestamp is filled in with the current time.
func (b *Buffer) Append(e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, e)
	if len(b.entries) > b.capacity {
		// Copy survivors to a fresh backing array so evicted entries do not
		// pin memory for the lifetime of the session.
		fresh := make([]Entry, b.capacity, b.capacity)
		copy(fresh, b.entries[len(b.entries)-b.capacity:])
		b.entries = fresh
	}
}

// Recent returns up to n trailing entries in insertion order (oldest first).
// n of zero or less returns all retained entries.
func (b *Buffer) Recent(n int) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || n > len(b.entries) {
		n = len(b.entries)
	}
	out := make([]Entry, n)
	copy(out, b.entries[len(b.entries)-n:])
	return out
}

// Len returns the number of retained entries.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Context renders the last n entries as "speaker: text" lines, one per turn,
// for injection into a retrieval query. Returns "" when the buffer is empty.
func (b *Buffer) Context(n int) string {
	entries := b.Recent(n)
	if len(entries) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, e := range entries {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(e.Speaker)
		sb.WriteString(": ")
		sb.WriteString(e.Text)
	}
	return sb.String()
}
