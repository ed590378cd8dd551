// Package transcript holds the shared session transcript: an append-only log
// with independent consumption windows for the director and claim-extraction
// consumers, plus observer fan-out for live feeds.
package transcript

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cchambers/director/internal/logging"
)

// ErrIndexOutOfRange is returned by UpdateEntry for an unknown entry index.
var ErrIndexOutOfRange = errors.New("transcript: index out of range")

// Entry is one transcribed speaking turn. Entries are immutable once appended
// except through UpdateEntry; TimestampMs is never edited.
type Entry struct {
	SpeakerID   string `json:"speakerId"`
	Speaker     string `json:"speaker"`
	Text        string `json:"text"`
	TimestampMs int64  `json:"timestampMs"`
}

// Patch describes an operator edit to an existing entry. Nil fields are left
// untouched.
type Patch struct {
	Speaker *string `json:"speaker"`
	Text    *string `json:"text"`
}

// Buffer is the shared transcript. Append is the single writer entry point;
// all mutation happens under one mutex so appends are totally ordered by
// arrival.
type Buffer struct {
	mu          sync.Mutex
	entries     []Entry
	directorWin []Entry
	claimWin    []Entry

	directorSize   int
	claimThreshold int // entry text length that auto-fires the claim hook, 0 disables

	listeners  []func(Entry)
	claimHooks []func()

	now func() time.Time
}

// NewBuffer creates an empty transcript buffer. directorSize is the number of
// entries handed to the director consumer per read; claimThreshold is the
// text length that auto-triggers claim extraction (0 disables).
func NewBuffer(directorSize, claimThreshold int) *Buffer {
	if directorSize <= 0 {
		directorSize = 8
	}
	return &Buffer{
		directorSize:   directorSize,
		claimThreshold: claimThreshold,
		now:            time.Now,
	}
}

// OnAppend registers a listener invoked for every appended entry. Listeners
// run on their own goroutine and must not assume ordering with respect to
// other listeners; a panicking listener is logged and never affects the
// writer or other listeners.
func (b *Buffer) OnAppend(fn func(Entry)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

// OnClaimThreshold registers a hook fired when an appended entry's text
// length exceeds the configured claim threshold.
func (b *Buffer) OnClaimThreshold(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.claimHooks = append(b.claimHooks, fn)
}

// Append adds one entry to the full history and to both consumption windows,
// then notifies listeners. Empty or whitespace-only text is rejected as a
// no-op. Returns the appended entry and whether an append happened.
func (b *Buffer) Append(speakerID, speaker, text string) (Entry, bool) {
	if strings.TrimSpace(text) == "" {
		return Entry{}, false
	}

	b.mu.Lock()
	entry := Entry{
		SpeakerID:   speakerID,
		Speaker:     speaker,
		Text:        text,
		TimestampMs: b.now().UnixMilli(),
	}
	b.entries = append(b.entries, entry)
	// Windows hold copies taken at append time; later edits to the full
	// history do not rewrite them.
	b.directorWin = append(b.directorWin, entry)
	b.claimWin = append(b.claimWin, entry)

	listeners := make([]func(Entry), len(b.listeners))
	copy(listeners, b.listeners)
	var hooks []func()
	if b.claimThreshold > 0 && len(entry.Text) > b.claimThreshold {
		hooks = make([]func(), len(b.claimHooks))
		copy(hooks, b.claimHooks)
	}
	b.mu.Unlock()

	for _, fn := range listeners {
		go b.dispatch(fn, entry)
	}
	for _, hook := range hooks {
		go b.dispatchHook(hook)
	}

	return entry, true
}

func (b *Buffer) dispatch(fn func(Entry), entry Entry) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error(logging.CategoryTranscript, "append listener panicked: %v", r)
		}
	}()
	fn(entry)
}

func (b *Buffer) dispatchHook(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error(logging.CategoryTranscript, "claim threshold hook panicked: %v", r)
		}
	}()
	fn()
}

// RecentForDirector returns the last directorSize entries of the director
// window without clearing it. Clearing is a separate explicit reset so a
// failed downstream send leaves the window intact for the next attempt.
func (b *Buffer) RecentForDirector() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	start := len(b.directorWin) - b.directorSize
	if start < 0 {
		start = 0
	}
	out := make([]Entry, len(b.directorWin)-start)
	copy(out, b.directorWin[start:])
	return out
}

// ResetDirectorWindow clears the director window. Called only after a
// successful downstream send.
func (b *Buffer) ResetDirectorWindow() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.directorWin = b.directorWin[:0]
}

// RecentForClaims returns all entries pending claim extraction without
// clearing the window.
func (b *Buffer) RecentForClaims() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, len(b.claimWin))
	copy(out, b.claimWin)
	return out
}

// ResetClaimWindow clears the claim window.
func (b *Buffer) ResetClaimWindow() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.claimWin = b.claimWin[:0]
}

// FullLog returns a copy of the full transcript history.
func (b *Buffer) FullLog() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Len returns the number of entries in the full history.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// UpdateEntry applies an operator edit to the full-history entry at index.
// It only affects future reads of the full history; window snapshots already
// taken at append time are deliberately left as they were.
func (b *Buffer) UpdateEntry(index int, patch Patch) (Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if index < 0 || index >= len(b.entries) {
		return Entry{}, ErrIndexOutOfRange
	}
	if patch.Speaker != nil {
		b.entries[index].Speaker = *patch.Speaker
	}
	if patch.Text != nil {
		b.entries[index].Text = *patch.Text
	}
	return b.entries[index], nil
}

// Clear drops all entries and windows. Called at the start of the next
// session; listeners stay registered.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = nil
	b.directorWin = nil
	b.claimWin = nil
}
