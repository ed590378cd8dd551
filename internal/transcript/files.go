package transcript

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cchambers/director/internal/logging"
)

// SessionWriter persists transcript entries to an append-only session log
// ("speaker: text" per line) and a subtitle timing file. Both writes are
// best-effort; a failure never blocks or fails the append that produced it.
type SessionWriter struct {
	mu        sync.Mutex
	logFile   *os.File
	srtFile   *os.File
	srtIndex  int
	startedAt time.Time
}

// NewSessionWriter opens the two session files under dir, named by sessionID.
func NewSessionWriter(dir, sessionID string) (*SessionWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session log dir: %w", err)
	}
	logFile, err := os.OpenFile(filepath.Join(dir, sessionID+".log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open session log: %w", err)
	}
	srtFile, err := os.OpenFile(filepath.Join(dir, sessionID+".srt"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("open caption file: %w", err)
	}
	return &SessionWriter{
		logFile:   logFile,
		srtFile:   srtFile,
		startedAt: time.Now(),
	}, nil
}

// Write records one entry in both files. Registered as an append listener.
func (w *SessionWriter) Write(entry Entry) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.logFile, "%s: %s\n", entry.Speaker, entry.Text); err != nil {
		logging.Warning(logging.CategoryTranscript, "session log write failed: %v", err)
	}

	w.srtIndex++
	start := time.UnixMilli(entry.TimestampMs).Sub(w.startedAt)
	if start < 0 {
		start = 0
	}
	// Caption duration is an estimate; the live feed is the source of truth.
	end := start + estimateReadingTime(entry.Text)
	_, err := fmt.Fprintf(w.srtFile, "%d\n%s --> %s\n%s\n\n",
		w.srtIndex, srtTimestamp(start), srtTimestamp(end), entry.Text)
	if err != nil {
		logging.Warning(logging.CategoryTranscript, "caption write failed: %v", err)
	}
}

// Close closes both files.
func (w *SessionWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.logFile != nil {
		w.logFile.Close()
		w.logFile = nil
	}
	if w.srtFile != nil {
		w.srtFile.Close()
		w.srtFile = nil
	}
}

func srtTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	ms := d / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

func estimateReadingTime(text string) time.Duration {
	// ~15 chars/second, clamped to a readable range.
	d := time.Duration(len(text)) * time.Second / 15
	if d < 1500*time.Millisecond {
		d = 1500 * time.Millisecond
	}
	if d > 7*time.Second {
		d = 7 * time.Second
	}
	return d
}
