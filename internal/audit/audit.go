// Package audit maintains the per-profile safety audit log: an append-only
// JSONL file where each entry carries the SHA-256 of the previous line.
// Editing or deleting any line breaks the chain for everything after it,
// which Verify detects. Child message text is never stored whole, only an
// excerpt capped at MaxExcerptLen runes.
package audit

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/brightnest/haven/internal/common"
	"github.com/brightnest/haven/internal/logging"
)

const (
	logFile = "audit.log"

	// MaxExcerptLen caps how much of a child's message an audit entry or
	// alert may quote.
	MaxExcerptLen = 120
)

// ErrTampered means the hash chain does not verify.
var ErrTampered = errors.New("audit chain broken")

// EventType classifies an audit entry.
type EventType string

const (
	EventSessionOpened  EventType = "session_opened"
	EventSessionClosed  EventType = "session_closed"
	EventSessionExpired EventType = "session_expired"
	EventSafetyIncident EventType = "safety_incident"
	EventEscalation     EventType = "escalation"
	EventParentAction   EventType = "parent_action"
)

// Event is one audit entry. Prev closes the hash chain; everything else is
// payload. Hash is the SHA-256 of the full message that triggered the entry,
// so the excerpt can stay short while the entry still pins the exact input.
// Alerted records whether a parent alert was sent for this entry.
type Event struct {
	Seq       int64     `json:"seq"`
	Time      time.Time `json:"time"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Category  string    `json:"category,omitempty"`
	Severity  string    `json:"severity,omitempty"`
	Excerpt   string    `json:"excerpt,omitempty"`
	Hash      string    `json:"hash,omitempty"`
	Alerted   bool      `json:"alerted,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Prev      string    `json:"prev"`
}

// DirFunc resolves a profile ID to its storage directory.
type DirFunc func(profileID string) (string, error)

// Log appends and verifies per-profile audit chains. Safe for concurrent
// use; entries for one profile are strictly ordered.
type Log struct {
	dirFor DirFunc
	log    logging.Logger

	mu  sync.Mutex
	tip map[string]string // profileID -> hash of last line
	seq map[string]int64  // profileID -> last seq
	now func() time.Time
}

// NewLog returns an audit log rooted at the directories dirFor resolves.
func NewLog(dirFor DirFunc, log logging.Logger) *Log {
	return &Log{
		dirFor: dirFor,
		log:    log.With("component", "audit"),
		tip:    map[string]string{},
		seq:    map[string]int64{},
		now:    time.Now,
	}
}

// Append writes the event to the profile's chain and fsyncs before
// returning. Seq, Time and Prev are filled in; the excerpt is truncated.
func (l *Log) Append(ctx context.Context, profileID string, e Event) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	path, err := l.pathFor(profileID)
	if err != nil {
		return Event{}, err
	}
	if err := l.primeLocked(profileID, path); err != nil {
		return Event{}, err
	}

	e.Seq = l.seq[profileID] + 1
	e.Time = l.now().UTC()
	e.Prev = l.tip[profileID]
	e.Excerpt = TruncateExcerpt(e.Excerpt)

	line, err := json.Marshal(e)
	if err != nil {
		return Event{}, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return Event{}, fmt.Errorf("open audit log for %s: %w", profileID, err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return Event{}, fmt.Errorf("append audit log for %s: %w", profileID, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return Event{}, fmt.Errorf("sync audit log for %s: %w", profileID, err)
	}
	if err := f.Close(); err != nil {
		return Event{}, err
	}

	l.tip[profileID] = hashLine(line)
	l.seq[profileID] = e.Seq
	return e, nil
}

// Tail returns up to n most recent events, oldest first.
func (l *Log) Tail(ctx context.Context, profileID string, n int) ([]Event, error) {
	events, err := l.ReadAll(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	return events, nil
}

// ReadAll parses the whole chain without verifying it.
func (l *Log) ReadAll(ctx context.Context, profileID string) ([]Event, error) {
	path, err := l.pathFor(profileID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var events []Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		var e Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("audit log for %s line %d: %w", profileID, len(events)+1, ErrTampered)
		}
		events = append(events, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// Verify walks the chain and returns the number of valid entries. A broken
// link, bad JSON, or a seq gap yields ErrTampered naming the first bad line.
func (l *Log) Verify(ctx context.Context, profileID string) (int, error) {
	path, err := l.pathFor(profileID)
	if err != nil {
		return 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	var (
		prevHash string
		prevSeq  int64
		count    int
	)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			return count, fmt.Errorf("line %d unparseable: %w", count+1, ErrTampered)
		}
		if e.Prev != prevHash {
			return count, fmt.Errorf("line %d prev-hash mismatch: %w", count+1, ErrTampered)
		}
		if e.Seq != prevSeq+1 {
			return count, fmt.Errorf("line %d seq gap: %w", count+1, ErrTampered)
		}
		prevHash = hashLine(line)
		prevSeq = e.Seq
		count++
	}
	if err := sc.Err(); err != nil {
		return count, err
	}
	return count, nil
}

func (l *Log) pathFor(profileID string) (string, error) {
	dir, err := l.dirFor(profileID)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", err
		}
	}
	return filepath.Join(dir, logFile), nil
}

// primeLocked loads the chain tip from disk the first time a profile is
// touched after startup.
func (l *Log) primeLocked(profileID, path string) error {
	if _, ok := l.tip[profileID]; ok {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			l.tip[profileID] = ""
			l.seq[profileID] = 0
			return nil
		}
		return err
	}
	defer f.Close()

	var (
		lastLine []byte
		lastSeq  int64
	)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		lastLine = append(lastLine[:0], sc.Bytes()...)
		var e Event
		if err := json.Unmarshal(lastLine, &e); err != nil {
			return fmt.Errorf("audit log for %s: %w", profileID, common.ErrConfiguration)
		}
		lastSeq = e.Seq
	}
	if err := sc.Err(); err != nil {
		return err
	}

	if lastLine == nil {
		l.tip[profileID] = ""
		l.seq[profileID] = 0
	} else {
		l.tip[profileID] = hashLine(lastLine)
		l.seq[profileID] = lastSeq
	}
	return nil
}

func hashLine(line []byte) string {
	sum := sha256.Sum256(line)
	return hex.EncodeToString(sum[:])
}

// HashInput returns the hex SHA-256 of a message for an Event's Hash field.
func HashInput(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// TruncateExcerpt caps s at MaxExcerptLen runes.
func TruncateExcerpt(s string) string {
	r := []rune(s)
	if len(r) <= MaxExcerptLen {
		return s
	}
	return string(r[:MaxExcerptLen])
}
