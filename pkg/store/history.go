package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// HistoryStore keeps a bounded in-memory window per chat plus an
// unbounded append-only JSONL log (one JSON object per line) under
// dir/<chatID>.jsonl. Entries are trimmed from the window but never
// removed from the log.
type HistoryStore struct {
	mu         sync.Mutex
	dir        string
	windowSize int
	windows    map[string][]Message
	counts     map[string]int // durable line count per chat, lazily populated
}

func NewHistoryStore(dir string, windowSize int) (*HistoryStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return &HistoryStore{
		dir:        dir,
		windowSize: windowSize,
		windows:    make(map[string][]Message),
		counts:     make(map[string]int),
	}, nil
}

func (s *HistoryStore) logPath(chatID string) string {
	return filepath.Join(s.dir, chatID+".jsonl")
}

// Append records msg in the chat's window and appends one line to the
// durable log with a saved_at stamp.
func (s *HistoryStore) Append(chatID string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	window := append(s.windows[chatID], msg)
	if len(window) > s.windowSize {
		window = window[len(window)-s.windowSize:]
	}
	s.windows[chatID] = window

	rec := logRecord{Message: msg, SavedAt: time.Now().UTC()}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode history record: %w", err)
	}

	f, err := os.OpenFile(s.logPath(chatID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open history log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append history record: %w", err)
	}
	if n, ok := s.counts[chatID]; ok {
		s.counts[chatID] = n + 1
	}
	return nil
}

// Window returns a copy of the chat's in-memory sliding window,
// oldest-first.
func (s *HistoryStore) Window(chatID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	window := s.windows[chatID]
	out := make([]Message, len(window))
	copy(out, window)
	return out
}

// Load reads the durable log for chatID, oldest-first. A limit > 0
// returns only the most recent limit entries (still oldest-first);
// limit <= 0 returns everything. Unparseable lines are skipped.
func (s *HistoryStore) Load(chatID string, limit int) ([]Message, error) {
	f, err := os.Open(s.logPath(chatID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open history log: %w", err)
	}
	defer f.Close()

	var msgs []Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec logRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		msgs = append(msgs, rec.Message)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan history log: %w", err)
	}

	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// WarmWindow seeds the in-memory window from the tail of the durable log.
// Called once per chat at startup; a missing log leaves the window empty.
func (s *HistoryStore) WarmWindow(chatID string) error {
	msgs, err := s.Load(chatID, s.windowSize)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.windows[chatID]; !ok && len(msgs) > 0 {
		s.windows[chatID] = msgs
	}
	return nil
}

// Stats reports the durable log's line count and size for one chat.
func (s *HistoryStore) Stats(chatID string) (Stats, error) {
	s.mu.Lock()
	count, counted := s.counts[chatID]
	s.mu.Unlock()

	fi, err := os.Stat(s.logPath(chatID))
	if err != nil {
		if os.IsNotExist(err) {
			return Stats{}, nil
		}
		return Stats{}, fmt.Errorf("stat history log: %w", err)
	}

	if !counted {
		msgs, err := s.Load(chatID, 0)
		if err != nil {
			return Stats{}, err
		}
		count = len(msgs)
		s.mu.Lock()
		s.counts[chatID] = count
		s.mu.Unlock()
	}

	return Stats{TotalMessages: count, SizeBytes: fi.Size()}, nil
}
