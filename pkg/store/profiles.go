package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/huskbot/husk/pkg/logger"
	"github.com/huskbot/husk/pkg/utils"
)

// unknownNameSentinel is what the batch analyzer emits when it could not
// determine a real name; such values are never written to a profile.
const unknownNameSentinel = "Unknown"

const (
	relationshipMin = 0
	relationshipMax = 100
	adminScore      = 100
)

// ProfileStore is a write-back cache over a single JSON snapshot file.
// Mutations land in memory and are flushed on a bounded interval, so a
// crash inside the flush window loses at most that window's writes.
// Call Flush on shutdown paths.
type ProfileStore struct {
	mu           sync.Mutex
	path         string
	profiles     map[string]map[string]*UserProfile // chatID -> userID -> profile
	dirty        bool
	defaultScore int
	adminID      string

	flushEvery time.Duration
	stop       chan struct{}
	done       chan struct{}
}

// NewProfileStore loads (or creates) the snapshot at path and starts the
// background flusher. defaultScore seeds the relationship of profiles
// created lazily on first lookup.
func NewProfileStore(path string, defaultScore int, flushEvery time.Duration) (*ProfileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}

	s := &ProfileStore{
		path:         path,
		profiles:     make(map[string]map[string]*UserProfile),
		defaultScore: defaultScore,
		flushEvery:   flushEvery,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, &s.profiles); err != nil {
			// A corrupt snapshot degrades to empty profiles rather than
			// refusing to start.
			logger.ErrorCF("store", "Corrupt profile snapshot, starting empty", map[string]any{
				"path": path, "error": err.Error(),
			})
			s.profiles = make(map[string]map[string]*UserProfile)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read profile snapshot: %w", err)
	}

	go s.flushLoop()
	return s, nil
}

// SetAdmin pins userID to the maximum relationship score. The admin
// profile is a read-only override: lookups report 100 and writes to it
// are ignored.
func (s *ProfileStore) SetAdmin(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adminID = userID
}

func (s *ProfileStore) isAdmin(userID string) bool {
	return s.adminID != "" && userID == s.adminID
}

func defaultProfile(score int) *UserProfile {
	return &UserProfile{
		Facts:              "",
		Attitude:           "neutral",
		Relationship:       score,
		IsFirstInteraction: true,
	}
}

func (s *ProfileStore) lookup(chatID, userID string) *UserProfile {
	chat, ok := s.profiles[chatID]
	if !ok {
		chat = make(map[string]*UserProfile)
		s.profiles[chatID] = chat
	}
	p, ok := chat[userID]
	if !ok {
		p = defaultProfile(s.defaultScore)
		chat[userID] = p
		s.dirty = true
	}
	return p
}

// Get returns the profile for (chatID, userID), creating it with defaults
// on first lookup. The returned value is a copy.
func (s *ProfileStore) Get(chatID, userID string) UserProfile {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := *s.lookup(chatID, userID)
	if s.isAdmin(userID) {
		p.Relationship = adminScore
	}
	return p
}

// MarkInteracted clears the first-interaction flag and stamps the last
// interaction time. Returns true when the flag was actually flipped.
func (s *ProfileStore) MarkInteracted(chatID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.lookup(chatID, userID)
	now := time.Now().UTC()
	p.LastInteraction = &now
	s.dirty = true
	if !p.IsFirstInteraction {
		return false
	}
	p.IsFirstInteraction = false
	return true
}

// BulkUpdate applies partial writes to several profiles in one chat and
// returns the updated user ids, sorted. The relationship clamp invariant
// is enforced on every write. Writes to the admin identity are dropped.
func (s *ProfileStore) BulkUpdate(chatID string, updates map[string]ProfileUpdate) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := make([]string, 0, len(updates))
	now := time.Now().UTC()

	for userID, u := range updates {
		if s.isAdmin(userID) {
			continue
		}
		p := s.lookup(chatID, userID)

		if u.RealName != nil && *u.RealName != "" && *u.RealName != unknownNameSentinel {
			p.RealName = *u.RealName
		}
		if u.Facts != nil && *u.Facts != "" {
			p.Facts = *u.Facts
		}
		if u.Attitude != nil && *u.Attitude != "" {
			p.Attitude = *u.Attitude
		}
		if u.Relationship != nil {
			p.Relationship = utils.Clamp(*u.Relationship, relationshipMin, relationshipMax)
		}
		p.LastInteraction = &now
		updated = append(updated, userID)
	}

	if len(updated) > 0 {
		s.dirty = true
	}
	sort.Strings(updated)
	return updated
}

func (s *ProfileStore) flushLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Flush(); err != nil {
				logger.ErrorCF("store", "Profile flush failed", map[string]any{"error": err.Error()})
			}
		case <-s.stop:
			return
		}
	}
}

// Flush writes the snapshot now if there are unflushed mutations.
func (s *ProfileStore) Flush() error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	data, err := json.MarshalIndent(s.profiles, "", "  ")
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.dirty = false
	s.mu.Unlock()

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Close stops the flusher and performs a final flush.
func (s *ProfileStore) Close() error {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
	return s.Flush()
}
