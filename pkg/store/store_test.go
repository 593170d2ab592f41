package store

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huskbot/husk/pkg/utils"
)

func newProfiles(t *testing.T) *ProfileStore {
	t.Helper()
	s, err := NewProfileStore(filepath.Join(t.TempDir(), "profiles.json"), 80, time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestProfileStore_LazyDefault(t *testing.T) {
	s := newProfiles(t)

	p := s.Get("c1", "u1")
	assert.Equal(t, 80, p.Relationship)
	assert.True(t, p.IsFirstInteraction)
	assert.Equal(t, "neutral", p.Attitude)
}

func TestProfileStore_MarkInteractedFlipsOnce(t *testing.T) {
	s := newProfiles(t)

	assert.True(t, s.MarkInteracted("c1", "u1"))
	assert.False(t, s.MarkInteracted("c1", "u1"))

	p := s.Get("c1", "u1")
	assert.False(t, p.IsFirstInteraction)
	require.NotNil(t, p.LastInteraction)
}

func TestProfileStore_BulkUpdateClampsAndFilters(t *testing.T) {
	s := newProfiles(t)

	updated := s.BulkUpdate("c1", map[string]ProfileUpdate{
		"u1": {Relationship: utils.Ptr(250), RealName: utils.Ptr("Unknown")},
		"u2": {Relationship: utils.Ptr(-5), Facts: utils.Ptr("plays guitar")},
	})
	assert.Equal(t, []string{"u1", "u2"}, updated)

	p1 := s.Get("c1", "u1")
	assert.Equal(t, 100, p1.Relationship)
	assert.Empty(t, p1.RealName, "the unknown-name sentinel must not be persisted")

	p2 := s.Get("c1", "u2")
	assert.Equal(t, 0, p2.Relationship)
	assert.Equal(t, "plays guitar", p2.Facts)
}

func TestProfileStore_AdminIsPinnedAndWriteProtected(t *testing.T) {
	s := newProfiles(t)
	s.SetAdmin("boss")

	assert.Equal(t, 100, s.Get("c1", "boss").Relationship)

	updated := s.BulkUpdate("c1", map[string]ProfileUpdate{
		"boss": {Relationship: utils.Ptr(10)},
	})
	assert.Empty(t, updated)
	assert.Equal(t, 100, s.Get("c1", "boss").Relationship)
}

func TestProfileStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.json")

	s, err := NewProfileStore(path, 80, time.Hour)
	require.NoError(t, err)
	s.BulkUpdate("c1", map[string]ProfileUpdate{"u1": {Relationship: utils.Ptr(42)}})
	require.NoError(t, s.Close())

	s2, err := NewProfileStore(path, 80, time.Hour)
	require.NoError(t, err)
	defer s2.Close()
	assert.Equal(t, 42, s2.Get("c1", "u1").Relationship)
}

func TestHistoryStore_WindowTrimsButLogKeepsAll(t *testing.T) {
	s, err := NewHistoryStore(t.TempDir(), 3)
	require.NoError(t, err)

	for _, text := range []string{"one", "two", "three", "four", "five"} {
		require.NoError(t, s.Append("c1", Message{Role: RoleUser, Text: text, Sender: "a"}))
	}

	window := s.Window("c1")
	require.Len(t, window, 3)
	assert.Equal(t, "three", window[0].Text)
	assert.Equal(t, "five", window[2].Text)

	all, err := s.Load("c1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	last, err := s.Load("c1", 1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "five", last[0].Text)

	stats, err := s.Stats("c1")
	require.NoError(t, err)
	assert.Equal(t, 5, stats.TotalMessages)
	assert.Greater(t, stats.SizeBytes, int64(0))
}

func TestHistoryStore_WarmWindowSeedsFromLogTail(t *testing.T) {
	dir := t.TempDir()

	s, err := NewHistoryStore(dir, 2)
	require.NoError(t, err)
	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, s.Append("c1", Message{Role: RoleUser, Text: text, Sender: "a"}))
	}

	// A fresh store simulates a restart: the window starts empty.
	s2, err := NewHistoryStore(dir, 2)
	require.NoError(t, err)
	assert.Empty(t, s2.Window("c1"))

	require.NoError(t, s2.WarmWindow("c1"))
	window := s2.Window("c1")
	require.Len(t, window, 2)
	assert.Equal(t, "two", window[0].Text)
	assert.Equal(t, "three", window[1].Text)
}

func TestMetaStore_ChatsAndInstructions(t *testing.T) {
	s, err := NewMetaStore(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.TouchChat("c1", "telegram", "the lads"))
	require.NoError(t, s.TouchChat("c1", "telegram", "")) // empty title keeps the old one

	chats, err := s.ActiveChats(time.Hour)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "the lads", chats[0].Title)

	// A negative window puts the cutoff in the future, so even a row
	// touched this same millisecond is out of range.
	chats, err = s.ActiveChats(-time.Minute)
	require.NoError(t, err)
	assert.Empty(t, chats)

	instruction, err := s.Instruction("u1")
	require.NoError(t, err)
	assert.Empty(t, instruction)

	require.NoError(t, s.SetInstruction("u1", "speak in rhymes"))
	instruction, err = s.Instruction("u1")
	require.NoError(t, err)
	assert.Equal(t, "speak in rhymes", instruction)
}

func TestImportTelegramExport(t *testing.T) {
	export := `{
		"messages": [
			{"type": "message", "date": "2024-03-01T10:00:00", "from": "Alex", "from_id": "user42", "text": "plain text"},
			{"type": "message", "date": "2024-03-01T10:01:00", "from": "husk", "from_id": "user99bot", "text": "bot reply"},
			{"type": "message", "date": "2024-03-01T10:02:00", "from": "Alex", "from_id": "user42",
				"text": ["styled ", {"type": "bold", "text": "part"}]},
			{"type": "service", "date": "2024-03-01T10:03:00", "from": "Alex", "from_id": "user42", "text": "joined"},
			{"type": "message", "date": "2024-03-01T10:04:00", "from": "Alex", "from_id": "user42", "text": ""}
		]
	}`

	hs, err := NewHistoryStore(t.TempDir(), 10)
	require.NoError(t, err)

	report, err := ImportTelegramExport(strings.NewReader(export), hs, "c1", "husk")
	require.NoError(t, err)
	assert.Equal(t, 5, report.Total)
	assert.Equal(t, 3, report.Imported)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 1, report.Assistant)
	assert.Equal(t, 2, report.User)

	msgs, err := hs.Load("c1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	assert.Equal(t, "styled part", msgs[2].Text)
	assert.Equal(t, 2024, msgs[0].Timestamp.Year())
}
