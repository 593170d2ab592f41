package store

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// telegramExport mirrors the subset of a Telegram Desktop chat export
// (result.json) that the importer needs.
type telegramExport struct {
	Messages []telegramExportMessage `json:"messages"`
}

type telegramExportMessage struct {
	Type   string          `json:"type"`
	Date   string          `json:"date"`
	From   string          `json:"from"`
	FromID string          `json:"from_id"`
	Text   json.RawMessage `json:"text"`
}

// ImportReport summarizes one export conversion.
type ImportReport struct {
	Total     int
	Imported  int
	Skipped   int
	Assistant int
	User      int
}

// flattenExportText handles both plain-string text and the entity-array
// form Telegram uses for formatted messages.
func flattenExportText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var parts []any
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var b strings.Builder
	for _, p := range parts {
		switch v := p.(type) {
		case string:
			b.WriteString(v)
		case map[string]any:
			if t, ok := v["text"].(string); ok {
				b.WriteString(t)
			}
		}
	}
	return b.String()
}

// ImportTelegramExport converts a Telegram Desktop export into the
// chat's durable JSONL log. Messages whose sender matches botName (or a
// bot-suffixed from_id) are recorded with the assistant role.
func ImportTelegramExport(r io.Reader, hs *HistoryStore, chatID, botName string) (ImportReport, error) {
	var export telegramExport
	if err := json.NewDecoder(r).Decode(&export); err != nil {
		return ImportReport{}, fmt.Errorf("decode export: %w", err)
	}

	report := ImportReport{Total: len(export.Messages)}
	lowerBot := strings.ToLower(botName)

	for _, m := range export.Messages {
		text := strings.TrimSpace(flattenExportText(m.Text))
		if m.Type != "message" || text == "" {
			report.Skipped++
			continue
		}

		role := RoleUser
		if strings.HasSuffix(m.FromID, "bot") ||
			(lowerBot != "" && strings.Contains(strings.ToLower(m.From), lowerBot)) {
			role = RoleAssistant
		}

		ts, err := time.Parse("2006-01-02T15:04:05", m.Date)
		if err != nil {
			ts = time.Now().UTC()
		}

		sender := m.From
		if sender == "" {
			sender = unknownNameSentinel
		}

		msg := Message{
			Role:      role,
			Text:      text,
			UserID:    m.FromID,
			Sender:    sender,
			Timestamp: ts.UTC(),
		}
		if err := hs.Append(chatID, msg); err != nil {
			return report, err
		}

		report.Imported++
		if role == RoleAssistant {
			report.Assistant++
		} else {
			report.User++
		}
	}

	return report, nil
}
