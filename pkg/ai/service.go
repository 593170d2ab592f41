package ai

import (
	"context"
	"strings"
	"time"

	"github.com/huskbot/husk/pkg/karma"
	"github.com/huskbot/husk/pkg/logger"
	"github.com/huskbot/husk/pkg/providers"
	"github.com/huskbot/husk/pkg/store"
	"github.com/huskbot/husk/pkg/utils"
)

const historyWindow = 10

// Service builds prompts for the conversational operations and runs
// them through the orchestrator.
type Service struct {
	orch    *Orchestrator
	botName string
	now     func() time.Time
}

func NewService(orch *Orchestrator, botName string) *Service {
	return &Service{orch: orch, botName: botName, now: time.Now}
}

// RespondRequest carries everything one reply needs.
type RespondRequest struct {
	Window      []store.Message
	Sender      string
	Text        string
	ReplyTo     string
	Profile     store.UserProfile
	Instruction string
	Spontaneous bool
}

// modelTierFor couples relationship state to model priority: the
// warmest users (and first impressions) get the high tier, the coldest
// get the cheap one.
func modelTierFor(tier string, firstInteraction bool) string {
	if firstInteraction || tier == karma.TierBrother {
		return "high"
	}
	if tier == karma.TierEnemy || tier == karma.TierCold {
		return "low"
	}
	return "default"
}

// Respond generates the bot's reply to one message.
func (s *Service) Respond(ctx context.Context, req RespondRequest) (string, error) {
	tier := karma.TierFor(req.Profile.Relationship)

	messages := []providers.Message{{Role: "system", Content: systemPrompt(s.botName)}}
	for _, m := range tail(req.Window, historyWindow) {
		messages = append(messages, providers.Message{Role: m.Role, Content: m.Text})
	}
	messages = append(messages, providers.Message{Role: "user", Content: respondPrompt(respondContext{
		Time:          s.now().Format("Monday, 2 January 2006, 15:04"),
		Sender:        req.Sender,
		Text:          req.Text,
		ReplyTo:       req.ReplyTo,
		ToneDirective: karma.ToneFor(tier),
		Score:         req.Profile.Relationship,
		Tier:          tier,
		Spontaneous:   req.Spontaneous,
	})})
	if req.Instruction != "" {
		messages = append(messages, providers.Message{Role: "system", Content: req.Instruction})
	}

	resp, err := s.orch.Execute(ctx, PromptUnit{
		Messages: messages,
		Tier:     modelTierFor(tier, req.Profile.IsFirstInteraction),
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// SpontaneousThought asks for an unprompted remark about the recent
// conversation. The second return is false when the backend declines.
func (s *Service) SpontaneousThought(ctx context.Context, window []store.Message) (string, bool, error) {
	resp, err := s.orch.Execute(ctx, PromptUnit{
		Messages: []providers.Message{
			{Role: "system", Content: systemPrompt(s.botName)},
			{Role: "user", Content: spontaneousThoughtPrompt(renderHistory(tail(window, historyWindow)))},
		},
		Params: providers.GenerationParams{Temperature: 0.9},
	})
	if err != nil {
		return "", false, err
	}
	return declinable(resp.Content)
}

// Reaction picks an emoji reaction for a message, or declines.
func (s *Service) Reaction(ctx context.Context, text string) (string, bool, error) {
	resp, err := s.orch.Execute(ctx, PromptUnit{
		Messages: []providers.Message{
			{Role: "system", Content: systemPrompt(s.botName)},
			{Role: "user", Content: reactionPrompt(text)},
		},
		Params: providers.GenerationParams{Temperature: 0.8, MaxTokens: 16},
	})
	if err != nil {
		return "", false, err
	}
	return declinable(resp.Content)
}

// DailySummary recaps one day of chat history.
func (s *Service) DailySummary(ctx context.Context, todays []store.Message) (string, error) {
	resp, err := s.orch.Execute(ctx, PromptUnit{
		Messages: []providers.Message{
			{Role: "system", Content: systemPrompt(s.botName)},
			{Role: "user", Content: dailySummaryPrompt(renderHistory(todays))},
		},
		Params: providers.GenerationParams{Temperature: 0.8},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// JudgeDebate rules on the last stretch of conversation.
func (s *Service) JudgeDebate(ctx context.Context, window []store.Message) (string, error) {
	resp, err := s.orch.Execute(ctx, PromptUnit{
		Messages: []providers.Message{
			{Role: "system", Content: systemPrompt(s.botName)},
			{Role: "user", Content: judgeDebatePrompt(renderHistory(tail(window, 20)))},
		},
		Params: providers.GenerationParams{Temperature: 0.9},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// Dossier produces the bot's personal rundown of a user.
func (s *Service) Dossier(ctx context.Context, name string, profile store.UserProfile) (string, error) {
	resp, err := s.orch.Execute(ctx, PromptUnit{
		Messages: []providers.Message{
			{Role: "system", Content: systemPrompt(s.botName)},
			{Role: "user", Content: dossierPrompt(profile, name)},
		},
		Params: providers.GenerationParams{Temperature: 0.9},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// BatchMessage is one entry of the profile-analysis buffer.
type BatchMessage struct {
	UserID string
	Sender string
	Text   string
}

// ProfileAnalysis is the per-user record the analysis operation returns.
type ProfileAnalysis struct {
	RealName     string `json:"realName"`
	Facts        string `json:"facts"`
	Attitude     string `json:"attitude"`
	Relationship int    `json:"relationship"`
}

// AnalyzeBatch runs the structured profile analysis over a buffered
// message batch. Malformed backend output is a soft failure: the second
// return is false and no update happens.
func (s *Service) AnalyzeBatch(ctx context.Context, batch []BatchMessage) (map[string]ProfileAnalysis, bool, error) {
	var b strings.Builder
	for _, m := range batch {
		b.WriteString("[")
		b.WriteString(m.UserID)
		b.WriteString("] ")
		b.WriteString(m.Sender)
		b.WriteString(": ")
		b.WriteString(m.Text)
		b.WriteString("\n")
	}

	resp, err := s.orch.Execute(ctx, PromptUnit{
		Messages: []providers.Message{
			{Role: "system", Content: systemPrompt(s.botName)},
			{Role: "user", Content: analyzeBatchPrompt(b.String())},
		},
		Params: providers.GenerationParams{Temperature: 0.3},
	})
	if err != nil {
		return nil, false, err
	}

	var analyses map[string]ProfileAnalysis
	if !ParseStructured(resp.Content, &analyses) {
		logger.WarnCF("ai", "analysis output unparseable, skipping", map[string]any{
			"output": utils.Truncate(resp.Content, 200),
		})
		return nil, false, nil
	}
	return analyses, true, nil
}

// UpdatesFromAnalyses converts analysis records into profile updates.
func UpdatesFromAnalyses(analyses map[string]ProfileAnalysis) map[string]store.ProfileUpdate {
	updates := make(map[string]store.ProfileUpdate, len(analyses))
	for userID, a := range analyses {
		a := a
		updates[userID] = store.ProfileUpdate{
			RealName:     &a.RealName,
			Facts:        &a.Facts,
			Attitude:     &a.Attitude,
			Relationship: &a.Relationship,
		}
	}
	return updates
}

// declinable maps the decline sentinel to an absent result.
func declinable(content string) (string, bool, error) {
	content = strings.TrimSpace(content)
	if content == "" || strings.EqualFold(content, nullSentinel) {
		return "", false, nil
	}
	return content, true, nil
}

func tail(msgs []store.Message, n int) []store.Message {
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
