package archive

import (
	"context"
	"fmt"
	"strings"

	"github.com/brightline-ai/concierge/internal/conversation"
	"github.com/brightline-ai/concierge/pkg/logging"
)

const (
	summaryMaxTokens     = 300
	summaryMaxTurns      = 60
	summaryMaxTurnLength = 500
)

var summaryLanguageNames = map[string]string{
	"en": "English",
	"es": "Spanish",
	"pt": "Portuguese",
	"ru": "Russian",
	"he": "Hebrew",
}

// Summarizer produces the closing summary stored on the session row. The
// LLM is optional; without one (or when it fails) a heuristic one-liner is
// used so the sweep never stalls on the model.
type Summarizer struct {
	llm    conversation.LLMClient
	logger *logging.Logger
}

// NewSummarizer creates a Summarizer. llm may be nil.
func NewSummarizer(llm conversation.LLMClient, logger *logging.Logger) *Summarizer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Summarizer{llm: llm, logger: logger}
}

// Summarize condenses a transcript into a few sentences in the session's
// language.
func (s *Summarizer) Summarize(ctx context.Context, language string, msgs []TranscriptMessage) string {
	if len(msgs) == 0 {
		return ""
	}
	if s == nil || s.llm == nil {
		return heuristicSummary(msgs)
	}

	langName := summaryLanguageNames[language]
	if langName == "" {
		langName = "the patient's language"
	}
	system := fmt.Sprintf(
		"You summarize clinic WhatsApp conversations for the front desk. "+
			"In 2-3 sentences, state what the patient wanted, what was agreed, and anything still pending. "+
			"Write in %s. No preamble, no bullet points.", langName)

	resp, err := s.llm.Complete(ctx, conversation.LLMRequest{
		System:      []string{system},
		Messages:    []conversation.ChatMessage{{Role: conversation.ChatRoleUser, Content: renderTranscript(msgs)}},
		MaxTokens:   summaryMaxTokens,
		Temperature: 0.2,
	})
	if err != nil {
		s.logger.Warn("summary generation failed, using heuristic", "error", err)
		return heuristicSummary(msgs)
	}
	summary := strings.TrimSpace(resp.Text)
	if summary == "" {
		return heuristicSummary(msgs)
	}
	return summary
}

// renderTranscript flattens the transcript for the summarization prompt,
// keeping only the newest turns so long sessions stay inside the window.
func renderTranscript(msgs []TranscriptMessage) string {
	if len(msgs) > summaryMaxTurns {
		msgs = msgs[len(msgs)-summaryMaxTurns:]
	}
	var b strings.Builder
	for _, m := range msgs {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		if len(content) > summaryMaxTurnLength {
			content = content[:summaryMaxTurnLength] + "…"
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, content)
	}
	return b.String()
}

// heuristicSummary is the fallback when no model is available: the last
// thing the patient said, dated.
func heuristicSummary(msgs []TranscriptMessage) string {
	var lastUser string
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == conversation.ChatRoleUser {
			lastUser = strings.TrimSpace(msgs[i].Content)
			break
		}
	}
	first, last := msgs[0].CreatedAt, msgs[len(msgs)-1].CreatedAt
	if lastUser == "" {
		return fmt.Sprintf("Conversation of %d messages between %s and %s.",
			len(msgs), first.Format("2006-01-02"), last.Format("2006-01-02"))
	}
	if len(lastUser) > 160 {
		lastUser = lastUser[:160] + "…"
	}
	return fmt.Sprintf("Conversation of %d messages ending %s. Last patient message: %q",
		len(msgs), last.Format("2006-01-02"), lastUser)
}
