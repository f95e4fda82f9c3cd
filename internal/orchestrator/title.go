package orchestrator

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/helmsman-ai/helmsman/internal/provider"
	"github.com/helmsman-ai/helmsman/pkg/models"
)

const defaultTitle = "New Conversation"

var (
	titleWhitespaceRe  = regexp.MustCompile(`\s+`)
	titlePunctuationRe = regexp.MustCompile("[.!?,;:\"'`]+")
)

// GenerateTitle produces a short conversation title from the transcript
// via a one-shot low-temperature completion. Any failure falls back to
// the most recent user message, then to a fixed default.
func (o *Orchestrator) GenerateTitle(ctx context.Context, history []models.Message) string {
	curated := history
	if len(curated) > 6 {
		curated = curated[len(curated)-6:]
	}

	judge := make([]models.Message, 0, len(curated)+1)
	for _, m := range curated {
		role := m.Role
		if role == models.RoleTool || role == models.RoleSystem {
			continue
		}
		judge = append(judge, models.Message{Role: role, Content: m.Content})
	}
	judge = append(judge, models.Message{Role: models.RoleUser, Content: titlePrompt})

	resp, err := o.provider.Complete(ctx, &provider.Request{
		Model:       o.modelName(),
		Messages:    judge,
		Temperature: 0.2,
		MaxTokens:   64,
		JSONOnly:    true,
	})
	if err == nil {
		var decision struct {
			Title string `json:"title"`
		}
		if jsonErr := json.Unmarshal([]byte(strings.TrimSpace(resp.Content)), &decision); jsonErr == nil {
			if title := cleanTitle(decision.Title); title != "" {
				return title
			}
		}
	} else {
		o.logger.Debug("title generation failed, using fallback", "error", err)
	}

	for i := len(curated) - 1; i >= 0; i-- {
		if curated[i].Role != models.RoleUser {
			continue
		}
		words := strings.Fields(cleanTitle(curated[i].Content))
		if len(words) > 6 {
			words = words[:6]
		}
		if len(words) > 0 {
			return strings.Join(words, " ")
		}
	}
	return defaultTitle
}

func cleanTitle(s string) string {
	s = strings.NewReplacer("\n", " ", "\r", " ", "\t", " ").Replace(s)
	s = titlePunctuationRe.ReplaceAllString(s, "")
	s = titleWhitespaceRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	if len(s) > 60 {
		s = strings.TrimSpace(s[:60])
	}
	return s
}
