package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"gainable/config"
)

const outlinePrompt = `Tu es rédacteur pour Gainable.fr, annuaire de professionnels de la climatisation gainable.
Propose le plan d'un article de conseil sur le sujet "%s"%s.
Réponds en JSON STRICT, sans markdown, avec exactement les clés:
{"sections":[{"heading":"...","body":"..."}],"faq":[{"question":"...","answer":"..."}]}
Au moins 3 sections et 3 questions. Pas de superlatifs commerciaux ni de promesses de prix.`

// Assistant drafts article outlines with Gemini.
type Assistant struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewAssistant creates a Gemini-backed article assistant.
func NewAssistant(cfg *config.Config, logger *zap.Logger) *Assistant {
	return &Assistant{Config: cfg, Logger: logger}
}

// SuggestOutline returns the raw JSON outline produced by the model.
func (a *Assistant) SuggestOutline(ctx context.Context, topic, city string) ([]byte, error) {
	if a.Config.GeminiAPIKey == "" {
		return nil, errors.New("gemini api key not configured")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(a.Config.GeminiAPIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	defer client.Close()

	where := ""
	if city != "" {
		where = " pour des lecteurs de " + city
	}
	model := client.GenerativeModel(a.Config.GeminiModel)
	model.ResponseMIMEType = "application/json"
	resp, err := model.GenerateContent(ctx, genai.Text(fmt.Sprintf(outlinePrompt, topic, where)))
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	text := stripFences(extractText(resp))
	if text == "" {
		return nil, errors.New("gemini returned an empty outline")
	}
	if !json.Valid([]byte(text)) {
		a.Logger.Warn("Gemini outline is not valid JSON", zap.Int("length", len(text)))
		return nil, errors.New("gemini returned malformed JSON")
	}
	return []byte(text), nil
}

func stripFences(s string) string {
	t := strings.TrimSpace(s)
	t = strings.TrimPrefix(t, "```json")
	t = strings.TrimPrefix(t, "```")
	t = strings.TrimSuffix(t, "```")
	return strings.TrimSpace(t)
}

func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if s, ok := p.(genai.Text); ok {
				b.WriteString(string(s))
			}
		}
	}
	return b.String()
}
