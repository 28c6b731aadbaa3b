// Package mood infers a user's mood from what they write, using an LLM
// classifier when configured and keyword heuristics otherwise.
package mood

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	analysis "github.com/zhouzirui/mindfriend/backend/internal/analysis/mood"
	"github.com/zhouzirui/mindfriend/backend/internal/model/chat"
	moodmodel "github.com/zhouzirui/mindfriend/backend/internal/model/mood"
)

// Methods that produced an inference.
const (
	MethodLLM       = "llm"
	MethodHeuristic = "heuristic"
)

// Config controls the classifier.
type Config struct {
	LLMEnabled   bool
	HistoryLimit int
}

// Inference is the inferred mood for one user message.
type Inference struct {
	Label      analysis.Label
	Score      float64
	Confidence float64
	Reason     string
	Method     string
}

// Service classifies mood with an LLM and falls back to keyword heuristics.
type Service struct {
	classifier   compose.Runnable[map[string]any, *schema.Message]
	fallback     func(text string) analysis.Decision
	historyLimit int
	logger       zerolog.Logger
}

// NewService builds the classifier. A nil chatModel or disabled LLM leaves
// only the heuristic path.
func NewService(ctx context.Context, chatModel model.BaseChatModel, cfg Config, logger zerolog.Logger) (*Service, error) {
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 6
	}

	svc := &Service{
		fallback:     analysis.Analyze,
		historyLimit: historyLimit,
		logger:       logger.With().Str("component", "mood").Logger(),
	}
	if !cfg.LLMEnabled || chatModel == nil {
		return svc, nil
	}

	template := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(classifierSystemPrompt),
		schema.UserMessage(classifierUserPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(template)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile mood classifier chain: %w", err)
	}
	svc.classifier = runnable
	return svc, nil
}

// LLMEnabled reports whether the LLM classifier is active.
func (s *Service) LLMEnabled() bool {
	return s != nil && s.classifier != nil
}

// Infer classifies text given the recent history. It never fails: any
// classifier problem falls back to the heuristic.
func (s *Service) Infer(ctx context.Context, history []chat.Turn, text string) Inference {
	if !s.LLMEnabled() {
		return s.heuristic(text)
	}

	input := map[string]any{
		"history": formatHistory(history, s.historyLimit),
		"message": strings.TrimSpace(text),
	}

	msg, err := s.classifier.Invoke(ctx, input)
	if err != nil {
		s.logger.Warn().Err(err).Msg("classifier invoke failed, using heuristic")
		return s.heuristic(text)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return s.heuristic(text)
	}

	payload, err := parseClassifierOutput(msg.Content)
	if err != nil {
		s.logger.Warn().Err(err).Msg("classifier output unreadable, using heuristic")
		return s.heuristic(text)
	}

	label, ok := analysis.Parse(payload.Mood)
	if !ok {
		s.logger.Debug().Str("mood", payload.Mood).Msg("classifier returned unknown mood, using heuristic")
		return s.heuristic(text)
	}

	score := payload.Score
	if !moodmodel.ValidScore(score) {
		score = analysis.SuggestedScore(label)
	}

	confidence := payload.Confidence
	if confidence <= 0 {
		confidence = 0.6
	}
	if confidence > 1 {
		confidence = 1
	}

	return Inference{
		Label:      label,
		Score:      score,
		Confidence: confidence,
		Reason:     strings.TrimSpace(payload.Reason),
		Method:     MethodLLM,
	}
}

func (s *Service) heuristic(text string) Inference {
	decision := s.fallback(text)
	return Inference{
		Label:      decision.Label,
		Score:      decision.Score,
		Confidence: decision.Confidence,
		Reason:     "keywords",
		Method:     MethodHeuristic,
	}
}

type classifierPayload struct {
	Mood       string  `json:"mood"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

var errNoJSON = errors.New("missing json object")

// parseClassifierOutput extracts the first JSON object from the reply.
func parseClassifierOutput(content string) (*classifierPayload, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, errNoJSON
	}

	payload := &classifierPayload{}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func formatHistory(turns []chat.Turn, limit int) string {
	if limit < 1 {
		limit = 1
	}
	start := max(0, len(turns)-limit)

	lines := make([]string, 0, len(turns)-start)
	for _, turn := range turns[start:] {
		text := strings.TrimSpace(turn.Text)
		if text == "" {
			continue
		}
		speaker := "User"
		if turn.Role == chat.RoleAssistant {
			speaker = "MindFriend"
		}
		lines = append(lines, speaker+": "+text)
	}
	if len(lines) == 0 {
		return "(no earlier conversation)"
	}
	return strings.Join(lines, "\n")
}

const classifierSystemPrompt = "You read short chat messages and estimate the writer's current mood. " +
	"Reply with one JSON object and nothing else, with fields: mood (one of neutral, happy, sad, angry, anxious, excited, calm, tired), " +
	"score (1 to 10, 1 is very low and 10 is very good), confidence (0 to 1) and reason (one short sentence)."

const classifierUserPrompt = "Recent conversation:\n{history}\n\nLatest message from the user:\n{message}\n\nReturn the JSON object."
