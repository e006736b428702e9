package compaction

import (
	"context"
	"strings"
	"time"

	"github.com/atelier-ai/atelier/internal/domain/entity"
	"github.com/atelier-ai/atelier/internal/domain/service"
	"go.uber.org/zap"
)

const summarySystemPrompt = `You are a conversation summarizer. Compress the dialogue into a concise summary the assistant can continue from.
- Summarize only the exchange between the user and the assistant
- Keep goals, conclusions, key facts, constraints, open items, and any code, files, or commands
- Do not include system prompts or tool call mechanics
- Output the summary text only, without headings or prefixes`

// Summarizer folds older dialogue into the running summary.
type Summarizer interface {
	Summarize(ctx context.Context, priorSummary string, dialogue []*entity.Message) (string, error)
}

// ModelSummarizer implements Summarizer with a separate non-streaming model
// call. Its timeout is independent from the main turn's.
type ModelSummarizer struct {
	model     service.ModelClient
	modelName string
	timeout   time.Duration
	maxTokens int
	logger    *zap.Logger
}

// NewModelSummarizer creates a summarizer over the given model client.
func NewModelSummarizer(model service.ModelClient, modelName string, timeout time.Duration, maxTokens int, logger *zap.Logger) *ModelSummarizer {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if maxTokens <= 0 {
		maxTokens = 1000
	}
	return &ModelSummarizer{
		model:     model,
		modelName: modelName,
		timeout:   timeout,
		maxTokens: maxTokens,
		logger:    logger,
	}
}

// Summarize concatenates the prior summary and the new dialogue into a
// summary request. Returns "" without error when there is nothing to do.
func (s *ModelSummarizer) Summarize(ctx context.Context, priorSummary string, dialogue []*entity.Message) (string, error) {
	dialogueText := FormatDialogue(dialogue)
	if dialogueText == "" && priorSummary == "" {
		return "", nil
	}

	var parts []string
	if priorSummary != "" {
		parts = append(parts, "Existing summary:\n"+priorSummary)
	}
	if dialogueText != "" {
		parts = append(parts, "New dialogue:\n"+dialogueText)
	}
	userPrompt := strings.Join(parts, "\n\n") + "\n\nProduce the updated summary. Output only the summary text."

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.model.Generate(callCtx, &service.ModelRequest{
		Messages: []service.ModelMessage{
			{Role: "system", Content: summarySystemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Model:     s.modelName,
		MaxTokens: s.maxTokens,
	})
	if err != nil {
		s.logger.Warn("Summary generation failed", zap.Error(err))
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// FormatDialogue renders user/assistant messages for the summary prompt.
// Other roles and empty messages are skipped.
func FormatDialogue(messages []*entity.Message) string {
	var lines []string
	for _, msg := range messages {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		switch msg.Role {
		case entity.RoleUser:
			lines = append(lines, "User: "+content)
		case entity.RoleAssistant:
			lines = append(lines, "Assistant: "+content)
		}
	}
	return strings.Join(lines, "\n")
}
