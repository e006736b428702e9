package compaction

import (
	"context"
	"fmt"
	"strings"

	"github.com/atelier-ai/atelier/internal/domain/entity"
	"github.com/atelier-ai/atelier/internal/domain/repository"
	"github.com/atelier-ai/atelier/internal/domain/service"
)

// SummaryMarker tags the running summary pseudo-message.
const SummaryMarker = "[Context Summary]"

// ContextAnnotator produces an optional code-map annotation prepended to the
// history. It is injected and opaque to this package.
type ContextAnnotator interface {
	Annotate(ctx context.Context, sessionID, workPath string) (string, error)
}

// Builder reconstructs the model-facing message array from the repository's
// dialogue after the last compression boundary, interleaving each assistant
// message's persisted tool steps as paired tool_calls/tool messages.
type Builder struct {
	messages  repository.MessageRepository
	steps     repository.StepRepository
	annotator ContextAnnotator
	trunc     TruncateConfig
}

// NewBuilder creates a history builder. annotator may be nil.
func NewBuilder(messages repository.MessageRepository, steps repository.StepRepository, annotator ContextAnnotator, trunc TruncateConfig) *Builder {
	return &Builder{
		messages:  messages,
		steps:     steps,
		annotator: annotator,
		trunc:     trunc,
	}
}

// BuildInput selects the history window.
type BuildInput struct {
	SessionID string
	// AfterMessageID is the compression boundary; 0 means full history.
	AfterMessageID int64
	// CurrentUserMessageID is excluded from the history (it is sent as the
	// live user turn instead).
	CurrentUserMessageID int64
	Summary              string
	WorkPath             string
	IncludeAnnotation    bool
}

// Build assembles the message array supplied to the model client.
func (b *Builder) Build(ctx context.Context, in BuildInput) ([]service.ModelMessage, error) {
	dialogue, err := b.loadDialogue(ctx, in.SessionID, in.AfterMessageID, in.CurrentUserMessageID)
	if err != nil {
		return nil, err
	}

	var assistantIDs []int64
	for _, msg := range dialogue {
		if msg.Role == entity.RoleAssistant {
			assistantIDs = append(assistantIDs, msg.ID)
		}
	}

	stepsByMessage := map[int64][]*entity.AgentStep{}
	if len(assistantIDs) > 0 {
		steps, err := b.steps.ListForMessages(ctx, in.SessionID, assistantIDs)
		if err != nil {
			return nil, err
		}
		for _, step := range steps {
			stepsByMessage[step.MessageID] = append(stepsByMessage[step.MessageID], step)
		}
	}

	var history []service.ModelMessage
	callCounter := 0

	for _, msg := range dialogue {
		if msg.Role == entity.RoleAssistant {
			history = b.appendToolExchanges(history, msg, stepsByMessage[msg.ID], &callCounter)
		}
		history = append(history, service.ModelMessage{Role: msg.Role, Content: msg.Content})
	}

	if in.Summary != "" {
		history = prepend(history, service.ModelMessage{
			Role:    entity.RoleAssistant,
			Content: SummaryMarker + "\n" + in.Summary,
		})
	}
	if in.IncludeAnnotation && b.annotator != nil {
		annotation, err := b.annotator.Annotate(ctx, in.SessionID, in.WorkPath)
		if err == nil && annotation != "" {
			idx := 0
			if in.Summary != "" {
				idx = 1
			}
			history = insertAt(history, idx, service.ModelMessage{
				Role:    entity.RoleAssistant,
				Content: annotation,
			})
		}
	}

	return history, nil
}

// loadDialogue returns dialogue messages after the boundary, excluding the
// in-flight user message and assistant messages that never produced content.
func (b *Builder) loadDialogue(ctx context.Context, sessionID string, afterID, currentUserID int64) ([]*entity.Message, error) {
	msgs, err := b.messages.ListAfter(ctx, sessionID, afterID)
	if err != nil {
		return nil, err
	}
	filtered := msgs[:0]
	for _, msg := range msgs {
		if currentUserID != 0 && msg.ID == currentUserID {
			continue
		}
		if msg.Role == entity.RoleAssistant && strings.TrimSpace(msg.Content) == "" {
			continue
		}
		filtered = append(filtered, msg)
	}
	return filtered, nil
}

// appendToolExchanges interleaves an assistant message's action/observation
// steps as assistant tool_calls messages and matching tool messages. A
// synthetic correlation id pairs each action with its observation; an
// observation without a prior matching action gets a fabricated call with
// empty arguments so the pairing stays well-formed.
func (b *Builder) appendToolExchanges(history []service.ModelMessage, msg *entity.Message, steps []*entity.AgentStep, callCounter *int) []service.ModelMessage {
	type pendingCall struct {
		tool string
		id   string
	}
	var pending []pendingCall

	nextCallID := func(sequence int, _ string) string {
		*callCounter++
		return fmt.Sprintf("hist_call_%d_%d_%d", msg.ID, sequence, *callCounter)
	}

	for _, step := range steps {
		toolName := step.MetaString("tool")
		if toolName == "" {
			continue
		}
		switch step.Type {
		case entity.StepAction:
			input := TruncateMiddle(step.MetaString("input"), b.trunc)
			callID := nextCallID(step.Sequence, toolName)
			pending = append(pending, pendingCall{tool: toolName, id: callID})
			history = append(history, service.ModelMessage{
				Role: entity.RoleAssistant,
				ToolCalls: []service.ToolCallPayload{{
					ID:        callID,
					Name:      toolName,
					Arguments: input,
				}},
			})

		case entity.StepObservation:
			if step.Metadata != nil {
				if flagged, _ := step.Metadata["context_compress"].(bool); flagged {
					continue
				}
			}
			output := TruncateMiddle(step.Content, b.trunc)
			callID := ""
			for i, p := range pending {
				if p.tool == toolName {
					callID = p.id
					pending = append(pending[:i], pending[i+1:]...)
					break
				}
			}
			if callID == "" {
				callID = nextCallID(step.Sequence, toolName)
				history = append(history, service.ModelMessage{
					Role: entity.RoleAssistant,
					ToolCalls: []service.ToolCallPayload{{
						ID:   callID,
						Name: toolName,
					}},
				})
			}
			history = append(history, service.ModelMessage{
				Role:       entity.RoleTool,
				Content:    output,
				ToolCallID: callID,
				Name:       toolName,
			})
		}
	}
	return history
}

func prepend(history []service.ModelMessage, msg service.ModelMessage) []service.ModelMessage {
	return insertAt(history, 0, msg)
}

func insertAt(history []service.ModelMessage, idx int, msg service.ModelMessage) []service.ModelMessage {
	history = append(history, service.ModelMessage{})
	copy(history[idx+1:], history[idx:])
	history[idx] = msg
	return history
}
