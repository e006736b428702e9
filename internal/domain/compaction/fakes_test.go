package compaction

import (
	"context"
	"strings"

	"github.com/atelier-ai/atelier/internal/domain/entity"
)

// memMessages is an in-memory MessageRepository.
type memMessages struct {
	msgs []*entity.Message
}

func (m *memMessages) Create(ctx context.Context, msg *entity.Message) error {
	msg.ID = int64(len(m.msgs) + 1)
	m.msgs = append(m.msgs, msg)
	return nil
}

func (m *memMessages) Get(ctx context.Context, sessionID string, id int64) (*entity.Message, error) {
	for _, msg := range m.msgs {
		if msg.SessionID == sessionID && msg.ID == id {
			return msg, nil
		}
	}
	return nil, nil
}

func (m *memMessages) ListAfter(ctx context.Context, sessionID string, afterID int64) ([]*entity.Message, error) {
	var out []*entity.Message
	for _, msg := range m.msgs {
		if msg.SessionID != sessionID || msg.ID <= afterID {
			continue
		}
		if msg.Role != entity.RoleUser && msg.Role != entity.RoleAssistant {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func (m *memMessages) ListBetween(ctx context.Context, sessionID string, fromID, toID int64) ([]*entity.Message, error) {
	var out []*entity.Message
	for _, msg := range m.msgs {
		if msg.SessionID != sessionID || msg.ID < fromID || msg.ID > toID {
			continue
		}
		if msg.Role != entity.RoleUser && msg.Role != entity.RoleAssistant {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func (m *memMessages) UpdateContent(ctx context.Context, sessionID string, id int64, content string) error {
	for _, msg := range m.msgs {
		if msg.SessionID == sessionID && msg.ID == id {
			msg.Content = content
		}
	}
	return nil
}

func (m *memMessages) DeleteFrom(ctx context.Context, sessionID string, fromID int64) error {
	var kept []*entity.Message
	for _, msg := range m.msgs {
		if msg.SessionID == sessionID && msg.ID >= fromID {
			continue
		}
		kept = append(kept, msg)
	}
	m.msgs = kept
	return nil
}

func (m *memMessages) Count(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	for _, msg := range m.msgs {
		if msg.SessionID == sessionID {
			count++
		}
	}
	return count, nil
}

// memSteps is an in-memory StepRepository.
type memSteps struct {
	steps []*entity.AgentStep
}

func (m *memSteps) Create(ctx context.Context, step *entity.AgentStep) error {
	step.ID = int64(len(m.steps) + 1)
	m.steps = append(m.steps, step)
	return nil
}

func (m *memSteps) ListForMessages(ctx context.Context, sessionID string, messageIDs []int64) ([]*entity.AgentStep, error) {
	wanted := map[int64]bool{}
	for _, id := range messageIDs {
		wanted[id] = true
	}
	var out []*entity.AgentStep
	for _, step := range m.steps {
		if wanted[step.MessageID] {
			out = append(out, step)
		}
	}
	return out, nil
}

// memCalls is an in-memory LLMCallRepository.
type memCalls struct {
	calls []*entity.LLMCall
}

func (m *memCalls) Create(ctx context.Context, call *entity.LLMCall) error {
	call.ID = int64(len(m.calls) + 1)
	m.calls = append(m.calls, call)
	return nil
}

func (m *memCalls) ListAfter(ctx context.Context, sessionID string, afterID int64) ([]*entity.LLMCall, error) {
	var out []*entity.LLMCall
	for _, call := range m.calls {
		if call.SessionID == sessionID && call.ID > afterID {
			out = append(out, call)
		}
	}
	return out, nil
}

func (m *memCalls) MaxMessageID(ctx context.Context, sessionID string, callID int64) (int64, error) {
	var maxID int64
	for _, call := range m.calls {
		if call.SessionID == sessionID && call.ID <= callID && call.MessageID > maxID {
			maxID = call.MessageID
		}
	}
	return maxID, nil
}

// fixedSummarizer returns a canned summary and records its inputs.
type fixedSummarizer struct {
	summary   string
	fail      bool
	dialogues [][]*entity.Message
}

func (s *fixedSummarizer) Summarize(ctx context.Context, prior string, dialogue []*entity.Message) (string, error) {
	s.dialogues = append(s.dialogues, dialogue)
	if s.fail {
		return "", nil
	}
	var sb strings.Builder
	sb.WriteString(s.summary)
	return sb.String(), nil
}
