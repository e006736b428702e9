package openai

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/atelier-ai/atelier/internal/domain/service"
	"go.uber.org/zap"
)

// toolCallAccumulator tracks one streamed tool call being assembled.
type toolCallAccumulator struct {
	ID          string
	Name        string
	ArgsBuilder strings.Builder
}

// ParseSSEStream reads the chat completions SSE format: "data: <json>" lines
// terminated by "data: [DONE]". Text and reasoning deltas are forwarded as
// they arrive; tool call fragments are both forwarded and accumulated by
// index into the final response.
func ParseSSEStream(ctx context.Context, reader io.Reader, eventCh chan<- service.StreamEvent, logger *zap.Logger) (*service.ModelResponse, error) {
	idleTimeout := 60 * time.Second
	tReader := &timedReader{r: reader, timeout: idleTimeout}

	scanner := bufio.NewScanner(tReader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var contentBuilder strings.Builder
	var reasoningBuilder strings.Builder
	var modelUsed string
	var tokensUsed int
	toolCalls := make(map[int]*toolCallAccumulator)
	maxIndex := -1

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if strings.TrimSpace(data) == "[DONE]" {
			break
		}

		var chunk StreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			logger.Debug("Skip unparseable stream chunk", zap.Error(err))
			continue
		}
		if chunk.Model != "" {
			modelUsed = chunk.Model
		}
		if chunk.Usage != nil && chunk.Usage.TotalTokens > 0 {
			tokensUsed = chunk.Usage.TotalTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta

		if delta.Content != "" {
			contentBuilder.WriteString(delta.Content)
			eventCh <- service.StreamEvent{Type: service.StreamContent, Text: delta.Content}
		}
		if delta.ReasoningContent != "" {
			reasoningBuilder.WriteString(delta.ReasoningContent)
			eventCh <- service.StreamEvent{Type: service.StreamReasoning, Text: delta.ReasoningContent}
		}
		for _, tc := range delta.ToolCalls {
			acc, ok := toolCalls[tc.Index]
			if !ok {
				acc = &toolCallAccumulator{}
				toolCalls[tc.Index] = acc
				if tc.Index > maxIndex {
					maxIndex = tc.Index
				}
			}
			if tc.ID != "" {
				acc.ID = tc.ID
			}
			fragment := ""
			if tc.Function != nil {
				if tc.Function.Name != "" {
					acc.Name = tc.Function.Name
				}
				if tc.Function.Arguments != "" {
					acc.ArgsBuilder.WriteString(tc.Function.Arguments)
					fragment = tc.Function.Arguments
				}
			}
			if tc.Index > maxIndex {
				maxIndex = tc.Index
			}
			eventCh <- service.StreamEvent{
				Type: service.StreamToolCall,
				ToolCall: &service.ToolCallDelta{
					Index:        tc.Index,
					ID:           acc.ID,
					Name:         acc.Name,
					ArgsFragment: fragment,
				},
			}
		}
	}

	if err := scanner.Err(); err != nil {
		if isIdleTimeoutErr(err) {
			logger.Warn("SSE stream idle timeout",
				zap.Duration("idle_timeout", idleTimeout))
			if contentBuilder.Len() == 0 && len(toolCalls) == 0 {
				return nil, fmt.Errorf("SSE stream stalled: no data for %v", idleTimeout)
			}
		} else {
			return nil, fmt.Errorf("SSE scan error: %w", err)
		}
	}

	contentStr := contentBuilder.String()
	resp := &service.ModelResponse{
		Content:    contentStr,
		Reasoning:  reasoningBuilder.String(),
		ModelUsed:  modelUsed,
		TokensUsed: tokensUsed,
	}
	for i := 0; i <= maxIndex; i++ {
		acc, ok := toolCalls[i]
		if !ok {
			continue
		}
		resp.ToolCalls = append(resp.ToolCalls, service.ToolCallPayload{
			ID:        acc.ID,
			Name:      acc.Name,
			Arguments: acc.ArgsBuilder.String(),
		})
	}

	eventCh <- service.StreamEvent{Type: service.StreamDone}
	return resp, nil
}

// --- SSE idle timeout support ---

var errIdleTimeout = fmt.Errorf("SSE read idle timeout")

type timedReader struct {
	r       io.Reader
	timeout time.Duration
}

func (t *timedReader) Read(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := t.r.Read(p)
		ch <- result{n, err}
	}()
	select {
	case res := <-ch:
		return res.n, res.err
	case <-time.After(t.timeout):
		return 0, errIdleTimeout
	}
}

func isIdleTimeoutErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "SSE read idle timeout")
}
