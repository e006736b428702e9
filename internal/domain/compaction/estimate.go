package compaction

import (
	"encoding/json"

	"github.com/atelier-ai/atelier/internal/domain/service"
)

// Token estimation is deliberately coarse and local: it is the sole arbiter
// for triggering compression and therefore must be deterministic. Per
// message: 4 tokens of framing plus ceil(ascii/4) + one per non-ascii rune.

// EstimateText estimates tokens for a text fragment.
func EstimateText(text string) int {
	if text == "" {
		return 0
	}
	ascii := 0
	nonASCII := 0
	for _, r := range text {
		if r <= 0x7F {
			ascii++
		} else {
			nonASCII++
		}
	}
	return (ascii+3)/4 + nonASCII
}

// EstimateMessages estimates tokens for a message array.
func EstimateMessages(messages []service.ModelMessage) int {
	total := 0
	for _, msg := range messages {
		total += 4
		total += EstimateText(msg.Content)
		for _, tc := range msg.ToolCalls {
			total += EstimateText(tc.Name) + EstimateText(tc.Arguments)
		}
	}
	return total
}

// EstimateTools estimates tokens for the tool definitions payload by
// serializing it once.
func EstimateTools(tools interface{}) int {
	if tools == nil {
		return 0
	}
	payload, err := json.Marshal(tools)
	if err != nil {
		return 0
	}
	return EstimateText(string(payload))
}

// Estimate breaks an estimate down by origin for diagnostics.
type Estimate struct {
	Total   int `json:"total"`
	System  int `json:"system"`
	History int `json:"history"`
	Tools   int `json:"tools"`
}

// BuildEstimate computes a per-role breakdown for a request.
func BuildEstimate(messages []service.ModelMessage, tools interface{}) Estimate {
	var est Estimate
	for _, msg := range messages {
		tokens := 4 + EstimateText(msg.Content)
		if msg.Role == "system" || msg.Role == "developer" {
			est.System += tokens
		} else {
			est.History += tokens
		}
	}
	est.Tools = EstimateTools(tools)
	est.Total = est.System + est.History + est.Tools
	return est
}
