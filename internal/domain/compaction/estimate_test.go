package compaction

import (
	"strings"
	"testing"

	"github.com/atelier-ai/atelier/internal/domain/service"
)

func TestEstimateText(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"four ascii", "abcd", 1},
		{"five ascii rounds up", "abcde", 2},
		{"eight ascii", strings.Repeat("a", 8), 2},
		{"non-ascii counts per rune", "好好", 2},
		{"mixed", "ab好", 2}, // ceil(2/4)=1 + 1
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateText(tt.text); got != tt.want {
				t.Errorf("EstimateText(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestEstimateMessagesFraming(t *testing.T) {
	messages := []service.ModelMessage{
		{Role: "user", Content: strings.Repeat("a", 8)},
		{Role: "assistant", Content: ""},
	}
	// 4 + 2 for the first message, 4 + 0 for the second.
	if got := EstimateMessages(messages); got != 10 {
		t.Errorf("EstimateMessages = %d, want 10", got)
	}
}

func TestEstimateDeterministic(t *testing.T) {
	messages := []service.ModelMessage{
		{Role: "user", Content: "the same input"},
		{Role: "assistant", Content: "每次都一样"},
	}
	first := EstimateMessages(messages)
	for i := 0; i < 10; i++ {
		if got := EstimateMessages(messages); got != first {
			t.Fatalf("estimator is not deterministic: %d != %d", got, first)
		}
	}
}

func TestBuildEstimateSplitsRoles(t *testing.T) {
	messages := []service.ModelMessage{
		{Role: "system", Content: strings.Repeat("s", 4)},
		{Role: "user", Content: strings.Repeat("u", 4)},
	}
	est := BuildEstimate(messages, nil)
	if est.System != 5 || est.History != 5 {
		t.Errorf("BuildEstimate = %+v, want system=5 history=5", est)
	}
	if est.Total != est.System+est.History+est.Tools {
		t.Error("total must be the sum of the parts")
	}
}
