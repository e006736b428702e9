package compaction

import (
	"fmt"
	"strings"
	"testing"
)

func TestTruncateMiddleIdentityUnderThreshold(t *testing.T) {
	cfg := TruncateConfig{Enabled: true, Threshold: 100, HeadChars: 30, TailChars: 20}

	for _, text := range []string{"", "short", strings.Repeat("x", 100)} {
		if got := TruncateMiddle(text, cfg); got != text {
			t.Errorf("TruncateMiddle(%d chars) changed text under threshold", len(text))
		}
	}
}

func TestTruncateMiddleOverThreshold(t *testing.T) {
	cfg := TruncateConfig{Enabled: true, Threshold: 100, HeadChars: 30, TailChars: 20}
	text := strings.Repeat("a", 60) + strings.Repeat("b", 60)

	got := TruncateMiddle(text, cfg)

	if !strings.HasPrefix(got, text[:30]) {
		t.Error("result must keep the head")
	}
	if !strings.HasSuffix(got, text[len(text)-20:]) {
		t.Error("result must keep the tail")
	}
	omitted := len(text) - 30 - 20
	marker := fmt.Sprintf("%s(%d chars omitted)", TruncationMarkerStart, omitted)
	if !strings.Contains(got, marker) {
		t.Errorf("result missing marker %q in %q", marker, got)
	}
	if !strings.Contains(got, TruncationMarkerEnd) {
		t.Error("result missing end marker")
	}
}

func TestTruncateMiddleDisabled(t *testing.T) {
	cfg := TruncateConfig{Enabled: false, Threshold: 10, HeadChars: 2, TailChars: 2}
	text := strings.Repeat("z", 50)
	if got := TruncateMiddle(text, cfg); got != text {
		t.Error("disabled truncation must be the identity")
	}
}

func TestTruncateMiddleCountsRunes(t *testing.T) {
	cfg := TruncateConfig{Enabled: true, Threshold: 10, HeadChars: 3, TailChars: 3}
	text := strings.Repeat("好", 20)

	got := TruncateMiddle(text, cfg)
	if !strings.HasPrefix(got, "好好好") {
		t.Error("head must be counted in runes")
	}
	if !strings.Contains(got, "(14 chars omitted)") {
		t.Errorf("omitted count wrong: %q", got)
	}
}
