package pty

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func utf16le(s string) []byte {
	var out []byte
	for _, r := range s {
		out = append(out, byte(r), byte(r>>8))
	}
	return out
}

func TestDecodeOutput(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"empty", nil, ""},
		{"plain utf8", []byte("hello"), "hello"},
		{"multibyte utf8", []byte("héllo 世界"), "héllo 世界"},
		{"utf8 bom", append([]byte{0xEF, 0xBB, 0xBF}, []byte("bom")...), "bom"},
		{"utf16le bom", append([]byte{0xFF, 0xFE}, utf16le("hi there")...), "hi there"},
		{"utf16be bom", []byte{0xFE, 0xFF, 0x00, 'h', 0x00, 'i'}, "hi"},
		{"bomless utf16le heuristic", utf16le("hello world ab"), "hello world ab"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DecodeOutput(tt.data); got != tt.want {
				t.Errorf("DecodeOutput = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecodeOutputInvalidBytes(t *testing.T) {
	got := DecodeOutput([]byte{'o', 'k', 0xFF, 0xC0})
	if !strings.HasPrefix(got, "ok") {
		t.Errorf("prefix lost: %q", got)
	}
	if !strings.ContainsRune(got, utf8.RuneError) {
		t.Error("invalid bytes must decode to replacement characters")
	}
}
