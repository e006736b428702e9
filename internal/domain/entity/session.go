package entity

import "time"

// Session is one persistent conversation. It is created lazily by the first
// turn and destroyed only by an explicit delete, which cascades to all child
// rows (messages, steps, calls, snapshots, permission requests).
type Session struct {
	ID        string
	Title     string
	ConfigID  string
	WorkPath  string
	AgentMode string

	// Context compression state. Summary holds the running summary of
	// everything at or before the boundary; LastCompressedCallID is the id of
	// the last model call folded into it.
	Summary              string
	LastCompressedCallID int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ModelConfig describes one model endpoint a session can bind to.
type ModelConfig struct {
	ID              string
	Name            string
	APIType         string // provider type; only "openai" (also used when empty) has a registered provider
	APIKey          string
	BaseURL         string
	Model           string
	Temperature     float64
	MaxTokens       int
	MaxContextTokens int
	IsDefault       bool
	CreatedAt       time.Time
}
