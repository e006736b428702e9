package models

import "time"

// SessionModel is the sessions table.
type SessionModel struct {
	ID                   string `gorm:"primaryKey;size:64"`
	Title                string `gorm:"size:256;not null"`
	ConfigID             string `gorm:"size:64;index"`
	WorkPath             string `gorm:"size:1024"`
	AgentMode            string `gorm:"size:32"`
	Summary              string `gorm:"type:text"`
	LastCompressedCallID int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (SessionModel) TableName() string { return "sessions" }

// ModelConfigModel is the llm_configs table.
type ModelConfigModel struct {
	ID               string `gorm:"primaryKey;size:64"`
	Name             string `gorm:"size:128;not null"`
	APIType          string `gorm:"size:32;not null"`
	APIKey           string `gorm:"size:256"`
	BaseURL          string `gorm:"size:512"`
	Model            string `gorm:"size:128;not null"`
	Temperature      float64
	MaxTokens        int
	MaxContextTokens int
	IsDefault        bool `gorm:"index"`
	CreatedAt        time.Time
}

func (ModelConfigModel) TableName() string { return "llm_configs" }

// MessageModel is the messages table. The autoincrement id provides the
// strict per-session ordering.
type MessageModel struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	SessionID   string `gorm:"index;size:64;not null"`
	Role        string `gorm:"size:16;not null"`
	Content     string `gorm:"type:text"`
	RawRequest  string `gorm:"type:text"`
	RawResponse string `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (MessageModel) TableName() string { return "messages" }

// AttachmentModel is the attachments table.
type AttachmentModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	MessageID int64  `gorm:"index;not null"`
	SessionID string `gorm:"index;size:64;not null"`
	Kind      string `gorm:"size:16"`
	MimeType  string `gorm:"size:64"`
	Data      []byte `gorm:"type:blob"`
	Width     int
	Height    int
	SizeBytes int
	CreatedAt time.Time
}

func (AttachmentModel) TableName() string { return "attachments" }

// AgentStepModel is the agent_steps table. Delta step kinds are never
// written here.
type AgentStepModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	MessageID int64  `gorm:"index;not null"`
	SessionID string `gorm:"index;size:64;not null"`
	StepType  string `gorm:"size:32;not null"`
	Content   string `gorm:"type:text"`
	Sequence  int    `gorm:"not null"`
	Metadata  string `gorm:"type:text"` // JSON encoded
	CreatedAt time.Time
}

func (AgentStepModel) TableName() string { return "agent_steps" }

// ToolCallModel is the tool_calls table.
type ToolCallModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	MessageID int64  `gorm:"index;not null"`
	SessionID string `gorm:"index;size:64;not null"`
	ToolName  string `gorm:"size:128;not null"`
	Input     string `gorm:"type:text"`
	Output    string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ToolCallModel) TableName() string { return "tool_calls" }

// LLMCallModel is the llm_calls table.
type LLMCallModel struct {
	ID              int64  `gorm:"primaryKey;autoIncrement"`
	SessionID       string `gorm:"index;size:64;not null"`
	MessageID       int64  `gorm:"index"`
	Iteration       int
	Streaming       bool
	Profile         string `gorm:"size:32"`
	Format          string `gorm:"size:32"`
	RequestPayload  string `gorm:"type:text"`
	ResponsePayload string `gorm:"type:text"`
	ExtractedText   string `gorm:"type:text"`
	ProcessedText   string `gorm:"type:text"`
	CreatedAt       time.Time
}

func (LLMCallModel) TableName() string { return "llm_calls" }

// PermissionRequestModel is the permission_requests table.
type PermissionRequestModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	SessionID string `gorm:"index;size:64"`
	ToolName  string `gorm:"size:128;not null"`
	Action    string `gorm:"size:32;not null"`
	Path      string `gorm:"type:text"`
	Reason    string `gorm:"type:text"`
	Status    string `gorm:"size:16;index;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (PermissionRequestModel) TableName() string { return "permission_requests" }

// SnapshotModel is the snapshots table.
type SnapshotModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	SessionID string `gorm:"index;size:64;not null"`
	MessageID int64  `gorm:"index;not null"`
	TreeHash  string `gorm:"size:64;not null"`
	WorkPath  string `gorm:"size:1024;not null"`
	CreatedAt time.Time
}

func (SnapshotModel) TableName() string { return "snapshots" }
