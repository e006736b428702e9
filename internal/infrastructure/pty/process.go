package pty

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Buffer bounds for retained PTY output.
const (
	DefaultBufferSize = 2 * 1024 * 1024
	MaxBufferSize     = 5 * 1024 * 1024
)

// Lifecycle states. Closed is terminal.
const (
	StatusRunning = "running"
	StatusExited  = "exited"
	StatusClosed  = "closed"
)

// clampBufferSize normalizes a requested buffer size into the allowed range.
func clampBufferSize(size int) int {
	if size <= 0 {
		return DefaultBufferSize
	}
	if size > MaxBufferSize {
		return MaxBufferSize
	}
	return size
}

// Process is one long-lived interactive process. Output accumulates in a
// ring buffer addressed in total-bytes space: the cursor keeps advancing
// even as old bytes are evicted, and a read below the buffer start reports
// reset=true so clients can resynchronize.
type Process struct {
	ID        string
	SessionID string
	Command   string
	CreatedAt time.Time

	bufferSize  int
	idleTimeout time.Duration

	mu         sync.Mutex
	buffer     []byte
	cursor     int64
	totalBytes int64
	lastOutput time.Time
	status     string
	exitCode   *int

	writer     func([]byte) (int, error)
	terminator func()
	stopOnce   sync.Once
	stopCh     chan struct{}
}

// NewProcess creates a process handle. writer may be nil for read-only
// processes; terminator is the best-effort kill callback.
func NewProcess(sessionID, command string, bufferSize int, idleTimeout time.Duration, writer func([]byte) (int, error), terminator func()) *Process {
	return &Process{
		ID:          uuid.NewString()[:12],
		SessionID:   sessionID,
		Command:     command,
		CreatedAt:   time.Now(),
		bufferSize:  clampBufferSize(bufferSize),
		idleTimeout: idleTimeout,
		lastOutput:  time.Now(),
		status:      StatusRunning,
		writer:      writer,
		terminator:  terminator,
		stopCh:      make(chan struct{}),
	}
}

// AppendOutput adds raw bytes from the reader goroutine, evicting from the
// head on overflow.
func (p *Process) AppendOutput(data []byte) {
	if len(data) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.totalBytes += int64(len(data))
	p.buffer = append(p.buffer, data...)
	if overflow := len(p.buffer) - p.bufferSize; overflow > 0 {
		p.buffer = p.buffer[overflow:]
	}
	p.lastOutput = time.Now()
}

// Read returns decoded output from the cursor onward, up to maxOutput
// bytes. cursor == nil continues from the per-reader cursor. The returned
// cursor is monotonically non-decreasing.
func (p *Process) Read(cursor *int64, maxOutput int) (string, int64, bool) {
	if maxOutput <= 0 {
		p.mu.Lock()
		defer p.mu.Unlock()
		return "", p.cursor, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	bufferStart := p.totalBytes - int64(len(p.buffer))
	effective := p.cursor
	if cursor != nil {
		effective = *cursor
	}
	reset := false
	if effective < bufferStart {
		effective = bufferStart
		reset = true
	}
	start := int(effective - bufferStart)
	end := start + maxOutput
	if end > len(p.buffer) {
		end = len(p.buffer)
	}
	chunk := make([]byte, end-start)
	copy(chunk, p.buffer[start:end])
	newCursor := effective + int64(len(chunk))
	if newCursor > p.cursor {
		p.cursor = newCursor
	}
	return DecodeOutput(chunk), p.cursor, reset
}

// Write sends bytes to the process's stdin.
func (p *Process) Write(data []byte) (int, error) {
	if len(data) == 0 || p.writer == nil {
		return 0, nil
	}
	return p.writer(data)
}

// MarkExited records process completion. A closed process stays closed.
func (p *Process) MarkExited(exitCode *int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == StatusClosed {
		return
	}
	p.status = StatusExited
	p.exitCode = exitCode
}

// Close terminates the process. Idempotent; Closed is terminal.
func (p *Process) Close() {
	p.mu.Lock()
	if p.status == StatusClosed {
		p.mu.Unlock()
		return
	}
	p.status = StatusClosed
	p.mu.Unlock()

	p.stopOnce.Do(func() { close(p.stopCh) })
	if p.terminator != nil {
		defer func() { _ = recover() }()
		p.terminator()
	}
}

// Status returns the lifecycle state.
func (p *Process) Status() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// ExitCode returns the recorded exit code, or nil while running.
func (p *Process) ExitCode() *int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// TotalBytes returns the lifetime output byte count.
func (p *Process) TotalBytes() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalBytes
}

// LastOutputAt returns the time of the most recent output.
func (p *Process) LastOutputAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastOutput
}

// IdleTimeout returns the configured idle timeout (zero = none).
func (p *Process) IdleTimeout() time.Duration { return p.idleTimeout }

// Done returns a channel closed when the process is closed.
func (p *Process) Done() <-chan struct{} { return p.stopCh }
