package pty

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/atelier-ai/atelier/pkg/safego"
	creackpty "github.com/creack/pty"
	"go.uber.org/zap"
)

// SpawnOptions configures a new interactive process.
type SpawnOptions struct {
	WorkDir     string
	BufferSize  int
	IdleTimeout time.Duration
	Env         []string
}

// Manager is the process-wide registry mapping (session, pty id) to running
// processes. A registry-level mutex covers lookup/insert/remove only;
// buffer access is guarded per process.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]map[string]*Process
	logger   *zap.Logger
}

// NewManager creates an empty registry.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]map[string]*Process),
		logger:   logger,
	}
}

// Spawn starts command under a pseudo-terminal, registers the process, and
// launches its reader goroutine.
func (m *Manager) Spawn(sessionID, command string, opts SpawnOptions) (*Process, error) {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	cmd := exec.Command(shell, "-c", command)
	if opts.WorkDir != "" {
		cmd.Dir = opts.WorkDir
	}
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}

	f, err := creackpty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	proc := NewProcess(sessionID, command, opts.BufferSize, opts.IdleTimeout,
		func(data []byte) (int, error) { return f.Write(data) },
		func() {
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
			_ = f.Close()
		},
	)
	m.register(proc)

	safego.Go(m.logger, "pty-reader-"+proc.ID, func() {
		buf := make([]byte, 4096)
		for {
			n, err := f.Read(buf)
			if n > 0 {
				proc.AppendOutput(buf[:n])
			}
			if err != nil {
				if err != io.EOF {
					m.logger.Debug("PTY read ended", zap.String("pty_id", proc.ID), zap.Error(err))
				}
				break
			}
		}
		err := cmd.Wait()
		exitCode := 0
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else if err != nil {
			exitCode = -1
		}
		proc.MarkExited(&exitCode)
		m.logger.Info("PTY process exited",
			zap.String("session_id", sessionID),
			zap.String("pty_id", proc.ID),
			zap.Int("exit_code", exitCode),
		)
	})

	m.logger.Info("PTY process started",
		zap.String("session_id", sessionID),
		zap.String("pty_id", proc.ID),
		zap.String("command", command),
	)
	return proc, nil
}

func (m *Manager) register(proc *Process) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sessionMap := m.sessions[proc.SessionID]
	if sessionMap == nil {
		sessionMap = make(map[string]*Process)
		m.sessions[proc.SessionID] = sessionMap
	}
	sessionMap[proc.ID] = proc
}

// Get returns the process for (session, pty id), or nil.
func (m *Manager) Get(sessionID, ptyID string) *Process {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[sessionID][ptyID]
}

// List returns the session's processes.
func (m *Manager) List(sessionID string) []*Process {
	m.mu.Lock()
	defer m.mu.Unlock()
	procs := make([]*Process, 0, len(m.sessions[sessionID]))
	for _, proc := range m.sessions[sessionID] {
		procs = append(procs, proc)
	}
	return procs
}

// Close terminates and removes one process. Returns false when absent.
func (m *Manager) Close(sessionID, ptyID string) bool {
	m.mu.Lock()
	sessionMap := m.sessions[sessionID]
	proc := sessionMap[ptyID]
	if proc != nil {
		delete(sessionMap, ptyID)
		if len(sessionMap) == 0 {
			delete(m.sessions, sessionID)
		}
	}
	m.mu.Unlock()
	if proc == nil {
		return false
	}
	proc.Close()
	return true
}

// CloseSession terminates all of a session's processes.
func (m *Manager) CloseSession(sessionID string) int {
	m.mu.Lock()
	sessionMap := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	for _, proc := range sessionMap {
		proc.Close()
	}
	return len(sessionMap)
}

// CloseAll terminates everything, used at shutdown.
func (m *Manager) CloseAll() int {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]map[string]*Process)
	m.mu.Unlock()
	count := 0
	for _, sessionMap := range sessions {
		for _, proc := range sessionMap {
			proc.Close()
			count++
		}
	}
	return count
}

// RunSweeper closes processes whose output has been idle past their idle
// timeout. It runs until the context is cancelled.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	type target struct {
		sessionID string
		ptyID     string
	}
	var stale []target

	m.mu.Lock()
	now := time.Now()
	for sessionID, sessionMap := range m.sessions {
		for ptyID, proc := range sessionMap {
			timeout := proc.IdleTimeout()
			if timeout <= 0 {
				continue
			}
			if now.Sub(proc.LastOutputAt()) > timeout {
				stale = append(stale, target{sessionID, ptyID})
			}
		}
	}
	m.mu.Unlock()

	for _, t := range stale {
		m.logger.Info("Closing idle PTY process",
			zap.String("session_id", t.sessionID),
			zap.String("pty_id", t.ptyID),
		)
		m.Close(t.sessionID, t.ptyID)
	}
}
