package tool

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	domaintool "github.com/atelier-ai/atelier/internal/domain/tool"
	"go.uber.org/zap"
)

// ReadFileTool reads a file inside the work path.
type ReadFileTool struct {
	guard  *domaintool.PolicyGuard
	logger *zap.Logger
}

// NewReadFileTool creates the read_file tool.
func NewReadFileTool(guard *domaintool.PolicyGuard, logger *zap.Logger) *ReadFileTool {
	return &ReadFileTool{guard: guard, logger: logger}
}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read a file inside the work path." }
func (t *ReadFileTool) Kind() domaintool.Kind {
	return domaintool.KindRead
}

func (t *ReadFileTool) Parameters() []domaintool.Parameter {
	return []domaintool.Parameter{
		{Name: "path", Type: "string", Description: "Relative path under the work path.", Required: true},
		{Name: "start", Type: "number", Description: "Byte offset to start reading.", Default: 0},
		{Name: "max_bytes", Type: "number", Description: "Max bytes to read."},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, tc domaintool.Context, args domaintool.Args) (string, error) {
	rawPath := args.String("path", true)
	if rawPath == "" {
		return "", domaintool.ErrMissingParameter("path")
	}
	path, _ := t.guard.ResolvePath(tc, rawPath, "read")

	start := args.Int("start", 0)
	maxBytes := args.Int("max_bytes", t.guard.Config().Files().MaxBytes)
	if start < 0 || maxBytes <= 0 {
		return "", fmt.Errorf("invalid start or max_bytes")
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file not found: %s", path)
		}
		return "", err
	}
	defer f.Close()

	if start > 0 {
		if _, err := f.Seek(int64(start), 0); err != nil {
			return "", err
		}
	}
	buf := make([]byte, maxBytes)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", err
	}

	header := fmt.Sprintf("[read_file] %s bytes=%d offset=%d", path, n, start)
	return header + "\n" + string(buf[:n]), nil
}

// WriteFileTool writes content to a file inside the work path.
type WriteFileTool struct {
	guard  *domaintool.PolicyGuard
	logger *zap.Logger
}

// NewWriteFileTool creates the write_file tool.
func NewWriteFileTool(guard *domaintool.PolicyGuard, logger *zap.Logger) *WriteFileTool {
	return &WriteFileTool{guard: guard, logger: logger}
}

func (t *WriteFileTool) Name() string        { return "write_file" }
func (t *WriteFileTool) Description() string { return "Write content to a file inside the work path." }
func (t *WriteFileTool) Kind() domaintool.Kind {
	return domaintool.KindEdit
}

func (t *WriteFileTool) Parameters() []domaintool.Parameter {
	return []domaintool.Parameter{
		{Name: "path", Type: "string", Description: "Relative path under the work path.", Required: true},
		{Name: "content", Type: "string", Description: "Content to write.", Required: true},
		{Name: "mode", Type: "string", Description: "write or append.", Default: "write"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, tc domaintool.Context, args domaintool.Args) (string, error) {
	rawPath := args.String("path", false)
	if rawPath == "" {
		return "", domaintool.ErrMissingParameter("path")
	}
	if !args.Has("content") {
		return "", domaintool.ErrMissingParameter("content")
	}
	content := args.String("content", false)
	path, _ := t.guard.ResolvePath(tc, rawPath, "write")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if args.String("mode", false) == "append" {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return "", err
	}

	return fmt.Sprintf("[write_file] wrote %d chars to %s", len(content), path), nil
}
