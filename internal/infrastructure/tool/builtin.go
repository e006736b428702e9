package tool

import (
	domaintool "github.com/atelier-ai/atelier/internal/domain/tool"
	"github.com/atelier-ai/atelier/internal/infrastructure/config"
	"go.uber.org/zap"
)

// RegisterBuiltinTools registers the enabled builtin tools.
func RegisterBuiltinTools(registry *domaintool.Registry, store *config.ToolStore, guard *domaintool.PolicyGuard, logger *zap.Logger) {
	builtins := []domaintool.Tool{
		NewReadFileTool(guard, logger),
		NewWriteFileTool(guard, logger),
		NewRunShellTool(guard, logger),
		NewSearchTool(store, logger),
		NewCalculatorTool(),
	}

	for _, t := range builtins {
		if !store.Enabled(t.Name()) {
			continue
		}
		if err := registry.Register(t); err != nil {
			logger.Warn("Failed to register builtin tool",
				zap.String("tool", t.Name()),
				zap.Error(err),
			)
			continue
		}
		logger.Info("Registered builtin tool", zap.String("tool", t.Name()))
	}
}
