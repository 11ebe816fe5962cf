package logging

import (
	"log/slog"
)

// SetupMCPMode installs a file-only logger. The MCP stdio transport owns
// stdout and stderr, so nothing else may write there.
func SetupMCPMode(path, level string) (func(), error) {
	cfg := DefaultConfig(path, level)
	cfg.WriteToStderr = false

	cleanup, err := SetupDefault(cfg)
	if err != nil {
		return nil, err
	}

	slog.Info("mcp_logging_initialized",
		slog.String("log_file", path),
		slog.String("level", level))
	return cleanup, nil
}
