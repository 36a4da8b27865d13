package logging

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/PigStep/Vibe-BPMN-studio/internal/config"
)

// LevelCritical sits above slog.LevelError for LOG_LEVEL=CRITICAL.
const LevelCritical = slog.Level(12)

// ParseLevel maps a LOG_LEVEL name onto a slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch name {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO", "":
		return slog.LevelInfo, nil
	case "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	case "CRITICAL":
		return LevelCritical, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

// Setup installs the default slog logger. Plain log.Printf call sites are
// routed through the same handler at INFO, so failures are logged with
// slog.Warn or slog.Error to survive a WARNING or higher threshold. The
// returned func closes the rotating file when one is configured.
func Setup(cfg config.LogConfig) (*slog.Logger, func(), error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Debug {
		level = slog.LevelDebug
	}

	var out io.Writer = os.Stdout
	closeFn := func() {}

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		rotating := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    10, // 10 MB
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotating)
		closeFn = func() { _ = rotating.Close() }
	}

	logger := New(out, level)
	slog.SetDefault(logger)
	// slog.SetDefault already redirects the log package; drop its own prefix flags
	log.SetFlags(0)

	return logger, closeFn, nil
}

// New builds a JSON logger writing to w.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}
