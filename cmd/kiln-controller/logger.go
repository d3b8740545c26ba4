package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sweeney/kiln-controller/internal/config"
)

// newLogger builds the process logger. With log.file set, records go to both
// out and the file. The returned function syncs and closes the file.
func newLogger(cfg config.LogConfig, out io.Writer) (*slog.Logger, func(), error) {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, func() {}, fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.File == "" {
		return slog.New(slog.NewTextHandler(out, opts)), func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, func() {}, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, func() {}, fmt.Errorf("open log file: %w", err)
	}
	h := slog.NewTextHandler(io.MultiWriter(out, f), opts)
	cleanup := func() {
		_ = f.Sync()
		_ = f.Close()
	}
	return slog.New(h), cleanup, nil
}
