package main

import (
	"log/slog"
	"testing"
)

func TestStdoutLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"trace", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := stdoutLevel(tt.in); got != tt.want {
			t.Errorf("stdoutLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetupLoggingCreatesDataDirectoryAndLogFile(t *testing.T) {
	dir := t.TempDir() + "/nested"
	logger, f, err := setupLogging(dir, "debug")
	if err != nil {
		t.Fatalf("setupLogging: %v", err)
	}
	defer f.Close()
	if logger == nil {
		t.Fatal("setupLogging returned a nil logger")
	}
	logger.Info("smoke test record")
}
