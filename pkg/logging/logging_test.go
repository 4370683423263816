package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	logger, err := New(false, "warn")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("info should be disabled at warn level")
	}
	if !logger.Core().Enabled(zapcore.ErrorLevel) {
		t.Error("error should be enabled at warn level")
	}

	dev, err := New(true, "")
	if err != nil {
		t.Fatalf("New dev: %v", err)
	}
	if !dev.Core().Enabled(zapcore.InfoLevel) {
		t.Error("empty level defaults to info")
	}

	if _, err := New(false, "loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}
