package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{in: "", want: zapcore.InfoLevel},
		{in: "info", want: zapcore.InfoLevel},
		{in: "DEBUG", want: zapcore.DebugLevel},
		{in: " warn ", want: zapcore.WarnLevel},
		{in: "warning", want: zapcore.WarnLevel},
		{in: "error", want: zapcore.ErrorLevel},
		{in: "loud", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseLevel(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseLevel(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoggerNopBeforeInit(t *testing.T) {
	prev := Logger()
	SetLogger(nil)
	t.Cleanup(func() { SetLogger(prev) })

	if Logger() == nil {
		t.Fatal("Logger() must never return nil")
	}
	Logger().Infof("dropped %s", "message")
}

func TestSetLoggerCapturesEntries(t *testing.T) {
	prev := Logger()
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core).Sugar())
	t.Cleanup(func() { SetLogger(prev) })

	Logger().Warnf("metadata missing in %s", "game.squashfs")

	if logs.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", logs.Len())
	}
	entry := logs.All()[0]
	if entry.Level != zapcore.WarnLevel || entry.Message != "metadata missing in game.squashfs" {
		t.Errorf("unexpected entry: %v %q", entry.Level, entry.Message)
	}
}

func TestInitRejectsBadLevel(t *testing.T) {
	if err := Init("chatty"); err == nil {
		t.Fatal("expected Init to reject an invalid level")
	}
}
