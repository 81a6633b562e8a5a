package plog

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestPlogLevels(t *testing.T) {
	var logBuf bytes.Buffer
	SetOutput(&logBuf)
	t.Cleanup(func() {
		SetLevel(LevelInfo)
		SetOutput(os.Stderr)
	})

	t.Run("Logs all levels when level is Debug", func(t *testing.T) {
		logBuf.Reset()
		SetLevel(LevelDebug)

		Debug("debug message", "key", "val1")
		Notice("notice message", "key", "val2")
		Info("info message", "key", "val3")
		Warn("warn message")

		output := logBuf.String()

		if !strings.Contains(output, "level=DEBUG msg=\"debug message\" key=val1") {
			t.Errorf("expected debug message to be logged, but it wasn't. Got: %s", output)
		}
		if !strings.Contains(output, "level=NOTICE msg=\"notice message\" key=val2") {
			t.Errorf("expected notice message to be logged, but it wasn't. Got: %s", output)
		}
		if !strings.Contains(output, "level=INFO msg=\"info message\" key=val3") {
			t.Errorf("expected info message to be logged, but it wasn't. Got: %s", output)
		}
		if !strings.Contains(output, "level=WARN msg=\"warn message\"") {
			t.Errorf("expected warn message to be logged, but it wasn't. Got: %s", output)
		}
	})

	t.Run("Suppresses lower levels when level is Warn", func(t *testing.T) {
		logBuf.Reset()
		SetLevel(LevelWarn)

		Debug("debug message")
		Notice("notice message")
		Info("info message")

		output := logBuf.String()

		if strings.Contains(output, "level=DEBUG") || strings.Contains(output, "level=NOTICE") || strings.Contains(output, "level=INFO") {
			t.Errorf("expected no debug, notice or info output at warn level, but got: %s", output)
		}
	})

	t.Run("Logs Notice and above, but suppresses Debug", func(t *testing.T) {
		logBuf.Reset()
		SetLevel(LevelNotice)

		Debug("debug message")
		Notice("notice message")
		Info("info message")

		output := logBuf.String()

		if strings.Contains(output, "level=DEBUG") {
			t.Errorf("expected no debug output at notice level, but got: %s", output)
		}
		if !strings.Contains(output, "level=NOTICE") {
			t.Errorf("expected notice output at notice level, but got: %s", output)
		}
		if !strings.Contains(output, "level=INFO") {
			t.Errorf("expected info output at notice level, but got: %s", output)
		}
	})
}

func TestPlogQuietMode(t *testing.T) {
	var logBuf bytes.Buffer
	SetOutput(&logBuf)
	t.Cleanup(func() {
		SetQuiet(false)
		SetLevel(LevelInfo)
		SetOutput(os.Stderr)
	})

	SetLevel(LevelDebug)
	SetQuiet(true)

	if !IsQuiet() {
		t.Fatal("expected IsQuiet to report true after SetQuiet(true)")
	}

	Notice("notice message")
	Info("info message")
	Warn("warn message")

	output := logBuf.String()

	if strings.Contains(output, "level=NOTICE") || strings.Contains(output, "level=INFO") {
		t.Errorf("expected notice and info to be suppressed in quiet mode, but got: %s", output)
	}
	if !strings.Contains(output, "level=WARN") {
		t.Errorf("expected warn to pass through quiet mode, but got: %s", output)
	}
}
