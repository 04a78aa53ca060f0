// SPDX-License-Identifier: AGPL-3.0-only
package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   Debug,
		"INFO":    Info,
		"warn":    Warn,
		"warning": Warn,
		"error":   Error,
		"fatal":   Fatal,
		"bogus":   Info,
		"":        Info,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q): expected %s, got %s", in, want, got)
		}
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Output: &buf, Level: Warn})

	logger.Debugf("debug %d", 1)
	logger.Infof("info %d", 2)
	if buf.Len() != 0 {
		t.Fatalf("Expected no output below warn, got %q", buf.String())
	}

	logger.Warnf("warn %d", 3)
	if !strings.Contains(buf.String(), "warn 3") {
		t.Errorf("Expected warn line, got %q", buf.String())
	}
}

func TestWithFieldAddsStructuredField(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Output: &buf, Level: Debug}).WithField("session_id", "abc")
	logger.Infof("hello")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("Expected JSON line, got %q: %v", buf.String(), err)
	}
	if line["session_id"] != "abc" {
		t.Errorf("Expected session_id field 'abc', got %v", line["session_id"])
	}
	if line["message"] != "hello" {
		t.Errorf("Expected message 'hello', got %v", line["message"])
	}
}

func TestFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "relay.log")
	logger, err := FileLogger(path, Info)
	if err != nil {
		t.Fatalf("FileLogger failed: %v", err)
	}
	logger.Infof("written to file")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Errorf("Expected log line in file, got %q", string(data))
	}
}

func TestDefaultLogger(t *testing.T) {
	original := GetDefaultLogger()
	defer SetDefaultLogger(original)

	custom := Discard()
	SetDefaultLogger(custom)
	if GetDefaultLogger() != custom {
		t.Errorf("Expected default logger to be replaced")
	}
	SetDefaultLogger(nil)
	if GetDefaultLogger() != custom {
		t.Errorf("Expected nil to be ignored")
	}
}
