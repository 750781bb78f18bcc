package log

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	if err := Init(&buf, "warning"); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = SetLevel("info") }()

	Error("disk %s", "full")
	Warning("slow")
	Info("hidden")
	Debug("hidden")

	out := buf.String()
	if !strings.Contains(out, "[error] disk full") || !strings.Contains(out, "[warn] slow") {
		t.Errorf("Output missing messages:\n%s", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("Messages below the level were written:\n%s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"error", ErrorLevel},
		{"WARN", WarningLevel},
		{" info ", InfoLevel},
		{"debug", DebugLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if err != nil || got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, %v", tt.in, got, err)
			}
		})
	}
	if _, err := ParseLevel("loud"); !errors.Is(err, ErrLevel) {
		t.Errorf("Expected ErrLevel, got %v", err)
	}
	if err := SetLevel("loud"); err == nil {
		t.Error("SetLevel accepted an unknown level")
	}
}
