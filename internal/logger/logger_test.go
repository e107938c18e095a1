package logger

import "testing"

func TestNewLevels(t *testing.T) {
	tests := []struct {
		level    string
		encoding string
		debugOn  bool
		infoOn   bool
	}{
		{"debug", "json", true, true},
		{"info", "json", false, true},
		{"warn", "console", false, false},
		{"", "", false, true},
	}

	for _, tt := range tests {
		log, err := New(tt.level, tt.encoding)
		if err != nil {
			t.Fatalf("New(%q, %q): %v", tt.level, tt.encoding, err)
		}
		if got := log.Core().Enabled(-1); got != tt.debugOn {
			t.Errorf("level %q: debug enabled = %v, want %v", tt.level, got, tt.debugOn)
		}
		if got := log.Core().Enabled(0); got != tt.infoOn {
			t.Errorf("level %q: info enabled = %v, want %v", tt.level, got, tt.infoOn)
		}
	}
}
