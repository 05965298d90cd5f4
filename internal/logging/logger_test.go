package logging

import "testing"

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"", false},
		{"debug", false},
		{"INFO", false},
		{"warning", false},
		{"error", false},
		{"verbose", true},
	}
	for _, tt := range tests {
		_, err := parseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
	}
}

func TestNew(t *testing.T) {
	logger, err := New(Config{Level: "debug", Development: true})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	logger.Debug("hello")

	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Error("New() with invalid level should fail")
	}
}

func TestNewDefault(t *testing.T) {
	if NewDefault() == nil {
		t.Fatal("NewDefault() returned nil")
	}
}

func TestNewDevelopment(t *testing.T) {
	logger := NewDevelopment()
	if !logger.Core().Enabled(-1) {
		t.Error("development logger should enable debug level")
	}
}

func TestNewNop(t *testing.T) {
	if NewNop().Core().Enabled(2) {
		t.Error("nop logger should not enable any level")
	}
}
