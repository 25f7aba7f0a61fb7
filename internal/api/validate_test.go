package api

import (
	"strings"
	"testing"
)

func TestCheckModelID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"known model", "qwen2.5-3b-instruct-q4", false},
		{"empty id", "", true},
		{"unknown model", "gpt-oss-999b", true},
		{"path traversal attempt", "../../../etc/passwd", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkModelID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("checkModelID(%q) = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestCheckInfer(t *testing.T) {
	tests := []struct {
		name      string
		prompt    string
		maxTokens int
		wantErr   bool
	}{
		{"valid request", "この文章を校正してください。", 256, false},
		{"zero max tokens means default", "p", 0, false},
		{"empty prompt", "", 256, true},
		{"prompt at limit", strings.Repeat("あ", MaxPromptChars), 0, false},
		{"prompt over limit", strings.Repeat("あ", MaxPromptChars+1), 0, true},
		{"negative max tokens", "p", -1, true},
		{"over ceiling passes, engine clamps", "p", 5000, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkInfer(tt.prompt, tt.maxTokens)
			if (err != nil) != tt.wantErr {
				t.Errorf("checkInfer(len %d, %d) = %v, wantErr %v",
					len(tt.prompt), tt.maxTokens, err, tt.wantErr)
			}
		})
	}
}
