package models

import "testing"

func TestSameModel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"identical", "large-v2", "large-v2", true},
		{"case insensitive", "Large-V2", "large-v2", true},
		{"whitespace", "  large-v2 ", "large-v2", true},
		{"systran prefix", "systran/faster-whisper-large-v2", "large-v2", true},
		{"faster-whisper prefix", "faster-whisper-large-v2", "large-v2", true},
		{"openai prefix", "openai/whisper-large-v2", "large-v2", true},
		{"mixed case prefix", "Systran/Faster-Whisper-Large-v2", "large-v2", true},
		{"both prefixed", "systran/faster-whisper-tiny", "openai/whisper-tiny", true},
		{"different sizes", "large-v2", "large-v3", false},
		{"different models", "tiny", "base", false},
		{"empty vs named", "", "tiny", false},
		{"both empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := SameModel(tt.a, tt.b); got != tt.want {
				t.Errorf("SameModel(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
