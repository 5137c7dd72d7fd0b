package util

import "testing"

func TestSafeTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"shorter than limit", "abc", 10, "abc"},
		{"equal to limit", "abcde", 5, "abcde"},
		{"longer than limit", "abcdefgh", 4, "abcd"},
		{"zero limit", "abc", 0, ""},
		{"negative limit", "abc", -1, ""},
		{"empty string", "", 8, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SafeTruncate(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("SafeTruncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestNormalizeURL(t *testing.T) {
	if got := NormalizeURL("https://example.com/"); got != "https://example.com" {
		t.Errorf("NormalizeURL = %q, want %q", got, "https://example.com")
	}
	if got := NormalizeURL("https://example.com"); got != "https://example.com" {
		t.Errorf("NormalizeURL = %q, want %q", got, "https://example.com")
	}
}
