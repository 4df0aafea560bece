package engine

import "testing"

func TestIsLatencyCritical(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"empty", "", false},
		{"quick-count word", "two", true},
		{"quick-count word with punctuation", "three!", true},
		{"quick-count digit", "7", true},
		{"short phrase", "wow!", true},
		{"short phrase at limit", "good choice", true},
		{"ack fragment in longer sentence", "That was great job counting everything", true},
		{"another ack fragment", "Well done, you finished the puzzle", true},
		{"long narration", "Let's count the apples together now", false},
		{"long narration two", "The turtle wanders across the garden path", false},
		{"eleven is not a quick-count word but is short", "eleven", true},
		{"number word inside sentence is not exact match", "there are two apples on the table", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsLatencyCritical(tt.in); got != tt.want {
				t.Errorf("IsLatencyCritical(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
