package utils_test

import (
	"testing"

	"github.com/remram44/taguette/internal/utils"
)

func TestIsSubsequence(t *testing.T) {
	tests := []struct {
		query string
		s     string
		want  bool
	}{
		{"", "", true},
		{"", "interview", true},
		{"iv", "interview", true},
		{"itw", "interview", true},
		{"wi", "interview", false},
		{"interviews", "interview", false},
		{"x", "", false},
		{"éé", "résumé", true},
		{"ée", "résumé", false},
	}

	for _, tt := range tests {
		t.Run(tt.query+"/"+tt.s, func(t *testing.T) {
			if got := utils.IsSubsequence(tt.query, tt.s); got != tt.want {
				t.Errorf("IsSubsequence(%q, %q) = %v, want %v", tt.query, tt.s, got, tt.want)
			}
		})
	}
}
