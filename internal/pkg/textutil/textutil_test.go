package textutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignature(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Open Notepad", "open_notepad"},
		{"  please   open   the calculator!! ", "open_calculator"},
		{"Could you search for report.pdf?", "search_report.pdf"},
		{"Take a screenshot.", "take_screenshot"},
		{"", ""},
		{"please", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Signature(tt.in))
		})
	}
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, Levenshtein("calc", "calc"))
	assert.Equal(t, 3, Levenshtein("kitten", "sitting"))
	assert.Equal(t, 4, Levenshtein("", "calc"))
	assert.Equal(t, 1, Levenshtein("café", "cafe"))
}

func TestSignatureSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, SignatureSimilarity("open_calc", "open_calc"))
	near := SignatureSimilarity("open_calculator", "open_calculater")
	far := SignatureSimilarity("open_calculator", "close_spotify")
	assert.Greater(t, near, 0.6)
	assert.Less(t, far, near)
}
