package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInferDifficulty(t *testing.T) {
	tests := []struct {
		name   string
		labels []string
		want   Difficulty
	}{
		{"good first issue", []string{"good first issue"}, DifficultyEasy},
		{"hyphenated easy", []string{"good-first-issue"}, DifficultyEasy},
		{"beginner", []string{"Beginner-Friendly"}, DifficultyEasy},
		{"medium", []string{"medium"}, DifficultyMedium},
		{"intermediate", []string{"help wanted", "intermediate"}, DifficultyMedium},
		{"hard", []string{"hard"}, DifficultyHard},
		{"advanced", []string{"advanced"}, DifficultyHard},
		{"difficult mixed case", []string{"Difficult"}, DifficultyHard},
		{"easy wins over hard", []string{"easy", "hard"}, DifficultyEasy},
		{"no match defaults easy", []string{"documentation"}, DifficultyEasy},
		{"empty defaults easy", nil, DifficultyEasy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferDifficulty(tt.labels))
		})
	}
}

func TestLeaseDuration(t *testing.T) {
	assert.Equal(t, 7*24*time.Hour, LeaseDuration(DifficultyEasy))
	assert.Equal(t, 14*24*time.Hour, LeaseDuration(DifficultyMedium))
	assert.Equal(t, 21*24*time.Hour, LeaseDuration(DifficultyHard))
	// Unknown difficulty behaves as easy.
	assert.Equal(t, 7*24*time.Hour, LeaseDuration(Difficulty("")))
}
