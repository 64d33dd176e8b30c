package model

import (
	"strings"
	"time"
)

// Keyword vocabularies for difficulty inference. Matching is substring-based
// on lowercased label names, so "good first issue" and "good-first-issue"
// both land in the easy bucket.
var (
	easyKeywords   = []string{"easy", "beginner", "good first issue", "good-first-issue", "first-timers-only"}
	mediumKeywords = []string{"medium", "intermediate"}
	hardKeywords   = []string{"hard", "advanced", "difficult"}
)

// InferDifficulty maps an issue's label set to a difficulty bucket. Issues
// reach us through a beginner-friendly label filter, so the default is easy.
func InferDifficulty(labels []string) Difficulty {
	lowered := make([]string, len(labels))
	for i, l := range labels {
		lowered[i] = strings.ToLower(l)
	}

	matches := func(keywords []string) bool {
		for _, label := range lowered {
			for _, kw := range keywords {
				if strings.Contains(label, kw) {
					return true
				}
			}
		}
		return false
	}

	switch {
	case matches(easyKeywords):
		return DifficultyEasy
	case matches(mediumKeywords):
		return DifficultyMedium
	case matches(hardKeywords):
		return DifficultyHard
	}
	return DifficultyEasy
}

// Lease windows per difficulty.
const (
	leaseEasy   = 7 * 24 * time.Hour
	leaseMedium = 14 * 24 * time.Hour
	leaseHard   = 21 * 24 * time.Hour
)

// LeaseDuration returns how long a claim on an issue of the given difficulty
// lasts. Unknown difficulty gets the easy window.
func LeaseDuration(d Difficulty) time.Duration {
	switch d {
	case DifficultyMedium:
		return leaseMedium
	case DifficultyHard:
		return leaseHard
	default:
		return leaseEasy
	}
}
