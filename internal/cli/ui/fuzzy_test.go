package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevenshteinDistance(t *testing.T) {
	tests := []struct {
		s1, s2 string
		want   int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"abc", "abc", 0},
		{"kitten", "sitting", 3},
		{"saturday", "sunday", 3},
		{"parents", "parnets", 2},
		{"children", "childs", 3},
	}

	for _, tt := range tests {
		t.Run(tt.s1+"_"+tt.s2, func(t *testing.T) {
			assert.Equal(t, tt.want, LevenshteinDistance(tt.s1, tt.s2))
			assert.Equal(t, tt.want, LevenshteinDistance(tt.s2, tt.s1))
		})
	}
}

func TestFindSimilar(t *testing.T) {
	collections := []string{"parents", "children", "owners", "items"}

	tests := []struct {
		name   string
		target string
		opts   *FuzzyMatchOptions
		want   []string
	}{
		{"transposition", "parnets", nil, []string{"parents"}},
		{"case insensitive", "CHILDREN", nil, []string{"children"}},
		{"case sensitive", "CHILDREN", &FuzzyMatchOptions{CaseSensitive: true}, []string{}},
		{"closest first", "owner", nil, []string{"owners"}},
		{"nothing close", "zzzzzzzz", nil, []string{}},
		{"limit", "item", &FuzzyMatchOptions{MaxDistance: 8, MaxSuggestions: 2}, []string{"items", "owners"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FindSimilar(tt.target, collections, tt.opts))
		})
	}
}
