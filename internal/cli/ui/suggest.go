package ui

import (
	"sort"
	"strings"
)

// maxEditDistance bounds how far a suggestion may be from the input
const maxEditDistance = 3

// Suggest returns up to limit candidates within a small edit distance of
// input, closest first. Matching ignores case.
//
//	Suggest("recrutier", []string{"admin", "recruiter", "viewer"}, 3)
//	// ["recruiter"]
func Suggest(input string, candidates []string, limit int) []string {
	type match struct {
		value    string
		distance int
	}

	input = strings.ToLower(input)
	var matches []match
	for _, c := range candidates {
		if d := EditDistance(input, strings.ToLower(c)); d <= maxEditDistance {
			matches = append(matches, match{value: c, distance: d})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].distance < matches[j].distance
	})

	out := make([]string, 0, limit)
	for i := 0; i < len(matches) && i < limit; i++ {
		out = append(out, matches[i].value)
	}
	return out
}

// EditDistance is the Levenshtein distance between a and b, counted in runes
func EditDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = minInt(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func minInt(vals ...int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
