// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package composer

import (
	"regexp"
	"strconv"
	"strings"
)

// citationPattern matches [n] and grouped markers such as [1, 3] or [2,4,5].
var citationPattern = regexp.MustCompile(`\[(\d+(?:\s*,\s*\d+)*)\]`)

// spaceBeforePunct finds the gap a removed marker leaves before punctuation.
var spaceBeforePunct = regexp.MustCompile(`[ \t]+([.,;:!?)])`)

// citationResult is the outcome of rewriting markers in an answer.
type citationResult struct {
	// Text with every marker rewritten to the new numbering.
	Text string

	// Order[i] is the 0-based passage index cited as number i+1.
	Order []int

	// Dropped counts marker numbers that had no passage.
	Dropped []int
}

// rewriteCitations renumbers markers contiguously in order of first use.
//
// # Description
//
// A number is valid when 1 <= n <= passageCount. Invalid numbers are
// removed from their marker; a marker left empty is removed entirely.
// Valid numbers get new numbers 1..m in the order they first appear in the
// text, and every occurrence is rewritten. Duplicates inside a group
// collapse.
//
// # Example
//
//	rewriteCitations("a [1] b [3] c [2] d [1]", 2)
//	// Text: "a [1] b c [2] d [1]", Order: [0 1], Dropped: [3]
func rewriteCitations(text string, passageCount int) citationResult {
	newNumber := make(map[int]int)
	var res citationResult
	removedAny := false

	out := citationPattern.ReplaceAllStringFunc(text, func(marker string) string {
		inner := marker[1 : len(marker)-1]
		var kept []string
		seen := make(map[int]bool)
		for _, part := range strings.Split(inner, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil || n < 1 || n > passageCount {
				res.Dropped = append(res.Dropped, n)
				continue
			}
			renumbered, ok := newNumber[n]
			if !ok {
				renumbered = len(res.Order) + 1
				newNumber[n] = renumbered
				res.Order = append(res.Order, n-1)
			}
			if seen[renumbered] {
				continue
			}
			seen[renumbered] = true
			kept = append(kept, strconv.Itoa(renumbered))
		}
		if len(kept) == 0 {
			removedAny = true
			return ""
		}
		return "[" + strings.Join(kept, ", ") + "]"
	})

	if removedAny {
		out = tidyRemovedMarkers(out)
	}
	res.Text = out
	return res
}

// tidyRemovedMarkers collapses the double spaces and space-before-punct
// left by removed markers without touching line structure.
func tidyRemovedMarkers(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		indent := len(line) - len(strings.TrimLeft(line, " \t"))
		body := line[indent:]
		for strings.Contains(body, "  ") {
			body = strings.ReplaceAll(body, "  ", " ")
		}
		body = spaceBeforePunct.ReplaceAllString(body, "$1")
		lines[i] = line[:indent] + strings.TrimRight(body, " \t")
	}
	return strings.Join(lines, "\n")
}
