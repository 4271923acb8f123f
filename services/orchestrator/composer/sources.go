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
	"strings"
)

// sourcesHeading matches a line consisting only of a bibliography heading,
// optionally decorated as a markdown heading, bold text, or with a colon.
var sourcesHeading = regexp.MustCompile(
	`(?i)^\s*(?:#{1,6}\s*)?(?:\*\*|__)?\s*(?:sources|references|bibliography|fuentes|referencias|bibliograf[ií]a)\s*:?\s*(?:\*\*|__)?\s*:?\s*$`)

// sourcesLabel matches a heading word followed by a colon and the list on
// the same line, as in "Sources: [1] ..." or "**Fuentes:** Tomo 1".
var sourcesLabel = regexp.MustCompile(
	`(?i)^\s*(?:#{1,6}\s*)?(?:\*\*|__)?\s*(?:sources|references|bibliography|fuentes|referencias|bibliograf[ií]a)\s*(?::\s*(?:\*\*|__)|(?:\*\*|__)?\s*:)\s*\S`)

// stripSourcesSection removes a trailing model-written bibliography.
//
// The block starts at the last line that is only a heading such as
// "Sources", "**Referencias:**" or "## Bibliography", or at a final
// paragraph opening with "Sources:" and the list itself, and runs to the end
// of the text. Body sentences that merely contain one of those words are not
// headings and are kept. A label on the only paragraph is kept.
func stripSourcesSection(text string) string {
	lines := strings.Split(text, "\n")
	cut := -1
	for i := len(lines) - 1; i >= 0; i-- {
		if sourcesHeading.MatchString(lines[i]) {
			cut = i
			break
		}
	}
	if start := finalParagraphStart(lines); start > cut && sourcesLabel.MatchString(lines[start]) {
		cut = start
	}
	if cut < 0 {
		return text
	}
	return strings.TrimRight(strings.Join(lines[:cut], "\n"), " \t\n")
}

// finalParagraphStart returns the index of the first line of the last
// paragraph, or -1 when the text has a single paragraph.
func finalParagraphStart(lines []string) int {
	end := len(lines) - 1
	for end >= 0 && strings.TrimSpace(lines[end]) == "" {
		end--
	}
	for i := end; i > 0; i-- {
		if strings.TrimSpace(lines[i-1]) == "" {
			for j := i - 1; j >= 0; j-- {
				if strings.TrimSpace(lines[j]) != "" {
					return i
				}
			}
			return -1
		}
	}
	return -1
}
