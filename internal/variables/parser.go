/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package variables extracts bracket-delimited mail-merge tokens such as [Name] from raw
// text content. Extraction is pure: the same content always yields the same tokens, and
// tokens are never cached or stored.
package variables

import (
	"regexp"
	"sort"
	"strconv"

	"certcanvas/internal/textseg"
)

// tokenPattern matches up to the first closing bracket. Brackets cannot nest and a token
// never spans a line break, so "[a[b]" yields only "[b]" and "[open" yields nothing.
// Extract also drops matches whose brackets do not sit on grapheme boundaries, so "[a]"
// followed by a combining accent is plain text.
var tokenPattern = regexp.MustCompile(`\[([^\[\]\n]+)\]`)

// Token is a variable occurrence in content. Indices are grapheme offsets into the whole
// content (line breaks count as one position); EndIndex is exclusive.
type Token struct {
	Name       string
	FullMatch  string
	StartIndex int
	EndIndex   int
	// Occurrence is the 0-based ordinal among tokens with the same Name, in document order.
	Occurrence int
}

// Len returns the token length in graphemes.
func (t Token) Len() int { return t.EndIndex - t.StartIndex }

// Key returns the Variable Style Map key for this occurrence.
func (t Token) Key() string { return Key(t.Name, t.Occurrence) }

// Key builds the "{name}_{occurrence}" key used by variable style maps.
func Key(name string, occurrence int) string {
	return name + "_" + strconv.Itoa(occurrence)
}

// Extract scans content left to right and returns every token with occurrence indices
// assigned in document order. Matching is case-sensitive.
func Extract(content string) []Token {
	matches := tokenPattern.FindAllStringSubmatchIndex(content, -1)
	if len(matches) == 0 {
		return nil
	}
	offsets := textseg.ByteOffsets(content)
	seen := make(map[string]int)
	out := make([]Token, 0, len(matches))
	for _, m := range matches {
		start, okStart := graphemeAt(offsets, m[0])
		end, okEnd := graphemeAt(offsets, m[1])
		if !okStart || !okEnd {
			// a bracket fused with a combining mark is a different character
			continue
		}
		name := content[m[2]:m[3]]
		occ := seen[name]
		seen[name] = occ + 1
		out = append(out, Token{
			Name:       name,
			FullMatch:  content[m[0]:m[1]],
			StartIndex: start,
			EndIndex:   end,
			Occurrence: occ,
		})
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// graphemeAt converts a byte offset into the index of the grapheme starting there. ok is
// false when b falls inside a grapheme cluster.
func graphemeAt(offsets []int, b int) (idx int, ok bool) {
	idx = sort.SearchInts(offsets, b)
	return idx, idx < len(offsets) && offsets[idx] == b
}

// HasVariables reports whether content contains at least one token.
func HasVariables(content string) bool {
	return tokenPattern.MatchString(content) && len(Extract(content)) > 0
}

// Names returns the distinct token names in order of first appearance.
func Names(tokens []Token) []string {
	seen := make(map[string]bool, len(tokens))
	var out []string
	for _, t := range tokens {
		if !seen[t.Name] {
			seen[t.Name] = true
			out = append(out, t.Name)
		}
	}
	return out
}

// SingleToken reports whether s consists of exactly one token and nothing else,
// returning its name. Image sources bound to a dataset column use this form.
func SingleToken(s string) (string, bool) {
	m := tokenPattern.FindStringSubmatchIndex(s)
	if m == nil || m[0] != 0 || m[1] != len(s) {
		return "", false
	}
	return s[m[2]:m[3]], true
}
