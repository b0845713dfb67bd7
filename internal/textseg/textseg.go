/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package textseg splits text content into user-perceived characters (grapheme clusters)
// and lines. Every character index used by style maps, variable tokens and the highlight
// overlay is a grapheme index produced here, so that a combining accent or an emoji
// sequence counts as exactly one character everywhere.
package textseg

import (
	"strings"

	"github.com/rivo/uniseg"
)

// Normalize converts CRLF and lone CR line endings to LF.
func Normalize(s string) string {
	if !strings.ContainsRune(s, '\r') {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// Split returns the grapheme clusters of s in order.
func Split(s string) []string {
	out := make([]string, 0, len(s))
	g := uniseg.NewGraphemes(s)
	for g.Next() {
		out = append(out, g.Str())
	}
	return out
}

// Len returns the number of grapheme clusters in s.
func Len(s string) int { return uniseg.GraphemeClusterCount(s) }

// ByteOffsets returns the byte offset at which each grapheme of s starts, followed by
// len(s) as a terminal entry. The result therefore has Len(s)+1 entries.
func ByteOffsets(s string) []int {
	out := make([]int, 0, len(s)+1)
	g := uniseg.NewGraphemes(s)
	for g.Next() {
		from, _ := g.Positions()
		out = append(out, from)
	}
	return append(out, len(s))
}

// Lines partitions s on LF and returns the graphemes of each line. The line
// breaks themselves are not part of any line.
func Lines(s string) [][]string {
	parts := strings.Split(s, "\n")
	out := make([][]string, len(parts))
	for i, p := range parts {
		out[i] = Split(p)
	}
	return out
}

// LineLengths returns the grapheme count of every line of s.
func LineLengths(s string) []int {
	parts := strings.Split(s, "\n")
	out := make([]int, len(parts))
	for i, p := range parts {
		out[i] = Len(p)
	}
	return out
}

// Locate maps a flat grapheme offset into a line/column pair by walking the cumulative
// line lengths, counting one extra position for every line break. ok is false when the
// offset addresses a line break or lies past the end of the content.
func Locate(lengths []int, flat int) (line, col int, ok bool) {
	if flat < 0 {
		return 0, 0, false
	}
	start := 0
	for i, n := range lengths {
		if flat < start+n {
			return i, flat - start, true
		}
		start += n + 1
	}
	return 0, 0, false
}

// Flat is the inverse of Locate. It returns -1 if line or col is out of range.
func Flat(lengths []int, line, col int) int {
	if line < 0 || line >= len(lengths) || col < 0 || col >= lengths[line] {
		return -1
	}
	start := 0
	for i := 0; i < line; i++ {
		start += lengths[i] + 1
	}
	return start + col
}
