/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package editor

import (
	"fmt"

	"certcanvas/internal/domain"
	"certcanvas/internal/textseg"
	"certcanvas/internal/variables"
)

// TypeText replaces the content of a text element as the user types. Rapid
// calls coalesce into one undo step. Character styles are remapped through the
// edit and variable styles of tokens that no longer exist are dropped.
func (ed *Editor) TypeText(id, content string) error {
	content = textseg.Normalize(content)
	return ed.mutate("type", true, func(doc *domain.Document) error {
		el, err := findUnlocked(doc, id)
		if err != nil {
			return err
		}
		if el.Type != domain.TypeText {
			return fmt.Errorf("%w: %s", ErrNotText, id)
		}
		el.Styles = el.Styles.ApplyEdit(el.Content, content)
		el.Content = content
		pruneVariableStyles(el)
		el.HasVariables = variables.HasVariables(content)
		return nil
	})
}

// pruneVariableStyles drops variable styles whose occurrence key no longer
// names a token in the content.
func pruneVariableStyles(el *domain.Element) {
	if len(el.VariableStyles) == 0 {
		return
	}
	keep := make(map[string]bool)
	for _, tok := range variables.Extract(el.Content) {
		keep[tok.Key()] = true
	}
	el.VariableStyles.Prune(keep)
	if len(el.VariableStyles) == 0 {
		el.VariableStyles = nil
	}
}

// SetCharStyle merges frag over the characters in the flat grapheme range
// [from, to). Line breaks inside the range are skipped.
func (ed *Editor) SetCharStyle(id string, from, to int, frag domain.StyleFragment) error {
	return ed.styleRange("char-style", id, from, to, func(cur domain.StyleFragment) domain.StyleFragment {
		return cur.Merge(frag)
	})
}

// ClearCharStyle removes per-character styles in [from, to) so those
// characters fall back to the element defaults.
func (ed *Editor) ClearCharStyle(id string, from, to int) error {
	return ed.styleRange("clear-char-style", id, from, to, func(domain.StyleFragment) domain.StyleFragment {
		return domain.StyleFragment{}
	})
}

func (ed *Editor) styleRange(op, id string, from, to int, fn func(domain.StyleFragment) domain.StyleFragment) error {
	if from >= to {
		return nil
	}
	return ed.mutate(op, false, func(doc *domain.Document) error {
		el, err := findUnlocked(doc, id)
		if err != nil {
			return err
		}
		if el.Type != domain.TypeText {
			return fmt.Errorf("%w: %s", ErrNotText, id)
		}
		if el.Styles == nil {
			el.Styles = make(domain.CharStyleMap)
		}
		lengths := textseg.LineLengths(el.Content)
		for i := from; i < to; i++ {
			line, col, ok := textseg.Locate(lengths, i)
			if !ok {
				continue
			}
			cur, _ := el.Styles.Get(line, col)
			el.Styles.Set(line, col, fn(cur))
		}
		el.Styles.Prune()
		if el.Styles.Len() == 0 {
			el.Styles = nil
		}
		return nil
	})
}

// SetVariableStyle styles one variable occurrence, keyed "{name}_{occurrence}".
// An empty fragment removes the style.
func (ed *Editor) SetVariableStyle(id, key string, frag domain.StyleFragment) error {
	return ed.mutate("variable-style", false, func(doc *domain.Document) error {
		el, err := findUnlocked(doc, id)
		if err != nil {
			return err
		}
		found := false
		for _, tok := range variables.Extract(el.Content) {
			if tok.Key() == key {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: variable %s in %s", ErrNotFound, key, id)
		}
		if frag.IsEmpty() {
			delete(el.VariableStyles, key)
			if len(el.VariableStyles) == 0 {
				el.VariableStyles = nil
			}
			return nil
		}
		if el.VariableStyles == nil {
			el.VariableStyles = make(domain.VariableStyleMap)
		}
		el.VariableStyles[key] = frag.Clone()
		return nil
	})
}
