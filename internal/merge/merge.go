/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package merge produces row-bound, display-only copies of a document. The
// canonical model is never modified: every function returns fresh values.
package merge

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"certcanvas/internal/domain"
	"certcanvas/internal/textseg"
	"certcanvas/internal/variables"
)

var (
	ErrUnbound       = errors.New("variable is not bound to a column")
	ErrMissingCell   = errors.New("row has no value for bound column")
	ErrEmptyCell     = errors.New("bound cell is empty")
	ErrUnknownColumn = errors.New("bound column does not exist")
	ErrRowOutOfRange = errors.New("row index out of range")
)

// ValidationError reports the offending row, column and variable of a failed
// row check. Row is -1 for problems that are not tied to a row.
type ValidationError struct {
	Row      int
	Column   string
	Variable string
	Err      error
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	if e.Row >= 0 {
		fmt.Fprintf(&b, "row %d: ", e.Row+1)
	}
	fmt.Fprintf(&b, "variable %q", e.Variable)
	if e.Column != "" {
		fmt.Fprintf(&b, " (column %q)", e.Column)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Span records where one token's replacement landed in the substituted text.
type Span struct {
	Token variables.Token
	Value string
	Bound bool
	Start int // grapheme offset in the substituted content
	End   int // exclusive
}

// Result is the outcome of substituting one text body.
type Result struct {
	Content string
	Styles  domain.CharStyleMap
	Spans   []Span
}

// Resolver returns the replacement for a token and whether it was bound.
type Resolver func(tok variables.Token) (string, bool)

// RowResolver resolves tokens through bindings against one row. Unbound tokens
// keep their bracketed text; a bound column with no value renders blank.
func RowResolver(bindings domain.RowBindings, row map[string]string) Resolver {
	return func(tok variables.Token) (string, bool) {
		col, ok := bindings[tok.Name]
		if !ok || col == "" {
			return tok.FullMatch, false
		}
		return textseg.Normalize(row[col]), true
	}
}

// Substitute replaces every token of content with its resolved value. Styles
// before, between and after tokens move with a running offset so they stay on
// the same characters. Each replacement span takes the style of the token's
// first character overlaid with the token's Variable Style Map entry.
func Substitute(content string, styles domain.CharStyleMap, varStyles domain.VariableStyleMap, resolve Resolver) Result {
	tokens := variables.Extract(content)
	if len(tokens) == 0 {
		return Result{Content: content, Styles: styles.Clone()}
	}
	old := textseg.Split(content)
	flat := styles.Flatten(content)
	moved := make(map[int]domain.StyleFragment, len(flat))
	spans := make([]Span, 0, len(tokens))

	var b strings.Builder
	b.Grow(len(content))
	delta := 0
	pos := 0
	shift := func(from, to int) {
		for i := from; i < to; i++ {
			b.WriteString(old[i])
			if f, ok := flat[i]; ok {
				moved[i+delta] = f
			}
		}
	}
	for _, tok := range tokens {
		shift(pos, tok.StartIndex)
		value, bound := resolve(tok)
		n := textseg.Len(value)
		start := tok.StartIndex + delta
		span := flat[tok.StartIndex].Merge(varStyles[tok.Key()])
		if !span.IsEmpty() {
			for i := start; i < start+n; i++ {
				moved[i] = span
			}
		}
		b.WriteString(value)
		spans = append(spans, Span{Token: tok, Value: value, Bound: bound, Start: start, End: start + n})
		delta += n - tok.Len()
		pos = tok.EndIndex
	}
	shift(pos, len(old))

	out := b.String()
	return Result{Content: out, Styles: domain.Unflatten(moved, out), Spans: spans}
}

// SubstituteElement returns a display copy of el bound to row. Text content and
// styles are substituted; an image whose source is a single token takes the
// bound cell as its source when the cell is not blank.
func SubstituteElement(el domain.Element, bindings domain.RowBindings, row map[string]string) domain.Element {
	out := el.Clone()
	switch el.Type {
	case domain.TypeText:
		res := Substitute(el.Content, el.Styles, el.VariableStyles, RowResolver(bindings, row))
		out.Content = res.Content
		out.Styles = res.Styles
		out.VariableStyles = keepUnbound(el.VariableStyles, res.Spans)
		out.HasVariables = variables.HasVariables(res.Content)
	case domain.TypeImage:
		if name, ok := variables.SingleToken(el.Src); ok {
			if col, bound := bindings[name]; bound {
				if v := strings.TrimSpace(row[col]); v != "" {
					out.Src = v
				}
			}
		}
	}
	return out
}

// keepUnbound keeps the variable styles of tokens that survived substitution.
func keepUnbound(vs domain.VariableStyleMap, spans []Span) domain.VariableStyleMap {
	if len(vs) == 0 {
		return nil
	}
	var out domain.VariableStyleMap
	for _, s := range spans {
		if s.Bound {
			continue
		}
		if f, ok := vs[s.Token.Key()]; ok {
			if out == nil {
				out = make(domain.VariableStyleMap)
			}
			out[s.Token.Key()] = f.Clone()
		}
	}
	return out
}

// PreviewDocument derives the display-only document for dataset row index.
func PreviewDocument(doc *domain.Document, ds *domain.Dataset, bindings domain.RowBindings, index int) (*domain.Document, error) {
	if ds == nil || index < 0 || index >= len(ds.Rows) {
		return nil, fmt.Errorf("preview row %d: %w", index, ErrRowOutOfRange)
	}
	return BindDocument(doc, bindings, ds.Rows[index]), nil
}

// BindDocument substitutes every element of doc against row.
func BindDocument(doc *domain.Document, bindings domain.RowBindings, row map[string]string) *domain.Document {
	out := doc.Clone()
	for i := range out.Elements {
		out.Elements[i] = SubstituteElement(doc.Elements[i], bindings, row)
	}
	if name, ok := variables.SingleToken(doc.Background.Src); ok {
		if col, bound := bindings[name]; bound && strings.TrimSpace(row[col]) != "" {
			out.Background.Src = strings.TrimSpace(row[col])
		}
	}
	return out
}

// Variables lists every variable name used by doc (text tokens, token image
// sources and a token background) in order of first appearance.
func Variables(doc *domain.Document) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	if name, ok := variables.SingleToken(doc.Background.Src); ok {
		add(name)
	}
	for _, el := range doc.Elements {
		switch el.Type {
		case domain.TypeText:
			for _, t := range variables.Extract(el.Content) {
				add(t.Name)
			}
		case domain.TypeImage:
			if name, ok := variables.SingleToken(el.Src); ok {
				add(name)
			}
		}
	}
	return out
}

// ValidateRow checks that every variable used by doc is bound and that row has
// a non-blank value for each bound column. The first problem is returned as a
// *ValidationError.
func ValidateRow(doc *domain.Document, bindings domain.RowBindings, row map[string]string, index int) error {
	for _, name := range Variables(doc) {
		col, ok := bindings[name]
		if !ok || col == "" {
			return &ValidationError{Row: index, Variable: name, Err: ErrUnbound}
		}
		v, present := row[col]
		if !present {
			return &ValidationError{Row: index, Column: col, Variable: name, Err: ErrMissingCell}
		}
		if strings.TrimSpace(v) == "" {
			return &ValidationError{Row: index, Column: col, Variable: name, Err: ErrEmptyCell}
		}
	}
	return nil
}

// ValidateDataset checks the dataset as a whole: bound columns must exist and
// every column must be homogeneously text or image-like.
func ValidateDataset(doc *domain.Document, ds *domain.Dataset, bindings domain.RowBindings) error {
	if _, err := ds.ColumnKinds(); err != nil {
		return err
	}
	for _, name := range Variables(doc) {
		col, ok := bindings[name]
		if !ok {
			continue
		}
		if !ds.HasHeader(col) {
			return &ValidationError{Row: -1, Column: col, Variable: name, Err: ErrUnknownColumn}
		}
	}
	return nil
}

// AutoBind binds each name to the header with the same text, falling back to a
// case-insensitive match. Names without a matching header stay unbound.
func AutoBind(names, headers []string) domain.RowBindings {
	fold := cases.Fold()
	folded := make([]string, len(headers))
	for i, h := range headers {
		folded[i] = fold.String(strings.TrimSpace(h))
	}
	out := make(domain.RowBindings)
	for _, n := range names {
		for _, h := range headers {
			if h == n {
				out[n] = h
				break
			}
		}
		if _, ok := out[n]; ok {
			continue
		}
		fn := fold.String(n)
		for i, h := range headers {
			if folded[i] == fn {
				out[n] = h
				break
			}
		}
	}
	return out
}
