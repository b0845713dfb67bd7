/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * Licensed under the Apache License, Version 2.0.
 */

package variables

import (
	"reflect"
	"testing"
)

func TestExtractPositions(t *testing.T) {
	toks := Extract("Dear [Name], you scored [Score]")
	if len(toks) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(toks))
	}
	if toks[0].Name != "Name" || toks[0].FullMatch != "[Name]" || toks[0].StartIndex != 5 || toks[0].EndIndex != 11 {
		t.Fatalf("unexpected first token: %+v", toks[0])
	}
	if toks[1].Name != "Score" || toks[1].StartIndex != 24 || toks[1].EndIndex != 31 {
		t.Fatalf("unexpected second token: %+v", toks[1])
	}
}

func TestExtractIsIdempotent(t *testing.T) {
	content := "[A] and [B]\n[A] again"
	a := Extract(content)
	b := Extract(content)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("re-deriving tokens changed result: %+v vs %+v", a, b)
	}
}

func TestOccurrenceIndicesStable(t *testing.T) {
	for i := 0; i < 3; i++ {
		toks := Extract("[X] ... [X]")
		if toks[0].Occurrence != 0 || toks[1].Occurrence != 1 {
			t.Fatalf("unexpected occurrences: %+v", toks)
		}
		if toks[0].Key() != "X_0" || toks[1].Key() != "X_1" {
			t.Fatalf("unexpected keys: %s %s", toks[0].Key(), toks[1].Key())
		}
	}
}

func TestNestedAndUnterminated(t *testing.T) {
	cases := map[string][]string{
		"[open":          nil,
		"[a[b]":          {"b"},
		"[]":             nil,
		"[[Name]]":       {"Name"},
		"[a\nb]":         nil,
		"[name] [Name]":  {"name", "Name"},
		"x [First Name]": {"First Name"},
	}
	for in, want := range cases {
		var got []string
		for _, tk := range Extract(in) {
			got = append(got, tk.Name)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("Extract(%q) names = %v, want %v", in, got, want)
		}
	}
}

func TestGraphemeIndices(t *testing.T) {
	// The flag emoji is a single character made of two runes.
	toks := Extract("\U0001F1E9\U0001F1EA [Land]")
	if len(toks) != 1 || toks[0].StartIndex != 2 || toks[0].EndIndex != 8 {
		t.Fatalf("unexpected token: %+v", toks)
	}
}

func TestBracketWithCombiningMarkIsNotAToken(t *testing.T) {
	// U+0301 fuses with the closing bracket into one character
	in := "[Name]\u0301 and [Name]"
	toks := Extract(in)
	if len(toks) != 1 || toks[0].StartIndex != 11 || toks[0].EndIndex != 17 || toks[0].Occurrence != 0 {
		t.Fatalf("tokens = %+v", toks)
	}
	if HasVariables("[Name]\u0301") {
		t.Fatalf("fused bracket reported as a variable")
	}
	if _, ok := SingleToken("[Photo]\u0301"); ok {
		t.Fatalf("fused bracket accepted as an image token")
	}
}

func TestSingleToken(t *testing.T) {
	if name, ok := SingleToken("[Photo]"); !ok || name != "Photo" {
		t.Fatalf("SingleToken([Photo]) = %q,%v", name, ok)
	}
	if _, ok := SingleToken("img/[Photo].png"); ok {
		t.Fatalf("expected embedded token not to count as single token")
	}
	if !HasVariables("a [b] c") || HasVariables("a b c") {
		t.Fatalf("HasVariables mismatch")
	}
	if got := Names(Extract("[B] [A] [B]")); !reflect.DeepEqual(got, []string{"B", "A"}) {
		t.Fatalf("Names = %v", got)
	}
}
