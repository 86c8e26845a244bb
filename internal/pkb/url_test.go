// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package pkb

import (
	"errors"
	"testing"
)

func TestURL_RoundTrip(t *testing.T) {
	tests := []URL{
		{Scheme: "pkb", Identity: "abc", Directory: "notes", Path: "diary/2024/Day.md", Version: "commit123", Anchor: "char=10,250"},
		{Scheme: "pkb", Identity: "abc", Directory: "notes", Path: "diary/2024/Day.md"},
		{Scheme: "pkb", Identity: "abc", Directory: "media", Path: "x.json", Version: "v1"},
		{Scheme: "pkb", Identity: "abc", Directory: "media", Path: "x.json", Anchor: "t=30"},
		{Scheme: "vault", Identity: "node-1", Directory: "people", Path: "a/b/c/d.json", Version: "a b&c"},
		{Scheme: "pkb", Identity: "abc", Directory: "notes", Path: "q/what?.md", Version: "v1", Anchor: "char=10,250"},
		{Scheme: "pkb", Identity: "abc", Directory: "notes", Path: "c/#1.md", Anchor: "top"},
		{Scheme: "pkb", Identity: "abc", Directory: "notes", Path: "100%/done.md", Version: "v2"},
		{Scheme: "pkb", Identity: "abc", Directory: "notes", Path: "lit%3F%23.md"},
	}
	for _, want := range tests {
		t.Run(want.String(), func(t *testing.T) {
			got, err := ParseURL(want.String())
			if err != nil {
				t.Fatalf("ParseURL(%q): %v", want.String(), err)
			}
			if *got != want {
				t.Errorf("round trip = %+v, want %+v", *got, want)
			}
		})
	}
}

func TestParseURL(t *testing.T) {
	u, err := ParseURL("pkb://abc/notes/diary/2024/Day.md?v=commit123#char=10,250")
	if err != nil {
		t.Fatal(err)
	}
	if u.Identity != "abc" || u.Directory != "notes" || u.Path != "diary/2024/Day.md" {
		t.Errorf("segments = %q %q %q", u.Identity, u.Directory, u.Path)
	}
	if u.Version != "commit123" {
		t.Errorf("Version = %q", u.Version)
	}
	if u.Anchor != "char=10,250" {
		t.Errorf("Anchor = %q", u.Anchor)
	}
}

func TestParseURL_AnchorSplitBeforeQuery(t *testing.T) {
	u, err := ParseURL("pkb://abc/notes/a.md#frag?v=not-a-version")
	if err != nil {
		t.Fatal(err)
	}
	if u.Version != "" {
		t.Errorf("Version = %q, want empty", u.Version)
	}
	if u.Anchor != "frag?v=not-a-version" {
		t.Errorf("Anchor = %q", u.Anchor)
	}
}

func TestParseURL_Errors(t *testing.T) {
	tests := []struct {
		raw  string
		want error
	}{
		{"abc/notes/a.md", ErrURLMissingScheme},
		{"://abc/notes/a.md", ErrURLMissingScheme},
		{"pkb://abc/notes", ErrURLTooShort},
		{"pkb://abc", ErrURLTooShort},
		{"pkb://abc//a.md", ErrURLTooShort},
		{"pkb://abc/notes/?v=1", ErrURLTooShort},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			_, err := ParseURL(tt.raw)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseURLWithScheme(t *testing.T) {
	if _, err := ParseURLWithScheme("pkb://a/b/c", "pkb"); err != nil {
		t.Errorf("matching scheme: %v", err)
	}
	if _, err := ParseURLWithScheme("http://a/b/c", "pkb"); !errors.Is(err, ErrURLMissingScheme) {
		t.Errorf("other scheme: err = %v", err)
	}
}

func TestParseURL_LiteralPercent(t *testing.T) {
	u, err := ParseURL("pkb://abc/notes/50%off.md?v=x")
	if err != nil {
		t.Fatal(err)
	}
	if u.Path != "50%off.md" || u.Version != "x" {
		t.Errorf("path = %q version = %q", u.Path, u.Version)
	}
}
