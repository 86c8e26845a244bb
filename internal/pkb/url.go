// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package pkb

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// DefaultURLScheme is the scheme used when none is configured.
const DefaultURLScheme = "pkb"

// URL addresses an entry: scheme://{identity}/{directory}/{path}[?v={version}][#{anchor}].
// Path may contain further '/' separators.
type URL struct {
	Scheme    string
	Identity  string
	Directory DirectoryID
	Path      string
	Version   string
	Anchor    string
}

// Entry paths may hold the URL delimiters; String escapes them and
// ParseURL reverses it. Other characters are written as they are.
var (
	pathEscaper   = strings.NewReplacer("%", "%25", "?", "%3F", "#", "%23")
	pathUnescaper = strings.NewReplacer("%25", "%", "%3F", "?", "%3f", "?", "%23", "#")
)

var (
	ErrURLMissingScheme = errors.New("pkb url: missing scheme prefix")
	ErrURLTooShort      = errors.New("pkb url: expected identity/directory/path")
)

// ParseURL parses a PKB URL. Any scheme is accepted; the anchor is split off
// first, then the version query, then the remainder must have at least three
// non-empty segments.
func ParseURL(raw string) (*URL, error) {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok || scheme == "" {
		return nil, fmt.Errorf("%w: %q", ErrURLMissingScheme, raw)
	}

	u := &URL{Scheme: scheme}
	rest, u.Anchor, _ = strings.Cut(rest, "#")

	rest, query, hasQuery := strings.Cut(rest, "?")
	if hasQuery {
		values, err := url.ParseQuery(query)
		if err != nil {
			return nil, fmt.Errorf("pkb url %q: %w", raw, err)
		}
		u.Version = values.Get("v")
	}

	segments := strings.SplitN(rest, "/", 3)
	if len(segments) < 3 || segments[0] == "" || segments[1] == "" || segments[2] == "" {
		return nil, fmt.Errorf("%w: %q", ErrURLTooShort, raw)
	}
	u.Identity = segments[0]
	u.Directory = DirectoryID(segments[1])
	u.Path = pathUnescaper.Replace(segments[2])
	return u, nil
}

// ParseURLWithScheme is ParseURL restricted to one scheme.
func ParseURLWithScheme(raw, scheme string) (*URL, error) {
	if !strings.HasPrefix(raw, scheme+"://") {
		return nil, fmt.Errorf("%w: want %s://", ErrURLMissingScheme, scheme)
	}
	return ParseURL(raw)
}

// String formats u so that ParseURL(u.String()) reproduces u.
func (u *URL) String() string {
	scheme := u.Scheme
	if scheme == "" {
		scheme = DefaultURLScheme
	}
	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(u.Identity)
	b.WriteByte('/')
	b.WriteString(string(u.Directory))
	b.WriteByte('/')
	b.WriteString(pathEscaper.Replace(u.Path))
	if u.Version != "" {
		b.WriteString("?v=")
		b.WriteString(url.QueryEscape(u.Version))
	}
	if u.Anchor != "" {
		b.WriteByte('#')
		b.WriteString(u.Anchor)
	}
	return b.String()
}

// EntryURL builds the URL of an entry owned by identity.
func EntryURL(scheme, identity string, e *Entry) *URL {
	return &URL{
		Scheme:    scheme,
		Identity:  identity,
		Directory: e.Directory,
		Path:      e.Path,
		Version:   string(e.ID),
	}
}
