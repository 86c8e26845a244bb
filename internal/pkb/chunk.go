// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package pkb

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

// ContentType discriminates chunk variants on disk, on the wire and in the
// relational projection.
type ContentType string

const (
	ContentMediaLink      ContentType = "media_link"
	ContentStructuredData ContentType = "structured_data"
	ContentNote           ContentType = "note"
)

// ChunkID is the content address of a serialized chunk.
type ChunkID string

const chunkIDPrefix = "sha256-"

// Short returns the first 12 hex digits, used in default paths and logs.
func (id ChunkID) Short() string {
	s := strings.TrimPrefix(string(id), chunkIDPrefix)
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

// Chunk is one typed payload. The set of implementations is closed:
// MediaLink, StructuredData and Note.
type Chunk interface {
	ContentType() ContentType
	// Summary is a one-line human description used by the stream view.
	Summary() string
	validate() error
}

// MediaLink points at a media object (image, video, web page) by URL.
type MediaLink struct {
	URL         string `json:"url"`
	MimeType    string `json:"mime_type,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

func (MediaLink) ContentType() ContentType { return ContentMediaLink }

func (m MediaLink) Summary() string {
	if m.Title != "" {
		return m.Title
	}
	return m.URL
}

func (m MediaLink) validate() error {
	if m.URL == "" {
		return errors.New("media link requires a url")
	}
	return nil
}

// StructuredData is an application record (person, conversation, bookmark,
// post) whose schema is named by DbType.
type StructuredData struct {
	DbType  string          `json:"db_type"`
	Payload json.RawMessage `json:"payload"`
}

func (StructuredData) ContentType() ContentType { return ContentStructuredData }

func (s StructuredData) Summary() string {
	var named struct {
		Title string `json:"title"`
		Name  string `json:"name"`
	}
	_ = json.Unmarshal(s.Payload, &named)
	switch {
	case named.Title != "":
		return named.Title
	case named.Name != "":
		return named.Name
	default:
		return s.DbType
	}
}

func (s StructuredData) validate() error {
	if s.DbType == "" {
		return errors.New("structured data requires a db_type")
	}
	if len(s.Payload) == 0 || !json.Valid(s.Payload) {
		return errors.New("structured data payload must be valid JSON")
	}
	return nil
}

// Note is a markdown text entry.
type Note struct {
	Title string   `json:"title,omitempty"`
	Body  string   `json:"body"`
	Tags  []string `json:"tags,omitempty"`
}

func (Note) ContentType() ContentType { return ContentNote }

func (n Note) Summary() string {
	if n.Title != "" {
		return n.Title
	}
	line, _, _ := strings.Cut(n.Body, "\n")
	return truncateUTF8(line, maxSummaryBytes)
}

// maxSummaryBytes bounds a summary taken from a note body.
const maxSummaryBytes = 80

// truncateUTF8 cuts s to at most n bytes without splitting a rune. The
// projection stores summaries in VARCHAR columns, which reject invalid UTF-8.
func truncateUTF8(s string, n int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func (n Note) validate() error {
	if n.Title == "" && n.Body == "" {
		return errors.New("note requires a title or body")
	}
	return nil
}

type chunkEnvelope struct {
	Type ContentType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EncodeChunk serializes c into its canonical envelope form. Identical
// content always yields identical bytes.
func EncodeChunk(c Chunk) ([]byte, error) {
	if c == nil {
		return nil, &EncodingError{Err: errors.New("nil chunk")}
	}
	if err := c.validate(); err != nil {
		return nil, &EncodingError{ContentType: c.ContentType(), Err: err}
	}

	if sd, ok := c.(StructuredData); ok {
		canonical, err := canonicalJSON(sd.Payload)
		if err != nil {
			return nil, &EncodingError{ContentType: c.ContentType(), Err: err}
		}
		sd.Payload = canonical
		c = sd
	}

	data, err := json.Marshal(c)
	if err != nil {
		return nil, &EncodingError{ContentType: c.ContentType(), Err: err}
	}
	out, err := json.Marshal(chunkEnvelope{Type: c.ContentType(), Data: data})
	if err != nil {
		return nil, &EncodingError{ContentType: c.ContentType(), Err: err}
	}
	return out, nil
}

// DecodeChunk parses an envelope produced by EncodeChunk.
func DecodeChunk(raw []byte) (Chunk, error) {
	var env chunkEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &EncodingError{Err: err}
	}

	var (
		c   Chunk
		err error
	)
	switch env.Type {
	case ContentMediaLink:
		var m MediaLink
		err = json.Unmarshal(env.Data, &m)
		c = m
	case ContentStructuredData:
		var s StructuredData
		err = json.Unmarshal(env.Data, &s)
		c = s
	case ContentNote:
		var n Note
		err = json.Unmarshal(env.Data, &n)
		c = n
	default:
		return nil, &EncodingError{ContentType: env.Type, Err: fmt.Errorf("unknown content type %q", env.Type)}
	}
	if err != nil {
		return nil, &EncodingError{ContentType: env.Type, Err: err}
	}
	if err := c.validate(); err != nil {
		return nil, &EncodingError{ContentType: env.Type, Err: err}
	}
	return c, nil
}

// HashChunk returns the content address of serialized chunk bytes.
func HashChunk(encoded []byte) ChunkID {
	sum := sha256.Sum256(encoded)
	return ChunkID(chunkIDPrefix + hex.EncodeToString(sum[:]))
}

// ComputeChunkID encodes c and returns its id together with the encoding.
func ComputeChunkID(c Chunk) (ChunkID, []byte, error) {
	encoded, err := EncodeChunk(c)
	if err != nil {
		return "", nil, err
	}
	return HashChunk(encoded), encoded, nil
}

// canonicalJSON re-encodes arbitrary JSON with sorted object keys and no
// insignificant whitespace. Numbers keep their literal form.
func canonicalJSON(raw json.RawMessage) (json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
