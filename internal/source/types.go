// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package source

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/pkbsync/internal/pkb"
)

var (
	// ErrDuplicate is returned by Ingest for an item seen within the dedup window.
	ErrDuplicate = errors.New("duplicate item")

	// ErrUnsupported is returned when an adapter lacks the requested mode.
	ErrUnsupported = errors.New("operation not supported by adapter")

	// ErrUnknownKind is returned for an adapter kind outside the known set.
	ErrUnknownKind = errors.New("unknown adapter kind")

	// ErrInvalidConfig wraps adapter config validation failures.
	ErrInvalidConfig = errors.New("invalid adapter config")
)

// Capability is one feature an adapter declares.
type Capability string

const (
	CapabilityPull   Capability = "pull"
	CapabilityPush   Capability = "push"
	CapabilityCursor Capability = "cursor"
)

// Capabilities is the set an adapter supports.
type Capabilities []Capability

// Has reports whether c is in the set.
func (cs Capabilities) Has(c Capability) bool {
	return slices.Contains(cs, c)
}

// Item is one piece of external content before it becomes a chunk.
// SourceID identifies it within its source and drives deduplication.
type Item struct {
	SourceID string `json:"source_id" validate:"required,max=512"`
	// Path inside the target directory. Empty uses the chunk's default path.
	Path string `json:"path,omitempty" validate:"omitempty,max=1024"`

	URL         string `json:"url,omitempty" validate:"omitempty,url"`
	MimeType    string `json:"mime_type,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`

	// DbType set makes the item structured data with Payload.
	DbType  string          `json:"db_type,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// Body set (and no URL or DbType) makes the item a note.
	Body string   `json:"body,omitempty"`
	Tags []string `json:"tags,omitempty"`

	ObservedAt time.Time `json:"observed_at,omitempty"`
}

// Chunk converts the item to the chunk committed into the knowledge base.
func (it Item) Chunk() (pkb.Chunk, error) {
	switch {
	case it.DbType != "":
		return pkb.StructuredData{DbType: it.DbType, Payload: it.Payload}, nil
	case it.URL != "":
		return pkb.MediaLink{URL: it.URL, MimeType: it.MimeType, Title: it.Title, Description: it.Description}, nil
	case it.Body != "" || it.Title != "":
		return pkb.Note{Title: it.Title, Body: it.Body, Tags: it.Tags}, nil
	default:
		return nil, errors.New("item has no url, db_type or body")
	}
}

// Cursor is an opaque, adapter-owned position in a pull source. A nil
// cursor means start from the beginning.
type Cursor []byte

// PollOutput is the result of one poll.
type PollOutput struct {
	Items []Item
	// Cursor is the position after Items. Persist it only after Items were ingested.
	Cursor Cursor
	// HasMore asks the caller to poll again right away.
	HasMore bool
}

// Endpoint is a live push registration.
type Endpoint struct {
	ID     string
	Kind   string
	Source string
	// Path is where the endpoint listens, when it is HTTP based.
	Path string
}

// ItemsHandler receives pushed items. It returns the ingestion result so
// push transports can report it to the sender.
type ItemsHandler func(ctx context.Context, ep Endpoint, items []Item) BatchResult

// SourceAdapter is the common surface of every adapter.
type SourceAdapter interface {
	Kind() string
	Capabilities() Capabilities
}

// PullAdapter is implemented by adapters that support CapabilityPull.
type PullAdapter interface {
	SourceAdapter
	// CreatePullConfig builds the adapter config from flat source params.
	CreatePullConfig(params map[string]string) (AdapterConfig, error)
	// ValidatePull checks that cfg can be polled, touching the source if needed.
	ValidatePull(ctx context.Context, cfg AdapterConfig) error
	Poll(ctx context.Context, cfg AdapterConfig, cursor Cursor) (*PollOutput, error)
}

// PushAdapter is implemented by adapters that support CapabilityPush.
type PushAdapter interface {
	SourceAdapter
	CreatePushConfig(params map[string]string) (AdapterConfig, error)
	SetupEndpoint(ctx context.Context, source string, cfg AdapterConfig) (Endpoint, error)
	TeardownEndpoint(ctx context.Context, id string) error
	// OnItems registers the callback for pushed items. It must be called
	// before SetupEndpoint.
	OnItems(fn ItemsHandler)
}
