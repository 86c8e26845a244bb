// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package source

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/pkbsync/internal/validation"
)

// Adapter kinds.
const (
	KindLocalDir = "localdir"
	KindWebhook  = "webhook"
)

// AdapterConfig is the adapter-specific configuration of one source.
type AdapterConfig interface {
	AdapterKind() string
}

// Envelope is the serialized form of an AdapterConfig. Kind selects the
// concrete type, so decoding needs no out-of-band knowledge.
type Envelope struct {
	Kind   string          `json:"kind"`
	Config json.RawMessage `json:"config"`
}

// configKinds is the closed table of config types.
var configKinds = map[string]func() AdapterConfig{
	KindLocalDir: func() AdapterConfig { return &LocalDirConfig{} },
	KindWebhook:  func() AdapterConfig { return &WebhookConfig{} },
}

// EncodeConfig wraps cfg in its envelope.
func EncodeConfig(cfg AdapterConfig) ([]byte, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode %s config: %w", cfg.AdapterKind(), err)
	}
	return json.Marshal(Envelope{Kind: cfg.AdapterKind(), Config: raw})
}

// DecodeConfig parses an envelope produced by EncodeConfig and validates
// the result.
func DecodeConfig(data []byte) (AdapterConfig, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode config envelope: %w", err)
	}
	newCfg, ok := configKinds[env.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
	cfg := newCfg()
	if len(env.Config) > 0 {
		if err := json.Unmarshal(env.Config, cfg); err != nil {
			return nil, fmt.Errorf("decode %s config: %w", env.Kind, err)
		}
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateConfig(cfg AdapterConfig) error {
	if err := validation.ValidateStruct(cfg); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, cfg.AdapterKind(), err)
	}
	return nil
}

// LocalDirConfig configures the localdir adapter.
type LocalDirConfig struct {
	Root string `json:"root" validate:"required"`
	// Extensions limits ingestion to these suffixes (".jpg"). Empty means all files.
	Extensions []string `json:"extensions,omitempty"`
	Recursive  bool     `json:"recursive"`
	// PageSize caps items per poll; the rest is returned with HasMore.
	PageSize int `json:"page_size" validate:"min=0,max=10000"`
}

func (*LocalDirConfig) AdapterKind() string { return KindLocalDir }

func (c *LocalDirConfig) accepts(name string) bool {
	if len(c.Extensions) == 0 {
		return true
	}
	lower := strings.ToLower(name)
	for _, ext := range c.Extensions {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

func localDirConfigFromParams(params map[string]string) (*LocalDirConfig, error) {
	cfg := &LocalDirConfig{Root: params["root"], Recursive: true}
	if v := params["extensions"]; v != "" {
		for _, ext := range strings.Split(v, ",") {
			if ext = strings.TrimSpace(ext); ext != "" {
				cfg.Extensions = append(cfg.Extensions, ext)
			}
		}
	}
	if v := params["recursive"]; v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("%w: recursive: %v", ErrInvalidConfig, err)
		}
		cfg.Recursive = b
	}
	if v := params["page_size"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: page_size: %v", ErrInvalidConfig, err)
		}
		cfg.PageSize = n
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WebhookConfig configures the webhook adapter.
type WebhookConfig struct {
	// Secret, when set, must be sent in the X-PKB-Token header.
	Secret   string `json:"secret,omitempty"`
	MaxItems int    `json:"max_items" validate:"min=0,max=10000"`
}

func (*WebhookConfig) AdapterKind() string { return KindWebhook }

func webhookConfigFromParams(params map[string]string) (*WebhookConfig, error) {
	cfg := &WebhookConfig{Secret: params["secret"], MaxItems: DefaultWebhookMaxItems}
	if v := params["max_items"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: max_items: %v", ErrInvalidConfig, err)
		}
		cfg.MaxItems = n
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewAdapter returns a fresh adapter of the given kind.
func NewAdapter(kind string) (SourceAdapter, error) {
	switch kind {
	case KindLocalDir:
		return NewLocalDir(), nil
	case KindWebhook:
		return NewWebhook(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}
