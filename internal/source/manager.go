// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/tomtom215/pkbsync/internal/cache"
	"github.com/tomtom215/pkbsync/internal/config"
	"github.com/tomtom215/pkbsync/internal/dbactor"
	"github.com/tomtom215/pkbsync/internal/logging"
	"github.com/tomtom215/pkbsync/internal/pkb"
)

// Service is the part of *pkb.Service the manager needs.
type Service interface {
	Committer
	CreateRepository(ctx context.Context, name string) (pkb.DirectoryID, error)
}

// Recorder stores source definitions in the relational projection.
type Recorder interface {
	InsertMediaSource(ctx context.Context, src dbactor.MediaSourceRow) error
}

// Mode values of config.SourceConfig.
const (
	ModePull = "pull"
	ModePush = "push"
)

type pushBinding struct {
	adapter PushAdapter
	ep      Endpoint
	channel *IngestionChannel
}

// Manager turns source configuration into running pull and push sources.
// Adapters are shared per kind so one webhook router serves every
// webhook source.
type Manager struct {
	svc       Service
	seen      *cache.RecencyCache
	poller    *Poller
	recorder  Recorder
	groupSize int
	logger    zerolog.Logger

	adapters map[string]SourceAdapter
	webhook  *Webhook
	pushes   *xsync.MapOf[string, pushBinding]
}

// ManagerOptions wires a Manager. Recorder may be nil.
type ManagerOptions struct {
	Service   Service
	Seen      *cache.RecencyCache
	Poller    *Poller
	Recorder  Recorder
	GroupSize int
}

func NewManager(opts ManagerOptions) *Manager {
	m := &Manager{
		svc:       opts.Service,
		seen:      opts.Seen,
		poller:    opts.Poller,
		recorder:  opts.Recorder,
		groupSize: opts.GroupSize,
		logger:    logging.WithComponent("source-manager"),
		adapters:  make(map[string]SourceAdapter),
		pushes:    xsync.NewMapOf[string, pushBinding](),
	}
	m.webhook = NewWebhook()
	m.webhook.OnItems(m.dispatch)
	m.adapters[KindWebhook] = m.webhook
	return m
}

// Webhook returns the shared webhook adapter for mounting its routes.
func (m *Manager) Webhook() *Webhook { return m.webhook }

func (m *Manager) adapter(kind string) (SourceAdapter, error) {
	if a, ok := m.adapters[kind]; ok {
		return a, nil
	}
	a, err := NewAdapter(kind)
	if err != nil {
		return nil, err
	}
	if pa, ok := a.(PushAdapter); ok {
		pa.OnItems(m.dispatch)
	}
	m.adapters[kind] = a
	return a, nil
}

// Configure adds every source, stopping at the first failure.
func (m *Manager) Configure(ctx context.Context, sources []config.SourceConfig) error {
	for _, sc := range sources {
		if err := m.Add(ctx, sc); err != nil {
			return err
		}
	}
	return nil
}

// Add starts one source. Its directory is created if missing and defaults
// to the source name. Add is not safe for concurrent use.
func (m *Manager) Add(ctx context.Context, sc config.SourceConfig) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("source %s: %w", sc.Name, err)
		}
	}()

	a, err := m.adapter(sc.Kind)
	if err != nil {
		return err
	}
	dirName := sc.Directory
	if dirName == "" {
		dirName = sc.Name
	}
	dir, err := m.svc.CreateRepository(ctx, dirName)
	if err != nil {
		return err
	}
	channel := NewIngestionChannel(m.svc, m.seen, ChannelOptions{Source: sc.Name, Directory: dir, GroupSize: m.groupSize})

	var cfg AdapterConfig
	switch sc.Mode {
	case ModePull:
		pa, ok := a.(PullAdapter)
		if !ok || !a.Capabilities().Has(CapabilityPull) || m.poller == nil {
			return fmt.Errorf("%w: %s pull", ErrUnsupported, sc.Kind)
		}
		if cfg, err = pa.CreatePullConfig(sc.Params); err != nil {
			return err
		}
		if err = pa.ValidatePull(ctx, cfg); err != nil {
			return err
		}
		m.poller.Add(PullSource{Name: sc.Name, Adapter: pa, Config: cfg, Channel: channel})
		m.logger.Info().Str("source", sc.Name).Str("kind", sc.Kind).Str("directory", string(dir)).Msg("Pull source added")

	case ModePush:
		pa, ok := a.(PushAdapter)
		if !ok || !a.Capabilities().Has(CapabilityPush) {
			return fmt.Errorf("%w: %s push", ErrUnsupported, sc.Kind)
		}
		if cfg, err = pa.CreatePushConfig(sc.Params); err != nil {
			return err
		}
		ep, err := pa.SetupEndpoint(ctx, sc.Name, cfg)
		if err != nil {
			return err
		}
		m.pushes.Store(ep.ID, pushBinding{adapter: pa, ep: ep, channel: channel})
		m.logger.Info().Str("source", sc.Name).Str("kind", sc.Kind).Str("endpoint", ep.Path).Msg("Push source added")

	default:
		return fmt.Errorf("%w: mode %q", ErrUnsupported, sc.Mode)
	}

	return m.record(ctx, sc, dir, cfg)
}

func (m *Manager) record(ctx context.Context, sc config.SourceConfig, dir pkb.DirectoryID, cfg AdapterConfig) error {
	if m.recorder == nil {
		return nil
	}
	env, err := EncodeConfig(cfg)
	if err != nil {
		return err
	}
	row := dbactor.MediaSourceRow{
		Name:      sc.Name,
		Kind:      sc.Kind,
		Mode:      sc.Mode,
		Directory: string(dir),
		Config:    env,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.recorder.InsertMediaSource(ctx, row); err != nil {
		// The projection is derived; a missing row does not stop ingestion.
		m.logger.Warn().Err(err).Str("source", sc.Name).Msg("Failed to record media source")
	}
	return nil
}

// Endpoints lists live push endpoints.
func (m *Manager) Endpoints() []Endpoint {
	out := make([]Endpoint, 0, m.pushes.Size())
	m.pushes.Range(func(_ string, b pushBinding) bool {
		out = append(out, b.ep)
		return true
	})
	return out
}

func (m *Manager) dispatch(ctx context.Context, ep Endpoint, items []Item) BatchResult {
	b, ok := m.pushes.Load(ep.ID)
	if !ok {
		res := BatchResult{}
		for _, it := range items {
			res.Failed = append(res.Failed, ItemFailure{SourceID: it.SourceID, Reason: "endpoint closed"})
		}
		return res
	}
	return b.channel.IngestBatch(ctx, items)
}

// Close tears down every push endpoint.
func (m *Manager) Close(ctx context.Context) error {
	var errs []error
	m.pushes.Range(func(id string, b pushBinding) bool {
		m.pushes.Delete(id)
		if err := b.adapter.TeardownEndpoint(ctx, id); err != nil {
			errs = append(errs, err)
		}
		return true
	})
	return errors.Join(errs...)
}
