// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package pkb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/tomtom215/pkbsync/internal/eventbus"
	"github.com/tomtom215/pkbsync/internal/logging"
	"github.com/tomtom215/pkbsync/internal/metrics"
	"github.com/tomtom215/pkbsync/internal/validation"
)

// Options configures a Service.
type Options struct {
	// BasePath holds one repository per directory and the .pkb metadata area.
	BasePath    string
	DeviceAlias string
	URLScheme   string

	// Strategy defaults to LatestWins{}.
	Strategy MergeStrategy

	// SyncTimeout bounds one SyncDirectory call. Zero means no bound beyond ctx.
	SyncTimeout        time.Duration
	MaxParallelRemotes int
	Breaker            BreakerSettings

	// InMemory keeps repositories in memory. The registry is still written to BasePath.
	InMemory bool

	// Clock defaults to a wall clock stamped with the node identity.
	Clock *Clock
}

// RegistryPath returns the registry location under basePath.
func RegistryPath(basePath string) string {
	return filepath.Join(basePath, ".pkb", "directories.json")
}

// LoadNodeID returns the node id persisted under basePath, storing preferred
// (or generate()) on first use. Node implementations are constructed with it
// before the Service is opened.
func LoadNodeID(basePath, preferred string, generate func() string) (string, error) {
	reg, err := OpenRegistry(RegistryPath(basePath))
	if err != nil {
		return "", err
	}
	id, err := reg.EnsureNodeID(func() string {
		if preferred != "" {
			return preferred
		}
		return generate()
	})
	if err != nil {
		return "", storageErr("store node id", "", err)
	}
	if preferred != "" && id != preferred {
		return "", storageErr("load node id", "", fmt.Errorf("configured node id %s does not match stored %s", preferred, id))
	}
	return id, nil
}

type directory struct {
	id   DirectoryID
	repo *Repository
	// mu orders commits with their events so subscribers see a directory's
	// changes in commit order.
	mu    sync.Mutex
	state atomic.Int32
}

// Service is the authoritative entry point for chunk ingestion, directory
// management and device synchronization.
type Service struct {
	opts     Options
	registry *Registry
	node     NodeHandle
	bus      *eventbus.Bus
	clock    *Clock
	strategy MergeStrategy
	breakers *breakers
	logger   zerolog.Logger

	dirs *xsync.MapOf[DirectoryID, *directory]

	// lifecycle guards directory creation and removal against each other and Close.
	lifecycle sync.Mutex
	closed    atomic.Bool
}

// Open loads the registry under opts.BasePath, opens every registered
// directory and re-declares its remotes to node. bus may be nil, in which
// case no events are emitted.
func Open(ctx context.Context, opts Options, node NodeHandle, bus *eventbus.Bus) (*Service, error) {
	if node == nil {
		return nil, errors.New("pkb: node handle is required")
	}
	if opts.BasePath == "" {
		return nil, errors.New("pkb: base path is required")
	}
	if opts.URLScheme == "" {
		opts.URLScheme = DefaultURLScheme
	}
	if opts.MaxParallelRemotes <= 0 {
		opts.MaxParallelRemotes = 4
	}

	registry, err := OpenRegistry(RegistryPath(opts.BasePath))
	if err != nil {
		return nil, err
	}
	nodeID, err := registry.EnsureNodeID(node.Identity)
	if err != nil {
		return nil, storageErr("store node id", "", err)
	}
	if nodeID != node.Identity() {
		return nil, storageErr("open", "", fmt.Errorf("registry belongs to node %s, node handle is %s", nodeID, node.Identity()))
	}

	s := &Service{
		opts:     opts,
		registry: registry,
		node:     node,
		bus:      bus,
		clock:    opts.Clock,
		strategy: opts.Strategy,
		breakers: newBreakers(opts.Breaker),
		logger:   logging.WithComponent("pkb"),
		dirs:     xsync.NewMapOf[DirectoryID, *directory](),
	}
	if s.clock == nil {
		s.clock = NewClock(nodeID)
	}
	if s.strategy == nil {
		s.strategy = LatestWins{}
	}

	for _, meta := range registry.List() {
		if err := s.openDirectory(ctx, meta); err != nil {
			s.Close()
			return nil, err
		}
	}
	s.logger.Info().
		Str("node_id", nodeID).
		Str("alias", opts.DeviceAlias).
		Int("directories", s.dirs.Size()).
		Msg("PKB service opened")
	return s, nil
}

func (s *Service) openDirectory(ctx context.Context, meta DirectoryMeta) error {
	repo, err := OpenRepository(meta.ID, s.repoPath(meta), RepositoryOptions{InMemory: s.opts.InMemory})
	if err != nil {
		return err
	}
	if _, err := s.node.CreateRepository(ctx, meta.ID); err != nil {
		closeQuietly(repo)
		return storageErr("open", meta.ID, err)
	}
	for _, b := range meta.Remotes {
		if err := s.node.AddRemote(ctx, meta.ID, b.Name(), b.Address); err != nil {
			closeQuietly(repo)
			return storageErr("open", meta.ID, fmt.Errorf("declare remote %s: %w", b.Name(), err))
		}
	}
	// Keep the clock ahead of everything already committed, even if the wall
	// clock went backwards since the last run.
	if err := repo.Scan(func(rec *Record) error {
		s.clock.Observe(rec.Timestamp)
		return nil
	}); err != nil {
		closeQuietly(repo)
		return err
	}
	s.dirs.Store(meta.ID, &directory{id: meta.ID, repo: repo})
	return nil
}

func (s *Service) repoPath(meta DirectoryMeta) string {
	return filepath.Join(s.opts.BasePath, meta.Location)
}

func (s *Service) directory(op string, id DirectoryID) (*directory, error) {
	if s.closed.Load() {
		return nil, storageErr(op, id, ErrClosed)
	}
	d, ok := s.dirs.Load(id)
	if !ok {
		return nil, storageErr(op, id, fmt.Errorf("directory %s: %w", id, ErrNotFound))
	}
	return d, nil
}

// Identity returns this device's node id.
func (s *Service) Identity() string { return s.node.Identity() }

// DeviceAlias returns the configured device alias.
func (s *Service) DeviceAlias() string { return s.opts.DeviceAlias }

// URLScheme returns the scheme used for entry URLs.
func (s *Service) URLScheme() string { return s.opts.URLScheme }

// CreateRepository registers and opens a directory. It is idempotent:
// an existing name returns the existing DirectoryID.
func (s *Service) CreateRepository(ctx context.Context, name string) (DirectoryID, error) {
	id := DirectoryID(name)
	if err := id.Validate(); err != nil {
		return "", err
	}

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.closed.Load() {
		return "", storageErr("create repository", id, ErrClosed)
	}
	if _, ok := s.dirs.Load(id); ok {
		return id, nil
	}

	repoID, err := s.node.CreateRepository(ctx, id)
	if err != nil {
		return "", storageErr("create repository", id, err)
	}
	meta := DirectoryMeta{
		ID:           id,
		Location:     string(id),
		RepositoryID: repoID,
		CreatedAt:    time.Now().UTC(),
	}
	repo, err := OpenRepository(id, s.repoPath(meta), RepositoryOptions{InMemory: s.opts.InMemory})
	if err != nil {
		return "", err
	}
	if _, _, err := s.registry.Register(meta); err != nil {
		closeQuietly(repo)
		return "", err
	}
	s.dirs.Store(id, &directory{id: id, repo: repo})

	s.logger.Info().Str("directory", string(id)).Str("repository_id", repoID).Msg("Created directory")
	return id, nil
}

// RemoveDirectory emits ChunkRemoved for every live entry, then deletes the
// directory's repository and registry record.
func (s *Service) RemoveDirectory(ctx context.Context, id DirectoryID) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	d, err := s.directory("remove directory", id)
	if err != nil {
		return err
	}
	if !d.state.CompareAndSwap(int32(StateIdle), int32(StateFetching)) {
		return storageErr("remove directory", id, ErrSyncInProgress)
	}
	defer d.state.Store(int32(StateIdle))

	d.mu.Lock()
	defer d.mu.Unlock()

	live, err := d.repo.Snapshot()
	if err != nil {
		return err
	}
	meta, _ := s.registry.Get(id)
	if err := s.registry.Remove(id); err != nil {
		return err
	}
	s.dirs.Delete(id)
	for _, rec := range live {
		if !rec.Deleted {
			emit(ctx, s, ChunkRemoved{Directory: id, Path: rec.Path, EntryID: rec.EntryID, Origin: s.Identity()})
		}
	}
	if err := d.repo.Close(); err != nil {
		s.logger.Warn().Err(err).Str("directory", string(id)).Msg("Failed to close removed repository")
	}
	if !s.opts.InMemory {
		if err := os.RemoveAll(s.repoPath(meta)); err != nil {
			return storageErr("remove directory", id, err)
		}
	}
	s.logger.Info().Str("directory", string(id)).Int("entries", len(live)).Msg("Removed directory")
	return nil
}

// Directories lists registered directories.
func (s *Service) Directories() []DirectoryMeta {
	return s.registry.List()
}

// AddChunk commits c at path in dir and emits ChunkAdded, or ChunkUpdated
// when the path held different content. An empty path stores the chunk at
// DefaultPath. Re-adding identical content at the same path commits nothing
// and returns the existing entry.
func (s *Service) AddChunk(ctx context.Context, dir DirectoryID, path string, c Chunk) (*Entry, error) {
	start := time.Now()
	d, err := s.directory("add chunk", dir)
	if err != nil {
		return nil, err
	}
	chunkID, encoded, err := ComputeChunkID(c)
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = DefaultPath(c, chunkID)
	} else if path, err = CleanPath(path); err != nil {
		return nil, storageErr("add chunk", dir, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	prev, err := d.repo.Get(path)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if prev != nil && !prev.Deleted && prev.ChunkID == chunkID {
		return EntryFromRecord(dir, prev)
	}

	ts := s.clock.Now()
	rec := &Record{
		Path:        path,
		EntryID:     NewEntryID(dir, path, chunkID, ts),
		ChunkID:     chunkID,
		ContentType: c.ContentType(),
		Data:        encoded,
		Timestamp:   ts,
		CreatedAt:   ts.Time(),
	}
	if _, err := d.repo.Commit(rec); err != nil {
		return nil, err
	}
	entry, err := EntryFromRecord(dir, rec)
	if err != nil {
		return nil, err
	}

	op := "add"
	if prev != nil && !prev.Deleted {
		op = "update"
		emit(ctx, s, ChunkUpdated{Directory: dir, Entry: entry, Previous: prev.EntryID})
	} else {
		emit(ctx, s, ChunkAdded{Directory: dir, Entry: entry})
	}
	metrics.RecordChunkCommitted(string(dir), string(rec.ContentType), op, time.Since(start))

	logging.Ctx(ctx).Debug().
		Str("directory", string(dir)).
		Str("path", path).
		Str("entry_id", string(entry.ID)).
		Str("chunk_id", chunkID.Short()).
		Msg("Committed chunk")
	return entry, nil
}

// RemoveEntry tombstones path in dir and emits ChunkRemoved. It returns the
// id of the entry that was removed.
func (s *Service) RemoveEntry(ctx context.Context, dir DirectoryID, path string) (EntryID, error) {
	start := time.Now()
	d, err := s.directory("remove entry", dir)
	if err != nil {
		return "", err
	}
	if path, err = CleanPath(path); err != nil || path == "" {
		return "", storageErr("remove entry", dir, fmt.Errorf("invalid path %q", path))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	prev, err := d.repo.Get(path)
	if err != nil {
		return "", err
	}
	if prev.Deleted {
		return "", storageErr("remove entry", dir, fmt.Errorf("%s: %w", path, ErrNotFound))
	}

	ts := s.clock.Now()
	tomb := &Record{
		Path:      path,
		EntryID:   NewEntryID(dir, path, "", ts),
		Timestamp: ts,
		CreatedAt: ts.Time(),
		Deleted:   true,
	}
	if _, err := d.repo.Commit(tomb); err != nil {
		return "", err
	}
	emit(ctx, s, ChunkRemoved{Directory: dir, Path: path, EntryID: prev.EntryID, Origin: s.Identity()})
	metrics.RecordChunkCommitted(string(dir), string(prev.ContentType), "remove", time.Since(start))
	return prev.EntryID, nil
}

// GetEntry returns the entry committed under id in dir, even if a later
// commit replaced it at its path.
func (s *Service) GetEntry(_ context.Context, dir DirectoryID, id EntryID) (*Entry, error) {
	d, err := s.directory("get entry", dir)
	if err != nil {
		return nil, err
	}
	rec, err := d.repo.GetEntry(id)
	if err != nil {
		return nil, err
	}
	return EntryFromRecord(dir, rec)
}

// EntryAt returns the current entry at path in dir.
func (s *Service) EntryAt(_ context.Context, dir DirectoryID, path string) (*Entry, error) {
	d, err := s.directory("get", dir)
	if err != nil {
		return nil, err
	}
	if path, err = CleanPath(path); err != nil {
		return nil, storageErr("get", dir, err)
	}
	rec, err := d.repo.Get(path)
	if err != nil {
		return nil, err
	}
	return EntryFromRecord(dir, rec)
}

// ListEntries returns the live entries of dir sorted by path.
func (s *Service) ListEntries(_ context.Context, dir DirectoryID) ([]*Entry, error) {
	d, err := s.directory("list", dir)
	if err != nil {
		return nil, err
	}
	snap, err := d.repo.Snapshot()
	if err != nil {
		return nil, err
	}
	out := make([]*Entry, 0, len(snap))
	for i := range snap {
		if snap[i].Deleted {
			continue
		}
		e, err := EntryFromRecord(dir, &snap[i])
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// ResolveURL returns the entry a PKB URL points at. A version names an entry
// id and is pulled from remotes when missing locally; without one the
// current entry at the path is returned.
func (s *Service) ResolveURL(ctx context.Context, u *URL) (*Entry, error) {
	if u.Version == "" {
		return s.EntryAt(ctx, u.Directory, u.Path)
	}
	e, err := s.GetEntry(ctx, u.Directory, EntryID(u.Version))
	if errors.Is(err, ErrNotFound) {
		if _, derr := s.directory("resolve", u.Directory); derr != nil {
			return nil, derr
		}
		return s.PullEntry(ctx, u.Directory, EntryID(u.Version))
	}
	return e, err
}

// Replay re-emits ChunkAdded for every live entry of every directory so a
// fresh projection can be rebuilt. It returns the number of events emitted.
func (s *Service) Replay(ctx context.Context) (int, error) {
	var (
		count int
		err   error
	)
	s.dirs.Range(func(id DirectoryID, d *directory) bool {
		err = d.repo.Scan(func(rec *Record) error {
			if rec.Deleted {
				return nil
			}
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			e, derr := EntryFromRecord(id, rec)
			if derr != nil {
				s.logger.Warn().Err(derr).Str("directory", string(id)).Str("path", rec.Path).Msg("Skipping undecodable record during replay")
				return nil
			}
			if s.bus != nil {
				if eerr := eventbus.Emit(ctx, s.bus, ChunkAdded{Directory: id, Entry: e, Replayed: true}); eerr != nil {
					return eerr
				}
			}
			count++
			return nil
		})
		return err == nil
	})
	if err != nil {
		return count, err
	}
	s.logger.Info().Int("entries", count).Msg("Replayed directories")
	return count, nil
}

// Close closes every repository. The bus is owned by the caller.
func (s *Service) Close() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	s.dirs.Range(func(id DirectoryID, d *directory) bool {
		d.mu.Lock()
		if err := d.repo.Close(); err != nil {
			errs = append(errs, err)
		}
		d.mu.Unlock()
		return true
	})
	return errors.Join(errs...)
}

// AddRemote pairs dir with the same directory on the device at address.
// Pairing is one-directional; the other device adds its own remote.
func (s *Service) AddRemote(ctx context.Context, dir DirectoryID, alias, address string) (RemoteBinding, error) {
	if !validation.IsDeviceAlias(alias) {
		return RemoteBinding{}, fmt.Errorf("invalid device alias %q", alias)
	}
	if _, err := s.directory("add remote", dir); err != nil {
		return RemoteBinding{}, err
	}
	addr, err := ParseAddress(address)
	if err != nil {
		return RemoteBinding{}, err
	}
	if addr.NodeID == s.Identity() {
		return RemoteBinding{}, fmt.Errorf("%w: %s is this device", ErrInvalidAddress, address)
	}

	binding := RemoteBinding{
		DeviceAlias: alias,
		NodeID:      addr.NodeID,
		Address:     address,
		AddedAt:     time.Now().UTC(),
	}
	if err := s.node.AddRemote(ctx, dir, binding.Name(), address); err != nil {
		return RemoteBinding{}, storageErr("add remote", dir, err)
	}
	if err := s.registry.AddRemote(dir, binding); err != nil {
		return RemoteBinding{}, err
	}
	s.logger.Info().Str("directory", string(dir)).Str("remote", binding.Name()).Msg("Added remote")
	return binding, nil
}

// RemoveRemote unpairs the named remote from dir.
func (s *Service) RemoveRemote(ctx context.Context, dir DirectoryID, name string) error {
	if _, err := s.directory("remove remote", dir); err != nil {
		return err
	}
	if _, err := s.registry.RemoveRemote(dir, name); err != nil {
		return err
	}
	if err := s.node.RemoveRemote(ctx, dir, name); err != nil {
		return storageErr("remove remote", dir, err)
	}
	s.logger.Info().Str("directory", string(dir)).Str("remote", name).Msg("Removed remote")
	return nil
}

// ListRemotes returns the remotes of dir.
func (s *Service) ListRemotes(dir DirectoryID) ([]RemoteBinding, error) {
	return s.registry.Remotes(dir)
}

// LocalAddress returns the address other devices use to reach dir on this device.
func (s *Service) LocalAddress(dir DirectoryID) (string, error) {
	meta, ok := s.registry.Get(dir)
	if !ok {
		return "", storageErr("address", dir, fmt.Errorf("directory %s: %w", dir, ErrNotFound))
	}
	return Address{Scheme: AddressScheme, RepositoryID: meta.RepositoryID, NodeID: s.Identity()}.String(), nil
}

// BreakerState returns the circuit breaker state of a remote.
func (s *Service) BreakerState(remote string) string {
	return s.breakers.state(remote)
}

// emit delivers ev after a commit. The commit is already durable, so a
// cancelled ctx does not abort delivery; a closed bus is logged.
func emit[T eventbus.Event](ctx context.Context, s *Service, ev T) {
	if s.bus == nil {
		return
	}
	if err := eventbus.Emit(context.WithoutCancel(ctx), s.bus, ev); err != nil {
		s.logger.Warn().Err(err).Str("kind", string(ev.EventKind())).Msg("Event not delivered")
	}
}

func closeQuietly(r *Repository) {
	if err := r.Close(); err != nil {
		logging.Warn().Err(err).Str("directory", string(r.Directory())).Msg("Failed to close repository")
	}
}
