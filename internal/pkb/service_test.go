// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package pkb_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/pkbsync/internal/eventbus"
	"github.com/tomtom215/pkbsync/internal/node"
	"github.com/tomtom215/pkbsync/internal/pkb"
)

type device struct {
	id   string
	svc  *pkb.Service
	bus  *eventbus.Bus
	node *node.Loopback
}

// newDevice opens a service on net whose wall clock is frozen at wall.
func newDevice(t *testing.T, net *node.Network, id, alias string, wall time.Time) *device {
	t.Helper()
	return newDeviceWithNode(t, net, id, alias, wall, nil)
}

func newDeviceWithNode(t *testing.T, net *node.Network, id, alias string, wall time.Time, wrap func(*node.Loopback) pkb.NodeHandle) *device {
	t.Helper()
	bus := eventbus.New()
	lb := net.Node(id)
	var handle pkb.NodeHandle = lb
	if wrap != nil {
		handle = wrap(lb)
	}
	svc, err := pkb.Open(context.Background(), pkb.Options{
		BasePath:    t.TempDir(),
		DeviceAlias: alias,
		InMemory:    true,
		Clock:       pkb.NewClockWithSource(id, func() time.Time { return wall }),
	}, handle, bus)
	if err != nil {
		t.Fatalf("Open(%s): %v", id, err)
	}
	net.Attach(id, svc)
	t.Cleanup(func() {
		net.Detach(id)
		_ = svc.Close()
		bus.Close()
	})
	return &device{id: id, svc: svc, bus: bus, node: lb}
}

// pair creates dir on both devices and adds each as the other's remote.
func pair(t *testing.T, dir string, a, b *device) {
	t.Helper()
	ctx := context.Background()
	for _, d := range []*device{a, b} {
		if _, err := d.svc.CreateRepository(ctx, dir); err != nil {
			t.Fatalf("CreateRepository on %s: %v", d.id, err)
		}
	}
	addrA, err := a.svc.LocalAddress(pkb.DirectoryID(dir))
	if err != nil {
		t.Fatal(err)
	}
	addrB, err := b.svc.LocalAddress(pkb.DirectoryID(dir))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.svc.AddRemote(ctx, pkb.DirectoryID(dir), "peerb", addrB); err != nil {
		t.Fatal(err)
	}
	if _, err := b.svc.AddRemote(ctx, pkb.DirectoryID(dir), "peera", addrA); err != nil {
		t.Fatal(err)
	}
}

func entryPaths(t *testing.T, d *device, dir string) map[string]string {
	t.Helper()
	entries, err := d.svc.ListEntries(context.Background(), pkb.DirectoryID(dir))
	if err != nil {
		t.Fatalf("ListEntries on %s: %v", d.id, err)
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		out[e.Path] = string(e.ChunkID)
	}
	return out
}

func TestAddChunk_Idempotent(t *testing.T) {
	net := node.NewNetwork()
	dev := newDevice(t, net, "node-aaaaaaaa", "laptop", time.UnixMilli(1_000))
	ctx := context.Background()
	if _, err := dev.svc.CreateRepository(ctx, "media"); err != nil {
		t.Fatal(err)
	}

	chunk := pkb.MediaLink{URL: "https://example.com/cat.jpg", MimeType: "image/jpeg", Title: "Cat"}
	first, err := dev.svc.AddChunk(ctx, "media", "cats/cat.json", chunk)
	if err != nil {
		t.Fatal(err)
	}
	second, err := dev.svc.AddChunk(ctx, "media", "cats/cat.json", chunk)
	if err != nil {
		t.Fatal(err)
	}
	if first.ChunkID != second.ChunkID {
		t.Errorf("ChunkID changed: %s vs %s", first.ChunkID, second.ChunkID)
	}
	if first.ID != second.ID {
		t.Errorf("identical re-add created a new entry: %s vs %s", first.ID, second.ID)
	}
}

func TestAddChunk_DefaultPathAndEvents(t *testing.T) {
	net := node.NewNetwork()
	dev := newDevice(t, net, "node-aaaaaaaa", "laptop", time.UnixMilli(1_000))
	ctx := context.Background()
	if _, err := dev.svc.CreateRepository(ctx, "notes"); err != nil {
		t.Fatal(err)
	}

	added := eventbus.Subscribe[pkb.ChunkAdded](dev.bus, 8)
	updated := eventbus.Subscribe[pkb.ChunkUpdated](dev.bus, 8)
	removed := eventbus.Subscribe[pkb.ChunkRemoved](dev.bus, 8)

	e, err := dev.svc.AddChunk(ctx, "notes", "", pkb.Note{Body: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if want := "note/" + e.ChunkID.Short() + ".json"; e.Path != want {
		t.Errorf("Path = %s, want %s", e.Path, want)
	}
	if ev := <-added.C(); ev.Entry.ID != e.ID || ev.Directory != "notes" {
		t.Errorf("ChunkAdded = %+v", ev)
	}

	e2, err := dev.svc.AddChunk(ctx, "notes", e.Path, pkb.Note{Body: "hello, edited"})
	if err != nil {
		t.Fatal(err)
	}
	if ev := <-updated.C(); ev.Previous != e.ID || ev.Entry.ID != e2.ID {
		t.Errorf("ChunkUpdated = %+v", ev)
	}

	gone, err := dev.svc.RemoveEntry(ctx, "notes", e.Path)
	if err != nil {
		t.Fatal(err)
	}
	if gone != e2.ID {
		t.Errorf("RemoveEntry returned %s, want %s", gone, e2.ID)
	}
	if ev := <-removed.C(); ev.EntryID != e2.ID || ev.Path != e.Path {
		t.Errorf("ChunkRemoved = %+v", ev)
	}
	if _, err := dev.svc.EntryAt(ctx, "notes", e.Path); !errors.Is(err, pkb.ErrNotFound) {
		t.Errorf("EntryAt after remove: err = %v", err)
	}
	// History stays addressable by entry id.
	if _, err := dev.svc.GetEntry(ctx, "notes", e.ID); err != nil {
		t.Errorf("GetEntry of superseded entry: %v", err)
	}
}

func TestAddChunk_Errors(t *testing.T) {
	net := node.NewNetwork()
	dev := newDevice(t, net, "node-aaaaaaaa", "laptop", time.UnixMilli(1_000))
	ctx := context.Background()

	_, err := dev.svc.AddChunk(ctx, "unknown", "", pkb.Note{Body: "x"})
	var se *pkb.StorageError
	if !errors.As(err, &se) || !errors.Is(err, pkb.ErrNotFound) {
		t.Errorf("unknown directory: err = %v, want *StorageError wrapping ErrNotFound", err)
	}

	if _, err := dev.svc.CreateRepository(ctx, "notes"); err != nil {
		t.Fatal(err)
	}
	_, err = dev.svc.AddChunk(ctx, "notes", "", pkb.Note{})
	var ee *pkb.EncodingError
	if !errors.As(err, &ee) {
		t.Errorf("empty note: err = %v, want *EncodingError", err)
	}
}

func TestCreateRepository(t *testing.T) {
	net := node.NewNetwork()
	dev := newDevice(t, net, "node-aaaaaaaa", "laptop", time.UnixMilli(1_000))
	ctx := context.Background()

	first, err := dev.svc.CreateRepository(ctx, "people")
	if err != nil {
		t.Fatal(err)
	}
	again, err := dev.svc.CreateRepository(ctx, "people")
	if err != nil {
		t.Fatal(err)
	}
	if first != again {
		t.Errorf("ids differ: %s vs %s", first, again)
	}
	if n := len(dev.svc.Directories()); n != 1 {
		t.Errorf("Directories = %d, want 1", n)
	}
	if _, err := dev.svc.CreateRepository(ctx, "Not Valid"); !errors.Is(err, pkb.ErrInvalidDirectory) {
		t.Errorf("invalid name: err = %v", err)
	}
}

func TestSyncDirectory_Union(t *testing.T) {
	net := node.NewNetwork()
	a := newDevice(t, net, "node-aaaaaaaa", "laptop", time.UnixMilli(1_000))
	b := newDevice(t, net, "node-bbbbbbbb", "phone", time.UnixMilli(1_000))
	pair(t, "notes", a, b)
	ctx := context.Background()

	if _, err := a.svc.AddChunk(ctx, "notes", "a.md", pkb.Note{Body: "from a"}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.svc.AddChunk(ctx, "notes", "b.md", pkb.Note{Body: "from b"}); err != nil {
		t.Fatal(err)
	}

	pulled := eventbus.Subscribe[pkb.EntryPulled](a.bus, 8)

	res, err := a.svc.SyncDirectory(ctx, "notes")
	if err != nil {
		t.Fatal(err)
	}
	if res.Pulled != 1 || res.Pushed != 1 {
		t.Errorf("pulled=%d pushed=%d, want 1/1", res.Pulled, res.Pushed)
	}
	if err := res.Err(); err != nil {
		t.Errorf("remote errors: %v", err)
	}
	if ev := <-pulled.C(); ev.SourceDevice != b.id || ev.Entry.Path != "b.md" {
		t.Errorf("EntryPulled = %+v", ev)
	}

	for _, d := range []*device{a, b} {
		got := entryPaths(t, d, "notes")
		if len(got) != 2 || got["a.md"] == "" || got["b.md"] == "" {
			t.Errorf("%s has %v, want a.md and b.md", d.id, got)
		}
	}
}

func TestSyncDirectory_LatestWins(t *testing.T) {
	for _, syncer := range []string{"older", "newer"} {
		t.Run(syncer+" device syncs", func(t *testing.T) {
			net := node.NewNetwork()
			older := newDevice(t, net, "node-aaaaaaaa", "laptop", time.UnixMilli(1_000))
			newer := newDevice(t, net, "node-bbbbbbbb", "phone", time.UnixMilli(2_000))
			pair(t, "notes", older, newer)
			ctx := context.Background()

			if _, err := older.svc.AddChunk(ctx, "notes", "day.md", pkb.Note{Body: "t1"}); err != nil {
				t.Fatal(err)
			}
			want, err := newer.svc.AddChunk(ctx, "notes", "day.md", pkb.Note{Body: "t2"})
			if err != nil {
				t.Fatal(err)
			}

			d := older
			if syncer == "newer" {
				d = newer
			}
			if _, err := d.svc.SyncDirectory(ctx, "notes"); err != nil {
				t.Fatal(err)
			}

			for _, dev := range []*device{older, newer} {
				e, err := dev.svc.EntryAt(ctx, "notes", "day.md")
				if err != nil {
					t.Fatalf("%s: %v", dev.id, err)
				}
				if e.ChunkID != want.ChunkID {
					t.Errorf("%s holds %q, want the t2 content", dev.id, e.Chunk.(pkb.Note).Body)
				}
			}
		})
	}
}

func TestSyncDirectory_PropagatesRemoval(t *testing.T) {
	net := node.NewNetwork()
	a := newDevice(t, net, "node-aaaaaaaa", "laptop", time.UnixMilli(1_000))
	b := newDevice(t, net, "node-bbbbbbbb", "phone", time.UnixMilli(1_000))
	pair(t, "notes", a, b)
	ctx := context.Background()

	if _, err := a.svc.AddChunk(ctx, "notes", "x.md", pkb.Note{Body: "x"}); err != nil {
		t.Fatal(err)
	}
	if _, err := a.svc.SyncDirectory(ctx, "notes"); err != nil {
		t.Fatal(err)
	}
	removed := eventbus.Subscribe[pkb.ChunkRemoved](b.bus, 8)
	if _, err := a.svc.RemoveEntry(ctx, "notes", "x.md"); err != nil {
		t.Fatal(err)
	}
	if _, err := a.svc.SyncDirectory(ctx, "notes"); err != nil {
		t.Fatal(err)
	}

	if got := entryPaths(t, b, "notes"); len(got) != 0 {
		t.Errorf("b still has %v", got)
	}
	if ev := <-removed.C(); ev.Path != "x.md" || ev.Origin != a.id {
		t.Errorf("ChunkRemoved on b = %+v", ev)
	}
}

func TestSyncDirectory_PartialFailure(t *testing.T) {
	net := node.NewNetwork()
	a := newDevice(t, net, "node-aaaaaaaa", "laptop", time.UnixMilli(1_000))
	b := newDevice(t, net, "node-bbbbbbbb", "phone", time.UnixMilli(1_000))
	c := newDevice(t, net, "node-cccccccc", "tablet", time.UnixMilli(1_000))
	pair(t, "notes", a, b)
	if _, err := c.svc.CreateRepository(context.Background(), "notes"); err != nil {
		t.Fatal(err)
	}
	addrC, _ := c.svc.LocalAddress("notes")
	if _, err := a.svc.AddRemote(context.Background(), "notes", "tablet", addrC); err != nil {
		t.Fatal(err)
	}
	net.SetOffline(c.id, true)

	completed := eventbus.Subscribe[pkb.SyncCompleted](a.bus, 4)
	res, err := a.svc.SyncDirectory(context.Background(), "notes")
	if err != nil {
		t.Fatalf("partial failure escalated: %v", err)
	}
	failed := res.Failed()
	if len(failed) != 1 || failed[0].Remote != pkb.RemoteName("tablet", c.id) {
		t.Fatalf("Failed = %+v", failed)
	}
	var syncErr *pkb.SyncError
	if !errors.As(failed[0].Err, &syncErr) || syncErr.Stage != "fetch" || !errors.Is(failed[0].Err, node.ErrUnreachable) {
		t.Errorf("remote error = %v", failed[0].Err)
	}
	if ev := <-completed.C(); ev.Failed != 1 {
		t.Errorf("SyncCompleted.Failed = %d, want 1", ev.Failed)
	}
}

func TestSyncDirectory_AllRemotesFail(t *testing.T) {
	net := node.NewNetwork()
	a := newDevice(t, net, "node-aaaaaaaa", "laptop", time.UnixMilli(1_000))
	b := newDevice(t, net, "node-bbbbbbbb", "phone", time.UnixMilli(1_000))
	pair(t, "notes", a, b)
	net.SetOffline(b.id, true)

	failed := eventbus.Subscribe[pkb.SyncFailed](a.bus, 4)
	res, err := a.svc.SyncDirectory(context.Background(), "notes")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Failed()) != 1 {
		t.Errorf("Failed = %+v", res.Failed())
	}
	if ev := <-failed.C(); ev.Reason == "" {
		t.Error("SyncFailed without reason")
	}
	if st, _ := a.svc.State("notes"); st != pkb.StateIdle {
		t.Errorf("state = %s, want idle", st)
	}
}

func TestSyncDirectory_CancelledReturnsToIdle(t *testing.T) {
	net := node.NewNetwork()
	a := newDevice(t, net, "node-aaaaaaaa", "laptop", time.UnixMilli(1_000))
	b := newDevice(t, net, "node-bbbbbbbb", "phone", time.UnixMilli(1_000))
	pair(t, "notes", a, b)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	failed := eventbus.Subscribe[pkb.SyncFailed](a.bus, 4)
	if _, err := a.svc.SyncDirectory(ctx, "notes"); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	<-failed.C()
	if st, _ := a.svc.State("notes"); st != pkb.StateIdle {
		t.Errorf("state = %s, want idle", st)
	}
}

// blockingNode holds Fetch until released.
type blockingNode struct {
	*node.Loopback
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (n *blockingNode) Fetch(ctx context.Context, dir pkb.DirectoryID, remote string) ([]pkb.Record, error) {
	n.once.Do(func() { close(n.entered) })
	select {
	case <-n.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return n.Loopback.Fetch(ctx, dir, remote)
}

func TestSyncDirectory_RejectsConcurrentRun(t *testing.T) {
	net := node.NewNetwork()
	blocker := &blockingNode{entered: make(chan struct{}), release: make(chan struct{})}
	a := newDeviceWithNode(t, net, "node-aaaaaaaa", "laptop", time.UnixMilli(1_000), func(lb *node.Loopback) pkb.NodeHandle {
		blocker.Loopback = lb
		return blocker
	})
	b := newDevice(t, net, "node-bbbbbbbb", "phone", time.UnixMilli(1_000))
	pair(t, "notes", a, b)

	done := make(chan error, 1)
	go func() {
		_, err := a.svc.SyncDirectory(context.Background(), "notes")
		done <- err
	}()
	<-blocker.entered

	if st, _ := a.svc.State("notes"); st != pkb.StateFetching {
		t.Errorf("state = %s, want fetching", st)
	}
	if _, err := a.svc.SyncDirectory(context.Background(), "notes"); !errors.Is(err, pkb.ErrSyncInProgress) {
		t.Errorf("second sync: err = %v, want ErrSyncInProgress", err)
	}

	close(blocker.release)
	if err := <-done; err != nil {
		t.Fatalf("first sync: %v", err)
	}
}

func TestPullEntry(t *testing.T) {
	net := node.NewNetwork()
	a := newDevice(t, net, "node-aaaaaaaa", "laptop", time.UnixMilli(1_000))
	b := newDevice(t, net, "node-bbbbbbbb", "phone", time.UnixMilli(1_000))
	pair(t, "notes", a, b)
	ctx := context.Background()

	remote, err := b.svc.AddChunk(ctx, "notes", "shared/plan.md", pkb.Note{Title: "Plan", Body: "steps"})
	if err != nil {
		t.Fatal(err)
	}

	pulled := eventbus.Subscribe[pkb.EntryPulled](a.bus, 4)
	got, err := a.svc.PullEntry(ctx, "notes", remote.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != remote.ID || got.ChunkID != remote.ChunkID || got.Meta.Origin != b.id {
		t.Errorf("PullEntry = %+v", got)
	}
	if ev := <-pulled.C(); ev.SourceDevice != b.id {
		t.Errorf("EntryPulled.SourceDevice = %s", ev.SourceDevice)
	}

	// Second call is served locally.
	net.SetOffline(b.id, true)
	if _, err := a.svc.PullEntry(ctx, "notes", remote.ID); err != nil {
		t.Errorf("local PullEntry: %v", err)
	}

	net.SetOffline(b.id, false)
	if _, err := a.svc.PullEntry(ctx, "notes", "0000"); !errors.Is(err, pkb.ErrNotFound) {
		t.Errorf("missing entry: err = %v", err)
	}
}

func TestResolveURL(t *testing.T) {
	net := node.NewNetwork()
	a := newDevice(t, net, "node-aaaaaaaa", "laptop", time.UnixMilli(1_000))
	b := newDevice(t, net, "node-bbbbbbbb", "phone", time.UnixMilli(1_000))
	pair(t, "notes", a, b)
	ctx := context.Background()

	local, err := a.svc.AddChunk(ctx, "notes", "diary/2024/Day.md", pkb.Note{Body: "today"})
	if err != nil {
		t.Fatal(err)
	}
	u, err := pkb.ParseURL(pkb.EntryURL("pkb", a.id, local).String())
	if err != nil {
		t.Fatal(err)
	}
	got, err := a.svc.ResolveURL(ctx, u)
	if err != nil || got.ID != local.ID {
		t.Errorf("ResolveURL(versioned) = %+v, %v", got, err)
	}

	u.Version = ""
	if got, err := a.svc.ResolveURL(ctx, u); err != nil || got.ID != local.ID {
		t.Errorf("ResolveURL(path) = %+v, %v", got, err)
	}

	remote, err := b.svc.AddChunk(ctx, "notes", "remote.md", pkb.Note{Body: "elsewhere"})
	if err != nil {
		t.Fatal(err)
	}
	got, err = a.svc.ResolveURL(ctx, pkb.EntryURL("pkb", b.id, remote))
	if err != nil || got.ID != remote.ID {
		t.Errorf("ResolveURL(remote) = %+v, %v", got, err)
	}
}

func TestReplay(t *testing.T) {
	net := node.NewNetwork()
	dev := newDevice(t, net, "node-aaaaaaaa", "laptop", time.UnixMilli(1_000))
	ctx := context.Background()
	for _, dir := range []string{"notes", "media"} {
		if _, err := dev.svc.CreateRepository(ctx, dir); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := dev.svc.AddChunk(ctx, "notes", "a.md", pkb.Note{Body: "a"}); err != nil {
		t.Fatal(err)
	}
	if _, err := dev.svc.AddChunk(ctx, "media", "", pkb.MediaLink{URL: "https://example.com"}); err != nil {
		t.Fatal(err)
	}
	if _, err := dev.svc.AddChunk(ctx, "notes", "gone.md", pkb.Note{Body: "gone"}); err != nil {
		t.Fatal(err)
	}
	if _, err := dev.svc.RemoveEntry(ctx, "notes", "gone.md"); err != nil {
		t.Fatal(err)
	}

	sub := eventbus.Subscribe[pkb.ChunkAdded](dev.bus, 8)
	n, err := dev.svc.Replay(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("Replay = %d, want 2 live entries", n)
	}
	for i := 0; i < n; i++ {
		if ev := <-sub.C(); !ev.Replayed {
			t.Errorf("event %d not marked replayed", i)
		}
	}
}

func TestRemoveDirectory(t *testing.T) {
	net := node.NewNetwork()
	dev := newDevice(t, net, "node-aaaaaaaa", "laptop", time.UnixMilli(1_000))
	ctx := context.Background()
	if _, err := dev.svc.CreateRepository(ctx, "scratch"); err != nil {
		t.Fatal(err)
	}
	if _, err := dev.svc.AddChunk(ctx, "scratch", "a.md", pkb.Note{Body: "a"}); err != nil {
		t.Fatal(err)
	}

	removed := eventbus.Subscribe[pkb.ChunkRemoved](dev.bus, 4)
	if err := dev.svc.RemoveDirectory(ctx, "scratch"); err != nil {
		t.Fatal(err)
	}
	if ev := <-removed.C(); ev.Path != "a.md" {
		t.Errorf("ChunkRemoved = %+v", ev)
	}
	if len(dev.svc.Directories()) != 0 {
		t.Error("directory still registered")
	}
	if _, err := dev.svc.ListEntries(ctx, "scratch"); !errors.Is(err, pkb.ErrNotFound) {
		t.Errorf("ListEntries after removal: err = %v", err)
	}
}

func TestRemotes(t *testing.T) {
	net := node.NewNetwork()
	a := newDevice(t, net, "node-aaaaaaaa", "laptop", time.UnixMilli(1_000))
	b := newDevice(t, net, "node-bbbbbbbb", "phone", time.UnixMilli(1_000))
	pair(t, "notes", a, b)
	ctx := context.Background()

	remotes, err := a.svc.ListRemotes("notes")
	if err != nil || len(remotes) != 1 {
		t.Fatalf("ListRemotes = %+v, %v", remotes, err)
	}
	if remotes[0].Name() != "peerb-node-bbb" {
		t.Errorf("remote name = %s", remotes[0].Name())
	}

	self, _ := a.svc.LocalAddress("notes")
	if _, err := a.svc.AddRemote(ctx, "notes", "me", self); !errors.Is(err, pkb.ErrInvalidAddress) {
		t.Errorf("self pairing: err = %v", err)
	}
	if _, err := a.svc.AddRemote(ctx, "notes", "phone", "not-an-address"); !errors.Is(err, pkb.ErrInvalidAddress) {
		t.Errorf("bad address: err = %v", err)
	}

	if err := a.svc.RemoveRemote(ctx, "notes", remotes[0].Name()); err != nil {
		t.Fatal(err)
	}
	res, err := a.svc.SyncDirectory(ctx, "notes")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Remotes) != 0 {
		t.Errorf("sync after unpairing contacted %d remotes", len(res.Remotes))
	}
}

func TestOpen_ReopensDirectoriesAndRemotes(t *testing.T) {
	net := node.NewNetwork()
	base := t.TempDir()
	ctx := context.Background()

	open := func(id string) *pkb.Service {
		svc, err := pkb.Open(ctx, pkb.Options{BasePath: base, DeviceAlias: "laptop"}, net.Node(id), nil)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		return svc
	}

	svc := open("node-aaaaaaaa")
	if _, err := svc.CreateRepository(ctx, "notes"); err != nil {
		t.Fatal(err)
	}
	e, err := svc.AddChunk(ctx, "notes", "keep.md", pkb.Note{Body: "durable"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AddRemote(ctx, "notes", "phone", "pkbnode://r?node-bbbbbbbb"); err != nil {
		t.Fatal(err)
	}
	if err := svc.Close(); err != nil {
		t.Fatal(err)
	}

	svc = open("node-aaaaaaaa")
	defer svc.Close()
	got, err := svc.EntryAt(ctx, "notes", "keep.md")
	if err != nil || got.ID != e.ID {
		t.Errorf("EntryAt after reopen = %+v, %v", got, err)
	}
	if remotes, _ := svc.ListRemotes("notes"); len(remotes) != 1 {
		t.Errorf("remotes after reopen = %+v", remotes)
	}

	if _, err := pkb.Open(ctx, pkb.Options{BasePath: base}, net.Node("node-other"), nil); err == nil {
		t.Error("Open accepted a registry of another node")
	}
}
