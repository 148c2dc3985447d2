package bridge

import (
	"context"
	"errors"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bolasblack/settingsync/internal/clock"
	"github.com/bolasblack/settingsync/internal/extension"
	"github.com/bolasblack/settingsync/internal/ide"
	"github.com/bolasblack/settingsync/internal/remote"
	"github.com/bolasblack/settingsync/internal/settingslog"
	"github.com/bolasblack/settingsync/internal/snapshot"
	"github.com/bolasblack/settingsync/internal/state"
	"github.com/bolasblack/settingsync/internal/util"
)

const lafPath = "options/laf.xml"

// recordingRemote counts traffic to a DirRemote and can be told to fail pushes.
type recordingRemote struct {
	*remote.DirRemote

	mu      sync.Mutex
	pushes  []*snapshot.Snapshot
	pulls   int
	pushErr error
}

func newRecordingRemote(fs afero.Fs) *recordingRemote {
	return &recordingRemote{DirRemote: remote.NewDirRemote(fs, "/remote", remote.Identity{InstallationID: "test"})}
}

func (r *recordingRemote) Push(ctx context.Context, snap *snapshot.Snapshot, opts remote.PushOptions) (remote.PushResult, error) {
	r.mu.Lock()
	if r.pushErr != nil {
		err := r.pushErr
		r.mu.Unlock()
		return remote.PushResult{}, err
	}
	r.pushes = append(r.pushes, snap)
	r.mu.Unlock()
	return r.DirRemote.Push(ctx, snap, opts)
}

func (r *recordingRemote) Pull(ctx context.Context, known string) (remote.PullResult, error) {
	r.mu.Lock()
	r.pulls++
	r.mu.Unlock()
	return r.DirRemote.Pull(ctx, known)
}

func (r *recordingRemote) setPushErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushErr = err
}

func (r *recordingRemote) pushCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pushes)
}

func (r *recordingRemote) pullCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pulls
}

func (r *recordingRemote) lastPush() *snapshot.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pushes) == 0 {
		return nil
	}
	return r.pushes[len(r.pushes)-1]
}

// install is one machine: its own storage, host files and bridge.
type install struct {
	bridge    *Bridge
	log       *settingslog.Log
	store     *state.Store
	mediator  *ide.MemoryMediator
	conflicts *ConflictCache
	registry  *extension.Registry
}

func newInstall(t *testing.T, fs afero.Fs, storageDir string, rc remote.Communicator, m *ide.MemoryMediator) *install {
	t.Helper()
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := state.NewStore(util.NewEnv(fs), storageDir, clk)
	_, _, err := store.LoadOrCreate("dir:/remote")
	require.NoError(t, err)

	log := settingslog.New(settingslog.NewObjectBackend(fs, path.Join(storageDir, util.LogDir)), m, settingslog.WithClock(clk))
	cache := NewConflictCache(fs, storageDir)
	registry := extension.NewRegistry()
	b := New(log, m, rc, store,
		WithConflictCache(cache),
		WithRegistry(registry),
		WithClock(clk),
	)
	t.Cleanup(b.Stop)
	return &install{bridge: b, log: log, store: store, mediator: m, conflicts: cache, registry: registry}
}

func laf(content string) snapshot.FileState {
	return snapshot.NewFileState(lafPath, []byte(content))
}

func keymap(content string) snapshot.FileState {
	return snapshot.NewFileState("keymaps/Default.xml", []byte(content))
}

func content(t *testing.T, snap *snapshot.Snapshot, p string) string {
	t.Helper()
	require.NotNil(t, snap)
	f, ok := snap.Get(p)
	require.True(t, ok, "missing %s", p)
	return string(f.Content)
}

func entryKinds(t *testing.T, l *settingslog.Log) []settingslog.Kind {
	t.Helper()
	entries, err := l.Entries(context.Background())
	require.NoError(t, err)
	kinds := make([]settingslog.Kind, len(entries))
	for i, e := range entries {
		kinds[i] = e.Kind
	}
	return kinds
}

func TestInitialize_PushToServerPushesOnce(t *testing.T) {
	fs := afero.NewMemMapFs()
	rc := newRecordingRemote(fs)
	a := newInstall(t, fs, "/a", rc, ide.NewMemoryMediator(laf("LaF Initial")))
	ctx := context.Background()

	require.NoError(t, a.bridge.Initialize(ctx, PushToServer()))
	require.NoError(t, a.bridge.Start(ctx))
	a.bridge.Stop()

	require.Equal(t, 1, rc.pushCount())
	assert.Equal(t, "LaF Initial", content(t, rc.lastPush(), lafPath))
	assert.Equal(t, 1, rc.lastPush().Len())

	head, _, err := a.log.Head(ctx)
	require.NoError(t, err)
	marker, err := a.store.LoadMarker()
	require.NoError(t, err)
	assert.Equal(t, head.ID, marker.EntryID)
	assert.NotEmpty(t, marker.RemoteVersion)
}

func TestInitialize_OnlyOnce(t *testing.T) {
	fs := afero.NewMemMapFs()
	a := newInstall(t, fs, "/a", newRecordingRemote(fs), ide.NewMemoryMediator())
	ctx := context.Background()

	require.ErrorIs(t, a.bridge.SyncNow(ctx), ErrNotInitialized)
	require.NoError(t, a.bridge.Initialize(ctx, JustInit()))
	assert.ErrorIs(t, a.bridge.Initialize(ctx, JustInit()), ErrAlreadyInitialized)
	assert.Equal(t, StateIdle, a.bridge.State())

	a.bridge.Stop()
	assert.Equal(t, StateStopped, a.bridge.State())
	assert.ErrorIs(t, a.bridge.Start(ctx), ErrStopped)
}

func TestInitialize_JustInitDoesNotTouchRemote(t *testing.T) {
	fs := afero.NewMemMapFs()
	rc := newRecordingRemote(fs)
	a := newInstall(t, fs, "/a", rc, ide.NewMemoryMediator(laf("LaF Initial")))

	require.NoError(t, a.bridge.Initialize(context.Background(), JustInit()))

	assert.Equal(t, 0, rc.pushCount())
	assert.Equal(t, 0, rc.pullCount())
	assert.Equal(t, 1, a.bridge.Pending(), "unsynced history is queued")
	assert.Equal(t, []settingslog.Kind{settingslog.KindInitial, settingslog.KindInitialCopy}, entryKinds(t, a.log))
}

func TestSessionBoundaryChangeIsPushedAfterRestart(t *testing.T) {
	fs := afero.NewMemMapFs()
	rc := newRecordingRemote(fs)
	m := ide.NewMemoryMediator(laf("LaF Initial"))
	ctx := context.Background()

	first := newInstall(t, fs, "/a", rc, m)
	require.NoError(t, first.bridge.Initialize(ctx, PushToServer()))
	first.bridge.Stop()

	m.Write(lafPath, "LaF Between Sessions")

	second := newInstall(t, fs, "/a", rc, m)
	require.NoError(t, second.bridge.Initialize(ctx, JustInit()))
	require.NoError(t, second.bridge.Start(ctx))

	require.Eventually(t, func() bool { return rc.pushCount() == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "LaF Between Sessions", content(t, rc.lastPush(), lafPath))

	head, headSnap, err := second.log.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, settingslog.KindSessionChange, head.Kind)
	assert.Equal(t, "LaF Between Sessions", content(t, headSnap, lafPath))
}

func TestInitialize_TakeFromServer(t *testing.T) {
	fs := afero.NewMemMapFs()
	rc := newRecordingRemote(fs)
	ctx := context.Background()

	_, err := rc.DirRemote.Push(ctx, snapshot.New(laf("LaF from Server")), remote.PushOptions{Force: true})
	require.NoError(t, err)
	pulled, err := rc.Pull(ctx, "")
	require.NoError(t, err)

	m := ide.NewMemoryMediator(laf("LaF Initial"))
	a := newInstall(t, fs, "/a", rc, m)
	require.NoError(t, a.bridge.Initialize(ctx, TakeFromServer(pulled.Snapshot, pulled.Version)))

	entries, err := a.log.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []settingslog.Kind{
		settingslog.KindInitial,
		settingslog.KindInitialCopy,
		settingslog.KindAppliedFromCloud,
	}, entryKinds(t, a.log))

	got, err := a.log.Content(ctx, entries[1].ID, lafPath)
	require.NoError(t, err)
	assert.Equal(t, "LaF Initial", string(got))
	got, err = a.log.Content(ctx, entries[2].ID, lafPath)
	require.NoError(t, err)
	assert.Equal(t, "LaF from Server", string(got))

	live, _ := m.Read(lafPath)
	assert.Equal(t, "LaF from Server", live)
	assert.Equal(t, "LaF from Server", content(t, m.LastApplied(), lafPath))
	assert.Equal(t, 0, rc.pushCount())

	marker, err := a.store.LoadMarker()
	require.NoError(t, err)
	assert.Equal(t, entries[2].ID, marker.EntryID)
	assert.Equal(t, pulled.Version, marker.RemoteVersion)
}

func TestFailedApplyRecordsNothing(t *testing.T) {
	fs := afero.NewMemMapFs()
	rc := newRecordingRemote(fs)
	m := ide.NewMemoryMediator(laf("LaF Initial"))
	a := newInstall(t, fs, "/a", rc, m)
	ctx := context.Background()
	require.NoError(t, a.bridge.Initialize(ctx, PushToServer()))

	marker, err := a.store.LoadMarker()
	require.NoError(t, err)
	_, err = rc.DirRemote.Push(ctx, snapshot.New(laf("LaF from Server")), remote.PushOptions{ExpectedVersion: marker.RemoteVersion})
	require.NoError(t, err)

	before := entryKinds(t, a.log)
	m.ApplyErr = errors.New("disk full")

	err = a.bridge.SyncNow(ctx)
	require.Error(t, err)

	assert.Equal(t, before, entryKinds(t, a.log))
	after, err := a.store.LoadMarker()
	require.NoError(t, err)
	assert.Equal(t, marker.EntryID, after.EntryID)
	assert.Equal(t, marker.RemoteVersion, after.RemoteVersion)
	live, _ := m.Read(lafPath)
	assert.Equal(t, "LaF Initial", live)
}

func TestFailedPushKeepsMarker(t *testing.T) {
	fs := afero.NewMemMapFs()
	rc := newRecordingRemote(fs)
	m := ide.NewMemoryMediator(laf("LaF Initial"))
	a := newInstall(t, fs, "/a", rc, m)
	ctx := context.Background()
	require.NoError(t, a.bridge.Initialize(ctx, PushToServer()))
	marker, err := a.store.LoadMarker()
	require.NoError(t, err)

	m.Write(lafPath, "LaF Edited")
	rc.setPushErr(&remote.RemoteError{Op: "push", Err: errors.New("offline")})

	err = a.bridge.SyncNow(ctx)
	var re *remote.RemoteError
	require.ErrorAs(t, err, &re)

	after, err := a.store.LoadMarker()
	require.NoError(t, err)
	assert.Equal(t, marker, after)

	rc.setPushErr(nil)
	require.NoError(t, a.bridge.SyncNow(ctx))

	head, _, err := a.log.Head(ctx)
	require.NoError(t, err)
	after, err = a.store.LoadMarker()
	require.NoError(t, err)
	assert.Equal(t, head.ID, after.EntryID)
	assert.Equal(t, "LaF Edited", content(t, rc.lastPush(), lafPath))
}

func TestDisjointChangesMergeAcrossInstalls(t *testing.T) {
	fs := afero.NewMemMapFs()
	rc := newRecordingRemote(fs)
	ctx := context.Background()

	ma := ide.NewMemoryMediator(laf("base"), keymap("base"))
	a := newInstall(t, fs, "/a", rc, ma)
	require.NoError(t, a.bridge.Initialize(ctx, PushToServer()))

	pulled, err := rc.Pull(ctx, "")
	require.NoError(t, err)
	mb := ide.NewMemoryMediator()
	b := newInstall(t, fs, "/b", rc, mb)
	require.NoError(t, b.bridge.Initialize(ctx, TakeFromServer(pulled.Snapshot, pulled.Version)))

	ma.Write("keymaps/Default.xml", "from a")
	require.NoError(t, a.bridge.SyncNow(ctx))

	mb.Write(lafPath, "from b")
	require.NoError(t, b.bridge.SyncNow(ctx))

	gotLaf, _ := mb.Read(lafPath)
	gotKeys, _ := mb.Read("keymaps/Default.xml")
	assert.Equal(t, "from b", gotLaf)
	assert.Equal(t, "from a", gotKeys)

	require.NoError(t, a.bridge.SyncNow(ctx))
	gotLaf, _ = ma.Read(lafPath)
	assert.Equal(t, "from b", gotLaf)

	cur, err := rc.Pull(ctx, "")
	require.NoError(t, err)
	assert.True(t, cur.Snapshot.Equal(snapshot.New(laf("from b"), keymap("from a"))))
}

func TestConflictIsRecordedThenResolved(t *testing.T) {
	fs := afero.NewMemMapFs()
	rc := newRecordingRemote(fs)
	ctx := context.Background()

	ma := ide.NewMemoryMediator(laf("base"))
	a := newInstall(t, fs, "/a", rc, ma)
	require.NoError(t, a.bridge.Initialize(ctx, PushToServer()))
	pulled, err := rc.Pull(ctx, "")
	require.NoError(t, err)
	mb := ide.NewMemoryMediator()
	b := newInstall(t, fs, "/b", rc, mb)
	require.NoError(t, b.bridge.Initialize(ctx, TakeFromServer(pulled.Snapshot, pulled.Version)))

	var mu sync.Mutex
	var notes []NotificationKind
	extension.Register[Listener](b.registry, ListenerPoint, ListenerFunc(func(n Notification) {
		mu.Lock()
		defer mu.Unlock()
		notes = append(notes, n.Kind)
	}))

	ma.Write(lafPath, "from a")
	require.NoError(t, a.bridge.SyncNow(ctx))
	mb.Write(lafPath, "from b")
	pushesBefore := rc.pushCount()

	err = b.bridge.SyncNow(ctx)
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	require.Len(t, ce.Conflicts, 1)
	assert.Equal(t, lafPath, ce.Conflicts[0].Path)
	assert.Equal(t, pushesBefore+1, rc.pushCount(), "only the rejected local push was attempted")

	live, _ := mb.Read(lafPath)
	assert.Equal(t, "from b", live, "conflicts are not applied")

	cached, err := b.conflicts.Read()
	require.NoError(t, err)
	require.NotNil(t, cached)
	require.Len(t, cached.Conflicts, 1)
	assert.Equal(t, "modified", cached.Conflicts[0].Local)

	err = b.bridge.Resolve(ctx, map[string]Choice{})
	require.ErrorAs(t, err, &ce)

	require.NoError(t, b.bridge.Resolve(ctx, map[string]Choice{lafPath: ChoiceCloud}))
	live, _ = mb.Read(lafPath)
	assert.Equal(t, "from a", live)

	head, _, err := b.log.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, settingslog.KindMerge, head.Kind)

	cached, err = b.conflicts.Read()
	require.NoError(t, err)
	assert.Nil(t, cached)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, notes, NotifyConflict)
	assert.Contains(t, notes, NotifyApplied)
}

func TestResolveKeepingLocalPushesIt(t *testing.T) {
	fs := afero.NewMemMapFs()
	rc := newRecordingRemote(fs)
	ctx := context.Background()

	ma := ide.NewMemoryMediator(laf("base"))
	a := newInstall(t, fs, "/a", rc, ma)
	require.NoError(t, a.bridge.Initialize(ctx, PushToServer()))
	pulled, err := rc.Pull(ctx, "")
	require.NoError(t, err)
	mb := ide.NewMemoryMediator()
	b := newInstall(t, fs, "/b", rc, mb)
	require.NoError(t, b.bridge.Initialize(ctx, TakeFromServer(pulled.Snapshot, pulled.Version)))

	ma.Write(lafPath, "from a")
	require.NoError(t, a.bridge.SyncNow(ctx))
	mb.Write(lafPath, "from b")
	require.Error(t, b.bridge.SyncNow(ctx))

	require.NoError(t, b.bridge.Resolve(ctx, map[string]Choice{lafPath: ChoiceLocal}))

	cur, err := rc.Pull(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "from b", content(t, cur.Snapshot, lafPath))

	marker, err := b.store.LoadMarker()
	require.NoError(t, err)
	assert.Equal(t, cur.Version, marker.RemoteVersion)
}

func TestCloudEventWithSnapshotSkipsPull(t *testing.T) {
	fs := afero.NewMemMapFs()
	rc := newRecordingRemote(fs)
	m := ide.NewMemoryMediator(laf("LaF Initial"))
	a := newInstall(t, fs, "/a", rc, m)
	ctx := context.Background()
	require.NoError(t, a.bridge.Initialize(ctx, PushToServer()))

	marker, err := a.store.LoadMarker()
	require.NoError(t, err)
	remoteSnap := snapshot.New(laf("LaF from Server"))
	res, err := rc.DirRemote.Push(ctx, remoteSnap, remote.PushOptions{ExpectedVersion: marker.RemoteVersion})
	require.NoError(t, err)

	require.NoError(t, a.bridge.handle(ctx, Event{Source: SourceCloud, Snapshot: remoteSnap, Version: res.Version}))

	assert.Equal(t, 0, rc.pullCount())
	live, _ := m.Read(lafPath)
	assert.Equal(t, "LaF from Server", live)
	marker, err = a.store.LoadMarker()
	require.NoError(t, err)
	assert.Equal(t, res.Version, marker.RemoteVersion)
}

func TestWorkerDrainsQueueInOrder(t *testing.T) {
	fs := afero.NewMemMapFs()
	rc := newRecordingRemote(fs)
	m := ide.NewMemoryMediator(laf("one"))
	a := newInstall(t, fs, "/a", rc, m)
	ctx := context.Background()
	require.NoError(t, a.bridge.Initialize(ctx, PushToServer()))

	pushed := make(chan string, 4)
	extension.Register[Listener](a.registry, ListenerPoint, ListenerFunc(func(n Notification) {
		if n.Kind == NotifyPushed {
			pushed <- n.Version
		}
	}))

	m.Write(lafPath, "two")
	a.bridge.Enqueue(LocalChange())
	a.bridge.Enqueue(CloudChange(""))
	require.NoError(t, a.bridge.Start(ctx))

	select {
	case <-pushed:
	case <-time.After(5 * time.Second):
		t.Fatal("local change was not pushed")
	}
	require.Eventually(t, func() bool { return a.bridge.Pending() == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "two", content(t, rc.lastPush(), lafPath))
	assert.Equal(t, 2, rc.pushCount())
}

func TestQueue_FIFOAndCancel(t *testing.T) {
	q := newQueue()
	q.push(LocalChange())
	q.push(CloudChange("v1"))

	ctx, cancel := context.WithCancel(context.Background())
	ev, ok := q.pop(ctx)
	require.True(t, ok)
	assert.Equal(t, SourceLocal, ev.Source)
	ev, ok = q.pop(ctx)
	require.True(t, ok)
	assert.Equal(t, "v1", ev.Version)

	cancel()
	_, ok = q.pop(ctx)
	assert.False(t, ok)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "cloud", SourceCloud.String())
	assert.Equal(t, "take-from-server", TakeFromServer(nil, "").String())
}

func TestLocalEditDuringCloudCycleIsKept(t *testing.T) {
	fs := afero.NewMemMapFs()
	rc := newRecordingRemote(fs)
	m := ide.NewMemoryMediator(laf("LaF Initial"), keymap("v1"))
	a := newInstall(t, fs, "/a", rc, m)
	ctx := context.Background()
	require.NoError(t, a.bridge.Initialize(ctx, PushToServer()))

	marker, err := a.store.LoadMarker()
	require.NoError(t, err)
	_, err = rc.DirRemote.Push(ctx, snapshot.New(laf("LaF from Server"), keymap("v1")), remote.PushOptions{ExpectedVersion: marker.RemoteVersion})
	require.NoError(t, err)

	// The user saves a keymap after the cycle read the host, and the watcher
	// queues it.
	var once sync.Once
	m.BeforeApply = func() {
		once.Do(func() {
			m.Write("keymaps/Default.xml", "user edit mid-cycle")
			a.bridge.Enqueue(LocalChange())
		})
	}

	a.bridge.Enqueue(CloudChange(""))
	require.NoError(t, a.bridge.Start(ctx))
	require.Eventually(t, func() bool {
		cur, err := rc.Pull(ctx, "")
		return err == nil && cur.Snapshot != nil &&
			cur.Snapshot.Equal(snapshot.New(laf("LaF from Server"), keymap("user edit mid-cycle")))
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return a.bridge.Pending() == 0 }, 5*time.Second, 10*time.Millisecond)
	a.bridge.Stop()

	live, _ := m.Read("keymaps/Default.xml")
	assert.Equal(t, "user edit mid-cycle", live)
	live, _ = m.Read(lafPath)
	assert.Equal(t, "LaF from Server", live)

	_, headSnap, err := a.log.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user edit mid-cycle", content(t, headSnap, "keymaps/Default.xml"))
	assert.Equal(t, "LaF from Server", content(t, headSnap, lafPath))
	assert.Contains(t, entryKinds(t, a.log), settingslog.KindLocalChange)
}

func TestPathsFilteredOnOneInstallSurvive(t *testing.T) {
	fs := afero.NewMemMapFs()
	rc := newRecordingRemote(fs)
	ctx := context.Background()
	workspace := snapshot.NewFileState("workspace/x.xml", []byte("x"))

	ma := ide.NewMemoryMediator(laf("base"), workspace)
	a := newInstall(t, fs, "/a", rc, ma)
	require.NoError(t, a.bridge.Initialize(ctx, PushToServer()))

	pulled, err := rc.Pull(ctx, "")
	require.NoError(t, err)
	mb := ide.NewMemoryMediator()
	mb.Filter = func(p string) bool { return !ide.MatchPattern("workspace/**", p) }
	b := newInstall(t, fs, "/b", rc, mb)
	require.NoError(t, b.bridge.Initialize(ctx, TakeFromServer(pulled.Snapshot, pulled.Version)))

	_, ok := mb.Read("workspace/x.xml")
	assert.False(t, ok, "filtered path must not be written")
	gotLaf, _ := mb.Read(lafPath)
	assert.Equal(t, "base", gotLaf)

	mb.Write(lafPath, "from b")
	require.NoError(t, b.bridge.SyncNow(ctx))

	cur, err := rc.Pull(ctx, "")
	require.NoError(t, err)
	assert.True(t, cur.Snapshot.Equal(snapshot.New(laf("from b"), workspace)), "remote: %v", cur.Snapshot)

	require.NoError(t, a.bridge.SyncNow(ctx))
	gotWs, ok := ma.Read("workspace/x.xml")
	assert.True(t, ok)
	assert.Equal(t, "x", gotWs)
	gotLaf, _ = ma.Read(lafPath)
	assert.Equal(t, "from b", gotLaf)
}
