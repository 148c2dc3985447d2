package state

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/bolasblack/settingsync/internal/clock"
	"github.com/bolasblack/settingsync/internal/util"
)

// newTestStore creates a store on an in-memory filesystem.
func newTestStore(t *testing.T) (*Store, *util.Env, *clock.FakeClock) {
	t.Helper()
	env := &util.Env{Fs: afero.NewMemMapFs()}
	clk := clock.NewFakeClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	return NewStore(env, "/cfg/settingsSync", clk), env, clk
}

func TestStore_Path(t *testing.T) {
	s, _, _ := newTestStore(t)
	if got, want := s.Path(), "/cfg/settingsSync/state.json"; got != want {
		t.Errorf("Path() = %q, want %q", got, want)
	}
}

func TestStore_LoadMissing(t *testing.T) {
	s, _, _ := newTestStore(t)
	st, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st != nil {
		t.Errorf("expected nil state, got %+v", st)
	}
}

func TestStore_LoadCorrupt(t *testing.T) {
	s, env, _ := newTestStore(t)
	if err := afero.WriteFile(env.Fs, s.Path(), []byte("{nope"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load(); err == nil {
		t.Error("expected parse error")
	}
}

func TestStore_LoadOrCreate(t *testing.T) {
	s, env, _ := newTestStore(t)

	st, created, err := s.LoadOrCreate("dir:/shared")
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if !created {
		t.Error("expected created=true on first call")
	}
	if st.InstallationID == "" {
		t.Error("expected an installation id")
	}
	if !st.CreatedAt.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Errorf("CreatedAt = %v", st.CreatedAt)
	}

	again, created, err := s.LoadOrCreate("dir:/shared")
	if err != nil {
		t.Fatalf("second LoadOrCreate: %v", err)
	}
	if created {
		t.Error("expected created=false on second call")
	}
	if again.InstallationID != st.InstallationID {
		t.Errorf("installation id changed: %s -> %s", st.InstallationID, again.InstallationID)
	}

	data, _ := afero.ReadFile(env.Fs, s.Path())
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("state file is not JSON: %v", err)
	}
	if raw["version"] != CurrentVersion {
		t.Errorf("version = %v", raw["version"])
	}
}

func TestStore_Marker(t *testing.T) {
	s, _, clk := newTestStore(t)

	if err := s.SaveMarker(Marker{EntryID: "e1"}); err == nil {
		t.Error("expected error before state exists")
	}

	if _, _, err := s.LoadOrCreate("dir:/shared"); err != nil {
		t.Fatal(err)
	}

	m, err := s.LoadMarker()
	if err != nil {
		t.Fatalf("LoadMarker: %v", err)
	}
	if !m.IsZero() {
		t.Errorf("expected zero marker, got %+v", m)
	}

	clk.Advance(time.Minute)
	if err := s.SaveMarker(Marker{EntryID: "e1", RemoteVersion: "v1"}); err != nil {
		t.Fatalf("SaveMarker: %v", err)
	}
	m, err = s.LoadMarker()
	if err != nil {
		t.Fatalf("LoadMarker: %v", err)
	}
	if m.EntryID != "e1" || m.RemoteVersion != "v1" {
		t.Errorf("marker = %+v", m)
	}
	if !m.SyncedAt.Equal(clk.Now()) {
		t.Errorf("SyncedAt = %v, want %v", m.SyncedAt, clk.Now())
	}
}

func TestStore_RemoteDriftDropsMarker(t *testing.T) {
	s, _, _ := newTestStore(t)
	if _, _, err := s.LoadOrCreate("dir:/a"); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveMarker(Marker{EntryID: "e1", RemoteVersion: "v1"}); err != nil {
		t.Fatal(err)
	}

	st, _, err := s.LoadOrCreate("s3://bucket/key")
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if st.Marker != nil {
		t.Errorf("expected marker to be dropped, got %+v", st.Marker)
	}
	if st.Remote != "s3://bucket/key" {
		t.Errorf("Remote = %q", st.Remote)
	}
}

func TestDetectRemoteDrift(t *testing.T) {
	tests := []struct {
		name   string
		stored string
		now    string
		want   bool
	}{
		{"same", "dir:/a", "dir:/a", false},
		{"different", "dir:/a", "dir:/b", true},
		{"unset", "", "dir:/b", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &State{Remote: tt.stored}
			if got := st.DetectRemoteDrift(tt.now); got != tt.want {
				t.Errorf("DetectRemoteDrift = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStore_Delete(t *testing.T) {
	s, env, _ := newTestStore(t)
	if _, _, err := s.LoadOrCreate("dir:/a"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if exists, _ := afero.Exists(env.Fs, s.Path()); exists {
		t.Error("state file still exists")
	}
	if err := s.Delete(); err != nil {
		t.Errorf("Delete of missing file: %v", err)
	}
}
