package bridge

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/bolasblack/settingsync/internal/snapshot"
)

func TestConflictCache_RoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := NewConflictCache(fs, "/storage")

	got, err := c.Read()
	if err != nil || got != nil {
		t.Fatalf("Read() on empty cache = %v, %v; want nil, nil", got, err)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	data := newCacheData([]snapshot.Conflict{
		{Path: "options/laf.xml", Local: snapshot.ChangeModified, Cloud: snapshot.ChangeDeleted},
	}, "v2", now)
	if err := c.Write(data); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err = c.Read()
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got.RemoteVersion != "v2" || len(got.Conflicts) != 1 {
		t.Fatalf("Read() = %+v", got)
	}
	if got.Conflicts[0].Cloud != "deleted" {
		t.Errorf("Cloud = %q, want deleted", got.Conflicts[0].Cloud)
	}

	if err := c.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if err := c.Clear(); err != nil {
		t.Errorf("second Clear() error = %v", err)
	}
	if got, _ := c.Read(); got != nil {
		t.Errorf("Read() after Clear = %+v, want nil", got)
	}
}

func TestConflictCache_CorruptFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := NewConflictCache(fs, "/storage")
	_ = afero.WriteFile(fs, c.Path(), []byte("{not json"), 0o644)

	if _, err := c.Read(); err == nil {
		t.Error("expected parse error")
	}
}

func TestConflictError_Message(t *testing.T) {
	err := &ConflictError{Conflicts: []snapshot.Conflict{{Path: "a.xml"}, {Path: "b.xml"}}}
	if got := err.Error(); got != "2 conflicting paths: a.xml, b.xml" {
		t.Errorf("Error() = %q", got)
	}
	err = &ConflictError{Conflicts: []snapshot.Conflict{{Path: "a.xml"}}}
	if got := err.Error(); got != "1 conflicting path: a.xml" {
		t.Errorf("Error() = %q", got)
	}
}

func TestRenderBanner(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name       string
		conflicts  []ConflictInfo
		wantEmpty  bool
		wantChecks []func(t *testing.T, output string)
	}{
		{
			name:      "empty conflicts produces no output",
			conflicts: nil,
			wantEmpty: true,
		},
		{
			name: "single conflict uses singular form",
			conflicts: []ConflictInfo{
				{Path: "options/laf.xml", Local: "modified", Cloud: "modified", DetectedAt: now},
			},
			wantChecks: []func(t *testing.T, output string){
				func(t *testing.T, output string) {
					if !strings.Contains(output, "1 settings conflict need") {
						t.Errorf("expected singular 'conflict', got: %s", output)
					}
				},
				func(t *testing.T, output string) {
					if !strings.Contains(output, "modified on both sides") {
						t.Errorf("expected description in output: %s", output)
					}
				},
			},
		},
		{
			name: "overflow is summarized",
			conflicts: func() []ConflictInfo {
				var cs []ConflictInfo
				for i := range 7 {
					cs = append(cs, ConflictInfo{Path: fmt.Sprintf("f%d.xml", i), Local: "created", Cloud: "deleted"})
				}
				return cs
			}(),
			wantChecks: []func(t *testing.T, output string){
				func(t *testing.T, output string) {
					if !strings.Contains(output, "7 settings conflicts") {
						t.Errorf("expected plural header, got: %s", output)
					}
					if !strings.Contains(output, "...and 2 more") {
						t.Errorf("expected overflow line, got: %s", output)
					}
					if strings.Contains(output, "f5.xml") {
						t.Errorf("sixth path should be hidden: %s", output)
					}
				},
				func(t *testing.T, output string) {
					if !strings.Contains(output, "created locally, deleted on the server") {
						t.Errorf("expected description in output: %s", output)
					}
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			RenderBanner(tt.conflicts, &buf)
			output := buf.String()

			if tt.wantEmpty {
				if output != "" {
					t.Errorf("expected empty output, got: %q", output)
				}
				return
			}
			for _, check := range tt.wantChecks {
				check(t, output)
			}
		})
	}
}

func TestCollectChoices(t *testing.T) {
	conflicts := []ConflictInfo{
		{Path: "a.xml", Local: "modified", Cloud: "modified"},
		{Path: "b.xml", Local: "created", Cloud: "deleted"},
		{Path: "c.xml", Local: "deleted", Cloud: "created"},
	}

	tests := []struct {
		name    string
		answers []Choice
		failAt  int
		want    map[string]Choice
		wantOut string
	}{
		{
			name:    "all answered",
			answers: []Choice{ChoiceLocal, ChoiceCloud, ChoiceLocal},
			failAt:  -1,
			want:    map[string]Choice{"a.xml": ChoiceLocal, "b.xml": ChoiceCloud, "c.xml": ChoiceLocal},
			wantOut: "3 chosen, 0 skipped.",
		},
		{
			name:    "skips are left out",
			answers: []Choice{ChoiceSkip, ChoiceCloud, ChoiceSkip},
			failAt:  -1,
			want:    map[string]Choice{"b.xml": ChoiceCloud},
			wantOut: "1 chosen, 2 skipped.",
		},
		{
			name:    "abort keeps earlier answers",
			answers: []Choice{ChoiceCloud},
			failAt:  1,
			want:    map[string]Choice{"a.xml": ChoiceCloud},
			wantOut: "Aborted. 1 chosen, 0 skipped.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			prompt := func(_ ConflictInfo, index, _ int) (Choice, error) {
				if index == tt.failAt {
					return "", errors.New("user aborted")
				}
				return tt.answers[index], nil
			}

			got := CollectChoices(conflicts, prompt, &buf)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for p, c := range tt.want {
				if got[p] != c {
					t.Errorf("choice for %s = %q, want %q", p, got[p], c)
				}
			}
			if !strings.Contains(buf.String(), tt.wantOut) {
				t.Errorf("output missing %q:\n%s", tt.wantOut, buf.String())
			}
			if !strings.Contains(buf.String(), "[1/3] a.xml") {
				t.Errorf("output missing progress line:\n%s", buf.String())
			}
		})
	}
}
