package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func file(p, content string) FileState {
	return NewFileState(p, []byte(content))
}

func TestNew_SortsAndDeduplicates(t *testing.T) {
	s := New(
		file("options/laf.xml", "first"),
		file("keymaps/Default.xml", "keys"),
		file("options/laf.xml", "second"),
	)

	assert.Equal(t, []string{"keymaps/Default.xml", "options/laf.xml"}, s.Paths())
	f, ok := s.Get("options/laf.xml")
	require.True(t, ok)
	assert.Equal(t, "second", string(f.Content))
}

func TestNewFileState_CopiesContent(t *testing.T) {
	buf := []byte("LaF Initial")
	f := NewFileState("options/laf.xml", buf)
	buf[0] = 'X'

	assert.Equal(t, "LaF Initial", string(f.Content))
	assert.Equal(t, EncodingUTF8, f.Encoding)
}

func TestNewFileState_DetectsBinary(t *testing.T) {
	f := NewFileState("icons/a.bin", []byte{0xff, 0xfe, 0x00})
	assert.Equal(t, EncodingBinary, f.Encoding)
}

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"options/laf.xml", "options/laf.xml"},
		{"/options/laf.xml", "options/laf.xml"},
		{"options//laf.xml", "options/laf.xml"},
		{"./options/../options/laf.xml", "options/laf.xml"},
		{".", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := CleanPath(tt.in); got != tt.want {
				t.Errorf("CleanPath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidatePath(t *testing.T) {
	assert.NoError(t, ValidatePath("options/laf.xml"))
	assert.Error(t, ValidatePath("../secrets"))
	assert.Error(t, ValidatePath(""))
}

func TestSnapshot_Equal(t *testing.T) {
	a := New(file("options/laf.xml", "LaF Initial"))
	b := New(file("options/laf.xml", "LaF Initial"))
	c := New(file("options/laf.xml", "LaF Between Sessions"))

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.True(t, Empty().Equal(nil))
	assert.Equal(t, a.Hash(), b.Hash())
	assert.NotEqual(t, a.Hash(), c.Hash())
}

func TestSnapshot_WithWithout(t *testing.T) {
	s := New(file("a.xml", "a"))
	s2 := s.With(file("b.xml", "b"))
	s3 := s2.Without("a.xml")

	assert.Equal(t, 1, s.Len())
	assert.Equal(t, []string{"a.xml", "b.xml"}, s2.Paths())
	assert.Equal(t, []string{"b.xml"}, s3.Paths())
}

func TestDiff(t *testing.T) {
	from := New(file("a.xml", "a"), file("b.xml", "b"))
	to := New(file("b.xml", "b2"), file("c.xml", "c"))

	assert.Equal(t, []Change{
		{Path: "a.xml", Kind: ChangeDeleted},
		{Path: "b.xml", Kind: ChangeModified},
		{Path: "c.xml", Kind: ChangeCreated},
	}, Diff(from, to))
	assert.Empty(t, Diff(from, from))
}

func TestMerge(t *testing.T) {
	base := New(file("laf.xml", "base"), file("keys.xml", "base"), file("gone.xml", "x"))

	tests := []struct {
		name          string
		local         *Snapshot
		remote        *Snapshot
		wantFiles     map[string]string
		wantConflicts []Conflict
	}{
		{
			name:      "remote only change is taken",
			local:     base,
			remote:    base.With(file("laf.xml", "cloud")),
			wantFiles: map[string]string{"laf.xml": "cloud", "keys.xml": "base", "gone.xml": "x"},
		},
		{
			name:      "disjoint changes combine",
			local:     base.With(file("keys.xml", "local")),
			remote:    base.With(file("laf.xml", "cloud")).Without("gone.xml"),
			wantFiles: map[string]string{"laf.xml": "cloud", "keys.xml": "local"},
		},
		{
			name:      "identical change on both sides is not a conflict",
			local:     base.With(file("laf.xml", "same")),
			remote:    base.With(file("laf.xml", "same")),
			wantFiles: map[string]string{"laf.xml": "same", "keys.xml": "base", "gone.xml": "x"},
		},
		{
			name:      "both modified keeps local and reports conflict",
			local:     base.With(file("laf.xml", "local")),
			remote:    base.With(file("laf.xml", "cloud")),
			wantFiles: map[string]string{"laf.xml": "local", "keys.xml": "base", "gone.xml": "x"},
			wantConflicts: []Conflict{
				{Path: "laf.xml", Local: ChangeModified, Cloud: ChangeModified},
			},
		},
		{
			name:      "delete versus modify conflicts",
			local:     base.Without("gone.xml"),
			remote:    base.With(file("gone.xml", "edited")),
			wantFiles: map[string]string{"laf.xml": "base", "keys.xml": "base"},
			wantConflicts: []Conflict{
				{Path: "gone.xml", Local: ChangeDeleted, Cloud: ChangeModified},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Merge(base, tt.local, tt.remote)

			got := make(map[string]string)
			for _, f := range res.Snapshot.Files() {
				got[f.Path] = string(f.Content)
			}
			assert.Equal(t, tt.wantFiles, got)
			assert.Equal(t, tt.wantConflicts, res.Conflicts)
		})
	}
}
