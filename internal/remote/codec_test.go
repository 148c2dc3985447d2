package remote

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bolasblack/settingsync/internal/snapshot"
)

func TestDocument_RoundTripsBinaryContent(t *testing.T) {
	snap := snapshot.New(
		snapshot.NewFileState("options/laf.xml", []byte("LaF Initial")),
		snapshot.NewFileState("icons/a.bin", []byte{0xff, 0x00, 0xfe}),
	)
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	data, err := Encode(NewDocument(snap, "inst-1", at))
	require.NoError(t, err)

	doc, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "inst-1", doc.InstallationID)
	assert.Equal(t, at, doc.PushedAt)
	assert.NotEmpty(t, doc.ID)

	got, err := doc.Snapshot()
	require.NoError(t, err)
	assert.True(t, got.Equal(snap))
	f, _ := got.Get("icons/a.bin")
	assert.Equal(t, snapshot.EncodingBinary, f.Encoding)
}

func TestDocument_RejectsBadInput(t *testing.T) {
	_, err := Decode([]byte("not json"))
	assert.Error(t, err)

	_, err = Document{Files: []DocumentFile{{Path: "../etc/passwd", Content: ""}}}.Snapshot()
	assert.Error(t, err)

	_, err = Document{Files: []DocumentFile{{Path: "a.xml", Content: "%%%"}}}.Snapshot()
	assert.Error(t, err)
}

func TestETag(t *testing.T) {
	assert.Equal(t, `"abc"`, ETag("abc"))
	assert.Equal(t, "abc", ParseETag(`"abc"`))
	assert.Equal(t, "abc", ParseETag(`W/"abc"`))
	assert.Equal(t, "", ParseETag(""))
}
