package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/gdrive-replicate/internal/gdrive"
	"github.com/tonimelisma/gdrive-replicate/internal/replicate"
)

func testClassifyItem(item *gdrive.Item) replicate.Kind {
	switch {
	case item.IsFolder():
		return replicate.KindFolder
	case item.Name == ".DS_Store":
		return replicate.KindSpecial
	default:
		return replicate.KindFile
	}
}

func TestLsEntries_FoldersFirstThenName(t *testing.T) {
	t.Parallel()

	items := []gdrive.Item{
		{ID: "3", Name: "zeta.txt", MimeType: "text/plain", Size: 10},
		{ID: "1", Name: "beta", MimeType: gdrive.FolderMimeType},
		{ID: "4", Name: ".DS_Store", MimeType: "application/octet-stream", Size: 6},
		{ID: "2", Name: "alpha", MimeType: gdrive.FolderMimeType},
		{ID: "5", Name: "link", MimeType: gdrive.ShortcutMimeType, ShortcutTargetID: "9"},
	}

	entries := lsEntries(items, testClassifyItem)
	require.Len(t, entries, 5)

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}

	assert.Equal(t, []string{"alpha", "beta", ".DS_Store", "link", "zeta.txt"}, names)
	assert.Equal(t, "special", entries[2].Kind)
	assert.Equal(t, "shortcut", entries[3].Kind)
}

func TestPrintLsTable(t *testing.T) {
	t.Parallel()

	entries := []lsEntry{
		{ID: "d1", Name: "photos", Kind: "folder"},
		{ID: "f1", Name: "a.jpg", Kind: "file", Size: 1536, ModifiedAt: time.Date(2020, time.May, 1, 0, 0, 0, 0, time.UTC)},
	}

	var buf bytes.Buffer
	printLsTable(&buf, entries)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "NAME"))
	assert.Contains(t, lines[1], "photos/")
	assert.Contains(t, lines[1], "-")
	assert.Contains(t, lines[2], "1.5 KiB")
	assert.Contains(t, lines[2], "2020")
}
