package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tonimelisma/gdrive-replicate/internal/replicate"
)

func TestNewScanReport(t *testing.T) {
	t.Parallel()

	stats := &replicate.ScanStats{
		Folders: 2, Files: 5, Special: 1, Shortcuts: 1, Native: 1, Bytes: 4096,
		ByExtension: map[string]int{"jpg": 3, "": 1, "pdf": 1},
	}

	r := newScanReport(stats)

	assert.Equal(t, 5, r.Files)
	assert.Empty(t, r.Unreadable)
	assert.NotNil(t, r.Unreadable)
	assert.Equal(t, scanExtensionCount{Ext: "jpg", Count: 3}, r.TopExtensions[0])
	assert.Len(t, r.TopExtensions, 3)
}

func TestPrintScanSummary(t *testing.T) {
	t.Parallel()

	r := scanReport{
		Folders: 2, Files: 5, Special: 1, Shortcuts: 1, Native: 1, Bytes: 4096,
		Unreadable:    []string{"", "A/private"},
		TopExtensions: []scanExtensionCount{{Ext: "jpg", Count: 3}, {Ext: "", Count: 2}},
	}

	var buf bytes.Buffer
	printScanSummary(&buf, r)

	out := buf.String()
	assert.Contains(t, out, "2 folders, 5 files (4 KiB)")
	assert.Contains(t, out, "1 OS artifact files")
	assert.Contains(t, out, "1 Google-native documents")
	assert.Contains(t, out, "1 shortcuts")
	assert.Contains(t, out, "(none)")
	assert.Contains(t, out, "2 folders could not be listed")
	assert.Contains(t, out, "(root)")
	assert.Contains(t, out, "A/private")
}
