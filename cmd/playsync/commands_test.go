package main

import (
	"bytes"
	"playsync/internal/service"
	"playsync/internal/worker"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootRejectsUnknownFormat(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"--format", "xml", "sync"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestPrintResultText(t *testing.T) {
	var buf bytes.Buffer
	report := &worker.Report{
		Upload: &service.UploadResult{
			Created:  1,
			Messages: []string{"Logged 3rd play of Catan"},
		},
		Download: &service.DownloadResult{Pages: 2, Inserted: 5, Newest: "2024-06-20", Oldest: "complete"},
	}

	require.NoError(t, printResult(&buf, "text", report))
	out := buf.String()
	assert.Contains(t, out, "upload: 1 created, 0 updated, 0 deleted, 0 conflicts, 0 errors")
	assert.Contains(t, out, "  Logged 3rd play of Catan")
	assert.Contains(t, out, "download: 2 pages, 5 new")
	assert.Contains(t, out, "newest 2024-06-20, oldest complete")
}

func TestPrintResultJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printResult(&buf, "json", &service.DownloadResult{Inserted: 3}))
	assert.Contains(t, buf.String(), `"inserted": 3`)
}
