package commands

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/booktranslator/pkg/models"
)

func TestWriteSubmissions(t *testing.T) {
	var buf bytes.Buffer
	created := time.Date(2025, 3, 9, 14, 30, 0, 0, time.UTC)
	writeSubmissions(&buf, []*models.Submission{
		{ID: uuid.MustParse("11111111-1111-1111-1111-111111111111"), Status: "pending", Priority: 3,
			Origin: "crawled", Title: strings.Repeat("Poker ", 20), CreatedAt: created},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[1], "11111111-1111-1111-1111-111111111111")
	assert.Contains(t, lines[1], "2025-03-09 14:30")
	assert.Contains(t, lines[1], "…")
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"import-feed", "reset", "reconcile", "list"} {
		assert.True(t, names[want], want)
	}
}

func TestReset_RejectsBadID(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"reset", "not-a-uuid", "--env-file", "does-not-exist.env"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid submission id")
}

func TestImportFeed_MissingFile(t *testing.T) {
	rootCmd.SetArgs([]string{"import-feed", "no/such/feed.json", "--env-file", "does-not-exist.env"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read feed")
}
