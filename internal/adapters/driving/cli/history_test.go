package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const changedDoc = `{"data":{
	"receiptNumber":"IOE0000000001",
	"formType":"I-131",
	"formName":"Application for Travel Document",
	"updatedAtTimestamp":"2026-03-05T10:00:00.000Z",
	"events":[
		{"eventCode":"FTA0","eventTimestamp":"2026-03-05T09:00:00.000Z"},
		{"eventCode":"IAF","eventTimestamp":"2026-01-05T09:00:00.000Z"}
	],
	"notices":[{"actionType":"Receipt Notice","generationDate":"2026-01-06T00:00:00.000Z"}]
}}`

func TestHistoryCmd_Use(t *testing.T) {
	assert.Equal(t, "history [case]", historyCmd.Use)
}

func TestHistoryCmd_RequiresCase(t *testing.T) {
	setupApp(t)

	_, err := execute(t, "history")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "a case is required")
}

func TestHistoryCmd_UnknownCase(t *testing.T) {
	setupApp(t)

	_, err := execute(t, "history", "nope")

	require.Error(t, err)
}

func TestHistoryCmd_NoHistory(t *testing.T) {
	setupApp(t)

	out, err := execute(t, "history", "John AP")

	require.NoError(t, err)
	assert.Contains(t, out, "No history recorded for John AP")
}

func TestHistoryCmd_PrintsChangelog(t *testing.T) {
	ta := setupApp(t)
	c := testConfig().Accounts[0].Cases[0]
	ta.record(t, c, initialDoc, cliNow.Add(-48*time.Hour))
	ta.record(t, c, changedDoc, cliNow)

	out, err := execute(t, "history", "IOE0000000001")

	require.NoError(t, err)
	assert.Contains(t, out, "# Case Changelog: John AP")
	assert.Contains(t, out, "**Case Number:** IOE0000000001")
	assert.Contains(t, out, "Initial fetch")
	assert.Contains(t, out, "FTA0")
	assert.Less(t, strings.Index(out, "Initial fetch"), strings.Index(out, "- Changed"))
}

func TestHistoryCmd_Verify(t *testing.T) {
	ta := setupApp(t)
	c := testConfig().Accounts[0].Cases[0]
	ta.record(t, c, initialDoc, cliNow)

	out, err := execute(t, "history", "--verify")

	require.NoError(t, err)
	assert.Contains(t, out, "John AP: history replays to the stored snapshot")
	assert.Contains(t, out, "John EAD: no history recorded")
	assert.Contains(t, out, "Jane AP: no history recorded")
}

func TestHistoryCmd_ExportAll(t *testing.T) {
	ta := setupApp(t)
	c := testConfig().Accounts[0].Cases[0]
	ta.record(t, c, initialDoc, cliNow)
	dir := t.TempDir()

	out, err := execute(t, "history", "--export", dir)

	require.NoError(t, err)
	assert.Contains(t, out, "John AP: exported to")
	assert.Contains(t, out, "John EAD: no history recorded, skipped")

	changelog, err := os.ReadFile(filepath.Join(dir, "john-ap", "changelog.md"))
	require.NoError(t, err)
	assert.Contains(t, string(changelog), "# Case Changelog: John AP")

	latest, err := os.ReadFile(filepath.Join(dir, "john-ap", "latest.json"))
	require.NoError(t, err)
	assert.Contains(t, string(latest), "IOE0000000001")

	_, err = os.Stat(filepath.Join(dir, "john-ead"))
	assert.True(t, os.IsNotExist(err))
}
