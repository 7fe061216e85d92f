package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/casewatch/internal/core/domain"
)

var (
	john = domain.Account{
		Name: "John", AnonName: "Person A",
		Cases: []domain.Case{
			{Number: "IOE0000000001", Nickname: "John AP"},
			{Number: "IOE0000000002", Nickname: "John EAD"},
		},
	}
	jane = domain.Account{
		Name: "Jane", AnonName: "Person B",
		Cases: []domain.Case{{Number: "IOE0000000003", Nickname: "Jane AP"}},
	}
)

func parseDoc(t *testing.T, raw string) domain.StatusDocument {
	t.Helper()
	doc, err := domain.ParseStatusDocument([]byte(raw))
	require.NoError(t, err)
	return *doc
}

func summaryFor(t *testing.T, account domain.Account, c domain.Case, raw string) CaseSummary {
	t.Helper()
	return CaseSummary{
		Account:  account,
		Case:     c,
		Snapshot: domain.Snapshot{Key: account.Key(c), Document: parseDoc(t, raw), FetchedAt: reportNow},
	}
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := domain.ParseTimestamp(s)
	require.NoError(t, err)
	return ts
}
