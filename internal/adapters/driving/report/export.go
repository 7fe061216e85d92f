package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"

	"github.com/custodia-labs/casewatch/internal/core/domain"
)

// Export file names within a case directory.
const (
	ChangelogFile = "changelog.md"
	LatestFile    = "latest.json"
)

// Export writes a case's markdown changelog and latest document under
// dir/<slug>/, returning the case directory. Files are replaced atomically.
func Export(dir string, c domain.Case, latest *domain.Snapshot, entries []domain.ChangeEntry, now time.Time) (string, error) {
	caseDir := filepath.Join(dir, domain.Slug(c.Nickname))
	if err := os.MkdirAll(caseDir, 0700); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	var changelog bytes.Buffer
	if err := RenderChangelog(&changelog, c, entries, now); err != nil {
		return "", err
	}
	if err := writeAtomic(filepath.Join(caseDir, ChangelogFile), changelog.Bytes()); err != nil {
		return "", err
	}

	if latest != nil {
		raw, err := domain.EncodeJSON(latest.Document)
		if err != nil {
			return "", fmt.Errorf("encode latest document: %w", err)
		}
		var doc bytes.Buffer
		if err := json.Indent(&doc, raw, "", "  "); err != nil {
			return "", fmt.Errorf("encode latest document: %w", err)
		}
		doc.WriteByte('\n')
		if err := writeAtomic(filepath.Join(caseDir, LatestFile), doc.Bytes()); err != nil {
			return "", err
		}
	}
	return caseDir, nil
}

// writeAtomic writes data to a temporary file beside path and renames it
// into place.
func writeAtomic(path string, data []byte) error {
	if err := renameio.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
