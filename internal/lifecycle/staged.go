package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/steveyegge/laneway/internal/types"
	"github.com/steveyegge/laneway/internal/wstate"
)

// StagedFileError lists every staged path outside the completion
// allowlist.
type StagedFileError struct {
	ID    string
	Paths []string
}

func (e *StagedFileError) Error() string {
	return fmt.Sprintf("%s: staged files outside the completion allowlist: %s",
		e.ID, strings.Join(e.Paths, ", "))
}

// ValidateStagedFiles checks that everything staged for a completion
// commit belongs there. The general allowlist is the WU's own metadata
// files plus the configured extras; docs-only WUs run against the docs
// allowlist instead. One tolerated exception: staged record files of
// *other* WUs degrade to a warning, since concurrent agents writing
// co-located metadata is expected. The returned warning is empty when
// nothing noteworthy was staged.
func (m *Manager) ValidateStagedFiles(ctx context.Context, g GitOps, rec *types.Record, docsOnly bool) (warning string, err error) {
	staged, err := g.StagedFiles(ctx)
	if err != nil {
		return "", fmt.Errorf("read staged files: %w", err)
	}

	var unexpected []string
	for _, path := range staged {
		if docsOnly {
			// Docs-only WUs swap the injected allowlist for the docs one;
			// the WU's own metadata files stay staged either way.
			if !m.docsPathAllowed(path) && !m.ownMetadataPath(rec.ID, path) {
				unexpected = append(unexpected, path)
			}
			continue
		}
		if !m.metadataPathAllowed(rec.ID, path) {
			unexpected = append(unexpected, path)
		}
	}
	if len(unexpected) == 0 {
		return "", nil
	}
	sort.Strings(unexpected)

	// All trespassers being other WUs' record files means a sibling agent
	// wrote metadata next to ours; warn rather than block.
	allOtherRecords := true
	for _, path := range unexpected {
		id, ok := wstate.IsRecordPath(path)
		if !ok || id == rec.ID {
			allOtherRecords = false
			break
		}
	}
	if allOtherRecords {
		return fmt.Sprintf("staged record files from other WUs: %s", strings.Join(unexpected, ", ")), nil
	}
	return "", &StagedFileError{ID: rec.ID, Paths: unexpected}
}

func (m *Manager) metadataPathAllowed(id, path string) bool {
	if m.ownMetadataPath(id, path) {
		return true
	}
	norm := strings.ReplaceAll(path, `\`, "/")
	for _, allowed := range m.metadataAllow {
		if norm == strings.ReplaceAll(allowed, `\`, "/") {
			return true
		}
	}
	return false
}

func (m *Manager) ownMetadataPath(id, path string) bool {
	norm := strings.ReplaceAll(path, `\`, "/")
	for _, allowed := range m.store.MetadataPaths(id) {
		if norm == allowed {
			return true
		}
	}
	return false
}

func (m *Manager) docsPathAllowed(path string) bool {
	norm := strings.ReplaceAll(path, `\`, "/")
	for _, pattern := range m.docsAllow {
		switch {
		case strings.HasSuffix(pattern, "/"):
			if strings.HasPrefix(norm, pattern) {
				return true
			}
		case strings.HasPrefix(pattern, "."):
			if strings.HasSuffix(norm, pattern) {
				return true
			}
		default:
			if norm == pattern {
				return true
			}
		}
	}
	return false
}
