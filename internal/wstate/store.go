// Package wstate persists WU state under the repository's .laneway
// directory: one YAML record per WU, a global status file, a stamps
// directory, and a per-WU JSONL event log.
//
// Layout:
//
//	.laneway/wu/<id>.yaml       WU record (descriptive fields)
//	.laneway/status.yaml        durable status store (authoritative status)
//	.laneway/stamps/<id>.yaml   completion stamps (idempotent done markers)
//	.laneway/backlog.yaml       backlog (owned by external tooling)
//	.laneway/events/<id>.jsonl  append-only event trail
package wstate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/steveyegge/laneway/internal/types"
)

// StateDirName is the directory under the repo root that holds all WU state.
const StateDirName = ".laneway"

// Store reads and writes durable WU state for one repository.
type Store struct {
	root string // repo root
}

// NewStore creates a Store rooted at the given repository root.
func NewStore(repoRoot string) *Store {
	return &Store{root: repoRoot}
}

// StateDir returns the absolute path of the state directory.
func (s *Store) StateDir() string {
	return filepath.Join(s.root, StateDirName)
}

// RecordPath returns the absolute path of a WU's record file.
func (s *Store) RecordPath(id string) string {
	return filepath.Join(s.StateDir(), "wu", types.NormalizeID(id)+".yaml")
}

// StampPath returns the absolute path of a WU's completion stamp.
func (s *Store) StampPath(id string) string {
	return filepath.Join(s.StateDir(), "stamps", types.NormalizeID(id)+".yaml")
}

// StatusFilePath returns the absolute path of the global status store.
func (s *Store) StatusFilePath() string {
	return filepath.Join(s.StateDir(), "status.yaml")
}

// BacklogPath returns the absolute path of the backlog file.
func (s *Store) BacklogPath() string {
	return filepath.Join(s.StateDir(), "backlog.yaml")
}

// EventLogPath returns the absolute path of a WU's event log.
func (s *Store) EventLogPath(id string) string {
	return filepath.Join(s.StateDir(), "events", types.NormalizeID(id)+".jsonl")
}

// MetadataPaths returns the repo-relative paths a completion commit for
// this WU is allowed to stage. Extra entries come from the injected
// metadata allowlist in config.
func (s *Store) MetadataPaths(id string) []string {
	id = types.NormalizeID(id)
	return []string{
		filepath.ToSlash(filepath.Join(StateDirName, "wu", id+".yaml")),
		filepath.ToSlash(filepath.Join(StateDirName, "status.yaml")),
		filepath.ToSlash(filepath.Join(StateDirName, "backlog.yaml")),
		filepath.ToSlash(filepath.Join(StateDirName, "events", id+".jsonl")),
		filepath.ToSlash(filepath.Join(StateDirName, "stamps", id+".yaml")),
	}
}

// IsRecordPath reports whether a repo-relative path is some WU's record
// file, and if so whose. Used to soften the staged-file check: co-located
// record writes from sibling agents are expected.
func IsRecordPath(relPath string) (wuID string, ok bool) {
	slash := strings.ReplaceAll(relPath, `\`, "/")
	prefix := StateDirName + "/wu/"
	if !strings.HasPrefix(slash, prefix) || !strings.HasSuffix(slash, ".yaml") {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(slash, prefix), ".yaml")
	if err := types.ValidateID(id); err != nil {
		return "", false
	}
	return id, true
}

// writeFileAtomic writes through a temp file in the same directory plus a
// rename, so a writer killed mid-write can never leave a half-written
// file at path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadRecord loads and validates a WU record from disk.
func (s *Store) ReadRecord(id string) (*types.Record, error) {
	data, err := os.ReadFile(s.RecordPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", types.NormalizeID(id), types.ErrWuNotFound)
		}
		return nil, fmt.Errorf("reading record for %s: %w", id, err)
	}
	var rec types.Record
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing record for %s: %w", id, err)
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid record: %w", err)
	}
	return &rec, nil
}

// WriteRecord validates and persists a WU record, and mirrors its status
// into the durable status store so the two stay in step.
func (s *Store) WriteRecord(rec *types.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling record for %s: %w", rec.ID, err)
	}
	path := s.RecordPath(rec.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := writeFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("writing record for %s: %w", rec.ID, err)
	}
	return s.setStoreStatus(rec.ID, rec.Status)
}

// readStatusStore loads the global status map. A missing file is an empty
// store, not an error.
func (s *Store) readStatusStore() (map[string]types.Status, error) {
	data, err := os.ReadFile(s.StatusFilePath())
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]types.Status{}, nil
		}
		return nil, fmt.Errorf("reading status store: %w", err)
	}
	statuses := map[string]types.Status{}
	if err := yaml.Unmarshal(data, &statuses); err != nil {
		return nil, fmt.Errorf("parsing status store: %w", err)
	}
	return statuses, nil
}

func (s *Store) setStoreStatus(id string, status types.Status) error {
	statuses, err := s.readStatusStore()
	if err != nil {
		return err
	}
	statuses[types.NormalizeID(id)] = status
	data, err := yaml.Marshal(statuses)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.StateDir(), 0o755); err != nil {
		return err
	}
	return writeFileAtomic(s.StatusFilePath(), data, 0o644)
}

// StoreStatus returns the durable status store's entry for a WU, if any.
// Recovery uses this to rebuild a record whose own file is unreadable.
func (s *Store) StoreStatus(id string) (types.Status, bool, error) {
	statuses, err := s.readStatusStore()
	if err != nil {
		return "", false, err
	}
	status, ok := statuses[types.NormalizeID(id)]
	return status, ok, nil
}

// Resolve merges the durable status store with the on-disk record. The
// store is authoritative for status (it is updated first and is more
// current under concurrent writers); the record is authoritative for
// descriptive fields. A disagreement between the two is reported through
// IsConsistent rather than as an error so callers can route the WU to
// recovery.
func (s *Store) Resolve(id string) (*types.WuInfo, error) {
	rec, err := s.ReadRecord(id)
	if err != nil {
		return nil, err
	}
	info := &types.WuInfo{
		Record:       *rec,
		RecordPath:   s.RecordPath(id),
		IsConsistent: true,
	}
	statuses, err := s.readStatusStore()
	if err != nil {
		// Unreadable store: record stands alone, flagged for recovery.
		info.IsConsistent = false
		info.InconsistencyReason = fmt.Sprintf("status store unreadable: %v", err)
		return info, nil
	}
	storeStatus, present := statuses[types.NormalizeID(id)]
	if !present {
		// Legacy record that predates the status store. Not a mismatch.
		return info, nil
	}
	if storeStatus != rec.Status {
		info.IsConsistent = false
		info.InconsistencyReason = fmt.Sprintf(
			"status store says %q but record says %q", storeStatus, rec.Status)
		info.Record.Status = storeStatus
	}
	return info, nil
}

// ListRecords returns every WU record on disk, sorted by id. Records that
// fail to parse are skipped; listing must not die on one bad file.
func (s *Store) ListRecords() ([]*types.Record, error) {
	entries, err := os.ReadDir(filepath.Join(s.StateDir(), "wu"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var records []*types.Record
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".yaml")
		rec, err := s.ReadRecord(id)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// WriteStamp writes the completion stamp for a WU. Idempotent: if the
// stamp already exists it is left untouched and created=false is returned.
func (s *Store) WriteStamp(id string, completedAt time.Time) (created bool, err error) {
	path := s.StampPath(id)
	if _, statErr := os.Stat(path); statErr == nil {
		return false, nil
	}
	stamp := types.Stamp{ID: types.NormalizeID(id), CompletedAt: completedAt.UTC()}
	data, err := yaml.Marshal(&stamp)
	if err != nil {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}
	// O_EXCL so two racing completions can't both claim to have created it.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("writing stamp for %s: %w", id, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return false, fmt.Errorf("writing stamp for %s: %w", id, err)
	}
	return true, nil
}

// IsStamped reports whether a WU's completion stamp exists.
func (s *Store) IsStamped(id string) bool {
	_, err := os.Stat(s.StampPath(id))
	return err == nil
}

// ReadStamp loads a WU's completion stamp.
func (s *Store) ReadStamp(id string) (*types.Stamp, error) {
	data, err := os.ReadFile(s.StampPath(id))
	if err != nil {
		return nil, err
	}
	var stamp types.Stamp
	if err := yaml.Unmarshal(data, &stamp); err != nil {
		return nil, fmt.Errorf("parsing stamp for %s: %w", id, err)
	}
	return &stamp, nil
}

// LaneAtCapacityError reports a denied lane admission.
type LaneAtCapacityError struct {
	Lane     string
	WIPLimit int
	Holders  []string // WU ids currently in_progress in the lane
}

func (e *LaneAtCapacityError) Error() string {
	return fmt.Sprintf("lane %q at WIP limit %d (in progress: %s)",
		e.Lane, e.WIPLimit, strings.Join(e.Holders, ", "))
}

// ErrLaneLocked is returned when claiming into a locked lane.
var ErrLaneLocked = errors.New("lane is locked")

// CheckLaneAdmission evaluates the lane's WIP limit against current WU
// state. This is a logical capacity check, not an atomic reservation:
// callers must re-validate after claiming to catch the double-admission
// race (two agents passing this check simultaneously).
func (s *Store) CheckLaneAdmission(lane types.Lane, excludeID string) error {
	if lane.Locked {
		return fmt.Errorf("lane %q: %w", lane.Name, ErrLaneLocked)
	}
	if lane.WIPLimit <= 0 {
		return nil // unlimited
	}
	holders, err := s.laneHolders(lane.Name, excludeID)
	if err != nil {
		return err
	}
	if len(holders) >= lane.WIPLimit {
		return &LaneAtCapacityError{Lane: lane.Name, WIPLimit: lane.WIPLimit, Holders: holders}
	}
	return nil
}

// RevalidateLaneAdmission re-checks capacity after a claim landed. Holding
// more than the limit means the rare double-admission race fired and the
// claim should be rolled back.
func (s *Store) RevalidateLaneAdmission(lane types.Lane, claimedID string) error {
	if lane.WIPLimit <= 0 {
		return nil
	}
	holders, err := s.laneHolders(lane.Name, "")
	if err != nil {
		return err
	}
	if len(holders) > lane.WIPLimit {
		return &LaneAtCapacityError{Lane: lane.Name, WIPLimit: lane.WIPLimit, Holders: holders}
	}
	return nil
}

func (s *Store) laneHolders(lane, excludeID string) ([]string, error) {
	records, err := s.ListRecords()
	if err != nil {
		return nil, err
	}
	exclude := types.NormalizeID(excludeID)
	var holders []string
	for _, rec := range records {
		if rec.Lane != lane || rec.ID == exclude {
			continue
		}
		// Blocked WUs still occupy a lane slot: the agent holding them has
		// a live worktree and will resume.
		if rec.Status == types.StatusInProgress || rec.Status == types.StatusBlocked {
			holders = append(holders, rec.ID)
		}
	}
	return holders, nil
}
