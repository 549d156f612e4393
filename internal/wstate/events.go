package wstate

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/steveyegge/laneway/internal/types"
)

// Event is one line in a WU's JSONL event trail.
type Event struct {
	Timestamp time.Time         `json:"ts"`
	WuID      string            `json:"wu"`
	Kind      string            `json:"event"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Event kinds recorded by the lifecycle manager.
const (
	EventCreated   = "created"
	EventClaimed   = "claimed"
	EventBlocked   = "blocked"
	EventUnblocked = "unblocked"
	EventCompleted = "completed"
	EventRecovered = "recovered"
)

// AppendEvent appends one event line to the WU's event log. Best effort:
// the event trail is diagnostic, so callers treat a returned error as a
// warning, never as a reason to abort a lifecycle operation.
func (s *Store) AppendEvent(id, kind string, fields map[string]string) error {
	ev := Event{
		Timestamp: time.Now().UTC(),
		WuID:      types.NormalizeID(id),
		Kind:      kind,
		Fields:    fields,
	}
	line, err := json.Marshal(&ev)
	if err != nil {
		return err
	}
	path := s.EventLogPath(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	return err
}

// ReadEvents loads a WU's full event trail. Missing log means no events.
func (s *Store) ReadEvents(id string) ([]Event, error) {
	data, err := os.ReadFile(s.EventLogPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var events []Event
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			break // truncated tail from a crashed writer; keep what parsed
		}
		events = append(events, ev)
	}
	return events, nil
}
