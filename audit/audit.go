package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"intentd/statefile"
)

// Event is one audit record. The log is append-only JSONL keyed by run id;
// nothing in the pipeline ever rewrites a line.
type Event struct {
	RunID     string `json:"runId"`
	Event     string `json:"event"`
	Data      any    `json:"data,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Log appends pipeline events to a JSONL file.
type Log struct {
	path  string
	nowFn func() time.Time

	mu sync.Mutex
}

func New(path string) *Log {
	return &Log{path: path, nowFn: time.Now}
}

// Append writes one event. Failures are returned but callers generally log
// and continue; an unauditable run is still reported to the caller.
func (l *Log) Append(runID, event string, data any) error {
	entry := Event{
		RunID:     runID,
		Event:     event,
		Data:      data,
		Timestamp: l.nowFn().UTC().Format(time.RFC3339Nano),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: marshal event %s: %w", event, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return statefile.AppendLine(l.path, raw)
}

// ReadRun scans the log for every event belonging to runID, in append order.
func (l *Log) ReadRun(runID string) ([]Event, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("audit: open: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			continue // a torn trailing line must not hide prior history
		}
		if ev.RunID == runID {
			events = append(events, ev)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: scan: %w", err)
	}
	return events, nil
}
