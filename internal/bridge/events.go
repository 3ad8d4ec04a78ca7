package bridge

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
)

// ExecutionEvent is one record of the append-only execution event log.
type ExecutionEvent struct {
	ID        string          `json:"id"`
	Tag       string          `json:"tag"`
	Status    string          `json:"status"`
	FilledQty decimal.Decimal `json:"filled_qty"`
	Price     decimal.Decimal `json:"price"`
	Ts        time.Time       `json:"ts"`
}

// ReadEvents scans every event log segment and returns all parseable
// records ordered by timestamp. Duplicate event ids are collapsed,
// keeping the first occurrence; malformed lines are skipped. Callers
// dedupe against persisted state by event id.
func (b *Bridge) ReadEvents() ([]ExecutionEvent, error) {
	paths, err := filepath.Glob(filepath.Join(b.cfg.eventsPath(), "*.log"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	seen := make(map[string]struct{})
	var events []ExecutionEvent
	for _, path := range paths {
		segment, err := readEventSegment(path, seen)
		if err != nil {
			return nil, err
		}
		events = append(events, segment...)
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Ts.Before(events[j].Ts) })
	return events, nil
}

func readEventSegment(path string, seen map[string]struct{}) ([]ExecutionEvent, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var events []ExecutionEvent
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev ExecutionEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			logs.Warnf("skip malformed execution event in %s: %v", filepath.Base(path), err)
			continue
		}
		if ev.ID == "" {
			continue
		}
		if _, dup := seen[ev.ID]; dup {
			continue
		}
		seen[ev.ID] = struct{}{}
		events = append(events, ev)
	}
	return events, scanner.Err()
}
