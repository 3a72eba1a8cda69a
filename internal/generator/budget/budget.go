// Package budget implements the Generator's daily synthesis budget: a
// process-persisted, lock-protected counter that resets at local midnight,
// grounded on the original's src/generator/ai_call_tracker.py.
package budget

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// Tracker counts calls against a daily cap for any generator sub-source
// that calls an external model, persisting its counter to disk so a
// restart does not reset the day's count.
type Tracker struct {
	mu       sync.Mutex
	path     string
	cap      int
	count    int
	resetDay string // YYYY-MM-DD in local time
}

type fileState struct {
	Count    int    `json:"count"`
	ResetDay string `json:"reset_day"`
}

// NewTracker loads (or initialises) the counter persisted at path.
func NewTracker(path string, dailyCap int) (*Tracker, error) {
	t := &Tracker{path: path, cap: dailyCap, resetDay: today()}
	if err := t.load(); err != nil {
		return nil, err
	}
	t.rolloverIfNeeded()
	return t, nil
}

func today() string { return time.Now().Local().Format("2006-01-02") }

func (t *Tracker) load() error {
	data, err := os.ReadFile(t.path)
	if os.IsNotExist(err) {
		return t.persistLocked()
	}
	if err != nil {
		return err
	}
	var fs fileState
	if err := json.Unmarshal(data, &fs); err != nil {
		return err
	}
	t.count = fs.Count
	t.resetDay = fs.ResetDay
	return nil
}

func (t *Tracker) persistLocked() error {
	data, err := json.Marshal(fileState{Count: t.count, ResetDay: t.resetDay})
	if err != nil {
		return err
	}
	return os.WriteFile(t.path, data, 0o644)
}

func (t *Tracker) rolloverIfNeeded() {
	now := today()
	if now != t.resetDay {
		t.count = 0
		t.resetDay = now
	}
}

// Remaining returns how many more calls are allowed today.
func (t *Tracker) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverIfNeeded()
	r := t.cap - t.count
	if r < 0 {
		return 0
	}
	return r
}

// TryConsume consumes one unit of budget if available, persisting the new
// counter to disk. Returns false (budget exhausted) if the cap is reached.
func (t *Tracker) TryConsume() (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolloverIfNeeded()
	if t.count >= t.cap {
		return false, nil
	}
	t.count++
	if err := t.persistLocked(); err != nil {
		t.count--
		return false, err
	}
	return true, nil
}

// NextMidnight returns the next local-midnight rollover instant, used by
// the Generator to sleep out a budget exhaustion per spec §7.
func NextMidnight() time.Time {
	now := time.Now().Local()
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
}
