package contextstore

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const dayLayout = "2006-01-02"

type historyKey struct {
	user string
	day  string
}

// History is a bounded, per-user, per-day log of tool executions. Each
// entry has the form "tool:success:unixMillis" or "tool:failure:unixMillis".
type History struct {
	max int

	mu   sync.Mutex
	days map[historyKey][]string
}

// NewHistory returns a History that keeps at most max entries per user
// and day, dropping the oldest first.
func NewHistory(max int) *History {
	return &History{max: max, days: make(map[historyKey][]string)}
}

// FormatEntry renders one history entry.
func FormatEntry(tool string, success bool, at time.Time) string {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	return fmt.Sprintf("%s:%s:%d", tool, outcome, at.UnixMilli())
}

// EntryTool returns the tool name of a history entry.
func EntryTool(entry string) string {
	tool, _, _ := strings.Cut(entry, ":")
	return tool
}

// Record appends an entry for userID on the day of at.
func (h *History) Record(userID, tool string, success bool, at time.Time) {
	k := historyKey{user: userID, day: at.Format(dayLayout)}

	h.mu.Lock()
	defer h.mu.Unlock()

	list := append(h.days[k], FormatEntry(tool, success, at))
	if over := len(list) - h.max; over > 0 {
		list = append(list[:0:0], list[over:]...)
	}
	h.days[k] = list
}

// Day returns a copy of userID's entries for the day of at, oldest first.
func (h *History) Day(userID string, at time.Time) []string {
	k := historyKey{user: userID, day: at.Format(dayLayout)}

	h.mu.Lock()
	defer h.mu.Unlock()

	list := h.days[k]
	out := make([]string, len(list))
	copy(out, list)
	return out
}

// Prune drops every day other than the day of now and returns how many
// entries went with them.
func (h *History) Prune(now time.Time) int {
	today := now.Format(dayLayout)

	h.mu.Lock()
	defer h.mu.Unlock()

	dropped := 0
	for k, list := range h.days {
		if k.day != today {
			dropped += len(list)
			delete(h.days, k)
		}
	}
	return dropped
}

// Total counts every stored entry across users and days.
func (h *History) Total() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for _, list := range h.days {
		n += len(list)
	}
	return n
}

// Reset drops everything.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.days = make(map[historyKey][]string)
}
