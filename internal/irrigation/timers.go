package irrigation

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ManualKey identifies the off-timer armed by a manual irrigate action.
const ManualKey = "manual"

// ScheduleKey identifies the off-timer armed by an automatic schedule.
func ScheduleKey(id int64) string {
	return fmt.Sprintf("schedule-%d", id)
}

type Timer interface {
	Stop() bool
}

// swappable for tests
var (
	afterFunc = func(d time.Duration, f func()) Timer {
		return time.AfterFunc(d, f)
	}
	now = time.Now
)

// Pending describes an armed off-timer.
type Pending struct {
	Key string    `json:"key"`
	Due time.Time `json:"due"`
}

type entry struct {
	seq   uint64
	timer Timer
	due   time.Time
}

// Timers is a registry of keyed, cancellable irrigation off-timers.
type Timers struct {
	cancelOnChange bool

	mu      sync.Mutex
	seq     uint64
	pending map[string]*entry
}

// NewTimers builds a registry. When cancelOnChange is false, edits to a
// schedule leave its armed timer alone and it fires as originally scheduled.
func NewTimers(cancelOnChange bool) *Timers {
	return &Timers{
		cancelOnChange: cancelOnChange,
		pending:        make(map[string]*entry),
	}
}

// Schedule arms fn to run after d under key, replacing any timer already
// armed under that key.
func (t *Timers) Schedule(key string, d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.pending[key]; ok {
		old.timer.Stop()
	}

	t.seq++
	seq := t.seq
	e := &entry{seq: seq, due: now().Add(d)}
	e.timer = afterFunc(d, func() {
		t.mu.Lock()
		current, ok := t.pending[key]
		if !ok || current.seq != seq {
			t.mu.Unlock()
			return
		}
		delete(t.pending, key)
		t.mu.Unlock()

		log.Info().Str("timer", key).Msg("Irrigation off-timer fired")
		fn()
	})
	t.pending[key] = e
	log.Info().Str("timer", key).Time("due", e.due).Msg("Irrigation off-timer armed")
}

// Cancel disarms the timer under key. It reports whether one was pending.
func (t *Timers) Cancel(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.pending[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(t.pending, key)
	log.Info().Str("timer", key).Msg("Irrigation off-timer cancelled")
	return true
}

// ScheduleChanged is called when a schedule is updated or deleted.
func (t *Timers) ScheduleChanged(id int64) {
	key := ScheduleKey(id)
	if !t.cancelOnChange {
		t.mu.Lock()
		_, armed := t.pending[key]
		t.mu.Unlock()
		if armed {
			log.Warn().Str("timer", key).Msg("Schedule changed while its off-timer is armed; timer will still fire")
		}
		return
	}
	t.Cancel(key)
}

// Pending lists armed timers, soonest first.
func (t *Timers) Pending() []Pending {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Pending, 0, len(t.pending))
	for key, e := range t.pending {
		out = append(out, Pending{Key: key, Due: e.due})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Due.Equal(out[j].Due) {
			return out[i].Key < out[j].Key
		}
		return out[i].Due.Before(out[j].Due)
	})
	return out
}

// Stop disarms everything.
func (t *Timers) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, e := range t.pending {
		e.timer.Stop()
		delete(t.pending, key)
	}
}
