package client

import (
	"sync"
	"time"
)

// scheduledTask is one pending timed effect, keyed to the entity that owns
// it so destruction can cancel everything the entity had in flight.
type scheduledTask struct {
	owner   string
	name    string
	readyAt time.Time
	fn      func()
}

// TaskRunner holds timer-driven flags and effects (attack cooldowns,
// invulnerability windows, enemy despawns) as pending entries drained by an
// explicit Tick. Driving it from a clock the caller owns keeps the timing
// deterministic under test. Safe for concurrent use.
type TaskRunner struct {
	mu      sync.Mutex
	pending []scheduledTask
}

// NewTaskRunner creates an empty TaskRunner.
func NewTaskRunner() *TaskRunner {
	return &TaskRunner{}
}

// Schedule enqueues fn to fire at now+delay. A task with the same owner and
// name replaces the previous one. delay <= 0 fires on the next Tick.
//
// Precondition: owner and name must be non-empty; fn must not be nil.
func (t *TaskRunner) Schedule(owner, name string, now time.Time, delay time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(owner, name)
	t.pending = append(t.pending, scheduledTask{
		owner:   owner,
		name:    name,
		readyAt: now.Add(delay),
		fn:      fn,
	})
}

// Cancel drops one pending task.
func (t *TaskRunner) Cancel(owner, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(owner, name)
}

// CancelOwner drops every pending task the owner has.
//
// Postcondition: No task scheduled for owner will ever fire.
func (t *TaskRunner) CancelOwner(owner string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.pending[:0]
	for _, task := range t.pending {
		if task.owner != owner {
			kept = append(kept, task)
		}
	}
	t.pending = kept
}

// Active reports whether a task is pending, which doubles as a timed flag:
// an attack cooldown or invulnerability window is "on" while its task is
// still pending.
func (t *TaskRunner) Active(owner, name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, task := range t.pending {
		if task.owner == owner && task.name == name {
			return true
		}
	}
	return false
}

// Tick fires every task due at or before now.
//
// Postcondition: Returns the number of tasks fired. Fired tasks are
// consumed; a task reschedules itself explicitly if it wants to repeat.
func (t *TaskRunner) Tick(now time.Time) int {
	t.mu.Lock()
	var ready []scheduledTask
	kept := t.pending[:0]
	for _, task := range t.pending {
		if !task.readyAt.After(now) {
			ready = append(ready, task)
		} else {
			kept = append(kept, task)
		}
	}
	t.pending = kept
	t.mu.Unlock()

	for _, task := range ready {
		task.fn()
	}
	return len(ready)
}

func (t *TaskRunner) removeLocked(owner, name string) {
	kept := t.pending[:0]
	for _, task := range t.pending {
		if task.owner != owner || task.name != name {
			kept = append(kept, task)
		}
	}
	t.pending = kept
}
