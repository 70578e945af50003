package pathretention

import (
	"time"

	"github.com/paulschiretz/pgl-tsbackup/pkg/timespec"
)

// Policy describes which backups a pruning pass removes.
type Policy struct {
	// Window is how long backups are kept unconditionally.
	Window timespec.Duration
	// SecondStage spares every n-th unit of backups older than Window.
	// A zero magnitude disables sparing.
	SecondStage timespec.Duration

	DryRun bool
}

// Action is what the pruner does with one file in the destination tree.
type Action int

const (
	// ActionKeep is a backup inside the retention window.
	ActionKeep Action = iota
	// ActionRemove is a backup older than the window and not spared.
	ActionRemove
	// ActionSpare is a backup older than the window kept by the second stage.
	ActionSpare
	// ActionUnparseable is a file whose name carries no backup timestamp. It is never removed.
	ActionUnparseable
)

func (a Action) String() string {
	switch a {
	case ActionKeep:
		return "keep"
	case ActionRemove:
		return "remove"
	case ActionSpare:
		return "spare"
	case ActionUnparseable:
		return "unparseable"
	default:
		return "unknown"
	}
}

// Decision is the classification of one file in the destination tree.
type Decision struct {
	RelPath   string
	AbsPath   string
	Timestamp time.Time // zero for ActionUnparseable
	Action    Action
}

// Classify decides what happens to a backup taken at ts when pruning at now.
//
// A backup is a removal candidate iff ts < now - Window. A candidate is spared
// when the second stage is enabled and floor((now - ts) / unit) is a multiple
// of the second-stage magnitude, unit being the second stage's unit.
//
// Both instants are compared as wall-clock readings in their own location, so
// a backup taken three calendar days ago is three days old even when a
// daylight saving change lies in between.
func Classify(ts, now time.Time, p Policy) Action {
	ts, now = wallClock(ts), wallClock(now)
	oldestAllowed := now.Add(-p.Window.Std())
	if !ts.Before(oldestAllowed) {
		return ActionKeep
	}
	if m := p.SecondStage.Magnitude(); m > 0 {
		age := int64(now.Sub(ts) / p.SecondStage.Unit().Std())
		if age%int64(m) == 0 {
			return ActionSpare
		}
	}
	return ActionRemove
}

// wallClock re-reads the date and clock of t as UTC, dropping its zone offset.
func wallClock(t time.Time) time.Time {
	y, mo, d := t.Date()
	h, mi, s := t.Clock()
	return time.Date(y, mo, d, h, mi, s, t.Nanosecond(), time.UTC)
}
