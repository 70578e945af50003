package pathretention

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/paulschiretz/pgl-tsbackup/pkg/util"
)

// task holds the mutable state of one pruning pass.
type task struct {
	*PathRetainer

	ctx         context.Context
	absBasePath string
	decisions   []Decision
	dryRun      bool
}

// execute acts on the planned decisions in order.
func (t *task) execute() (Result, error) {
	var res Result

	t.metrics.StartProgress("Prune progress", 10*time.Second)
	defer func() {
		t.metrics.StopProgress()
		t.metrics.LogSummary("Prune finished")
	}()

	for _, d := range t.decisions {
		if err := t.ctx.Err(); err != nil {
			return res, err
		}

		switch d.Action {
		case ActionKeep:
			res.Kept++
		case ActionUnparseable:
			t.log.Warn("Skipping file without a backup timestamp", "path", d.AbsPath)
			t.metrics.AddBackupsUnparseable(1)
			res.Unparseable++
		case ActionSpare:
			t.log.Debug("Sparing backup", "path", d.AbsPath, "timestamp", d.Timestamp)
			t.metrics.AddBackupsSpared(1)
			res.Spared++
		case ActionRemove:
			if t.remove(d) {
				res.Removed++
			} else {
				res.Failed++
			}
		}
	}

	if res.Removed == 0 {
		if t.dryRun {
			t.log.Debug("[DRY RUN] No backups need deletion")
		} else {
			t.log.Debug("No backups need deletion")
		}
	}
	return res, nil
}

// remove deletes one backup and any directories it leaves empty.
func (t *task) remove(d Decision) bool {
	if t.dryRun {
		t.log.Info("[DRY RUN] REMOVE", "path", d.AbsPath)
		t.metrics.AddBackupsRemoved(1)
		return true
	}

	t.log.Info("REMOVE", "path", d.AbsPath)
	if err := os.RemoveAll(d.AbsPath); err != nil {
		t.log.Warn("Failed to remove outdated backup", "path", d.AbsPath, "error", err)
		t.metrics.AddBackupsFailed(1)
		return false
	}
	t.metrics.AddBackupsRemoved(1)
	t.removeEmptyParents(filepath.Dir(d.AbsPath))
	return true
}

// removeEmptyParents removes dir and its ancestors while they are empty,
// stopping at the base path, which is never removed.
func (t *task) removeEmptyParents(dir string) {
	for dir != t.absBasePath && util.IsPathNested(t.absBasePath, dir) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			t.log.Debug("Failed to remove empty directory", "path", dir, "error", err)
			return
		}
		t.log.Debug("Removed empty directory", "path", dir)
		dir = filepath.Dir(dir)
	}
}
