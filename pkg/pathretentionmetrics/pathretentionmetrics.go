package pathretentionmetrics

import (
	"sync/atomic"
	"time"

	"github.com/paulschiretz/pgl-tsbackup/pkg/plog"
)

// Metrics defines the interface for collecting and reporting retention statistics.
type Metrics interface {
	AddBackupsRemoved(n int64)
	AddBackupsSpared(n int64)
	AddBackupsUnparseable(n int64)
	AddBackupsFailed(n int64)
	LogSummary(msg string)
	StartProgress(msg string, interval time.Duration)
	StopProgress()
}

// RetentionMetrics holds the atomic counters for tracking the retention operation's progress.
type RetentionMetrics struct {
	BackupsRemoved     atomic.Int64
	BackupsSpared      atomic.Int64
	BackupsUnparseable atomic.Int64
	BackupsFailed      atomic.Int64

	// Log receives the summaries. Nil writes through the package-level logger.
	Log *plog.Logger

	stopChan chan struct{}
}

func (m *RetentionMetrics) AddBackupsRemoved(n int64)     { m.BackupsRemoved.Add(n) }
func (m *RetentionMetrics) AddBackupsSpared(n int64)      { m.BackupsSpared.Add(n) }
func (m *RetentionMetrics) AddBackupsUnparseable(n int64) { m.BackupsUnparseable.Add(n) }
func (m *RetentionMetrics) AddBackupsFailed(n int64)      { m.BackupsFailed.Add(n) }

func (m *RetentionMetrics) StartProgress(msg string, interval time.Duration) {
	if interval <= 0 {
		return
	}
	m.stopChan = make(chan struct{})
	ticker := time.NewTicker(interval)
	go func(stop <-chan struct{}) {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.LogSummary(msg)
			case <-stop:
				return
			}
		}
	}(m.stopChan)
}

func (m *RetentionMetrics) StopProgress() {
	if m.stopChan != nil {
		close(m.stopChan)
		m.stopChan = nil
	}
}

func (m *RetentionMetrics) LogSummary(msg string) {
	m.Log.Info(msg,
		"backups_removed", m.BackupsRemoved.Load(),
		"backups_spared", m.BackupsSpared.Load(),
		"backups_unparseable", m.BackupsUnparseable.Load(),
		"backups_failed", m.BackupsFailed.Load(),
	)
}

// NoopMetrics is an implementation of the Metrics interface that performs no operations.
type NoopMetrics struct{}

func (m *NoopMetrics) AddBackupsRemoved(n int64)                        {}
func (m *NoopMetrics) AddBackupsSpared(n int64)                         {}
func (m *NoopMetrics) AddBackupsUnparseable(n int64)                    {}
func (m *NoopMetrics) AddBackupsFailed(n int64)                         {}
func (m *NoopMetrics) LogSummary(msg string)                            {}
func (m *NoopMetrics) StartProgress(msg string, interval time.Duration) {}
func (m *NoopMetrics) StopProgress()                                    {}

var _ Metrics = (*RetentionMetrics)(nil)
var _ Metrics = (*NoopMetrics)(nil)
