package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/paulschiretz/pgl-tsbackup/pkg/util"
)

// ErrConfigExists is returned by Generate when the file exists and force is false.
var ErrConfigExists = errors.New("configuration file already exists")

type fileLayout struct {
	Backup struct {
		SourcePath      string   `yaml:"source_path"`
		BackupPath      string   `yaml:"backup_path"`
		LastBackupTime  string   `yaml:"last_backup_time"`
		Exclude         []string `yaml:"exclude"`
		WatermarkPolicy string   `yaml:"watermark_policy"`
	} `yaml:"backup"`
	Timeframes struct {
		BackupRetentionTime       string `yaml:"backup_retention_time"`
		SecondStageBackupInterval string `yaml:"second_stage_backup_interval"`
	} `yaml:"timeframes"`
	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
	Metrics struct {
		Textfile string `yaml:"textfile"`
	} `yaml:"metrics"`
	Schedule struct {
		Cron string `yaml:"cron"`
	} `yaml:"schedule"`
	Hooks struct {
		PreBackup  []string `yaml:"pre_backup"`
		PostBackup []string `yaml:"post_backup"`
	} `yaml:"hooks"`
}

var keyComments = map[string]string{
	KeySourcePath:      "Directory tree to back up.",
	KeyBackupPath:      "Directory receiving the timestamped copies.",
	KeyLastBackupTime:  "Written after every successful run. Clear it to copy everything again.",
	KeyExclude:         "Glob patterns to leave out; \"**\" matches across directories.",
	KeyWatermarkPolicy: "retry: advance and retry failed files next run. hold: do not advance after failures.",
	KeyRetentionTime:   "Keep every backup younger than this, e.g. 36h or 7d.",
	KeySecondStage:     "Of older backups keep one every N hours/days. 0d removes them all.",
	KeyLogLevel:        "debug, notice, info, warn or error.",
	KeyLogFile:         "Optional file the log is appended to.",
	KeyMetricsTextfile: "Optional Prometheus textfile collector output.",
	KeyScheduleCron:    "Cron expression used by the schedule command.",
	KeyPreBackupHooks:  "Shell commands run before each backup; a failure aborts the run.",
	KeyPostBackupHooks: "Shell commands run after each backup, also after failed runs.",
}

// Generate writes c as a commented YAML configuration file to path.
func Generate(path string, c Config, force bool) error {
	var layout fileLayout
	layout.Backup.SourcePath = c.Source
	layout.Backup.BackupPath = c.Destination
	layout.Backup.Exclude = nonNil(c.Exclude)
	layout.Backup.WatermarkPolicy = string(c.WatermarkPolicy)
	layout.Timeframes.BackupRetentionTime = c.Retention.String()
	layout.Timeframes.SecondStageBackupInterval = c.SecondStage.String()
	layout.Logging.Level = c.LogLevel
	layout.Logging.File = c.LogFile
	layout.Metrics.Textfile = c.MetricsTextfile
	layout.Schedule.Cron = c.ScheduleCron
	layout.Hooks.PreBackup = nonNil(c.PreBackupHooks)
	layout.Hooks.PostBackup = nonNil(c.PostBackupHooks)

	var root yaml.Node
	if err := root.Encode(&layout); err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	root.HeadComment = "pgl-tsbackup configuration"
	annotate(&root, "")

	data, err := yaml.Marshal(&root)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, util.UserWritableFilePerms)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigExists, path)
		}
		return fmt.Errorf("failed to create config file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return f.Close()
}

// annotate attaches keyComments to the mapping keys below n.
func annotate(n *yaml.Node, prefix string) {
	if n.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, value := n.Content[i], n.Content[i+1]
		full := key.Value
		if prefix != "" {
			full = prefix + "." + key.Value
		}
		if comment, ok := keyComments[full]; ok {
			key.HeadComment = comment
		}
		annotate(value, full)
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
