// Package config resolves process configuration into a single immutable
// value, built once at program init and passed explicitly into every
// component's constructor. It deliberately has no package-level mutable
// state: the source pattern of a process-wide singleton "database config"
// is the first entry in the redesign notes this module follows.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// StoreConfig is the fully resolved, read-only configuration for one
// process. Once returned from Load, none of its fields are mutated.
type StoreConfig struct {
	// DBPath is the unified state store file (default "gao_dev.db").
	DBPath string
	// DocsDBPath is the separate documents database, out of scope here
	// but named for layout fidelity (default ".gao-dev/documents.db").
	DocsDBPath string
	// BackupDir holds timestamped importer/migration backups.
	BackupDir string
	// ConflictLogPath is the append-only sync conflict log.
	ConflictLogPath string
	// LockTimeout bounds how long a writer waits on a busy database.
	LockTimeout time.Duration
}

// Load builds a StoreConfig from, in increasing priority: built-in
// defaults, an optional TOML file at configPath (ignored if absent),
// and GAODEV_* environment variables. It never retains a reference to
// the viper instance used to build it — the returned value is the only
// handle callers get.
func Load(configPath string) (StoreConfig, error) {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix("GAODEV")
	v.AutomaticEnv()
	v.SetDefault("db_path", "gao_dev.db")
	v.SetDefault("docs_db_path", ".gao-dev/documents.db")
	v.SetDefault("backup_dir", ".gao/backups")
	v.SetDefault("conflict_log_path", "gao_dev/logs/sync_conflicts.log")
	v.SetDefault("lock_timeout", "30s")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if !isConfigFileMissing(err) {
				return StoreConfig{}, fmt.Errorf("config: reading %s: %w", configPath, err)
			}
		}
	}

	lockTimeout, err := time.ParseDuration(strings.TrimSpace(v.GetString("lock_timeout")))
	if err != nil {
		return StoreConfig{}, fmt.Errorf("config: invalid lock_timeout: %w", err)
	}

	return StoreConfig{
		DBPath:          v.GetString("db_path"),
		DocsDBPath:      v.GetString("docs_db_path"),
		BackupDir:       v.GetString("backup_dir"),
		ConflictLogPath: v.GetString("conflict_log_path"),
		LockTimeout:     lockTimeout,
	}, nil
}

func isConfigFileMissing(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	return os.IsNotExist(err)
}
