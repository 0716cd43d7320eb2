package migration

import (
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"

	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql
var postgresFS embed.FS

const postgresPath = "migrations/postgres"

// upFilePattern golang-migrate 的文件命名：<版本>_<名称>.up.sql
var upFilePattern = regexp.MustCompile(`^(\d+)_(.+)\.up\.sql$`)

type migrationFile struct {
	version uint
	name    string
}

func newSourceDriver() (source.Driver, error) {
	return iofs.New(postgresFS, postgresPath)
}

// availableMigrations 列出 path 下的 up 迁移，按版本升序，同版本只取第一个
func availableMigrations(fsys fs.FS, path string) ([]migrationFile, error) {
	entries, err := fs.ReadDir(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	byVersion := make(map[uint]string, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := upFilePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		v, err := strconv.ParseUint(m[1], 10, 32)
		if err != nil {
			continue
		}
		if _, dup := byVersion[uint(v)]; !dup {
			byVersion[uint(v)] = m[2]
		}
	}

	files := make([]migrationFile, 0, len(byVersion))
	for v, name := range byVersion {
		files = append(files, migrationFile{version: v, name: name})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files, nil
}

// buildStatus current 及之前的版本视为已应用；dirty 只标记 current
func buildStatus(files []migrationFile, current uint, dirty bool) []MigrationStatus {
	out := make([]MigrationStatus, len(files))
	for i, f := range files {
		out[i] = MigrationStatus{
			Version: f.version,
			Name:    f.name,
			Applied: f.version <= current,
			Dirty:   dirty && f.version == current,
		}
	}
	return out
}

func buildInfo(files []migrationFile, current uint, dirty bool) *MigrationInfo {
	info := &MigrationInfo{CurrentVersion: current, Dirty: dirty, TotalMigrations: len(files)}
	for _, f := range files {
		if f.version <= current {
			info.AppliedMigrations++
		}
	}
	info.PendingMigrations = info.TotalMigrations - info.AppliedMigrations
	return info
}
