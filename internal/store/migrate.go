// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	// Register pgx/v5 database driver for golang-migrate.
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/samber/oops"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migration is one embedded schema change.
type Migration struct {
	Version uint
	Name    string
}

// String returns the NNNNNN_name file stem.
func (m Migration) String() string {
	return fmt.Sprintf("%06d_%s", m.Version, m.Name)
}

// Embedded migrations never change at runtime, so they are parsed once.
var embedded = sync.OnceValues(func() ([]Migration, error) {
	return parseMigrations(migrationsFS, "migrations")
})

// parseMigrations lists NNNNNN_name.up.sql files in dir, ordered by version.
func parseMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, oops.Code("MIGRATION_LIST_FAILED").With("dir", dir).Wrap(err)
	}

	var out []Migration
	for _, entry := range entries {
		stem, ok := strings.CutSuffix(entry.Name(), ".up.sql")
		if !ok {
			continue
		}
		rawVersion, name, ok := strings.Cut(stem, "_")
		var version uint
		if _, scanErr := fmt.Sscanf(rawVersion, "%d", &version); !ok || scanErr != nil || len(rawVersion) != 6 {
			return nil, oops.Code("MIGRATION_NAME_INVALID").
				With("filename", entry.Name()).
				Errorf("migration file %q does not match NNNNNN_name.up.sql", entry.Name())
		}
		out = append(out, Migration{Version: version, Name: name})
	}
	slices.SortFunc(out, func(a, b Migration) int { return int(a.Version) - int(b.Version) })
	return out, nil
}

// migrateIface is the part of *migrate.Migrate the Migrator drives.
type migrateIface interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	Close() (source error, database error)
}

// Migrator applies the embedded users-table migrations.
type Migrator struct {
	m migrateIface
}

// NewMigrator creates a Migrator for databaseURL. postgres:// and
// postgresql:// URLs are rewritten to the pgx5:// scheme golang-migrate expects.
func NewMigrator(databaseURL string) (*Migrator, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, oops.Code("MIGRATION_SOURCE_FAILED").Wrap(err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrateURL(databaseURL))
	if err != nil {
		_ = source.Close() //nolint:errcheck // init error takes precedence
		return nil, oops.Code("MIGRATION_INIT_FAILED").Wrap(err)
	}
	return &Migrator{m: m}, nil
}

func migrateURL(databaseURL string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if rest, found := strings.CutPrefix(databaseURL, scheme); found {
			return "pgx5://" + rest
		}
	}
	return databaseURL
}

// ignoreNoChange treats "nothing to do" as success.
func ignoreNoChange(code string, err error) error {
	if err == nil || errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return oops.Code(code).Wrap(err)
}

// Up applies all pending migrations.
func (m *Migrator) Up() error {
	return ignoreNoChange("MIGRATION_UP_FAILED", m.m.Up())
}

// Down rolls back every migration, dropping the users table and its data.
func (m *Migrator) Down() error {
	return ignoreNoChange("MIGRATION_DOWN_FAILED", m.m.Down())
}

// Steps applies n migrations. Positive n migrates up, negative n rolls back.
func (m *Migrator) Steps(n int) error {
	if n == 0 {
		return nil
	}
	if err := ignoreNoChange("MIGRATION_STEPS_FAILED", m.m.Steps(n)); err != nil {
		return oops.With("steps", n).Wrap(err)
	}
	return nil
}

// Version returns the current migration version and dirty state.
// An empty database reports version 0, not dirty.
func (m *Migrator) Version() (version uint, dirty bool, err error) {
	version, dirty, err = m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, oops.Code("MIGRATION_VERSION_FAILED").Wrap(err)
	}
	return version, dirty, nil
}

// Force records version as applied without running anything. It is the
// recovery path for a dirty database after manual repair.
func (m *Migrator) Force(version int) error {
	if version < 0 {
		return oops.Code("INVALID_VERSION").Errorf("version must be non-negative, got %d", version)
	}
	if err := m.m.Force(version); err != nil {
		return oops.Code("MIGRATION_FORCE_FAILED").With("version", version).Wrap(err)
	}
	return nil
}

// Close releases the migration source and database handle.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	if err := errors.Join(srcErr, dbErr); err != nil {
		return oops.Code("MIGRATION_CLOSE_FAILED").Wrap(err)
	}
	return nil
}

// Pending returns the migrations Up would apply, in order.
func (m *Migrator) Pending() ([]Migration, error) {
	return m.split(false)
}

// Applied returns the migrations at or below the current version, in order.
func (m *Migrator) Applied() ([]Migration, error) {
	return m.split(true)
}

func (m *Migrator) split(applied bool) ([]Migration, error) {
	current, _, err := m.Version()
	if err != nil {
		return nil, err
	}
	all, err := embedded()
	if err != nil {
		return nil, err
	}

	var out []Migration
	for _, mig := range all {
		if (mig.Version <= current) == applied {
			out = append(out, mig)
		}
	}
	return out, nil
}
