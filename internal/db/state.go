package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dimfeld/rmplan/internal/config"
	"github.com/dimfeld/rmplan/internal/db/driver"
	"github.com/dimfeld/rmplan/internal/errors"
)

// StateDB is a handle to the rmplan state database. All repository
// operations (projects, workspaces, locks, permissions, assignments) hang
// off this type.
type StateDB struct {
	*DB
}

var (
	sharedMu sync.Mutex
	sharedDB *StateDB
)

// OpenState opens the state database at the given path, creating and
// migrating it as needed. An empty path uses the default location under
// the rmplan config directory.
//
// If the database file did not exist before this call, any legacy JSON
// state found next to it is imported before the handle is returned.
func OpenState(path string) (*StateDB, error) {
	if path == "" {
		p, err := config.StateDBPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	// Stat before opening: the driver creates the file, so this is the
	// only point where a fresh database is distinguishable from an
	// existing one.
	fresh := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fresh = true
	}

	db, err := Open(path)
	if err != nil {
		return nil, errors.ErrStorageUnavailable(path).WithCause(err)
	}

	if err := db.Migrate("state"); err != nil {
		db.Close()
		return nil, errors.ErrMigrationFailed("state").WithCause(err)
	}

	sdb := &StateDB{DB: db}

	if fresh {
		if err := sdb.ImportLegacyState(context.Background(), filepath.Dir(path)); err != nil {
			db.Close()
			return nil, fmt.Errorf("import legacy state: %w", err)
		}
	}

	return sdb, nil
}

// OpenStateWithDialect opens a state database against an explicit dialect
// and DSN. Used when settings select PostgreSQL instead of the default
// embedded SQLite file. Legacy import only applies to fresh SQLite files,
// so none is attempted here.
func OpenStateWithDialect(dsn string, dialect driver.Dialect) (*StateDB, error) {
	db, err := OpenWithDialect(dsn, dialect)
	if err != nil {
		return nil, errors.ErrStorageUnavailable(dsn).WithCause(err)
	}

	if err := db.Migrate("state"); err != nil {
		db.Close()
		return nil, errors.ErrMigrationFailed("state").WithCause(err)
	}

	return &StateDB{DB: db}, nil
}

// OpenStateInMemory opens a migrated in-memory state database. Each call
// returns an isolated database, so parallel tests never interfere.
func OpenStateInMemory() (*StateDB, error) {
	db, err := OpenInMemory()
	if err != nil {
		return nil, err
	}

	if err := db.Migrate("state"); err != nil {
		db.Close()
		return nil, errors.ErrMigrationFailed("state").WithCause(err)
	}

	return &StateDB{DB: db}, nil
}

// Shared returns the process-wide state database, opening it on first
// call. The mutex ensures migration and legacy import run exactly once
// even when several goroutines race the first call.
//
// The location and dialect come from settings (state.yml plus
// RMPLAN_STATE_DIALECT / RMPLAN_STATE_DSN overrides).
func Shared() (*StateDB, error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if sharedDB != nil {
		return sharedDB, nil
	}

	settings := config.LoadSettings()
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	dialect := driver.DialectSQLite
	if settings.Database.Dialect != "" {
		d, err := driver.ParseDialect(settings.Database.Dialect)
		if err != nil {
			return nil, errors.ErrSettingsInvalid("database.dialect", err.Error())
		}
		dialect = d
	}

	var (
		sdb *StateDB
		err error
	)
	switch dialect {
	case driver.DialectPostgres:
		sdb, err = OpenStateWithDialect(settings.Database.DSN, driver.DialectPostgres)
	default:
		sdb, err = OpenState(settings.Database.DSN)
	}
	if err != nil {
		return nil, err
	}

	sharedDB = sdb
	return sharedDB, nil
}

// SetShared replaces the process-wide state database. Tests use this to
// point Shared() at an isolated database instead of the production file.
func SetShared(sdb *StateDB) {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	sharedDB = sdb
}

// ResetForTesting closes and clears the process-wide state database so
// the next Shared() call reinitializes from scratch.
func ResetForTesting() {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if sharedDB != nil {
		sharedDB.Close()
		sharedDB = nil
	}
}
