package db

import (
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database with mutex-based exclusive access
type DB struct {
	db    *sqlx.DB
	mutex sync.Mutex
}

// NewDB creates a new database connection with exclusive access control
func NewDB(dbPath string) (*DB, error) {
	// Enable WAL mode and foreign keys via connection string
	dsn := dbPath + "?_journal_mode=WAL&_foreign_keys=on"

	sqlDB, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, err
	}

	// A single connection keeps SQLite writes serialized
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	return &DB{db: sqlDB}, nil
}

// WithLock executes a function with exclusive database access
func (d *DB) WithLock(fn func(conn *sqlx.DB) error) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return fn(d.db)
}

// WithLockResult executes a function with exclusive database access and returns a result
func WithLockResult[T any](d *DB, fn func(conn *sqlx.DB) (T, error)) (T, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return fn(d.db)
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

// Columns returns the column names of a table or view, in declaration order.
// It returns an empty slice when the relation does not exist.
func (d *DB) Columns(relation string) ([]string, error) {
	return WithLockResult(d, func(conn *sqlx.DB) ([]string, error) {
		return columns(conn, relation)
	})
}

func columns(conn *sqlx.DB, relation string) ([]string, error) {
	rows, err := conn.Queryx("SELECT name FROM pragma_table_info(?)", relation)
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", relation, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// relationExists checks if a table or view exists in the database
func (d *DB) relationExists(name string) (bool, error) {
	return WithLockResult(d, func(conn *sqlx.DB) (bool, error) {
		var count int
		err := conn.Get(&count,
			"SELECT COUNT(*) FROM sqlite_master WHERE type IN ('table', 'view') AND name = ?",
			name,
		)
		return count > 0, err
	})
}
