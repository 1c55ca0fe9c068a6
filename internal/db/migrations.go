package db

import (
	"github.com/jmoiron/sqlx"
)

// Schema selects the optional parts of the messaging schema.
// Deployments differ: some never got the read-receipt columns or the overview view.
type Schema struct {
	LegacyMessages bool
	ThreadViews    bool
}

const messagesTable = `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		recipient_id TEXT,
		client_id TEXT,
		content TEXT NOT NULL CHECK(length(trim(content)) > 0),
		created_at TEXT NOT NULL,
		read_at TEXT,
		FOREIGN KEY (thread_id) REFERENCES threads(id) ON DELETE CASCADE
	)
`

const legacyMessagesTable = `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		content TEXT NOT NULL CHECK(length(trim(content)) > 0),
		created_at TEXT NOT NULL,
		FOREIGN KEY (thread_id) REFERENCES threads(id) ON DELETE CASCADE
	)
`

const threadOverviewView = `
	CREATE VIEW IF NOT EXISTS thread_overview AS
	SELECT
		t.id, t.customer_id, t.provider_id, t.created_at, t.updated_at,
		c.full_name AS customer_name, c.avatar_url AS customer_avatar_url,
		p.full_name AS provider_name, p.avatar_url AS provider_avatar_url
	FROM threads t
	LEFT JOIN profiles c ON c.id = t.customer_id
	LEFT JOIN profiles p ON p.id = t.provider_id
`

// Migrate runs all database migrations
func (d *DB) Migrate(schema Schema) error {
	return d.WithLock(func(conn *sqlx.DB) error {
		_, err := conn.Exec(`
			CREATE TABLE IF NOT EXISTS profiles (
				id TEXT PRIMARY KEY,
				full_name TEXT NOT NULL DEFAULT '',
				avatar_url TEXT,
				role TEXT NOT NULL DEFAULT 'customer' CHECK(role IN ('customer', 'service-provider'))
			)
		`)
		if err != nil {
			return err
		}

		// No uniqueness on (customer_id, provider_id): "start a new chat" creates extra threads
		_, err = conn.Exec(`
			CREATE TABLE IF NOT EXISTS threads (
				id TEXT PRIMARY KEY,
				customer_id TEXT NOT NULL,
				provider_id TEXT NOT NULL,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)
		`)
		if err != nil {
			return err
		}

		ddl := messagesTable
		if schema.LegacyMessages {
			ddl = legacyMessagesTable
		}
		if _, err := conn.Exec(ddl); err != nil {
			return err
		}

		indexes := []string{
			"CREATE INDEX IF NOT EXISTS idx_threads_pair ON threads(customer_id, provider_id, created_at)",
			"CREATE INDEX IF NOT EXISTS idx_threads_provider ON threads(provider_id)",
			"CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, created_at)",
		}
		if !schema.LegacyMessages {
			if err := addMissingMessageColumns(conn); err != nil {
				return err
			}
			indexes = append(indexes, "CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(recipient_id, read_at)")
		}
		for _, idx := range indexes {
			if _, err := conn.Exec(idx); err != nil {
				return err
			}
		}

		if schema.ThreadViews {
			_, err = conn.Exec(threadOverviewView)
		} else {
			_, err = conn.Exec("DROP VIEW IF EXISTS thread_overview")
		}
		return err
	})
}

// addMissingMessageColumns upgrades a legacy messages table in place
func addMissingMessageColumns(conn *sqlx.DB) error {
	existing, err := columns(conn, "messages")
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(existing))
	for _, name := range existing {
		have[name] = true
	}

	for _, col := range []string{"recipient_id", "client_id", "read_at"} {
		if have[col] {
			continue
		}
		if _, err := conn.Exec("ALTER TABLE messages ADD COLUMN " + col + " TEXT"); err != nil {
			return err
		}
	}
	return nil
}
