package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create sessions and turns",
		SQL: `
			CREATE TABLE sessions (
				id          TEXT PRIMARY KEY,
				created_at  TEXT NOT NULL,
				updated_at  TEXT NOT NULL
			);

			CREATE TABLE turns (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				sender      TEXT NOT NULL,
				text        TEXT NOT NULL,
				run_id      TEXT NOT NULL DEFAULT '',
				timestamp   TEXT NOT NULL
			);

			CREATE INDEX idx_turns_session ON turns (session_id, id);
		`,
	},
	{
		Version: 2,
		Name:    "create preferences and bookings",
		SQL: `
			CREATE TABLE preferences (
				session_id  TEXT PRIMARY KEY REFERENCES sessions(id) ON DELETE CASCADE,
				data        TEXT NOT NULL,
				updated_at  TEXT NOT NULL
			);

			CREATE TABLE bookings (
				reference   TEXT PRIMARY KEY,
				session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				kind        TEXT NOT NULL,
				item_id     TEXT NOT NULL,
				data        TEXT NOT NULL,
				created_at  TEXT NOT NULL
			);

			CREATE INDEX idx_bookings_session ON bookings (session_id, created_at);
		`,
	},
}
