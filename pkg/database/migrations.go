package database

import (
	"database/sql"
	"fmt"
)

// Migration is one ordered schema change. Migrations ship in code so a
// deployment is a single binary; the tracking table makes reruns no-ops.
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// Readings and chat live in append-only child tables: one append is one
// INSERT, so two concurrent appenders can never overwrite each other the
// way a load-modify-save of an embedded array could.
var migrations = []Migration{
	{
		Version:     "001",
		Description: "sessions",
		SQL: `
			CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY,
				ambulance_id TEXT NOT NULL,
				paramedic_id TEXT,
				paramedic_name TEXT,
				patient_name TEXT,
				patient_age INTEGER,
				patient_gender INTEGER,
				guardian_nic TEXT,
				guardian_contact TEXT,
				mode TEXT NOT NULL DEFAULT 'manual',
				status TEXT NOT NULL DEFAULT 'draft',
				started_at DATETIME,
				ended_at DATETIME,
				guardian_otp TEXT,
				guardian_verified INTEGER NOT NULL DEFAULT 0
			);
			CREATE INDEX IF NOT EXISTS idx_sessions_ambulance ON sessions(ambulance_id, started_at);
			CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
		`,
	},
	{
		Version:     "002",
		Description: "health_points",
		SQL: `
			CREATE TABLE IF NOT EXISTS health_points (
				id TEXT PRIMARY KEY,
				session_id TEXT NOT NULL REFERENCES sessions(id),
				timestamp DATETIME NOT NULL,
				heart_rate REAL NOT NULL,
				body_temperature REAL NOT NULL,
				blood_oxygen REAL NOT NULL,
				note TEXT,
				risk_prediction TEXT,
				risk_score REAL,
				risk_timestamp DATETIME
			);
			CREATE INDEX IF NOT EXISTS idx_health_session_time ON health_points(session_id, timestamp);
		`,
	},
	{
		Version:     "003",
		Description: "chat_messages",
		SQL: `
			CREATE TABLE IF NOT EXISTS chat_messages (
				id TEXT PRIMARY KEY,
				session_id TEXT NOT NULL REFERENCES sessions(id),
				sender TEXT NOT NULL,
				text TEXT NOT NULL,
				timestamp DATETIME NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_chat_session_time ON chat_messages(session_id, timestamp);
		`,
	},
}

// MigrationManager applies pending migrations in order.
type MigrationManager struct {
	db *sql.DB
}

// NewMigrationManager creates a migration manager.
func NewMigrationManager(db *sql.DB) *MigrationManager {
	return &MigrationManager{db: db}
}

// ApplyMigrations applies every migration that has not been recorded in
// schema_migrations yet, each inside its own transaction.
func (m *MigrationManager) ApplyMigrations() error {
	if err := m.createMigrationTable(); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	applied, err := m.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}
		if err := m.applyMigration(migration); err != nil {
			return fmt.Errorf("failed to apply migration %s (%s): %w",
				migration.Version, migration.Description, err)
		}
	}

	return nil
}

func (m *MigrationManager) createMigrationTable() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

func (m *MigrationManager) getAppliedMigrations() (map[string]bool, error) {
	rows, err := m.db.Query("SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}

	return applied, rows.Err()
}

func (m *MigrationManager) applyMigration(migration Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err = tx.Exec(migration.SQL); err != nil {
		return err
	}
	if _, err = tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", migration.Version); err != nil {
		return err
	}

	return tx.Commit()
}
