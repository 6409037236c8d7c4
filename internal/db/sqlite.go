package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteTimeLayout is fixed-width so stored timestamps compare correctly as text.
const SQLiteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// OpenSQLite opens (or creates) the SQLite database in WAL mode and applies the schema.
func OpenSQLite(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return db, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	email      TEXT NOT NULL UNIQUE,
	role       TEXT NOT NULL,
	active     INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS doctor_profiles (
	account_id      TEXT PRIMARY KEY REFERENCES accounts(id),
	specialization  TEXT NOT NULL,
	license_number  TEXT NOT NULL UNIQUE,
	approval_status TEXT NOT NULL DEFAULT 'pending',
	active          INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS patient_profiles (
	account_id  TEXT PRIMARY KEY REFERENCES accounts(id),
	age         INTEGER,
	blood_group TEXT
);

CREATE TABLE IF NOT EXISTS appointments (
	id               TEXT PRIMARY KEY,
	title            TEXT NOT NULL,
	doctor_id        TEXT NOT NULL REFERENCES accounts(id),
	max_patients     INTEGER NOT NULL,
	appointment_date TEXT NOT NULL,
	start_time       TEXT NOT NULL,
	end_time         TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'scheduled',
	global_delay     INTEGER NOT NULL DEFAULT 0,
	interval_minutes INTEGER NOT NULL,
	penalty_amount   INTEGER NOT NULL,
	grace_minutes    INTEGER NOT NULL,
	auto_mark_late   INTEGER NOT NULL DEFAULT 1,
	version          INTEGER NOT NULL DEFAULT 1,
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_appointments_doctor_date ON appointments(doctor_id, appointment_date);
CREATE INDEX IF NOT EXISTS idx_appointments_status ON appointments(status);

CREATE TABLE IF NOT EXISTS queue_tokens (
	id                 TEXT PRIMARY KEY,
	appointment_id     TEXT NOT NULL REFERENCES appointments(id),
	patient_id         TEXT NOT NULL REFERENCES accounts(id),
	token_number       INTEGER NOT NULL,
	schedule_start     TEXT NOT NULL,
	schedule_end       TEXT NOT NULL,
	status             TEXT NOT NULL DEFAULT 'queued',
	penalty_count      INTEGER NOT NULL DEFAULT 0,
	consultation_start TEXT,
	consultation_end   TEXT,
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL,
	UNIQUE (appointment_id, token_number),
	UNIQUE (appointment_id, patient_id)
);

CREATE TABLE IF NOT EXISTS event_logs (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type     TEXT NOT NULL,
	appointment_id TEXT,
	payload        TEXT,
	created_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_queue_tokens_patient ON queue_tokens(patient_id);
CREATE INDEX IF NOT EXISTS idx_event_logs_appointment ON event_logs(appointment_id);
`
