package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func ConnectPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 15 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	id         UUID PRIMARY KEY,
	name       TEXT NOT NULL,
	email      TEXT NOT NULL UNIQUE,
	role       TEXT NOT NULL CHECK (role IN ('admin', 'doctor', 'patient')),
	active     BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS doctor_profiles (
	account_id      UUID PRIMARY KEY REFERENCES accounts(id),
	specialization  TEXT NOT NULL,
	license_number  TEXT NOT NULL UNIQUE,
	approval_status TEXT NOT NULL DEFAULT 'pending',
	active          BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS patient_profiles (
	account_id  UUID PRIMARY KEY REFERENCES accounts(id),
	age         INTEGER,
	blood_group TEXT
);

CREATE TABLE IF NOT EXISTS appointments (
	id               UUID PRIMARY KEY,
	title            TEXT NOT NULL,
	doctor_id        UUID NOT NULL REFERENCES accounts(id),
	max_patients     INTEGER NOT NULL,
	appointment_date TIMESTAMPTZ NOT NULL,
	start_time       TIMESTAMPTZ NOT NULL,
	end_time         TIMESTAMPTZ NOT NULL,
	status           TEXT NOT NULL DEFAULT 'scheduled',
	global_delay     INTEGER NOT NULL DEFAULT 0,
	interval_minutes INTEGER NOT NULL CHECK (interval_minutes >= 2),
	penalty_amount   INTEGER NOT NULL CHECK (penalty_amount >= 1),
	grace_minutes    INTEGER NOT NULL CHECK (grace_minutes >= 0),
	auto_mark_late   BOOLEAN NOT NULL DEFAULT TRUE,
	version          BIGINT NOT NULL DEFAULT 1,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_appointments_doctor_date ON appointments(doctor_id, appointment_date);
CREATE INDEX IF NOT EXISTS idx_appointments_status ON appointments(status);

CREATE TABLE IF NOT EXISTS queue_tokens (
	id                 UUID PRIMARY KEY,
	appointment_id     UUID NOT NULL REFERENCES appointments(id),
	patient_id         UUID NOT NULL REFERENCES accounts(id),
	token_number       INTEGER NOT NULL,
	schedule_start     TIMESTAMPTZ NOT NULL,
	schedule_end       TIMESTAMPTZ NOT NULL,
	status             TEXT NOT NULL DEFAULT 'queued',
	penalty_count      INTEGER NOT NULL DEFAULT 0,
	consultation_start TIMESTAMPTZ,
	consultation_end   TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL,
	UNIQUE (appointment_id, token_number),
	UNIQUE (appointment_id, patient_id)
);

CREATE TABLE IF NOT EXISTS event_logs (
	id             BIGSERIAL PRIMARY KEY,
	event_type     TEXT NOT NULL,
	appointment_id UUID,
	payload        JSONB,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_queue_tokens_patient ON queue_tokens(patient_id);
CREATE INDEX IF NOT EXISTS idx_event_logs_appointment ON event_logs(appointment_id);
`

// MigratePostgres creates the schema if it does not exist yet.
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}
