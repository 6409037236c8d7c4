package appointment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/token-queue-scheduling/internal/account"
	"github.com/hackgods/token-queue-scheduling/internal/db"
)

// SQLiteRepository is the single-node store. Timestamps are kept as
// fixed-width UTC text so range predicates work on the raw column.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(conn *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: conn}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(db.SQLiteTimeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(db.SQLiteTimeLayout, s)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// parseTimes parses each string into its destination, stopping at the first error.
func parseTimes(pairs ...any) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		dst := pairs[i].(*time.Time)
		t, err := parseTime(pairs[i+1].(string))
		if err != nil {
			return fmt.Errorf("parse time: %w", err)
		}
		*dst = t
	}
	return nil
}

func (r *SQLiteRepository) withRetry(ctx context.Context, fn func() error) error {
	return db.Retry(ctx, db.DefaultRetryConfig, db.IsTransientSQLiteErr, fn)
}

const sqliteAppointmentColumns = `id, title, doctor_id, max_patients, appointment_date, start_time, end_time,
	status, global_delay, interval_minutes, penalty_amount, grace_minutes, auto_mark_late,
	version, created_at, updated_at`

const sqliteTokenColumns = `appointment_id, id, patient_id, token_number, schedule_start, schedule_end,
	status, penalty_count, consultation_start, consultation_end, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteAppointment(row rowScanner) (*Appointment, error) {
	var a Appointment
	var date, start, end, created, updated string
	err := row.Scan(
		&a.ID,
		&a.Title,
		&a.DoctorID,
		&a.MaxPatients,
		&date,
		&start,
		&end,
		&a.Status,
		&a.GlobalDelay,
		&a.TokenRules.IntervalTimeMinutes,
		&a.TokenRules.TokenPenaltyAmount,
		&a.TokenRules.GracePeriodMinutes,
		&a.TokenRules.AutoMarkLateEnabled,
		&a.Version,
		&created,
		&updated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	if err := parseTimes(&a.Date, date, &a.StartTime, start, &a.EndTime, end, &a.CreatedAt, created, &a.UpdatedAt, updated); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanSQLiteToken(row rowScanner) (uuid.UUID, *Token, error) {
	var apptID uuid.UUID
	var t Token
	var start, end, created, updated string
	var consultStart, consultEnd sql.NullString
	err := row.Scan(
		&apptID,
		&t.ID,
		&t.PatientID,
		&t.TokenNumber,
		&start,
		&end,
		&t.Status,
		&t.PenaltyCount,
		&consultStart,
		&consultEnd,
		&created,
		&updated,
	)
	if err != nil {
		return uuid.Nil, nil, err
	}
	if err := parseTimes(&t.ScheduleStartTime, start, &t.ScheduleEndTime, end, &t.CreatedAt, created, &t.UpdatedAt, updated); err != nil {
		return uuid.Nil, nil, err
	}
	if t.ConsultationStartTime, err = parseNullTime(consultStart); err != nil {
		return uuid.Nil, nil, err
	}
	if t.ConsultationEndTime, err = parseNullTime(consultEnd); err != nil {
		return uuid.Nil, nil, err
	}
	return apptID, &t, nil
}

func (r *SQLiteRepository) queryAppointments(ctx context.Context, where string, args ...any) ([]*Appointment, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sqliteAppointmentColumns+` FROM appointments `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Appointment
	for rows.Next() {
		a, err := scanSQLiteAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if err := r.loadTokens(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) loadTokens(ctx context.Context, appts []*Appointment) error {
	if len(appts) == 0 {
		return nil
	}
	placeholders := make([]string, len(appts))
	args := make([]any, len(appts))
	for i, a := range appts {
		placeholders[i] = "?"
		args[i] = a.ID.String()
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sqliteTokenColumns+`
		FROM queue_tokens
		WHERE appointment_id IN (`+strings.Join(placeholders, ",")+`)
		ORDER BY token_number
	`, args...)
	if err != nil {
		return fmt.Errorf("load tokens: %w", err)
	}
	defer rows.Close()

	byAppt := make(map[uuid.UUID][]*Token, len(appts))
	for rows.Next() {
		apptID, t, err := scanSQLiteToken(rows)
		if err != nil {
			return fmt.Errorf("scan token: %w", err)
		}
		byAppt[apptID] = append(byAppt[apptID], t)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, a := range appts {
		a.SetTokens(byAppt[a.ID])
	}
	return nil
}

func (r *SQLiteRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*account.Doctor, error) {
	var d account.Doctor
	var created, updated string
	err := r.db.QueryRowContext(ctx, `
		SELECT a.id, a.name, a.email, a.role, a.active, a.created_at, a.updated_at,
		       p.specialization, p.license_number, p.approval_status, p.active
		FROM accounts a
		JOIN doctor_profiles p ON p.account_id = a.id
		WHERE a.id = ? AND a.role = 'doctor'
	`, id.String()).Scan(
		&d.ID, &d.Name, &d.Email, &d.Role, &d.Account.Active, &created, &updated,
		&d.Profile.Specialization, &d.Profile.LicenseNumber, &d.Profile.ApprovalStatus, &d.Profile.Active,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, account.ErrDoctorNotFound
		}
		return nil, err
	}
	if err := parseTimes(&d.CreatedAt, created, &d.UpdatedAt, updated); err != nil {
		return nil, err
	}
	d.Profile.AccountID = d.ID
	return &d, nil
}

func (r *SQLiteRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*account.Patient, error) {
	var p account.Patient
	var created, updated string
	var age sql.NullInt64
	var bloodGroup sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT a.id, a.name, a.email, a.role, a.active, a.created_at, a.updated_at,
		       pp.age, pp.blood_group
		FROM accounts a
		LEFT JOIN patient_profiles pp ON pp.account_id = a.id
		WHERE a.id = ? AND a.role = 'patient'
	`, id.String()).Scan(
		&p.ID, &p.Name, &p.Email, &p.Role, &p.Active, &created, &updated,
		&age, &bloodGroup,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, account.ErrPatientNotFound
		}
		return nil, err
	}
	if err := parseTimes(&p.CreatedAt, created, &p.UpdatedAt, updated); err != nil {
		return nil, err
	}
	p.Profile.AccountID = p.ID
	if age.Valid {
		v := int(age.Int64)
		p.Profile.Age = &v
	}
	if bloodGroup.Valid {
		v := bloodGroup.String
		p.Profile.BloodGroup = &v
	}
	return &p, nil
}

func (r *SQLiteRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appts, err := r.queryAppointments(ctx, `WHERE id = ?`, id.String())
	if err != nil {
		return nil, err
	}
	if len(appts) == 0 {
		return nil, ErrAppointmentNotFound
	}
	return appts[0], nil
}

func (r *SQLiteRepository) FindByDoctorAndDateRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	return r.queryAppointments(ctx, `
		WHERE doctor_id = ?
		  AND appointment_date >= ?
		  AND appointment_date < ?
		ORDER BY start_time
	`, doctorID.String(), formatTime(from), formatTime(to))
}

func (r *SQLiteRepository) FindAllOngoing(ctx context.Context) ([]*Appointment, error) {
	return r.queryAppointments(ctx, `WHERE status = 'ongoing' ORDER BY start_time`)
}

func (r *SQLiteRepository) FindByPatient(ctx context.Context, patientID uuid.UUID) ([]*Appointment, error) {
	return r.queryAppointments(ctx, `
		WHERE id IN (SELECT appointment_id FROM queue_tokens WHERE patient_id = ?)
		ORDER BY start_time
	`, patientID.String())
}

func (r *SQLiteRepository) CreateAppointment(ctx context.Context, a *Appointment) error {
	return r.withRetry(ctx, func() error {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO appointments (`+sqliteAppointmentColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			a.ID.String(), a.Title, a.DoctorID.String(), a.MaxPatients,
			formatTime(a.Date), formatTime(a.StartTime), formatTime(a.EndTime),
			string(a.Status), a.GlobalDelay, a.TokenRules.IntervalTimeMinutes, a.TokenRules.TokenPenaltyAmount,
			a.TokenRules.GracePeriodMinutes, a.TokenRules.AutoMarkLateEnabled,
			a.Version, formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert appointment: %w", err)
		}
		return nil
	})
}

func (r *SQLiteRepository) SaveAppointment(ctx context.Context, a *Appointment) error {
	err := r.withRetry(ctx, func() error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback()

		res, err := tx.ExecContext(ctx, `
			UPDATE appointments
			SET status = ?,
			    global_delay = ?,
			    updated_at = ?,
			    version = version + 1
			WHERE id = ?
			  AND version = ?
		`, string(a.Status), a.GlobalDelay, formatTime(a.UpdatedAt), a.ID.String(), a.Version)
		if err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrVersionConflict
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO queue_tokens (`+sqliteTokenColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE
			SET schedule_start = excluded.schedule_start,
			    schedule_end = excluded.schedule_end,
			    status = excluded.status,
			    penalty_count = excluded.penalty_count,
			    consultation_start = excluded.consultation_start,
			    consultation_end = excluded.consultation_end,
			    updated_at = excluded.updated_at
		`)
		if err != nil {
			return fmt.Errorf("prepare token upsert: %w", err)
		}
		defer stmt.Close()

		for _, t := range a.tokens {
			_, err := stmt.ExecContext(ctx,
				a.ID.String(), t.ID.String(), t.PatientID.String(), t.TokenNumber,
				formatTime(t.ScheduleStartTime), formatTime(t.ScheduleEndTime),
				string(t.Status), t.PenaltyCount,
				formatNullTime(t.ConsultationStartTime), formatNullTime(t.ConsultationEndTime),
				formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
			)
			if err != nil {
				return fmt.Errorf("upsert token %d: %w", t.TokenNumber, err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return err
	}
	a.Version++
	return nil
}

func (r *SQLiteRepository) AdvanceStatuses(ctx context.Context, now time.Time) (StatusAdvanceResult, error) {
	res := StatusAdvanceResult{Timestamp: now}
	ts := formatTime(now)

	err := r.withRetry(ctx, func() error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback()

		completed, err := tx.ExecContext(ctx, `
			UPDATE appointments
			SET status = 'completed', updated_at = ?, version = version + 1
			WHERE status IN ('scheduled', 'ongoing')
			  AND end_time <= ?
		`, ts, ts)
		if err != nil {
			return fmt.Errorf("complete appointments: %w", err)
		}
		started, err := tx.ExecContext(ctx, `
			UPDATE appointments
			SET status = 'ongoing', updated_at = ?, version = version + 1
			WHERE status = 'scheduled'
			  AND start_time <= ?
			  AND end_time > ?
		`, ts, ts, ts)
		if err != nil {
			return fmt.Errorf("start appointments: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		res.CompletedCount, _ = completed.RowsAffected()
		res.OngoingCount, _ = started.RowsAffected()
		return nil
	})
	return res, err
}

func (r *SQLiteRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	var apptID sql.NullString
	if ev.AppointmentID != nil {
		apptID = sql.NullString{String: ev.AppointmentID.String(), Valid: true}
	}
	created := ev.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return r.withRetry(ctx, func() error {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
			VALUES (?, ?, ?, ?)
		`, ev.EventType, apptID, string(ev.Payload), formatTime(created))
		if err != nil {
			return fmt.Errorf("insert event log: %w", err)
		}
		return nil
	})
}

// EventsForAppointment lists the audit trail of one appointment, oldest first.
func (r *SQLiteRepository) EventsForAppointment(ctx context.Context, id uuid.UUID) ([]EventLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_type, appointment_id, payload, created_at
		FROM event_logs
		WHERE appointment_id = ?
		ORDER BY id
	`, id.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventLog
	for rows.Next() {
		var ev EventLog
		var apptID uuid.UUID
		var payload sql.NullString
		var created string
		if err := rows.Scan(&ev.ID, &ev.EventType, &apptID, &payload, &created); err != nil {
			return nil, err
		}
		ev.AppointmentID = &apptID
		ev.Payload = []byte(payload.String)
		if ev.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// SaveDoctor inserts or refreshes a doctor account and profile.
func (r *SQLiteRepository) SaveDoctor(ctx context.Context, d *account.Doctor) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback()

		if err := upsertSQLiteAccount(ctx, tx, d.Account); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO doctor_profiles (account_id, specialization, license_number, approval_status, active)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (account_id) DO UPDATE
			SET specialization = excluded.specialization,
			    license_number = excluded.license_number,
			    approval_status = excluded.approval_status,
			    active = excluded.active
		`, d.ID.String(), d.Profile.Specialization, d.Profile.LicenseNumber, string(d.Profile.ApprovalStatus), d.Profile.Active)
		if err != nil {
			return fmt.Errorf("upsert doctor profile: %w", err)
		}
		return tx.Commit()
	})
}

// SavePatient inserts or refreshes a patient account and profile.
func (r *SQLiteRepository) SavePatient(ctx context.Context, p *account.Patient) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback()

		if err := upsertSQLiteAccount(ctx, tx, p.Account); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO patient_profiles (account_id, age, blood_group)
			VALUES (?, ?, ?)
			ON CONFLICT (account_id) DO UPDATE
			SET age = excluded.age, blood_group = excluded.blood_group
		`, p.ID.String(), p.Profile.Age, p.Profile.BloodGroup)
		if err != nil {
			return fmt.Errorf("upsert patient profile: %w", err)
		}
		return tx.Commit()
	})
}

func upsertSQLiteAccount(ctx context.Context, tx *sql.Tx, a account.Account) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (id, name, email, role, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET name = excluded.name,
		    email = excluded.email,
		    active = excluded.active,
		    updated_at = excluded.updated_at
	`, a.ID.String(), a.Name, a.Email, string(a.Role), a.Active, formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

var _ Repository = (*SQLiteRepository)(nil)
