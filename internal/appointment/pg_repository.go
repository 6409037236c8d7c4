package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/token-queue-scheduling/internal/account"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const pgAppointmentColumns = `id, title, doctor_id, max_patients, appointment_date, start_time, end_time,
	status, global_delay, interval_minutes, penalty_amount, grace_minutes, auto_mark_late,
	version, created_at, updated_at`

const pgTokenColumns = `appointment_id, id, patient_id, token_number, schedule_start, schedule_end,
	status, penalty_count, consultation_start, consultation_end, created_at, updated_at`

// Helpers

func scanPgAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.Title,
		&a.DoctorID,
		&a.MaxPatients,
		&a.Date,
		&a.StartTime,
		&a.EndTime,
		&a.Status,
		&a.GlobalDelay,
		&a.TokenRules.IntervalTimeMinutes,
		&a.TokenRules.TokenPenaltyAmount,
		&a.TokenRules.GracePeriodMinutes,
		&a.TokenRules.AutoMarkLateEnabled,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func scanPgToken(row pgx.Row) (uuid.UUID, *Token, error) {
	var apptID uuid.UUID
	var t Token
	err := row.Scan(
		&apptID,
		&t.ID,
		&t.PatientID,
		&t.TokenNumber,
		&t.ScheduleStartTime,
		&t.ScheduleEndTime,
		&t.Status,
		&t.PenaltyCount,
		&t.ConsultationStartTime,
		&t.ConsultationEndTime,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	return apptID, &t, err
}

func (r *PgRepository) queryAppointments(ctx context.Context, where string, args ...any) ([]*Appointment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+pgAppointmentColumns+` FROM appointments `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Appointment
	for rows.Next() {
		a, err := scanPgAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.loadTokens(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

// loadTokens fetches the queues of all given appointments in one query.
func (r *PgRepository) loadTokens(ctx context.Context, appts []*Appointment) error {
	if len(appts) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(appts))
	byAppt := make(map[uuid.UUID][]*Token, len(appts))
	for i, a := range appts {
		ids[i] = a.ID
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+pgTokenColumns+`
		FROM queue_tokens
		WHERE appointment_id = ANY($1::uuid[])
		ORDER BY token_number
	`, ids)
	if err != nil {
		return fmt.Errorf("load tokens: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		apptID, t, err := scanPgToken(rows)
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

// Interface methods

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*account.Doctor, error) {
	var d account.Doctor
	err := r.pool.QueryRow(ctx, `
		SELECT a.id, a.name, a.email, a.role, a.active, a.created_at, a.updated_at,
		       p.specialization, p.license_number, p.approval_status, p.active
		FROM accounts a
		JOIN doctor_profiles p ON p.account_id = a.id
		WHERE a.id = $1 AND a.role = 'doctor'
	`, id).Scan(
		&d.ID, &d.Name, &d.Email, &d.Role, &d.Account.Active, &d.CreatedAt, &d.UpdatedAt,
		&d.Profile.Specialization, &d.Profile.LicenseNumber, &d.Profile.ApprovalStatus, &d.Profile.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, account.ErrDoctorNotFound
		}
		return nil, err
	}
	d.Profile.AccountID = d.ID
	return &d, nil
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*account.Patient, error) {
	var p account.Patient
	err := r.pool.QueryRow(ctx, `
		SELECT a.id, a.name, a.email, a.role, a.active, a.created_at, a.updated_at,
		       pp.age, pp.blood_group
		FROM accounts a
		LEFT JOIN patient_profiles pp ON pp.account_id = a.id
		WHERE a.id = $1 AND a.role = 'patient'
	`, id).Scan(
		&p.ID, &p.Name, &p.Email, &p.Role, &p.Active, &p.CreatedAt, &p.UpdatedAt,
		&p.Profile.Age, &p.Profile.BloodGroup,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, account.ErrPatientNotFound
		}
		return nil, err
	}
	p.Profile.AccountID = p.ID
	return &p, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appts, err := r.queryAppointments(ctx, `WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(appts) == 0 {
		return nil, ErrAppointmentNotFound
	}
	return appts[0], nil
}

func (r *PgRepository) FindByDoctorAndDateRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*Appointment, error) {
	return r.queryAppointments(ctx, `
		WHERE doctor_id = $1
		  AND appointment_date >= $2
		  AND appointment_date < $3
		ORDER BY start_time
	`, doctorID, from, to)
}

func (r *PgRepository) FindAllOngoing(ctx context.Context) ([]*Appointment, error) {
	return r.queryAppointments(ctx, `WHERE status = 'ongoing' ORDER BY start_time`)
}

func (r *PgRepository) FindByPatient(ctx context.Context, patientID uuid.UUID) ([]*Appointment, error) {
	return r.queryAppointments(ctx, `
		WHERE id IN (SELECT appointment_id FROM queue_tokens WHERE patient_id = $1)
		ORDER BY start_time
	`, patientID)
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointments (`+pgAppointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		a.ID, a.Title, a.DoctorID, a.MaxPatients, a.Date, a.StartTime, a.EndTime,
		a.Status, a.GlobalDelay, a.TokenRules.IntervalTimeMinutes, a.TokenRules.TokenPenaltyAmount,
		a.TokenRules.GracePeriodMinutes, a.TokenRules.AutoMarkLateEnabled,
		a.Version, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *PgRepository) SaveAppointment(ctx context.Context, a *Appointment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = $3,
		    global_delay = $4,
		    updated_at = $5,
		    version = version + 1
		WHERE id = $1
		  AND version = $2
	`, a.ID, a.Version, a.Status, a.GlobalDelay, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}

	batch := &pgx.Batch{}
	for _, t := range a.tokens {
		batch.Queue(`
			INSERT INTO queue_tokens (`+pgTokenColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (id) DO UPDATE
			SET schedule_start = EXCLUDED.schedule_start,
			    schedule_end = EXCLUDED.schedule_end,
			    status = EXCLUDED.status,
			    penalty_count = EXCLUDED.penalty_count,
			    consultation_start = EXCLUDED.consultation_start,
			    consultation_end = EXCLUDED.consultation_end,
			    updated_at = EXCLUDED.updated_at
		`,
			a.ID, t.ID, t.PatientID, t.TokenNumber, t.ScheduleStartTime, t.ScheduleEndTime,
			t.Status, t.PenaltyCount, t.ConsultationStartTime, t.ConsultationEndTime,
			t.CreatedAt, t.UpdatedAt,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert tokens: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	a.Version++
	return nil
}

func (r *PgRepository) AdvanceStatuses(ctx context.Context, now time.Time) (StatusAdvanceResult, error) {
	res := StatusAdvanceResult{Timestamp: now}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = 'completed', updated_at = $1, version = version + 1
		WHERE status IN ('scheduled', 'ongoing')
		  AND end_time <= $1
	`, now)
	if err != nil {
		return res, fmt.Errorf("complete appointments: %w", err)
	}
	res.CompletedCount = tag.RowsAffected()

	tag, err = tx.Exec(ctx, `
		UPDATE appointments
		SET status = 'ongoing', updated_at = $1, version = version + 1
		WHERE status = 'scheduled'
		  AND start_time <= $1
		  AND end_time > $1
	`, now)
	if err != nil {
		return res, fmt.Errorf("start appointments: %w", err)
	}
	res.OngoingCount = tag.RowsAffected()

	if err := tx.Commit(ctx); err != nil {
		return res, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

// SaveDoctor inserts or refreshes a doctor account and profile.
func (r *PgRepository) SaveDoctor(ctx context.Context, d *account.Doctor) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := upsertPgAccount(ctx, tx, d.Account); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO doctor_profiles (account_id, specialization, license_number, approval_status, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id) DO UPDATE
		SET specialization = EXCLUDED.specialization,
		    license_number = EXCLUDED.license_number,
		    approval_status = EXCLUDED.approval_status,
		    active = EXCLUDED.active
	`, d.ID, d.Profile.Specialization, d.Profile.LicenseNumber, d.Profile.ApprovalStatus, d.Profile.Active)
	if err != nil {
		return fmt.Errorf("upsert doctor profile: %w", err)
	}
	return tx.Commit(ctx)
}

// SavePatient inserts or refreshes a patient account and profile.
func (r *PgRepository) SavePatient(ctx context.Context, p *account.Patient) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := upsertPgAccount(ctx, tx, p.Account); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO patient_profiles (account_id, age, blood_group)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id) DO UPDATE
		SET age = EXCLUDED.age, blood_group = EXCLUDED.blood_group
	`, p.ID, p.Profile.Age, p.Profile.BloodGroup)
	if err != nil {
		return fmt.Errorf("upsert patient profile: %w", err)
	}
	return tx.Commit(ctx)
}

func upsertPgAccount(ctx context.Context, tx pgx.Tx, a account.Account) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO accounts (id, name, email, role, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    email = EXCLUDED.email,
		    active = EXCLUDED.active,
		    updated_at = EXCLUDED.updated_at
	`, a.ID, a.Name, a.Email, a.Role, a.Active, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

var _ Repository = (*PgRepository)(nil)
