package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"

	"github.com/hackgods/token-queue-scheduling/internal/account"
	"github.com/hackgods/token-queue-scheduling/internal/appointment"
	"github.com/hackgods/token-queue-scheduling/internal/bootstrap"
	"github.com/hackgods/token-queue-scheduling/internal/config"
)

type seedConfig struct {
	Doctors  int `env:"SEED_DOCTORS" envDefault:"20"`
	Patients int `env:"SEED_PATIENTS" envDefault:"500"`
	Days     int `env:"SEED_DAYS" envDefault:"3"`
	Bookings int `env:"SEED_BOOKINGS_PER_APPOINTMENT" envDefault:"6"`
}

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

var bloodGroups = []string{"A+", "A-", "B+", "B-", "AB+", "AB-", "O+", "O-"}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	var sc seedConfig
	if err := env.Parse(&sc); err != nil {
		log.Fatalf("seed config error: %v", err)
	}

	ctx := context.Background()
	deps, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("startup error: %v", err)
	}
	defer deps.Close()

	svc := deps.Service(cfg)

	gofakeit.Seed(time.Now().UnixNano())

	doctors, err := seedDoctors(ctx, deps, sc.Doctors)
	if err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	patients, err := seedPatients(ctx, deps, sc.Patients)
	if err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	if err := seedAppointments(ctx, svc, cfg.Location(), doctors, patients, sc); err != nil {
		log.Fatalf("seed appointments: %v", err)
	}

	log.Println("seed complete")
}

func seedDoctors(ctx context.Context, deps *bootstrap.Deps, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d doctors", count)

	ids := make([]uuid.UUID, 0, count)
	now := time.Now()
	for i := 0; i < count; i++ {
		id := uuid.New()
		d := &account.Doctor{
			Account: account.Account{
				ID:        id,
				Name:      "Dr. " + gofakeit.Name(),
				Email:     fmt.Sprintf("doctor-%s@%s", id.String()[:8], gofakeit.DomainName()),
				Role:      account.RoleDoctor,
				Active:    true,
				CreatedAt: now,
				UpdatedAt: now,
			},
			Profile: account.DoctorProfile{
				AccountID:      id,
				Specialization: specialties[gofakeit.Number(0, len(specialties)-1)],
				LicenseNumber:  fmt.Sprintf("LIC-%06d", gofakeit.Number(0, 999999)) + "-" + id.String()[:4],
				ApprovalStatus: account.ApprovalApproved,
				Active:         true,
			},
		}
		if err := deps.SaveDoctor(ctx, d); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	log.Println("doctors seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, deps *bootstrap.Deps, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d patients", count)

	ids := make([]uuid.UUID, 0, count)
	now := time.Now()
	for i := 0; i < count; i++ {
		id := uuid.New()
		age := gofakeit.Number(1, 95)
		group := bloodGroups[gofakeit.Number(0, len(bloodGroups)-1)]
		p := &account.Patient{
			Account: account.Account{
				ID:        id,
				Name:      gofakeit.Name(),
				Email:     fmt.Sprintf("%s-%s", id.String()[:8], gofakeit.Email()),
				Role:      account.RolePatient,
				Active:    true,
				CreatedAt: now,
				UpdatedAt: now,
			},
			Profile: account.PatientProfile{AccountID: id, Age: &age, BloodGroup: &group},
		}
		if err := deps.SavePatient(ctx, p); err != nil {
			return nil, err
		}
		ids = append(ids, id)

		if (i+1)%100 == 0 {
			log.Printf("patients seeded: %d/%d", i+1, count)
		}
	}

	log.Println("patients seeded")
	return ids, nil
}

// seedAppointments gives every doctor a morning and an evening session on
// each of the next days and books a few random patients onto each.
func seedAppointments(ctx context.Context, svc *appointment.Service, loc *time.Location, doctors, patients []uuid.UUID, sc seedConfig) error {
	today := time.Now().In(loc)
	sessions := []struct {
		title       string
		hour, hours int
	}{
		{"Morning clinic", 9, 3},
		{"Evening clinic", 17, 2},
	}

	var created, booked int
	for day := 1; day <= sc.Days; day++ {
		date := time.Date(today.Year(), today.Month(), today.Day()+day, 0, 0, 0, 0, loc)
		for _, doctorID := range doctors {
			for _, s := range sessions {
				interval := gofakeit.RandomInt([]int{5, 10, 15})
				start := date.Add(time.Duration(s.hour) * time.Hour)
				end := start.Add(time.Duration(s.hours) * time.Hour)
				rules := appointment.DefaultTokenRules()
				rules.IntervalTimeMinutes = interval
				rules.TokenPenaltyAmount = gofakeit.Number(1, 3)

				appt, err := svc.CreateAppointment(ctx, appointment.CreateAppointmentInput{
					Title:       s.title,
					DoctorID:    doctorID,
					MaxPatients: int(end.Sub(start) / rules.Interval()),
					Date:        &date,
					StartTime:   start,
					EndTime:     end,
					TokenRules:  &rules,
				})
				if err != nil {
					return fmt.Errorf("create %s for %s: %w", s.title, doctorID, err)
				}
				created++

				for i := 0; i < sc.Bookings && len(patients) > 0; i++ {
					patientID := patients[gofakeit.Number(0, len(patients)-1)]
					if _, _, err := svc.BookToken(ctx, appt.ID, patientID); err != nil {
						// Random picks can repeat a patient.
						if errors.Is(err, appointment.ErrDuplicateBooking) {
							continue
						}
						return fmt.Errorf("book token: %w", err)
					}
					booked++
				}
			}
		}
		log.Printf("appointments seeded for %s", date.Format(time.DateOnly))
	}

	log.Printf("appointments seeded: created=%d tokens=%d", created, booked)
	return nil
}
