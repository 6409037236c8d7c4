// Package bootstrap opens the store and lock backend selected by config.
// The commands share it so that api-server, lifecycle-worker and seed agree
// on the same wiring.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/token-queue-scheduling/internal/account"
	"github.com/hackgods/token-queue-scheduling/internal/appointment"
	"github.com/hackgods/token-queue-scheduling/internal/config"
	"github.com/hackgods/token-queue-scheduling/internal/db"
	redisclient "github.com/hackgods/token-queue-scheduling/internal/redis"
)

// Store is an appointment repository that can also register accounts.
type Store interface {
	appointment.Repository
	SaveDoctor(ctx context.Context, d *account.Doctor) error
	SavePatient(ctx context.Context, p *account.Patient) error
}

// Deps are the opened infrastructure handles. Exactly one of PgPool and
// SQLite is set; Redis is nil with the local lock backend.
type Deps struct {
	Store Store
	// Doctors fronts doctor lookups for the engine. Account writes must go
	// through SaveDoctor so it never serves a stale profile.
	Doctors *account.CachedDirectory
	Locker  redisclient.Locker
	PgPool  *pgxpool.Pool
	SQLite  *sql.DB
	Redis   *redis.Client
}

// Open connects the configured store, migrates its schema and builds the locker.
func Open(ctx context.Context, cfg config.Config) (*Deps, error) {
	d := &Deps{}

	switch cfg.StoreDriver {
	case config.StoreSQLite:
		conn, err := db.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		d.SQLite = conn
		d.Store = appointment.NewSQLiteRepository(conn)
		log.Printf("opened SQLite store path=%s", cfg.SQLitePath)

	default:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		d.PgPool = pool
		if err := db.MigratePostgres(ctx, pool); err != nil {
			d.Close()
			return nil, fmt.Errorf("postgres migrate: %w", err)
		}
		d.Store = appointment.NewPgRepository(pool)
		log.Println("connected to Postgres")
	}

	doctors, err := account.NewCachedDirectory(d.Store, cfg.DoctorCacheSize)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("doctor cache: %w", err)
	}
	d.Doctors = doctors

	switch cfg.LockBackend {
	case config.LockLocal:
		d.Locker = redisclient.NewLocalLocker()
		log.Println("using in-process locks, run a single process against this store")

	default:
		rdb, err := redisclient.NewRedisClient(ctx, cfg)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		d.Redis = rdb
		d.Locker = redisclient.NewRedisLocker(rdb, cfg.LockTTL)
		log.Println("connected to Redis")
	}

	return d, nil
}

// Service builds the engine on top of the opened store, fronting doctor
// lookups with the LRU cache.
func (d *Deps) Service(cfg config.Config) *appointment.Service {
	return appointment.NewService(d.Store, d.Locker, cfg, appointment.WithDirectory(d.Doctors))
}

// SaveDoctor stores the doctor and drops its cached copy.
func (d *Deps) SaveDoctor(ctx context.Context, doc *account.Doctor) error {
	if err := d.Store.SaveDoctor(ctx, doc); err != nil {
		return err
	}
	d.Doctors.Invalidate(doc.ID)
	return nil
}

func (d *Deps) SavePatient(ctx context.Context, p *account.Patient) error {
	return d.Store.SavePatient(ctx, p)
}

func (d *Deps) Close() {
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			log.Printf("error closing redis: %v", err)
		}
	}
	if d.PgPool != nil {
		d.PgPool.Close()
	}
	if d.SQLite != nil {
		if err := d.SQLite.Close(); err != nil {
			log.Printf("error closing sqlite: %v", err)
		}
	}
}
